package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
)

type walletResponse struct {
	OrgID         string `json:"org_id"`
	BalanceMicros int64  `json:"balance_micros"`
}

func (s *Server) getWallet(c *gin.Context) {
	orgID := requestOrgID(c)
	balance, err := s.walletSvc.Balance(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletResponse{
		OrgID:         orgID.String(),
		BalanceMicros: balance,
	})
}

type creditWalletRequest struct {
	AmountMicros int64  `json:"amount_micros" binding:"required"`
	Reason       string `json:"reason"`
}

func (s *Server) creditWallet(c *gin.Context) {
	var req creditWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	orgID := requestOrgID(c)
	ctx := c.Request.Context()
	if err := s.walletSvc.Credit(ctx, orgID, req.AmountMicros, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.walletSvc.Balance(ctx, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, walletResponse{
		OrgID:         orgID.String(),
		BalanceMicros: balance,
	})
}

func (s *Server) listUsageRecords(c *gin.Context) {
	pageSize := 0
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		pageSize = parsed
	}

	resp, err := s.walletSvc.ListUsage(c.Request.Context(), walletdomain.ListUsageRequest{
		UsageType: walletdomain.UsageType(strings.TrimSpace(c.Query("usage_type"))),
		PageToken: c.Query("page_token"),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
