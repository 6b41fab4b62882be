package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	automationdomain "github.com/smallbiznis/charla/internal/automation/domain"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal         = errors.New("internal_error")
	ErrNotFound         = errors.New("not_found")
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrRateLimited      = errors.New("rate_limited")
	ErrConversationBusy = errors.New("conversation_busy")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, walletdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient balance",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrConversationBusy):
		return http.StatusConflict, errorPayload{
			Type:    "conversation_busy",
			Message: "another message for this conversation is being processed",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, convdomain.ErrInvalidMessageContent),
		errors.Is(err, convdomain.ErrInvalidTagName),
		errors.Is(err, convdomain.ErrInvalidAgent),
		errors.Is(err, convdomain.ErrInvalidOrganization),
		errors.Is(err, walletdomain.ErrInvalidCreditAmount),
		errors.Is(err, walletdomain.ErrInvalidUsageType),
		errors.Is(err, orgdomain.ErrInvalidMarkup),
		errors.Is(err, automationdomain.ErrInvalidConditionParams),
		errors.Is(err, automationdomain.ErrInvalidActionParams):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, convdomain.ErrConversationNotFound),
		errors.Is(err, convdomain.ErrMessageNotFound),
		errors.Is(err, orgdomain.ErrOrganizationNotFound),
		errors.Is(err, walletdomain.ErrWalletNotFound),
		errors.Is(err, automationdomain.ErrRuleNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
