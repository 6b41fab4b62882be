package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/charla/internal/orgcontext"
)

const orgHeader = "X-Org-ID"

// orgScope resolves the tenant for the request: the X-Org-ID header when
// present, otherwise the configured default org. Auth belongs to an outer
// gateway; this layer only establishes the tenant boundary.
func (s *Server) orgScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := snowflake.ID(s.cfg.DefaultOrgID)
		if raw := strings.TrimSpace(c.GetHeader(orgHeader)); raw != "" {
			parsed, err := snowflake.ParseString(raw)
			if err != nil || parsed == 0 {
				AbortWithError(c, ErrInvalidRequest)
				return
			}
			orgID = parsed
		}
		if orgID == 0 {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		if _, err := s.organizationSvc.Get(c.Request.Context(), orgID); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(orgcontext.WithOrgID(c.Request.Context(), orgID))
		c.Next()
	}
}

func requestOrgID(c *gin.Context) snowflake.ID {
	orgID, _ := orgcontext.OrgIDFromContext(c.Request.Context())
	return orgID
}
