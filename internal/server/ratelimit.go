package server

import (
	"context"
	"time"

	"github.com/smallbiznis/charla/internal/ratelimit"
	"go.uber.org/zap"
)

// allowIngest checks the org and per-contact token buckets. Redis
// failures allow the request through; dropping customer messages
// because the limiter store is down would be worse than a burst.
func (s *Server) allowIngest(ctx context.Context, orgID, contactRef string) bool {
	if !s.limiter.Enabled() {
		return true
	}

	ok, err := s.limiter.AllowOrg(ctx, orgID)
	if err != nil {
		s.log.Warn("org rate limit check failed, allowing request",
			zap.String("org_id", orgID), zap.Error(err))
		return true
	}
	if !ok {
		return false
	}

	ok, err = s.limiter.AllowContact(ctx, orgID, contactRef)
	if err != nil {
		s.log.Warn("contact rate limit check failed, allowing request",
			zap.String("org_id", orgID), zap.Error(err))
		return true
	}
	return ok
}

func (s *Server) lockConversation(ctx context.Context, orgID, contactRef string) (*ratelimit.Lease, bool) {
	if !s.limiter.Enabled() {
		return nil, true
	}
	lease, ok, err := s.limiter.TryLockConversation(ctx, orgID, contactRef)
	if err != nil {
		s.log.Warn("conversation lock failed, proceeding unlocked",
			zap.String("org_id", orgID), zap.Error(err))
		return nil, true
	}
	return lease, ok
}

func (s *Server) unlockConversation(orgID string, lease *ratelimit.Lease) {
	if !s.limiter.Enabled() || lease == nil {
		return
	}
	// The request context may already be canceled by the time the
	// handler returns; release on a short independent deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.limiter.ReleaseConversation(ctx, lease); err != nil {
		s.log.Warn("conversation unlock failed",
			zap.String("org_id", orgID), zap.Error(err))
	}
}
