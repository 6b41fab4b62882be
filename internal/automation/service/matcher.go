package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/smallbiznis/charla/internal/automation/domain"
	"github.com/smallbiznis/charla/internal/automation/evaluator"
	classifierdomain "github.com/smallbiznis/charla/internal/classifier/domain"
	"github.com/smallbiznis/charla/internal/clock"
	convdomain "github.com/smallbiznis/charla/internal/conversation/domain"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MatcherParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Orgs  orgdomain.Service
}

type Matcher struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	orgs  orgdomain.Service
}

func NewMatcher(p MatcherParam) automationdomain.Matcher {
	return &Matcher{
		db:    p.DB,
		log:   p.Log.Named("automation.matcher"),
		clock: p.Clock,
		orgs:  p.Orgs,
	}
}

// Match loads the org's active rules in priority order and returns the
// first whose conditions reduce to true. A rule with malformed parameters
// is logged and skipped; the scan continues with the next rule.
func (m *Matcher) Match(ctx context.Context, orgID snowflake.ID, classification *classifierdomain.Classification, message *convdomain.Message, conversation *convdomain.Conversation) (*automationdomain.Rule, error) {
	settings, err := m.orgs.ResolveSettings(ctx, orgID)
	if err != nil {
		return nil, err
	}
	defaults := evaluator.Defaults{
		ConfidenceThreshold: settings.ConfidenceThreshold,
		KeywordMatchType:    settings.KeywordMatchType,
	}

	var rules []automationdomain.Rule
	err = m.db.WithContext(ctx).
		Where("org_id = ? AND is_active = ?", orgID, true).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("execution_order ASC")
		}).
		Order("priority ASC, created_at ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}

	msgFacts := evaluator.MessageFacts{
		Content:    message.Content,
		ReceivedAt: message.CreatedAt,
	}
	convFacts := evaluator.ConversationFacts{
		MessageCount:   conversation.MessageCount,
		LastOutboundAt: conversation.LastOutboundAt,
	}
	now := m.clock.Now()

	for i := range rules {
		rule := &rules[i]
		matched, err := evaluator.EvaluateRule(rule.Conditions, classification, msgFacts, convFacts, now, defaults)
		if err != nil {
			if errors.Is(err, automationdomain.ErrInvalidConditionParams) ||
				errors.Is(err, automationdomain.ErrUnknownConditionType) {
				m.log.Warn("skipping misconfigured rule",
					zap.Int64("org_id", int64(orgID)),
					zap.Int64("rule_id", int64(rule.ID)),
					zap.String("rule_name", rule.Name),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}
		if matched {
			return rule, nil
		}
	}
	return nil, nil
}
