package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/charla/internal/cache"
	"github.com/smallbiznis/charla/internal/config"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	"github.com/smallbiznis/charla/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
	Cfg config.Config
}

// settingsCacheTTL keeps resolved settings hot across pipeline runs while
// still picking up dashboard edits within a minute.
const settingsCacheTTL = 45 * time.Second

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	orgrepo      repository.Repository[orgdomain.Organization]
	settingsrepo repository.Repository[orgdomain.AutomationSettings]

	settingsCache *cache.TTLCache[snowflake.ID, orgdomain.ResolvedSettings]
}

func NewService(p ServiceParam) orgdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("organization.service"),
		cfg: p.Cfg,

		orgrepo:      repository.ProvideStore[orgdomain.Organization](p.DB),
		settingsrepo: repository.ProvideStore[orgdomain.AutomationSettings](p.DB),

		settingsCache: cache.NewTTLCache[snowflake.ID, orgdomain.ResolvedSettings](settingsCacheTTL),
	}
}

func (s *Service) Get(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	if orgID == 0 {
		return nil, orgdomain.ErrInvalidOrganization
	}
	org, err := s.orgrepo.FindOne(ctx, &orgdomain.Organization{ID: orgID})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, orgdomain.ErrOrganizationNotFound
	}
	return org, nil
}

// ResolveSettings merges the org's stored overrides with config defaults.
// A malformed stored markup falls back to the default rather than poisoning
// every subsequent debit.
func (s *Service) ResolveSettings(ctx context.Context, orgID snowflake.ID) (orgdomain.ResolvedSettings, error) {
	resolved := orgdomain.ResolvedSettings{
		Markup:              s.defaultMarkup(),
		ConfidenceThreshold: s.cfg.Automation.ConfidenceThreshold,
		KeywordMatchType:    s.cfg.Automation.KeywordMatchType,
		AIModel:             s.cfg.AI.Model,
	}
	if orgID == 0 {
		return resolved, orgdomain.ErrInvalidOrganization
	}
	if cached, ok := s.settingsCache.Get(orgID); ok {
		return cached, nil
	}

	settings, err := s.settingsrepo.FindOne(ctx, &orgdomain.AutomationSettings{OrgID: orgID})
	if err != nil {
		return resolved, err
	}
	if settings == nil {
		s.settingsCache.Set(orgID, resolved)
		return resolved, nil
	}

	if markup := strings.TrimSpace(settings.Markup); markup != "" {
		parsed, err := decimal.NewFromString(markup)
		if err != nil || parsed.Sign() <= 0 {
			s.log.Warn("ignoring malformed org markup",
				zap.String("org_id", orgID.String()),
				zap.String("markup", markup),
			)
		} else {
			resolved.Markup = parsed
		}
	}
	if settings.ConfidenceThreshold != nil {
		resolved.ConfidenceThreshold = *settings.ConfidenceThreshold
	}
	if matchType := strings.ToUpper(strings.TrimSpace(settings.KeywordMatchType)); matchType != "" {
		resolved.KeywordMatchType = matchType
	}
	if model := strings.TrimSpace(settings.AIModel); model != "" {
		resolved.AIModel = model
	}
	s.settingsCache.Set(orgID, resolved)
	return resolved, nil
}

func (s *Service) defaultMarkup() decimal.Decimal {
	parsed, err := decimal.NewFromString(strings.TrimSpace(s.cfg.Billing.Markup))
	if err != nil || parsed.Sign() <= 0 {
		return decimal.RequireFromString("1.30")
	}
	return parsed
}
