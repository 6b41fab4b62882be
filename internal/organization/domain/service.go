package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ResolvedSettings is the effective per-org configuration after applying
// config defaults to any unset overrides.
type ResolvedSettings struct {
	Markup              decimal.Decimal
	ConfidenceThreshold float64
	KeywordMatchType    string
	AIModel             string
}

type Service interface {
	Get(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	ResolveSettings(ctx context.Context, orgID snowflake.ID) (ResolvedSettings, error)
}
