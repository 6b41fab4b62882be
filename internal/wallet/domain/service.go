package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/charla/pkg/db/pagination"
)

// RecordUsageRequest carries one successful provider call to be charged.
// IdempotencyKey scopes the charge to one logical event (one classification
// or one generated reply); replaying the same key charges nothing and
// yields the original ledger row. An empty key disables the guard.
type RecordUsageRequest struct {
	OrgID              snowflake.ID
	IdempotencyKey     string
	UsageType          UsageType
	ProviderName       string
	ModelUsed          string
	InputTokens        int
	OutputTokens       int
	ProviderCostMicros int64
	ProcessingTime     time.Duration
	Description        string
	Metadata           map[string]any
}

type ListUsageRequest struct {
	UsageType UsageType
	PageToken string
	PageSize  int
}

type ListUsageResponse struct {
	UsageRecords []UsageRecord       `json:"usage_records"`
	PageInfo     pagination.PageInfo `json:"page_info"`
}

// Service meters AI usage against the prepaid wallet.
//
// RecordUsage computes the marked-up client cost and, in one transaction,
// debits the wallet and appends the UsageRecord. On ErrInsufficientBalance
// nothing is created and the balance is unchanged; concurrent debits can
// never jointly overdraft.
type Service interface {
	Authorize(ctx context.Context, orgID snowflake.ID, estimatedCostMicros int64) (bool, error)
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*UsageRecord, error)
	Credit(ctx context.Context, orgID snowflake.ID, amountMicros int64, reason string) error
	Balance(ctx context.Context, orgID snowflake.ID) (int64, error)
	EnsureWallet(ctx context.Context, orgID snowflake.ID, starterMicros int64, currency string, lowThresholdMicros int64) error
	ListUsage(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
}

// LowBalanceNotifier is told, best effort, when a debit drops a wallet
// below its threshold. Implemented by the notification dispatcher.
type LowBalanceNotifier interface {
	NotifyLowBalance(ctx context.Context, orgID snowflake.ID, balanceMicros, thresholdMicros int64)
}
