// Package domain contains persistence models for the prepaid wallet and
// the append-only AI usage ledger.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrWalletNotFound      = errors.New("wallet_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidUsageType    = errors.New("invalid_usage_type")
	ErrInvalidProviderCost = errors.New("invalid_provider_cost")
	ErrInvalidCreditAmount = errors.New("invalid_credit_amount")
)

// UsageType tags what an AI call was spent on.
type UsageType string

const (
	UsageTypeIntentClassification UsageType = "INTENT_CLASSIFICATION"
	UsageTypeContentGeneration    UsageType = "CONTENT_GENERATION"
)

// Wallet is the prepaid balance funding metered AI usage for one tenant.
// All amounts are int64 micro-units of Currency (1e-6); the balance is
// mutated only through the meter service and never goes negative after a
// committed debit.
type Wallet struct {
	OrgID                     snowflake.ID `gorm:"primaryKey" json:"org_id"`
	BalanceMicros             int64        `gorm:"not null;default:0" json:"balance_micros"`
	Currency                  string       `gorm:"type:text;not null" json:"currency"`
	LowBalanceThresholdMicros int64        `gorm:"not null;default:0" json:"low_balance_threshold_micros"`
	CreatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt                 time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// UsageRecord is one line of the append-only usage ledger, one-to-one with
// a successfully charged AI call. Rows are immutable once created.
//
// IdempotencyKey, when set, makes the charge replay-safe: a second
// RecordUsage with the same (org, key) returns this row instead of
// debiting again. Empty keys are exempt from the uniqueness rule.
type UsageRecord struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID              snowflake.ID      `gorm:"not null;index;uniqueIndex:idx_usage_records_org_idem" json:"org_id"`
	IdempotencyKey     string            `gorm:"type:text;not null;default:'';uniqueIndex:idx_usage_records_org_idem,where:idempotency_key <> ''" json:"idempotency_key,omitempty"`
	UsageType          UsageType         `gorm:"type:text;not null;index" json:"usage_type"`
	ProviderName       string            `gorm:"type:text;not null" json:"provider_name"`
	ModelUsed          string            `gorm:"type:text;not null" json:"model_used"`
	InputTokens        int               `gorm:"not null" json:"input_tokens"`
	OutputTokens       int               `gorm:"not null" json:"output_tokens"`
	ProviderCostMicros int64             `gorm:"not null" json:"provider_cost_micros"`
	ClientCostMicros   int64             `gorm:"not null" json:"client_cost_micros"`
	ProcessingTimeMs   int64             `gorm:"not null" json:"processing_time_ms"`
	Description        string            `gorm:"type:text" json:"description"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
