package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/charla/internal/observability/metrics"
	"github.com/smallbiznis/charla/internal/orgcontext"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"github.com/smallbiznis/charla/pkg/db/option"
	"github.com/smallbiznis/charla/pkg/db/pagination"
	"github.com/smallbiznis/charla/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	OrgSvc     orgdomain.Service
	ObsMetrics *metrics.Metrics               `optional:"true"`
	Notifier   walletdomain.LowBalanceNotifier `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	orgSvc     orgdomain.Service
	usagerepo  repository.Repository[walletdomain.UsageRecord]
	obsMetrics *metrics.Metrics
	notifier   walletdomain.LowBalanceNotifier
}

func NewService(p ServiceParam) walletdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("wallet.service"),

		genID:      p.GenID,
		orgSvc:     p.OrgSvc,
		usagerepo:  repository.ProvideStore[walletdomain.UsageRecord](p.DB),
		obsMetrics: p.ObsMetrics,
		notifier:   p.Notifier,
	}
}

// Authorize is an advisory balance check. It never mutates; the binding
// check happens inside RecordUsage's transaction.
func (s *Service) Authorize(ctx context.Context, orgID snowflake.ID, estimatedCostMicros int64) (bool, error) {
	if orgID == 0 {
		return false, walletdomain.ErrInvalidOrganization
	}
	if estimatedCostMicros < 0 {
		return false, walletdomain.ErrInvalidProviderCost
	}
	balance, err := s.Balance(ctx, orgID)
	if err != nil {
		return false, err
	}
	return balance >= estimatedCostMicros, nil
}

// errDuplicateCharge aborts the transaction when the idempotency key lost
// an insert race, rolling the debit back with it. Never escapes RecordUsage.
var errDuplicateCharge = errors.New("duplicate_charge")

// RecordUsage charges one successful AI call: client cost is the provider
// cost times the org markup, computed in fixed point. The debit and the
// ledger insert commit together or not at all.
//
// The debit is a conditional UPDATE (balance >= cost in the WHERE clause),
// so two concurrent calls can never both pass the balance check and
// overdraft; the losing call gets ErrInsufficientBalance with nothing
// created.
//
// A non-empty IdempotencyKey makes the whole call replay-safe: the ledger
// insert runs ON CONFLICT DO NOTHING against (org_id, idempotency_key), and
// a zero-row insert rolls the debit back and returns the existing row. Two
// racing calls with the same key therefore commit exactly one debit.
func (s *Service) RecordUsage(ctx context.Context, req walletdomain.RecordUsageRequest) (*walletdomain.UsageRecord, error) {
	if req.OrgID == 0 {
		return nil, walletdomain.ErrInvalidOrganization
	}
	if strings.TrimSpace(string(req.UsageType)) == "" {
		return nil, walletdomain.ErrInvalidUsageType
	}
	if req.ProviderCostMicros < 0 {
		return nil, walletdomain.ErrInvalidProviderCost
	}

	settings, err := s.orgSvc.ResolveSettings(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	clientCost := clientCostMicros(req.ProviderCostMicros, settings.Markup)

	var (
		record           *walletdomain.UsageRecord
		remaining        int64
		threshold        int64
		crossedThreshold bool
	)
	if req.IdempotencyKey != "" {
		existing, err := s.findChargedUsage(ctx, req.OrgID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Exec(
			`UPDATE wallets SET balance_micros = balance_micros - ?, updated_at = ? WHERE org_id = ? AND balance_micros >= ?`,
			clientCost, now, req.OrgID, clientCost,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&walletdomain.Wallet{}).Where("org_id = ?", req.OrgID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return walletdomain.ErrWalletNotFound
			}
			return walletdomain.ErrInsufficientBalance
		}

		var wallet walletdomain.Wallet
		if err := tx.Where("org_id = ?", req.OrgID).First(&wallet).Error; err != nil {
			return err
		}
		remaining = wallet.BalanceMicros
		threshold = wallet.LowBalanceThresholdMicros
		crossedThreshold = threshold > 0 &&
			remaining < threshold &&
			remaining+clientCost >= threshold

		record = &walletdomain.UsageRecord{
			ID:                 s.genID.Generate(),
			OrgID:              req.OrgID,
			IdempotencyKey:     req.IdempotencyKey,
			UsageType:          req.UsageType,
			ProviderName:       req.ProviderName,
			ModelUsed:          req.ModelUsed,
			InputTokens:        req.InputTokens,
			OutputTokens:       req.OutputTokens,
			ProviderCostMicros: req.ProviderCostMicros,
			ClientCostMicros:   clientCost,
			ProcessingTimeMs:   req.ProcessingTime.Milliseconds(),
			Description:        req.Description,
			CreatedAt:          now,
		}
		if req.Metadata != nil {
			record.Metadata = datatypes.JSONMap(req.Metadata)
		}
		if req.IdempotencyKey == "" {
			return tx.Create(record).Error
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errDuplicateCharge
		}
		return nil
	})
	if err == errDuplicateCharge {
		existing, ferr := s.findChargedUsage(ctx, req.OrgID, req.IdempotencyKey)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, errDuplicateCharge
		}
		return existing, nil
	}
	if err != nil {
		if err == walletdomain.ErrInsufficientBalance {
			s.obsMetrics.RecordInsufficientBalance(ctx, string(req.UsageType))
			s.log.Info("usage charge rejected",
				zap.String("org_id", req.OrgID.String()),
				zap.String("usage_type", string(req.UsageType)),
				zap.Int64("client_cost_micros", clientCost),
			)
		}
		return nil, err
	}

	s.obsMetrics.RecordUsageDebit(ctx, string(req.UsageType))
	if crossedThreshold && s.notifier != nil {
		// Best effort; a failed notification never affects the debit.
		go s.notifier.NotifyLowBalance(context.Background(), req.OrgID, remaining, threshold)
	}
	return record, nil
}

func (s *Service) findChargedUsage(ctx context.Context, orgID snowflake.ID, key string) (*walletdomain.UsageRecord, error) {
	var record walletdomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Service) Credit(ctx context.Context, orgID snowflake.ID, amountMicros int64, reason string) error {
	if orgID == 0 {
		return walletdomain.ErrInvalidOrganization
	}
	if amountMicros <= 0 {
		return walletdomain.ErrInvalidCreditAmount
	}
	result := s.db.WithContext(ctx).Exec(
		`UPDATE wallets SET balance_micros = balance_micros + ?, updated_at = ? WHERE org_id = ?`,
		amountMicros, time.Now().UTC(), orgID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return walletdomain.ErrWalletNotFound
	}
	s.log.Info("wallet credited",
		zap.String("org_id", orgID.String()),
		zap.Int64("amount_micros", amountMicros),
		zap.String("reason", reason),
	)
	return nil
}

func (s *Service) Balance(ctx context.Context, orgID snowflake.ID) (int64, error) {
	if orgID == 0 {
		return 0, walletdomain.ErrInvalidOrganization
	}
	var wallet walletdomain.Wallet
	err := s.db.WithContext(ctx).Where("org_id = ?", orgID).First(&wallet).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, walletdomain.ErrWalletNotFound
		}
		return 0, err
	}
	return wallet.BalanceMicros, nil
}

// EnsureWallet creates the wallet with its starter balance if missing.
// Idempotent; an existing wallet is left untouched.
func (s *Service) EnsureWallet(ctx context.Context, orgID snowflake.ID, starterMicros int64, currency string, lowThresholdMicros int64) error {
	if orgID == 0 {
		return walletdomain.ErrInvalidOrganization
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO wallets (org_id, balance_micros, currency, low_balance_threshold_micros, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org_id) DO NOTHING`,
		orgID, starterMicros, currency, lowThresholdMicros, now, now,
	).Error
}

func (s *Service) ListUsage(ctx context.Context, req walletdomain.ListUsageRequest) (walletdomain.ListUsageResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return walletdomain.ListUsageResponse{}, walletdomain.ErrInvalidOrganization
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	filter := &walletdomain.UsageRecord{OrgID: orgID, UsageType: req.UsageType}
	opts := []option.QueryOption{
		option.WithOrderBy("id DESC"),
		option.WithLimit(pageSize + 1),
	}
	if req.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return walletdomain.ListUsageResponse{}, err
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return walletdomain.ListUsageResponse{}, err
		}
		opts = append(opts, option.WithCondition("id < ?", cursorID))
	}

	items, err := s.usagerepo.Find(ctx, filter, opts...)
	if err != nil {
		return walletdomain.ListUsageResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *walletdomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: record.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	records := make([]walletdomain.UsageRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}
	return walletdomain.ListUsageResponse{
		UsageRecords: records,
		PageInfo:     *pageInfo,
	}, nil
}

// clientCostMicros applies the markup in fixed point: provider micro-units
// times a decimal multiplier, rounded half away from zero back to int64.
// No binary float touches money anywhere on this path.
func clientCostMicros(providerCostMicros int64, markup decimal.Decimal) int64 {
	return decimal.NewFromInt(providerCostMicros).Mul(markup).Round(0).IntPart()
}
