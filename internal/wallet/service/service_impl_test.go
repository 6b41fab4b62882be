package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type orgStub struct {
	markup decimal.Decimal
}

func (o *orgStub) Get(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error) {
	return &orgdomain.Organization{ID: orgID}, nil
}

func (o *orgStub) ResolveSettings(ctx context.Context, orgID snowflake.ID) (orgdomain.ResolvedSettings, error) {
	return orgdomain.ResolvedSettings{
		Markup:              o.markup,
		ConfidenceThreshold: 0.7,
		KeywordMatchType:    "ANY",
	}, nil
}

type notifierStub struct {
	called chan struct{}
}

func (n *notifierStub) NotifyLowBalance(ctx context.Context, orgID snowflake.ID, balanceMicros, thresholdMicros int64) {
	select {
	case n.called <- struct{}{}:
	default:
	}
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// Single writer keeps sqlite happy under the concurrency tests.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&walletdomain.Wallet{}, &walletdomain.UsageRecord{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func setupWalletService(t *testing.T, markup string, notifier walletdomain.LowBalanceNotifier) (walletdomain.Service, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    mustNode(t),
		OrgSvc:   &orgStub{markup: decimal.RequireFromString(markup)},
		Notifier: notifier,
	})
	return svc, db
}

func countUsageRecords(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&walletdomain.UsageRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count usage records: %v", err)
	}
	return count
}

func TestRecordUsageDebitsMarkedUpCost(t *testing.T) {
	svc, db := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 10_000, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	record, err := svc.RecordUsage(ctx, walletdomain.RecordUsageRequest{
		OrgID:              orgID,
		UsageType:          walletdomain.UsageTypeIntentClassification,
		ProviderName:       "openai",
		ModelUsed:          "gpt-4o-mini",
		InputTokens:        120,
		OutputTokens:       40,
		ProviderCostMicros: 1000,
		ProcessingTime:     420 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if record.ClientCostMicros != 1300 {
		t.Fatalf("expected client cost 1300, got %d", record.ClientCostMicros)
	}

	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10_000-1300 {
		t.Fatalf("expected balance %d, got %d", 10_000-1300, balance)
	}
	if count := countUsageRecords(t, db); count != 1 {
		t.Fatalf("expected 1 usage record, got %d", count)
	}
}

func TestRecordUsageNoCumulativeRoundingDrift(t *testing.T) {
	svc, _ := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	const calls = 10_000
	const initial = int64(100_000_000)
	if err := svc.EnsureWallet(ctx, orgID, initial, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	var charged int64
	for i := 0; i < calls; i++ {
		// Costs as small as 1-9 micro-units stress the rounding path.
		record, err := svc.RecordUsage(ctx, walletdomain.RecordUsageRequest{
			OrgID:              orgID,
			UsageType:          walletdomain.UsageTypeIntentClassification,
			ProviderName:       "openai",
			ModelUsed:          "gpt-4o-mini",
			ProviderCostMicros: int64(i%9) + 1,
		})
		if err != nil {
			t.Fatalf("record usage %d: %v", i, err)
		}
		charged += record.ClientCostMicros
	}

	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != initial-charged {
		t.Fatalf("balance drifted: initial %d - charged %d = %d, wallet says %d",
			initial, charged, initial-charged, balance)
	}
}

func TestRecordUsageConcurrentNeverOverdrafts(t *testing.T) {
	svc, db := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	// 1000 micros can fund exactly 7 debits of 130 (provider 100 x 1.30).
	if err := svc.EnsureWallet(ctx, orgID, 1000, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordUsage(ctx, walletdomain.RecordUsageRequest{
				OrgID:              orgID,
				UsageType:          walletdomain.UsageTypeContentGeneration,
				ProviderName:       "openai",
				ModelUsed:          "gpt-4o-mini",
				ProviderCostMicros: 100,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, rejected int
	for err := range errs {
		switch err {
		case nil:
			succeeded++
		case walletdomain.ErrInsufficientBalance:
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 7 || rejected != 13 {
		t.Fatalf("expected 7 successes and 13 rejections, got %d/%d", succeeded, rejected)
	}

	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 1000-7*130 {
		t.Fatalf("expected balance %d, got %d", 1000-7*130, balance)
	}
	if count := countUsageRecords(t, db); count != 7 {
		t.Fatalf("expected 7 usage records, got %d", count)
	}
}

func TestRecordUsageInsufficientBalanceCreatesNothing(t *testing.T) {
	svc, db := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 100, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	_, err := svc.RecordUsage(ctx, walletdomain.RecordUsageRequest{
		OrgID:              orgID,
		UsageType:          walletdomain.UsageTypeIntentClassification,
		ProviderName:       "openai",
		ModelUsed:          "gpt-4o-mini",
		ProviderCostMicros: 100, // client cost 130 > balance 100
	})
	if err != walletdomain.ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 100 {
		t.Fatalf("expected untouched balance 100, got %d", balance)
	}
	if count := countUsageRecords(t, db); count != 0 {
		t.Fatalf("expected no usage records, got %d", count)
	}
}

func TestRecordUsageIdempotencyKeyChargesOnce(t *testing.T) {
	svc, db := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 10_000, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	req := walletdomain.RecordUsageRequest{
		OrgID:              orgID,
		IdempotencyKey:     "classify:9001",
		UsageType:          walletdomain.UsageTypeIntentClassification,
		ProviderName:       "openai",
		ModelUsed:          "gpt-4o-mini",
		ProviderCostMicros: 1000,
	}
	first, err := svc.RecordUsage(ctx, req)
	if err != nil {
		t.Fatalf("first charge: %v", err)
	}
	replay, err := svc.RecordUsage(ctx, req)
	if err != nil {
		t.Fatalf("replayed charge: %v", err)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay returned a new record: %s vs %s", replay.ID, first.ID)
	}

	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10_000-1300 {
		t.Fatalf("replay debited again: expected %d, got %d", 10_000-1300, balance)
	}
	if count := countUsageRecords(t, db); count != 1 {
		t.Fatalf("expected 1 usage record, got %d", count)
	}

	// A different key is a different charge.
	req.IdempotencyKey = "classify:9002"
	if _, err := svc.RecordUsage(ctx, req); err != nil {
		t.Fatalf("second key: %v", err)
	}
	if count := countUsageRecords(t, db); count != 2 {
		t.Fatalf("expected 2 usage records, got %d", count)
	}
}

func TestRecordUsageConcurrentSameKeyDebitsOnce(t *testing.T) {
	svc, db := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 10_000, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordUsage(ctx, walletdomain.RecordUsageRequest{
				OrgID:              orgID,
				IdempotencyKey:     "reply:42",
				UsageType:          walletdomain.UsageTypeContentGeneration,
				ProviderName:       "openai",
				ModelUsed:          "gpt-4o-mini",
				ProviderCostMicros: 100,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10_000-130 {
		t.Fatalf("expected a single debit of 130, balance %d", balance)
	}
	if count := countUsageRecords(t, db); count != 1 {
		t.Fatalf("expected 1 usage record, got %d", count)
	}
}

func TestRecordUsageMissingWallet(t *testing.T) {
	svc, _ := setupWalletService(t, "1.30", nil)
	node := mustNode(t)

	_, err := svc.RecordUsage(context.Background(), walletdomain.RecordUsageRequest{
		OrgID:              node.Generate(),
		UsageType:          walletdomain.UsageTypeIntentClassification,
		ProviderCostMicros: 1,
	})
	if err != walletdomain.ErrWalletNotFound {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestRecordUsageHonorsOrgMarkupOverride(t *testing.T) {
	svc, _ := setupWalletService(t, "2.00", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 10_000, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	record, err := svc.RecordUsage(ctx, walletdomain.RecordUsageRequest{
		OrgID:              orgID,
		UsageType:          walletdomain.UsageTypeContentGeneration,
		ProviderCostMicros: 450,
	})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if record.ClientCostMicros != 900 {
		t.Fatalf("expected client cost 900, got %d", record.ClientCostMicros)
	}
}

func TestAuthorizeIsAdvisoryOnly(t *testing.T) {
	svc, db := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 500, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	ok, err := svc.Authorize(ctx, orgID, 400)
	if err != nil || !ok {
		t.Fatalf("expected authorized, got ok=%v err=%v", ok, err)
	}
	ok, err = svc.Authorize(ctx, orgID, 600)
	if err != nil || ok {
		t.Fatalf("expected not authorized, got ok=%v err=%v", ok, err)
	}

	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("authorize mutated the balance: %d", balance)
	}
	if count := countUsageRecords(t, db); count != 0 {
		t.Fatalf("authorize created records: %d", count)
	}
}

func TestCreditTopsUpWallet(t *testing.T) {
	svc, _ := setupWalletService(t, "1.30", nil)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 0, "USD", 0); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	if err := svc.Credit(ctx, orgID, 2_500_000, "topup"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	balance, err := svc.Balance(ctx, orgID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 2_500_000 {
		t.Fatalf("expected balance 2500000, got %d", balance)
	}

	if err := svc.Credit(ctx, node.Generate(), 100, "topup"); err != walletdomain.ErrWalletNotFound {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	if err := svc.Credit(ctx, orgID, 0, "topup"); err != walletdomain.ErrInvalidCreditAmount {
		t.Fatalf("expected ErrInvalidCreditAmount, got %v", err)
	}
}

func TestRecordUsageNotifiesOnLowBalanceCrossing(t *testing.T) {
	notifier := &notifierStub{called: make(chan struct{}, 1)}
	svc, _ := setupWalletService(t, "1.30", notifier)
	ctx := context.Background()
	node := mustNode(t)
	orgID := node.Generate()

	if err := svc.EnsureWallet(ctx, orgID, 600, "USD", 500); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	// 600 -> 470 crosses the 500 threshold.
	if _, err := svc.RecordUsage(ctx, walletdomain.RecordUsageRequest{
		OrgID:              orgID,
		UsageType:          walletdomain.UsageTypeContentGeneration,
		ProviderCostMicros: 100,
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	select {
	case <-notifier.called:
	case <-time.After(2 * time.Second):
		t.Fatal("expected low balance notification")
	}
}
