package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/charla/internal/config"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testConfig() config.Config {
	return config.Config{
		AI: config.AIConfig{Model: "gpt-4o-mini"},
		Billing: config.BillingConfig{
			Currency: "USD",
			Markup:   "1.30",
		},
		Automation: config.AutomationConfig{
			ConfidenceThreshold: 0.7,
			KeywordMatchType:    "ANY",
		},
	}
}

func setupOrgService(t *testing.T) (orgdomain.Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&orgdomain.Organization{}, &orgdomain.AutomationSettings{}))

	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), Cfg: testConfig()})
	return svc, db
}

func TestResolveSettingsDefaults(t *testing.T) {
	svc, db := setupOrgService(t)
	ctx := context.Background()

	orgID := snowflake.ID(1001)
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "Acme", Slug: "acme"}).Error)

	resolved, err := svc.ResolveSettings(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "1.3", resolved.Markup.String())
	assert.Equal(t, 0.7, resolved.ConfidenceThreshold)
	assert.Equal(t, "ANY", resolved.KeywordMatchType)
	assert.Equal(t, "gpt-4o-mini", resolved.AIModel)
}

func TestResolveSettingsOverrides(t *testing.T) {
	svc, db := setupOrgService(t)
	ctx := context.Background()

	orgID := snowflake.ID(1002)
	threshold := 0.9
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "Acme", Slug: "acme"}).Error)
	require.NoError(t, db.Create(&orgdomain.AutomationSettings{
		OrgID:               orgID,
		Markup:              "1.50",
		ConfidenceThreshold: &threshold,
		KeywordMatchType:    "all",
		AIModel:             "claude-3-5-haiku-latest",
	}).Error)

	resolved, err := svc.ResolveSettings(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "1.5", resolved.Markup.String())
	assert.Equal(t, 0.9, resolved.ConfidenceThreshold)
	assert.Equal(t, "ALL", resolved.KeywordMatchType)
	assert.Equal(t, "claude-3-5-haiku-latest", resolved.AIModel)
}

func TestResolveSettingsMalformedMarkupFallsBack(t *testing.T) {
	svc, db := setupOrgService(t)
	ctx := context.Background()

	orgID := snowflake.ID(1003)
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "Acme", Slug: "acme"}).Error)
	require.NoError(t, db.Create(&orgdomain.AutomationSettings{OrgID: orgID, Markup: "free"}).Error)

	resolved, err := svc.ResolveSettings(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "1.3", resolved.Markup.String())
}

func TestResolveSettingsCached(t *testing.T) {
	svc, db := setupOrgService(t)
	ctx := context.Background()

	orgID := snowflake.ID(1004)
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "Acme", Slug: "acme"}).Error)
	require.NoError(t, db.Create(&orgdomain.AutomationSettings{OrgID: orgID, Markup: "1.40"}).Error)

	first, err := svc.ResolveSettings(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "1.4", first.Markup.String())

	// A write inside the cache TTL is not observed until the entry expires.
	require.NoError(t, db.Model(&orgdomain.AutomationSettings{}).
		Where("org_id = ?", orgID).Update("markup", "2.00").Error)

	second, err := svc.ResolveSettings(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, "1.4", second.Markup.String())
}

func TestGetUnknownOrganization(t *testing.T) {
	svc, _ := setupOrgService(t)

	_, err := svc.Get(context.Background(), snowflake.ID(9999))
	assert.ErrorIs(t, err, orgdomain.ErrOrganizationNotFound)

	_, err = svc.Get(context.Background(), 0)
	assert.ErrorIs(t, err, orgdomain.ErrInvalidOrganization)
}
