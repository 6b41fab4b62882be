// Package seed bootstraps the default organization and its wallet so a
// fresh install can process messages immediately.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/charla/internal/config"
	orgdomain "github.com/smallbiznis/charla/internal/organization/domain"
	walletdomain "github.com/smallbiznis/charla/internal/wallet/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultOrgName = "Main"
	defaultOrgSlug = "main"
)

// EnsureMainOrg seeds the default organization for startup bootstrap.
func EnsureMainOrg(db *gorm.DB, cfg config.Config) error {
	return ensure(db, cfg, 0)
}

// EnsureMainOrgWithID seeds the default organization under a fixed id,
// used when DEFAULT_ORG pins the tenant for single-org deployments.
func EnsureMainOrgWithID(db *gorm.DB, cfg config.Config, orgID int64) error {
	return ensure(db, cfg, snowflake.ID(orgID))
}

func ensure(db *gorm.DB, cfg config.Config, orgID snowflake.ID) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}
	if orgID == 0 {
		orgID = node.Generate()
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var existing orgdomain.Organization
		err := tx.Where("slug = ?", defaultOrgSlug).First(&existing).Error
		if err == nil {
			orgID = existing.ID
		} else if err == gorm.ErrRecordNotFound {
			org := orgdomain.Organization{
				ID:        orgID,
				Name:      defaultOrgName,
				Slug:      defaultOrgSlug,
				IsDefault: true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&org).Error; err != nil {
				return err
			}
		} else {
			return err
		}

		settings := orgdomain.AutomationSettings{OrgID: orgID, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error; err != nil {
			return err
		}

		wallet := walletdomain.Wallet{
			OrgID:                     orgID,
			BalanceMicros:             cfg.Billing.StarterBalanceMicros,
			Currency:                  cfg.Billing.Currency,
			LowBalanceThresholdMicros: cfg.Billing.LowBalanceThresholdMicros,
			CreatedAt:                 now,
			UpdatedAt:                 now,
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&wallet).Error
	})
}
