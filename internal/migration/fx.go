package migration

import (
	"github.com/smallbiznis/charla/internal/config"
	"github.com/smallbiznis/charla/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB, cfg.DBType); err != nil {
			return err
		}

		if cfg.DefaultOrgID != 0 {
			return seed.EnsureMainOrgWithID(conn, cfg, cfg.DefaultOrgID)
		}
		return seed.EnsureMainOrg(conn, cfg)
	}),
)
