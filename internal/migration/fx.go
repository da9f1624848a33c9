package migration

import (
	"github.com/mlandesman/SAMS-sub020/internal/config"
	"github.com/mlandesman/SAMS-sub020/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		if err := RunMigrations(sqlDB); err != nil {
			return err
		}

		return seed.EnsureDefaultClient(conn, cfg)
	}),
)
