package migration

import (
	"github.com/smallbiznis/siteledger/internal/config"
	"github.com/smallbiznis/siteledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(migrateOnStart),
)

func migrateOnStart(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if !cfg.DBMigrate {
		return nil
	}
	if cfg.DBType != db.TypePostgres {
		log.Warn("skipping migrations, only postgres is supported", zap.String("db_type", cfg.DBType))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	_, err = RunMigrations(sqlDB, log)
	return err
}
