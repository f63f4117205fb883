package db

import (
	"fmt"

	"github.com/daddykev/stardust-dsp/internal/config"
	"github.com/daddykev/stardust-dsp/internal/migration"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects gorm using the configured dialect and applies migrations.
func Open(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialect, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialect, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.DBType == "postgres" {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		if err := migration.RunMigrations(sqlDB); err != nil {
			return nil, err
		}
		log.Info("database migrations applied")
	}

	return gdb, nil
}

// Module provides the gorm handle shared by every repository.
var Module = fx.Module("db",
	fx.Provide(Open),
)
