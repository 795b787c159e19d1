package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fatflowers/academy/internal/models"
	cfgpkg "github.com/fatflowers/academy/pkg/config"
	gormzap "github.com/fatflowers/academy/pkg/gormlog"
)

const slowQueryThreshold = 200 * time.Millisecond

func NewDB(l *zap.SugaredLogger, cfg *cfgpkg.Config) (*gorm.DB, error) {
	if cfg.Database.DSN == "" {
		l.Error("database DSN is empty")
		return nil, gorm.ErrInvalidDB
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormzap.New(l, slowQueryThreshold),
		// Unique violations surface as gorm.ErrDuplicatedKey.
		TranslateError: true,
	})
	if err != nil {
		l.Errorf("failed to connect database: %v", err)
		return nil, err
	}
	l.Infow("connected to postgres via DSN")
	return db, nil
}

var Module = fx.Options(
	fx.Provide(NewDB),
	fx.Invoke(AutoMigrate),
	fx.Invoke(registerDBClose),
)

// partialIndexes back the ledger invariants that gorm tags cannot express:
// at most one completed and at most one pending purchase per user/course.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS unique_purchase_completed_user_course ON purchase (user_id, course_id) WHERE status = 'completed'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS unique_purchase_pending_user_course ON purchase (user_id, course_id) WHERE status = 'pending'`,
}

// AutoMigrate runs GORM migrations on startup
func AutoMigrate(l *zap.SugaredLogger, db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Course{},
		&models.Purchase{},
		&models.PurchaseLog{},
		&models.Enrollment{},
		&models.PaymentNotificationLog{},
	); err != nil {
		l.Errorf("automigrate failed: %v", err)
		return err
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			l.Errorf("create partial index failed: %v", err)
			return fmt.Errorf("create partial index: %w", err)
		}
	}
	l.Infow("automigrate completed")
	return nil
}

// registerDBClose ensures the underlying *sql.DB is closed on shutdown
func registerDBClose(lc fx.Lifecycle, l *zap.SugaredLogger, gdb *gorm.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				l.Warnw("gorm: get sql.DB failed", "err", err)
				return nil
			}
			l.Infow("closing postgres connection pool")
			return sqlDB.Close()
		},
	})
}
