package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 5

// Initialize opens the db session, tunes the connection pool and auto migrates given models.
// Connecting is retried a few times since the database container usually comes up after us.
func Initialize(ctx context.Context, connStr string, log *slog.Logger, models ...any) (*gorm.DB, error) {
	return open(ctx, postgres.Open(connStr), log, models...)
}

func open(ctx context.Context, dialector gorm.Dialector, log *slog.Logger, models ...any) (db *gorm.DB, err error) {
	retryTicker := time.NewTicker(time.Second * 2)
	defer retryTicker.Stop()

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err = gorm.Open(dialector, cfg)
		if err == nil {
			break
		}
		log.Warn("database is not reachable yet", "attempt", attempt, "error", err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-retryTicker.C:
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err = db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate models: %w", err)
	}

	log.Info("connected to database")
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDb, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDb.Close()
}
