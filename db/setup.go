package db

import (
	"context"
	"fmt"
	"time"

	"github.com/malwarebo/paygate/config"
	"github.com/malwarebo/paygate/utils"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

type DB struct {
	*gorm.DB
}

func (db *DB) GetDB() *gorm.DB {
	return db.DB
}

// gormWriter sends gorm's SQL traces through the application logger.
type gormWriter struct {
	queries bool
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if w.queries {
		utils.Info(context.Background(), message, nil)
		return
	}
	utils.Warn(context.Background(), message, nil)
}

// GormConfig is shared by every dialector so timestamps are always written in UTC.
// Lookups that miss are expected on hot paths and are not logged.
func GormConfig(logQueries bool) *gorm.Config {
	level := logger.Warn
	if logQueries {
		level = logger.Info
	}
	return &gorm.Config{
		Logger: logger.New(gormWriter{queries: logQueries}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
}

func CreateDB(cfg config.DatabaseConfig, primaryDSN string) (*DB, error) {
	db, err := gorm.Open(postgres.Open(primaryDSN), GormConfig(cfg.LogQueries))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database: %v", err)
	}

	if len(cfg.ReplicaDSNs) > 0 {
		resolverConfig := dbresolver.Config{
			Policy: dbresolver.RandomPolicy{},
		}
		for _, replicaDSN := range cfg.ReplicaDSNs {
			resolverConfig.Replicas = append(resolverConfig.Replicas, postgres.Open(replicaDSN))
		}

		err = db.Use(dbresolver.Register(resolverConfig).
			SetConnMaxIdleTime(cfg.MaxIdleTime).
			SetConnMaxLifetime(cfg.MaxLifetime).
			SetMaxIdleConns(cfg.MaxIdleConns).
			SetMaxOpenConns(cfg.MaxOpenConns))
		if err != nil {
			return nil, fmt.Errorf("failed to configure read replicas: %v", err)
		}

		utils.Info(context.Background(), "Configured read replicas", map[string]interface{}{
			"replicas": len(cfg.ReplicaDSNs),
		})
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %v", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}
	if cfg.MaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}

	return &DB{db}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %v", err)
	}
	return sqlDB.Close()
}
