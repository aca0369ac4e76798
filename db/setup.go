package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/malwarebo/pulse/utils"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Options struct {
	Driver       string
	DSN          string
	ReplicaDSNs  []string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	MaxIdleTime  time.Duration
	LogLevel     string
}

type DB struct {
	*gorm.DB
}

func CreateDB(ctx context.Context, opts Options) (*DB, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(opts.LogLevel)),
		TranslateError: true,
	}

	dialector, err := openDialector(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database: %w", err)
	}

	// Lead reads may be served by replicas. Cache entry reads force the
	// primary with dbresolver.Write.
	if len(opts.ReplicaDSNs) > 0 {
		if opts.Driver != DriverPostgres {
			return nil, fmt.Errorf("read replicas require the %s driver", DriverPostgres)
		}
		resolverConfig := dbresolver.Config{}
		for _, replicaDSN := range opts.ReplicaDSNs {
			resolverConfig.Replicas = append(resolverConfig.Replicas, postgres.Open(replicaDSN))
		}

		err = db.Use(dbresolver.Register(resolverConfig).
			SetConnMaxIdleTime(time.Hour).
			SetConnMaxLifetime(24 * time.Hour).
			SetMaxIdleConns(10).
			SetMaxOpenConns(100))
		if err != nil {
			return nil, fmt.Errorf("failed to configure read replicas: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if opts.Driver == DriverSQLite {
		// SQLite has a single writer; one connection keeps transactions
		// serialized instead of failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.MaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(opts.MaxLifetime)
		}
		if opts.MaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(opts.MaxIdleTime)
		}
	}

	retry := utils.CreateDefaultRetryConfig()
	retry.MaxAttempts = 5
	retry.BaseDelay = 500 * time.Millisecond
	if err := utils.CreateRetry(ctx, retry, func() error {
		return sqlDB.PingContext(ctx)
	}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database not reachable: %w", err)
	}

	utils.Info(ctx, "Connected to database", map[string]interface{}{
		"driver":   opts.Driver,
		"replicas": len(opts.ReplicaDSNs),
	})
	return &DB{db}, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch driver {
	case DriverPostgres, "":
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
