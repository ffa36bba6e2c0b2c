// Package db opens the gorm connection and applies the schema.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"account_backend/internal/feature/account/domain/entity"
	"account_backend/internal/platform/db/migrations"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// retryInterval はDB接続リトライの間隔です。
const retryInterval = 3 * time.Second

// slowQueryThreshold はこの時間を超えたクエリを警告として記録します。
const slowQueryThreshold = 200 * time.Millisecond

// Config はデータベース接続設定です。
type Config struct {
	Driver   string `env:"DB_DRIVER" envDefault:"postgres"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	// SQLitePath is used when Driver is sqlite. ":memory:" keeps everything in process.
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"account.db"`
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"60s"`
	RunMigrations  bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
}

// Opener opens a gorm connection for a DSN. It is swapped out in tests.
type Opener func(dsn string) (*gorm.DB, error)

// BuildDSN はPostgreSQL用のDSN文字列を生成します。
func BuildDSN(cfg Config) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)
}

// ConnectWithRetry は timeout に達するまで一定間隔で接続を試みます。
func ConnectWithRetry(dsn string, timeout time.Duration, open Opener) (*gorm.DB, error) {
	deadline := time.Now().Add(timeout)
	for {
		db, err := open(dsn)
		if err == nil {
			return db, nil
		}
		if time.Now().Add(retryInterval).After(deadline) {
			return nil, fmt.Errorf("db connect failed after %s: %w", timeout, err)
		}
		slog.Warn("db connect failed, retrying", "error", err, "retry_in", retryInterval)
		time.Sleep(retryInterval)
	}
}

// gormConfig enables error translation so unique violations surface as gorm.ErrDuplicatedKey.
func gormConfig() *gorm.Config {
	return gormConfigFor(slog.Default().Handler())
}

func gormConfigFor(h slog.Handler) *gorm.Config {
	return &gorm.Config{TranslateError: true, Logger: newGormLogger(h)}
}

// newGormLogger routes gorm's errors and slow queries through slog.
// ErrRecordNotFound is an expected result, not an error.
func newGormLogger(h slog.Handler) gormlogger.Interface {
	return gormlogger.New(slog.NewLogLogger(h, slog.LevelWarn), gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Open connects with the configured driver and, if enabled, migrates the schema.
func Open(ctx context.Context, cfg Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverPostgres:
		db, err = ConnectWithRetry(BuildDSN(cfg), cfg.ConnectTimeout, func(dsn string) (*gorm.DB, error) {
			return gorm.Open(postgres.Open(dsn), gormConfig())
		})
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormConfig())
		if err == nil && cfg.SQLitePath == ":memory:" {
			// Each connection to ":memory:" is its own database.
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RunMigrations {
		if err := Migrate(ctx, db, cfg.Driver); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return db, nil
}

// Migrate applies the schema. PostgreSQL runs the embedded goose migrations;
// SQLite (tests and local development) uses AutoMigrate on the entity.
func Migrate(ctx context.Context, db *gorm.DB, driver string) error {
	if driver != DriverPostgres {
		return db.WithContext(ctx).AutoMigrate(&entity.User{})
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, sqlDB, ".")
}

// Ping checks the underlying connection. Used by the readiness probe.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
