// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"account_backend/internal/platform/cache"
	"account_backend/internal/platform/db"
	"account_backend/internal/platform/logger"
	"account_backend/internal/platform/mail"
	"account_backend/internal/platform/ratelimit"
	"account_backend/internal/platform/redis"
	"account_backend/internal/platform/secrets"
	"account_backend/internal/platform/tracing"
)

// EnvDevelopment is the only APP_ENV that may run without a real mail provider.
const EnvDevelopment = "development"

// Config aggregates the configuration of every component.
type Config struct {
	Env                string        `env:"APP_ENV" envDefault:"development"`
	Addr               string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	Tokens    Tokens
	AWS       AWS
	Log       logger.Config
	DB        db.Config
	Redis     redis.Config
	Cache     cache.Config
	Mail      mail.Config
	Secrets   secrets.Config
	Tracing   tracing.Config
	RateLimit ratelimit.Config
}

// Tokens configures token lifetimes, the signing secret and password hashing.
type Tokens struct {
	// JWTSecret is used when no Secrets Manager secret is configured.
	JWTSecret          string        `env:"JWT_SECRET"`
	Issuer             string        `env:"JWT_ISSUER" envDefault:"account_backend"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	ConfirmTokenMaxAge time.Duration `env:"CONFIRM_TOKEN_MAX_AGE" envDefault:"600s"`
	ConfirmURLBase     string        `env:"CONFIRM_URL_BASE" envDefault:"http://localhost:8080/confirm-email/"`
	MailTimeout        time.Duration `env:"MAIL_TIMEOUT" envDefault:"10s"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"10"`
}

// AWS configures the SDK clients used for mail and secrets.
type AWS struct {
	Region          string        `env:"AWS_REGION" envDefault:"us-east-1"`
	Endpoint        string        `env:"AWS_ENDPOINT_URL"`
	AccessKeyID     string        `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY"`
	HTTPTimeout     time.Duration `env:"AWS_HTTP_TIMEOUT" envDefault:"10s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads an optional .env file, then the environment, and validates the result.
// Variables already set in the environment take precedence over .env.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Secrets.Name == "" && c.Tokens.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET or SECRET_NAME must be set"))
	}
	if c.Tokens.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.Tokens.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("REFRESH_TOKEN_TTL must be positive"))
	}
	if c.Tokens.ConfirmTokenMaxAge <= 0 {
		errs = append(errs, errors.New("CONFIRM_TOKEN_MAX_AGE must be positive"))
	}
	if c.Tokens.BcryptCost < bcrypt.MinCost || c.Tokens.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}
	switch c.Mail.Provider {
	case mail.ProviderLog:
		if c.Env != EnvDevelopment {
			errs = append(errs, fmt.Errorf("MAIL_PROVIDER=log is only allowed when APP_ENV=%s (APP_ENV=%q)", EnvDevelopment, c.Env))
		}
	case mail.ProviderSES:
		if c.Mail.From == "" {
			errs = append(errs, errors.New("MAIL_FROM is required for the ses provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_PROVIDER %q", c.Mail.Provider))
	}
	switch c.DB.Driver {
	case db.DriverPostgres, db.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DB.Driver))
	}
	if c.RateLimit.Limit < 0 {
		errs = append(errs, errors.New("RESEND_LIMIT must not be negative"))
	}
	return errors.Join(errs...)
}
