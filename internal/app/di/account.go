package di

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"

	"account_backend/internal/feature/account/usecase"
	"account_backend/internal/platform/cache"
	"account_backend/internal/platform/config"
	"account_backend/internal/platform/mail"
	"account_backend/internal/platform/ratelimit"
	"account_backend/internal/platform/secrets"
)

// NewNotifier returns the mail gateway selected by MAIL_PROVIDER.
func NewNotifier(cfg mail.Config, awsCfg func() (aws.Config, error), logger *slog.Logger) (usecase.Notifier, error) {
	switch cfg.Provider {
	case mail.ProviderSES:
		c, err := awsCfg()
		if err != nil {
			return nil, err
		}
		return mail.NewSESNotifier(c, cfg.From), nil
	case mail.ProviderLog, "":
		logger.Warn("MAIL_PROVIDER is log: confirmation emails are written to the log, not sent")
		return mail.NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// NewSigningSecret resolves the token signing secret.
// If SECRET_NAME is set, it is read from AWS Secrets Manager; otherwise JWT_SECRET is used.
func NewSigningSecret(ctx context.Context, cfg *config.Config, awsCfg func() (aws.Config, error)) (string, error) {
	if cfg.Secrets.Name == "" {
		return secrets.StaticProvider(cfg.Tokens.JWTSecret).Secret(ctx)
	}
	c, err := awsCfg()
	if err != nil {
		return "", err
	}
	return secrets.NewManagerProvider(c, cfg.Secrets.Name, cfg.Secrets.KeyField).Secret(ctx)
}

// NewResendLimiter returns the confirmation resend limiter.
// It returns nil when limiting is disabled. If Redis is available, the
// count is shared across instances; otherwise it falls back to process memory.
func NewResendLimiter(cfg ratelimit.Config, rdb *redis.Client, namespace string) usecase.RateLimiter {
	if !cfg.Enabled() {
		return nil
	}
	if rdb != nil {
		return ratelimit.NewRedisLimiter(rdb, cfg.Limit, cfg.Window, namespace+":ratelimit")
	}
	slog.Warn("Redis unavailable. Resend limit is per process.")
	return ratelimit.NewMemoryLimiter(cfg.Limit, cfg.Window)
}

// NewProfileCache returns the profile cache, or nil when Redis is unavailable.
func NewProfileCache(cfg cache.Config, rdb *redis.Client) usecase.ProfileCache {
	if rdb == nil {
		return nil
	}
	return cache.NewProfileCache(rdb, cfg.ProfileTTL, cfg.Namespace)
}
