package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	redisv9 "github.com/redis/go-redis/v9"

	"account_backend/internal/app/di"
	"account_backend/internal/app/router"
	"account_backend/internal/feature/account/adapters"
	accounthandler "account_backend/internal/feature/account/transport/handler"
	"account_backend/internal/feature/account/usecase"
	"account_backend/internal/platform/config"
	"account_backend/internal/platform/db"
	platformhandler "account_backend/internal/platform/http/handler"
	jwtmw "account_backend/internal/platform/jwt"
	"account_backend/internal/platform/logger"
	"account_backend/internal/platform/metrics"
	"account_backend/internal/platform/password"
	infraredis "account_backend/internal/platform/redis"
	"account_backend/internal/platform/tracing"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Log, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	// db
	gdb, err := db.Open(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	// Redis
	var rdb *redisv9.Client
	if tmp, err := infraredis.NewRedisClient(ctx, cfg.Redis); err != nil {
		slog.Warn("Redis unavailable. Running without cache.", "error", err)
	} else {
		rdb = tmp
		defer func() {
			if err := rdb.Close(); err != nil {
				slog.Error("Failed to close Redis client", "error", err)
			}
		}()
	}

	// AWS は SES か Secrets Manager を使う場合のみ読み込む
	awsCfg := sync.OnceValues(func() (aws.Config, error) {
		return di.NewAWSConfig(ctx, cfg.AWS)
	})

	secret, err := di.NewSigningSecret(ctx, cfg, awsCfg)
	if err != nil {
		return fmt.Errorf("signing secret: %w", err)
	}
	codec, err := jwtmw.NewCodec(secret, jwtmw.WithIssuer(cfg.Tokens.Issuer))
	if err != nil {
		return err
	}

	notifier, err := di.NewNotifier(cfg.Mail, awsCfg, log)
	if err != nil {
		return fmt.Errorf("mail: %w", err)
	}

	m := metrics.New()

	// Repository
	userStore := adapters.NewUserGorm(gdb)

	// Usecase
	accountUC := usecase.NewAccountUsecase(
		userStore,
		codec,
		password.NewHasher(cfg.Tokens.BcryptCost),
		notifier,
		usecase.Config{
			AccessTokenTTL:     cfg.Tokens.AccessTokenTTL,
			RefreshTokenTTL:    cfg.Tokens.RefreshTokenTTL,
			ConfirmTokenMaxAge: cfg.Tokens.ConfirmTokenMaxAge,
			MailTimeout:        cfg.Tokens.MailTimeout,
			ConfirmURLBase:     cfg.Tokens.ConfirmURLBase,
		},
		usecase.WithEventRecorder(m),
		usecase.WithProfileCache(di.NewProfileCache(cfg.Cache, rdb)),
		usecase.WithRateLimiter(di.NewResendLimiter(cfg.RateLimit, rdb, cfg.Cache.Namespace)),
	)

	// Handler
	accountH := accounthandler.NewAccountHandler(accountUC)

	ready := map[string]platformhandler.Pinger{
		"db": platformhandler.PingFunc(func(ctx context.Context) error { return db.Ping(ctx, gdb) }),
	}
	if rdb != nil {
		ready["redis"] = platformhandler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	// ルータ生成
	engine := router.NewRouter(router.Deps{
		Accounts:    accountH,
		Verifier:    codec,
		Logger:      log,
		Metrics:     m,
		Readiness:   ready,
		CORSOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{Addr: cfg.Addr, Handler: engine}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
