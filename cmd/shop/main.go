// Package main запускает HTTP-сервер магазина монет.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/academy-shop/internal/config"
	"github.com/mmeshcher/academy-shop/internal/handler"
	"github.com/mmeshcher/academy-shop/internal/identity"
	"github.com/mmeshcher/academy-shop/internal/lock"
	"github.com/mmeshcher/academy-shop/internal/middleware"
	"github.com/mmeshcher/academy-shop/internal/paypal"
	"github.com/mmeshcher/academy-shop/internal/repository"
	"github.com/mmeshcher/academy-shop/internal/service"
)

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	var repo service.Repository
	if cfg.DatabaseURI != "" {
		repo, err = repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
	} else {
		sugar.Warn("DATABASE_URI is empty, using in-memory storage")
		repo = repository.NewMemoryRepository()
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		cancel()

		locker = lock.NewRedisLocker(rdb, "shop:lock:")
	}

	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	identityClient := identity.NewClient(cfg.AuthServiceAddress, authMiddleware)
	paypalClient := paypal.NewClient(cfg.PaypalBaseURL, cfg.PaypalClientID, cfg.PaypalClientSecret)

	svc := service.NewService(repo, identityClient, paypalClient, locker, logger, service.Options{
		PurchaseMin:               cfg.PurchaseMin,
		PurchaseMax:               cfg.PurchaseMax,
		ReleaseWithheldOnEligible: cfg.ReleaseWithheldOnEligible,
		SyncInterval:              cfg.OrderSyncInterval,
	})
	defer svc.Close()

	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.RunOrderSync(ctx)
	})

	g.Go(func() error {
		sugar.Infow("starting shop server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
