package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/car-relay/internal/config"
	"github.com/example/car-relay/internal/engine"
	httpapi "github.com/example/car-relay/internal/http"
	"github.com/example/car-relay/internal/identity"
	"github.com/example/car-relay/internal/logging"
	"github.com/example/car-relay/internal/notify"
	"github.com/example/car-relay/internal/payments"
	"github.com/example/car-relay/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := applyMigrations(pg); err != nil {
				logger.Error("migration failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer cache.Close()
	}

	wsReg := notify.NewWSRegistry()
	var publisher notify.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}
	notifier := notify.NewAsyncNotifier(publisher, wsReg, logging.ForComponent(logger, "notify"))

	gateway := payments.NewStripeClient(cfg.StripeAPIKey)
	ident := identity.NewService(store, store, cache, notifier, logging.ForComponent(logger, "identity"))
	pay := payments.NewService(gateway, store, store, store, cfg.CommissionPercent, cfg.Currency,
		logging.ForComponent(logger, "payments"))
	eng := engine.New(store, ident, pay, notifier, logging.ForComponent(logger, "engine"))

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(eng, ident, pay, wsReg, logging.ForComponent(logger, "http")),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("car-relay listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}

func applyMigrations(pg *storage.PostgresStore) error {
	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := pg.DB().Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}
