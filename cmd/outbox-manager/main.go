// cmd/outbox-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notification-outbox/internal/admin"
	"notification-outbox/internal/common/aws"
	"notification-outbox/internal/common/config"
	"notification-outbox/internal/common/database"
	"notification-outbox/internal/common/logger"
	"notification-outbox/internal/common/observability"
	"notification-outbox/internal/outbox"
	"notification-outbox/internal/preference"
	"notification-outbox/internal/template"
	"notification-outbox/internal/transport"
	"notification-outbox/internal/worker"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting outbox manager...",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs := observability.New("outbox-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis (optional: the worker lease degrades to the local guard) ---
	var redisClient *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			redisClient, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")

		if err != nil {
			zapLog.Warn("redis unavailable, worker lease disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			zapLog.Info("Redis connected successfully")
		}
	}

	// --- Init outbound transport ---
	var sender transport.EmailSender = transport.NotConfiguredSender{}
	if cfg.Email.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Email.SES.Region)
		if err != nil {
			zapLog.Fatal("SES client failed", zap.Error(err))
		}
		sender = transport.NewSESSender(
			sesClient,
			cfg.Email.SES.FromEmail,
			cfg.Email.SES.FromName,
			config.GetDuration(cfg.Outbox.SendTimeout),
			log,
		)
		zapLog.Info("SES transport configured", zap.String("region", cfg.Email.SES.Region))
	} else {
		zapLog.Warn("No transport configured, deliveries will fail through the backoff path")
	}

	// --- Wire domain components ---
	store := outbox.NewStore(pg.DB)
	registry := template.NewRegistry(pg.DB, log)
	gate := preference.NewGate(pg.DB, log)
	gateway := outbox.NewGateway(store, registry, log)

	deliveryWorker := worker.New(store, registry, gate, sender, redisClient, obs, log, worker.Config{
		PollInterval: config.GetDuration(cfg.Outbox.PollInterval),
		BatchSize:    cfg.Outbox.BatchSize,
		StaleAfter:   config.GetDuration(cfg.Outbox.StaleAfter),
		LeaseKey:     cfg.Outbox.LeaseKey,
		LeaseTTL:     config.GetDuration(cfg.Outbox.LeaseTTL),
	})

	if err := deliveryWorker.ReconcileStale(ctx); err != nil {
		zapLog.Fatal("stale SENDING reconciliation failed", zap.Error(err))
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	if cfg.Outbox.WorkerEnabled {
		deliveryWorker.Start(workerCtx)
	} else {
		zapLog.Info("Delivery worker disabled, entries accumulate until a manual tick")
	}

	// --- Admin & Metrics Server ---
	adminHandler := admin.NewHandler(gateway, registry, gate, deliveryWorker, log)
	mux := http.NewServeMux()
	mux.Handle("/", adminHandler.Routes())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler: mux,
	}
	go func() {
		zapLog.Info("Admin server listening", zap.Int("port", cfg.Admin.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Admin server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")

	stopWorker()
	if cfg.Outbox.WorkerEnabled {
		deliveryWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Admin server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Outbox manager stopped gracefully")
}
