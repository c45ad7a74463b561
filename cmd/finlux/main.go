package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"finlux/internal/amqp"
	"finlux/internal/cache"
	"finlux/internal/cli"
	apphttp "finlux/internal/http"
	"finlux/internal/ledger"
	"finlux/internal/log"
	"finlux/internal/session"
)

func main() {
	cfg := cli.LoadConfig()
	logger := cli.SetupLogger(os.Stdout, cfg.LogLevel, log.ComponentApp)
	cli.MustValidate(logger, cfg)

	factory := cli.InitFactory(logger, cfg)

	// One idempotency cache for every engine the session builds; keys are
	// scoped by mode and user inside the engine.
	idem := ledger.NewIdempotencyCache(cfg.IdempotencyTTL)
	caches := cache.NewManager(logger)
	caches.Register(idem)
	caches.StartCleanup(time.Minute)

	opts := []ledger.Option{
		ledger.WithTimeout(cfg.OperationTimeout),
		ledger.WithLogger(logger),
		ledger.WithIdempotencyCache(idem),
	}

	var feed *amqp.Client
	if cfg.FeedEnabled() {
		var err error
		feed, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			// The ledger works without the feed; the mirror can resync later.
			logger.Error("Failed to initialize AMQP client, change feed disabled", log.FieldError, err)
		} else {
			opts = append(opts, ledger.WithPublisher(feed))
			logger.Info("Change feed enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("Change feed disabled - no AMQP_URL provided")
	}

	sessions := session.NewManager(factory, logger, opts...)
	if err := sessions.Start(context.Background()); err != nil {
		logger.Error("Failed to start guest session", log.FieldError, err, "local_store", cfg.LocalStore)
		os.Exit(1)
	}

	srv := apphttp.NewServer(":"+cfg.Port, sessions, apphttp.Options{
		Logger:   logger,
		Currency: cfg.Currency,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := sessions.Close(); err != nil {
			logger.Error("Session close error", log.FieldError, err)
		}
		if feed != nil {
			_ = feed.Close()
		}
		caches.Stop()
	})

	logger.Info("Starting finlux server",
		"port", cfg.Port,
		"local_store", cfg.LocalStore,
		"remote_enabled", cfg.RemoteEnabled(),
		"currency", cfg.Currency)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
