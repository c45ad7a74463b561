// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/finlux, cmd/finlux-cli and cmd/finlux-mirror.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"finlux/internal/backend"
	"finlux/internal/config"
	"finlux/internal/core"
	"finlux/internal/ledger"
	"finlux/internal/log"
)

// SetupLogger initializes structured logging to w at the named level.
// Returns the configured logger and sets it as the default logger.
func SetupLogger(w io.Writer, level string, component string) *log.Logger {
	lvl := log.ParseLevel(level)
	logger := log.New(log.Config{
		Level:     lvl,
		Component: component,
		Handler:   slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}),
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadConfig loads the .env file, if any, and then the environment.
func LoadConfig() *config.Config {
	LoadEnvFile()
	return config.Load()
}

// MustValidate exits the process when cfg is invalid.
func MustValidate(logger *log.Logger, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
}

// InitFactory builds the adapter factory from the application config.
// Returns the factory or exits the process on failure.
func InitFactory(logger *log.Logger, cfg *config.Config) *backend.Factory {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	factory, err := backend.NewFactory(bcfg, logger)
	if err != nil {
		logger.Error("Failed to initialize adapter factory", log.FieldError, err, "local_store", cfg.LocalStore)
		os.Exit(1)
	}
	return factory
}

// OpenGuest opens the guest adapter and loads an engine over it. The returned
// close func disposes both.
func OpenGuest(ctx context.Context, factory *backend.Factory, opts ...ledger.Option) (*ledger.Engine, func(), error) {
	adapter, err := factory.NewLocal(ctx)
	if err != nil {
		return nil, nil, err
	}
	engine := ledger.New(adapter, opts...)
	if err := engine.Load(ctx); err != nil {
		_ = adapter.Close()
		return nil, nil, err
	}
	return engine, func() { _ = engine.Close() }, nil
}

// OpenPartition opens the adapter holding the data of p: the guest store, or
// the remote partition of one user.
func OpenPartition(ctx context.Context, factory *backend.Factory, p core.Partition) (backend.Adapter, error) {
	if p == core.GuestPartition {
		return factory.NewLocal(ctx)
	}
	return factory.NewRemote(ctx, p.UserID)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached", "timeout", timeout)
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup ran.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
