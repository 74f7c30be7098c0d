package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageDriver),
		zap.String("lock", cfg.LockDriver))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error("api-server stopped", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run serves until ctx is done. Everything bootstrap opened is closed before
// it returns, also when bootstrap fails halfway.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	components, err := bootstrap.New(ctx, cfg, logger)
	defer components.Close()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Service:            components.Service,
		Calendar:           components.Calendar,
		Logger:             logger,
		HealthChecks:       components.HealthChecks,
		Env:                cfg.Env,
		Version:            version,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
