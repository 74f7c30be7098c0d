package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/bootstrap"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

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

	logger.Info("noshow-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("grace", cfg.NoShowGrace))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error("noshow-worker stopped", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run sweeps once at start and then on every tick until ctx is done.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	components, err := bootstrap.New(ctx, cfg, logger)
	defer components.Close()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	svc := components.Service
	runOnce(ctx, logger, svc, cfg.NoShowGrace)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received, stopping noshow worker")
			return nil
		case <-ticker.C:
			runOnce(ctx, logger, svc, cfg.NoShowGrace)
		}
	}
}

func runOnce(ctx context.Context, logger *zap.Logger, svc *appointment.Service, grace time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	marked, err := svc.SweepNoShows(runCtx, grace)
	if err != nil {
		logger.Error("noshow run error", zap.Error(err))
		return
	}
	logger.Info("noshow run complete", zap.Int("marked", marked), zap.Duration("took", time.Since(start)))
}
