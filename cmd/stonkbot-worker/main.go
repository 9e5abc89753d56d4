package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"stonkbot/internal/app"
	"stonkbot/internal/config"
	"stonkbot/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		slog.Error("logger init failed", "err", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	core, err := app.Open(ctx, cfg.Core, logger)
	if err != nil {
		logger.Error("core init failed", "err", err)
		os.Exit(1)
	}
	defer core.Close()

	sched, err := core.Scheduler(cfg.MarketTickEvery)
	if err != nil {
		logger.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}

	if cfg.RunOnce {
		if err := sched.RunOnce(ctx); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	logger.Info("worker started", "tick_every", cfg.MarketTickEvery.String())
	sched.Run(ctx)
	logger.Info("worker shutdown")
}
