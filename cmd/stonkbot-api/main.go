package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stonkbot/internal/api"
	"stonkbot/internal/app"
	"stonkbot/internal/config"
	"stonkbot/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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

	if cfg.RunScheduler {
		sched, err := core.Scheduler(cfg.MarketTickEvery)
		if err != nil {
			logger.Error("scheduler init failed", "err", err)
			os.Exit(1)
		}
		go sched.Run(ctx)
	}

	server := api.New(cfg, logger, api.Deps{
		Ledger:   core.Ledger,
		Market:   core.Market,
		Exchange: core.Exchange,
		Query:    core.Query,
		Metrics:  core.Metrics,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("stonkbot api listening", "addr", cfg.Addr, "scheduler", cfg.RunScheduler)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
