package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"stonkbot/internal/app"
	"stonkbot/internal/config"
	"stonkbot/internal/discord"
	"stonkbot/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
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

	bot, err := discord.NewBot(cfg.DiscordToken, cfg.GuildID, &discord.Handler{
		Ledger:   core.Ledger,
		Market:   core.Market,
		Exchange: core.Exchange,
		Query:    core.Query,
		Metrics:  core.Metrics,
		Log:      logger,
	}, logger)
	if err != nil {
		logger.Error("discord init failed", "err", err)
		os.Exit(1)
	}
	if err := bot.Run(ctx); err != nil {
		logger.Error("discord bot failed", "err", err)
		os.Exit(1)
	}
}
