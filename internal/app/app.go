// Package app wires the core components shared by the stonkbot binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stonkbot/internal/config"
	"stonkbot/internal/db"
	"stonkbot/internal/game"
	"stonkbot/internal/metrics"
	"stonkbot/internal/scheduler"
)

type Core struct {
	Store    game.Store
	Ledger   *game.Ledger
	Market   *game.Market
	Exchange *game.Exchange
	Query    *game.Query
	Metrics  *metrics.Registry
	log      *slog.Logger
}

// Open connects the configured store and builds the components on top of it.
// Callers own Close.
func Open(ctx context.Context, cfg config.Core, logger *slog.Logger) (*Core, error) {
	store, kind, err := db.Open(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("store ready", "kind", kind)

	c, err := build(store, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if cfg.SeedInstruments {
		added, err := c.Market.Seed(ctx, game.DefaultInstruments)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed instruments: %w", err)
		}
		logger.Info("instruments seeded", "added", added)
	}
	if prices, err := c.Market.CurrentPrices(ctx); err == nil {
		c.Metrics.SetPrices(prices)
	}
	return c, nil
}

func build(store game.Store, cfg config.Core, logger *slog.Logger) (*Core, error) {
	policy := cfg.LedgerPolicy()
	market, err := game.NewMarket(store, cfg.MarketPolicy(), nil, logger)
	if err != nil {
		return nil, err
	}
	return &Core{
		Store:    store,
		Ledger:   game.NewLedger(store, policy, nil, logger),
		Market:   market,
		Exchange: game.NewExchange(store, policy.StartingWallet, logger),
		Query:    game.NewQuery(store, market),
		Metrics:  metrics.New(),
		log:      logger,
	}, nil
}

func (c *Core) Close() error {
	return c.Store.Close()
}

// MarketJob evolves the market once per tick and publishes the new prices.
func (c *Core) MarketJob() scheduler.Job {
	return func(ctx context.Context, now time.Time) error {
		err := c.Market.Evolve(ctx, now)
		if prices, perr := c.Market.CurrentPrices(ctx); perr == nil {
			c.Metrics.SetPrices(prices)
		}
		return err
	}
}

// Scheduler builds the market tick loop reporting into the metrics registry.
func (c *Core) Scheduler(every time.Duration) (*scheduler.Scheduler, error) {
	return scheduler.New(every, c.MarketJob(), c.log, scheduler.WithObserver(c.Metrics))
}
