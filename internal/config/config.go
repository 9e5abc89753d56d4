package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"stonkbot/internal/game"
)

// Core is the shared configuration for every process that opens the store.
type Core struct {
	DatabaseURL      string        `env:"DATABASE_URL"`
	SQLitePath       string        `env:"STONKBOT_SQLITE_PATH"       envDefault:"stonkbot.db"`
	LogLevel         string        `env:"STONKBOT_LOG_LEVEL"         envDefault:"info"`
	LogFile          string        `env:"STONKBOT_LOG_FILE"`
	MarketTickEvery  time.Duration `env:"STONKBOT_MARKET_TICK_EVERY" envDefault:"24h"`
	PerturbMin       int64         `env:"STONKBOT_PERTURB_MIN"       envDefault:"-10"`
	PerturbMax       int64         `env:"STONKBOT_PERTURB_MAX"       envDefault:"10"`
	PriceFloor       int64         `env:"STONKBOT_PRICE_FLOOR"       envDefault:"1"`
	StartingWallet   int64         `env:"STONKBOT_STARTING_WALLET"   envDefault:"1000"`
	InterestAPR      float64       `env:"STONKBOT_INTEREST_APR"      envDefault:"0.05"`
	InterestCooldown time.Duration `env:"STONKBOT_INTEREST_COOLDOWN" envDefault:"24h"`
	WorkCooldown     time.Duration `env:"STONKBOT_WORK_COOLDOWN"     envDefault:"1h"`
	WageMin          int64         `env:"STONKBOT_WAGE_MIN"          envDefault:"50"`
	WageMax          int64         `env:"STONKBOT_WAGE_MAX"          envDefault:"250"`
	SeedInstruments  bool          `env:"STONKBOT_SEED_INSTRUMENTS"  envDefault:"true"`
}

type APIConfig struct {
	Core
	Addr         string  `env:"STONKBOT_API_ADDR"      envDefault:":8080"`
	APIToken     string  `env:"STONKBOT_API_TOKEN"`
	AdminToken   string  `env:"STONKBOT_ADMIN_TOKEN"`
	RateLimit    float64 `env:"STONKBOT_RATE_LIMIT"    envDefault:"5"`
	RateBurst    int     `env:"STONKBOT_RATE_BURST"    envDefault:"10"`
	RunScheduler bool    `env:"STONKBOT_RUN_SCHEDULER" envDefault:"false"`
}

type WorkerConfig struct {
	Core
	RunOnce bool `env:"STONKBOT_WORKER_RUN_ONCE" envDefault:"false"`
}

type BotConfig struct {
	Core
	DiscordToken string `env:"DISCORD_TOKEN"`
	GuildID      string `env:"DISCORD_GUILD_ID"`
	RunScheduler bool   `env:"STONKBOT_RUN_SCHEDULER" envDefault:"true"`
}

type CLIConfig struct {
	APIBaseURL string `env:"STK_API_BASE_URL" envDefault:"http://localhost:8080"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	if cfg.RateLimit <= 0 {
		return cfg, fmt.Errorf("STONKBOT_RATE_LIMIT must be > 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, fmt.Errorf("STONKBOT_RATE_BURST must be >= 1")
	}
	return cfg, cfg.Core.Validate()
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Core.Validate()
}

func LoadBotFromEnv() (BotConfig, error) {
	var cfg BotConfig
	if err := parse(&cfg); err != nil {
		return cfg, err
	}
	cfg.DiscordToken = strings.TrimSpace(cfg.DiscordToken)
	if cfg.DiscordToken == "" {
		return cfg, fmt.Errorf("DISCORD_TOKEN is required")
	}
	return cfg, cfg.Core.Validate()
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil || strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}

func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Core) Validate() error {
	if c.MarketTickEvery <= 0 {
		return fmt.Errorf("STONKBOT_MARKET_TICK_EVERY must be > 0")
	}
	if err := c.MarketPolicy().Validate(); err != nil {
		return err
	}
	if c.InterestAPR < 0 {
		return fmt.Errorf("STONKBOT_INTEREST_APR must be >= 0")
	}
	if c.WageMin > c.WageMax {
		return fmt.Errorf("STONKBOT_WAGE_MIN must be <= STONKBOT_WAGE_MAX")
	}
	if c.StartingWallet < 0 {
		return fmt.Errorf("STONKBOT_STARTING_WALLET must be >= 0")
	}
	if c.InterestCooldown < game.MinInterestCooldown {
		return fmt.Errorf("STONKBOT_INTEREST_COOLDOWN must be >= %s", game.MinInterestCooldown)
	}
	if c.WorkCooldown < 0 {
		return fmt.Errorf("STONKBOT_WORK_COOLDOWN must be >= 0")
	}
	return nil
}

func (c Core) LedgerPolicy() game.LedgerPolicy {
	return game.LedgerPolicy{
		StartingWallet:   c.StartingWallet,
		InterestAPR:      c.InterestAPR,
		InterestCooldown: c.InterestCooldown,
		WorkCooldown:     c.WorkCooldown,
		WageMin:          c.WageMin,
		WageMax:          c.WageMax,
	}
}

func (c Core) MarketPolicy() game.MarketPolicy {
	return game.MarketPolicy{
		PerturbMin: c.PerturbMin,
		PerturbMax: c.PerturbMax,
		PriceFloor: c.PriceFloor,
	}
}
