// Package config defines the top-level configuration for the loop trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LOOPBOT_* environment variables.
type Config struct {
	Engine   EngineConfig           `toml:"engine"`
	Strategy StrategyConfig         `toml:"strategy"`
	Risk     RiskConfig             `toml:"risk"`
	Venues   map[string]VenueConfig `toml:"venues"`
	Postgres PostgresConfig         `toml:"postgres"`
	Redis    RedisConfig            `toml:"redis"`
	S3       S3Config               `toml:"s3"`
	Mode     string                 `toml:"mode"`
	LogLevel string                 `toml:"log_level"`
}

// EngineConfig holds run-level parameters.
type EngineConfig struct {
	RunID             string   `toml:"run_id"` // empty means generate
	ValuationCurrency string   `toml:"valuation_currency"`
	InitialCapital    float64  `toml:"initial_capital"`
	SeedToken         string   `toml:"seed_token"`
	Interval          duration `toml:"interval"` // live mode timestep
	DataPath          string   `toml:"data_path"` // backtest market data (JSONL)
	ResultsPath       string   `toml:"results_path"`
	ReconcileInterval duration `toml:"reconcile_interval"` // live balance drift checks
}

// StrategyConfig holds the parameters for the built-in strategies.
type StrategyConfig struct {
	Active        []string       `toml:"active"`
	TargetLTV     float64        `toml:"target_ltv"`
	MaxIterations int            `toml:"max_iterations"`
	RebalanceBand float64        `toml:"rebalance_band"`
	DustThreshold float64        `toml:"dust_threshold"`
	LendingVenue  string         `toml:"lending_venue"`
	StakingVenue  string         `toml:"staking_venue"`
	PerpVenue     string         `toml:"perp_venue"`
	BaseToken     string         `toml:"base_token"`
	StakedToken   string         `toml:"staked_token"`
	Params        map[string]any `toml:"params"`
}

// RiskConfig holds risk assessment parameters. TargetLTV and MaxDrawdown
// have no usable defaults; a config missing them is rejected outright.
type RiskConfig struct {
	TargetLTV           float64            `toml:"target_ltv"`
	MaxDrawdown         float64            `toml:"max_drawdown"`
	CategoryMultipliers map[string]float64 `toml:"category_multipliers"`
}

// VenueConfig describes one execution venue.
type VenueConfig struct {
	Family               string  `toml:"family"` // lending | staking | perp | transfer
	MaxLeverage          float64 `toml:"max_leverage"`
	LiquidationThreshold float64 `toml:"liquidation_threshold"`
	FeeRate              float64 `toml:"fee_rate"`
	FeeCurrency          string  `toml:"fee_currency"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// Risk limits deliberately have no defaults; they must come from the
// operator.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ValuationCurrency: "USD",
			InitialCapital:    100_000,
			SeedToken:         "USDC",
			Interval:          duration{1 * time.Hour},
			ResultsPath:       "results.jsonl",
			ReconcileInterval: duration{15 * time.Minute},
		},
		Strategy: StrategyConfig{
			Active:        []string{"leverage_loop", "rebalance"},
			MaxIterations: 5,
			RebalanceBand: 0.05,
			DustThreshold: 50,
			LendingVenue:  "aave",
			StakingVenue:  "lido",
			PerpVenue:     "hyperliquid",
			BaseToken:     "WETH",
			StakedToken:   "WSTETH",
			Params:        map[string]any{},
		},
		Venues: map[string]VenueConfig{},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "loopbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "loopbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Mode:     "backtest",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"backtest": true,
	"live":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validFamilies = map[string]bool{
	"lending":  true,
	"staking":  true,
	"perp":     true,
	"transfer": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found. Risk limits are checked
// here so a bad config dies at startup, not mid-run.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: backtest, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.InitialCapital <= 0 {
		errs = append(errs, "engine: initial_capital must be > 0")
	}
	if c.Engine.ValuationCurrency == "" {
		errs = append(errs, "engine: valuation_currency must not be empty")
	}
	if c.Engine.SeedToken == "" {
		errs = append(errs, "engine: seed_token must not be empty")
	}
	if c.Mode == "backtest" && c.Engine.DataPath == "" {
		errs = append(errs, "engine: data_path is required in backtest mode")
	}
	if c.Mode == "live" && c.Engine.Interval.Duration <= 0 {
		errs = append(errs, "engine: interval must be positive in live mode")
	}

	// Risk limits are mandatory; there is no safe default to fall back on.
	if c.Risk.TargetLTV <= 0 || c.Risk.TargetLTV >= 1 {
		errs = append(errs, fmt.Sprintf("risk: target_ltv must be in (0,1), got %g", c.Risk.TargetLTV))
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		errs = append(errs, fmt.Sprintf("risk: max_drawdown must be in (0,1), got %g", c.Risk.MaxDrawdown))
	}

	// Venues
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue must be configured")
	}
	for name, v := range c.Venues {
		if !validFamilies[v.Family] {
			errs = append(errs, fmt.Sprintf("venues.%s: unknown family %q (valid: lending, staking, perp, transfer)", name, v.Family))
		}
		if v.MaxLeverage <= 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: max_leverage must be > 0", name))
		}
		if v.FeeRate < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s: fee_rate must be >= 0", name))
		}
	}

	// Strategy
	if c.Strategy.TargetLTV <= 0 || c.Strategy.TargetLTV >= 1 {
		errs = append(errs, fmt.Sprintf("strategy: target_ltv must be in (0,1), got %g", c.Strategy.TargetLTV))
	}
	if c.Strategy.RebalanceBand <= 0 {
		errs = append(errs, "strategy: rebalance_band must be > 0")
	}
	for _, name := range c.Strategy.Active {
		if name != "leverage_loop" && name != "rebalance" {
			errs = append(errs, fmt.Sprintf("strategy: unknown active strategy %q", name))
		}
	}

	// Live mode needs the durable stores.
	if c.Mode == "live" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
