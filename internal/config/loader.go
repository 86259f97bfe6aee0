package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LOOPBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LOOPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.RunID, "LOOPBOT_ENGINE_RUN_ID")
	setStr(&cfg.Engine.ValuationCurrency, "LOOPBOT_ENGINE_VALUATION_CURRENCY")
	setFloat64(&cfg.Engine.InitialCapital, "LOOPBOT_ENGINE_INITIAL_CAPITAL")
	setStr(&cfg.Engine.SeedToken, "LOOPBOT_ENGINE_SEED_TOKEN")
	setDuration(&cfg.Engine.Interval, "LOOPBOT_ENGINE_INTERVAL")
	setStr(&cfg.Engine.DataPath, "LOOPBOT_ENGINE_DATA_PATH")
	setStr(&cfg.Engine.ResultsPath, "LOOPBOT_ENGINE_RESULTS_PATH")
	setDuration(&cfg.Engine.ReconcileInterval, "LOOPBOT_ENGINE_RECONCILE_INTERVAL")

	// ── Strategy ──
	setStringSlice(&cfg.Strategy.Active, "LOOPBOT_STRATEGY_ACTIVE")
	setFloat64(&cfg.Strategy.TargetLTV, "LOOPBOT_STRATEGY_TARGET_LTV")
	setInt(&cfg.Strategy.MaxIterations, "LOOPBOT_STRATEGY_MAX_ITERATIONS")
	setFloat64(&cfg.Strategy.RebalanceBand, "LOOPBOT_STRATEGY_REBALANCE_BAND")
	setFloat64(&cfg.Strategy.DustThreshold, "LOOPBOT_STRATEGY_DUST_THRESHOLD")
	setStr(&cfg.Strategy.LendingVenue, "LOOPBOT_STRATEGY_LENDING_VENUE")
	setStr(&cfg.Strategy.StakingVenue, "LOOPBOT_STRATEGY_STAKING_VENUE")
	setStr(&cfg.Strategy.PerpVenue, "LOOPBOT_STRATEGY_PERP_VENUE")
	setStr(&cfg.Strategy.BaseToken, "LOOPBOT_STRATEGY_BASE_TOKEN")
	setStr(&cfg.Strategy.StakedToken, "LOOPBOT_STRATEGY_STAKED_TOKEN")

	// ── Risk ──
	setFloat64(&cfg.Risk.TargetLTV, "LOOPBOT_RISK_TARGET_LTV")
	setFloat64(&cfg.Risk.MaxDrawdown, "LOOPBOT_RISK_MAX_DRAWDOWN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LOOPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LOOPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LOOPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LOOPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LOOPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LOOPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LOOPBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LOOPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LOOPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LOOPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LOOPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LOOPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LOOPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LOOPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LOOPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LOOPBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LOOPBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LOOPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LOOPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "LOOPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LOOPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LOOPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LOOPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LOOPBOT_S3_FORCE_PATH_STYLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "LOOPBOT_MODE")
	setStr(&cfg.LogLevel, "LOOPBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
