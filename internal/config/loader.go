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
// built-in defaults, applies MEVSCAN_* environment variable overrides, and
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

// applyEnvOverrides reads well-known MEVSCAN_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setInt(&cfg.Chain.ChainID, "MEVSCAN_CHAIN_ID")
	setStr(&cfg.Chain.PoolsFile, "MEVSCAN_CHAIN_POOLS_FILE")
	setStr(&cfg.Chain.PositionsFile, "MEVSCAN_CHAIN_POSITIONS_FILE")

	// ── Feed ──
	setInt(&cfg.Feed.BlockBuffer, "MEVSCAN_FEED_BLOCK_BUFFER")
	setInt(&cfg.Feed.PendingBuffer, "MEVSCAN_FEED_PENDING_BUFFER")
	setDuration(&cfg.Feed.MaxDowntime, "MEVSCAN_FEED_MAX_DOWNTIME")
	setStr(&cfg.Feed.ReplayFile, "MEVSCAN_FEED_REPLAY_FILE")
	setDuration(&cfg.Feed.ReplayInterval, "MEVSCAN_FEED_REPLAY_INTERVAL")

	// ── Arbitrage ──
	setBool(&cfg.Arbitrage.Enabled, "MEVSCAN_ARBITRAGE_ENABLED")
	setInt(&cfg.Arbitrage.MinMarginBps, "MEVSCAN_ARBITRAGE_MIN_MARGIN_BPS")
	setInt(&cfg.Arbitrage.ValidityBlocks, "MEVSCAN_ARBITRAGE_VALIDITY_BLOCKS")
	setInt64(&cfg.Arbitrage.SwapGas, "MEVSCAN_ARBITRAGE_SWAP_GAS")
	setFloat64(&cfg.Arbitrage.BaseConfidence, "MEVSCAN_ARBITRAGE_BASE_CONFIDENCE")

	// ── Liquidation ──
	setBool(&cfg.Liquidation.Enabled, "MEVSCAN_LIQUIDATION_ENABLED")
	setInt(&cfg.Liquidation.SafetyBufferBps, "MEVSCAN_LIQUIDATION_SAFETY_BUFFER_BPS")
	setInt(&cfg.Liquidation.CloseFactorBps, "MEVSCAN_LIQUIDATION_CLOSE_FACTOR_BPS")
	setInt(&cfg.Liquidation.FlashFeeBps, "MEVSCAN_LIQUIDATION_FLASH_FEE_BPS")
	setInt(&cfg.Liquidation.ValidityBlocks, "MEVSCAN_LIQUIDATION_VALIDITY_BLOCKS")
	setFloat64(&cfg.Liquidation.BaseConfidence, "MEVSCAN_LIQUIDATION_BASE_CONFIDENCE")

	// ── Frontrun ──
	setBool(&cfg.Frontrun.Enabled, "MEVSCAN_FRONTRUN_ENABLED")
	setFloat64(&cfg.Frontrun.SpikeStdDevs, "MEVSCAN_FRONTRUN_SPIKE_STD_DEVS")
	setInt(&cfg.Frontrun.BaselineWindow, "MEVSCAN_FRONTRUN_BASELINE_WINDOW")
	setInt(&cfg.Frontrun.MinBaselineSamples, "MEVSCAN_FRONTRUN_MIN_BASELINE_SAMPLES")
	setStringSlice(&cfg.Frontrun.WatchedSelectors, "MEVSCAN_FRONTRUN_WATCHED_SELECTORS")
	setStringSlice(&cfg.Frontrun.ProtectedSenders, "MEVSCAN_FRONTRUN_PROTECTED_SENDERS")
	setDuration(&cfg.Frontrun.RetentionHorizon, "MEVSCAN_FRONTRUN_RETENTION_HORIZON")
	setInt(&cfg.Frontrun.ValidityBlocks, "MEVSCAN_FRONTRUN_VALIDITY_BLOCKS")

	// ── Simulation ──
	setInt(&cfg.Simulation.Workers, "MEVSCAN_SIMULATION_WORKERS")
	setFloat64(&cfg.Simulation.ConfidenceFloor, "MEVSCAN_SIMULATION_CONFIDENCE_FLOOR")

	// ── Gas ──
	setInt(&cfg.Gas.WindowBlocks, "MEVSCAN_GAS_WINDOW_BLOCKS")
	setFloat64(&cfg.Gas.TargetPercentile, "MEVSCAN_GAS_TARGET_PERCENTILE")
	setFloat64(&cfg.Gas.UrgencyStep, "MEVSCAN_GAS_URGENCY_STEP")
	setInt64(&cfg.Gas.FloorTipGwei, "MEVSCAN_GAS_FLOOR_TIP_GWEI")
	setInt64(&cfg.Gas.FloorMaxFeeGwei, "MEVSCAN_GAS_FLOOR_MAX_FEE_GWEI")

	// ── Profit ──
	setInt(&cfg.Profit.SlippageBufferBps, "MEVSCAN_PROFIT_SLIPPAGE_BUFFER_BPS")
	setFloat64(&cfg.Profit.CompetitionDecay, "MEVSCAN_PROFIT_COMPETITION_DECAY")

	// ── Queue ──
	setInt(&cfg.Queue.Capacity, "MEVSCAN_QUEUE_CAPACITY")
	setDuration(&cfg.Queue.DispatchPoll, "MEVSCAN_QUEUE_DISPATCH_POLL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MEVSCAN_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MEVSCAN_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MEVSCAN_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MEVSCAN_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MEVSCAN_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MEVSCAN_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MEVSCAN_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "MEVSCAN_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "MEVSCAN_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MEVSCAN_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MEVSCAN_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MEVSCAN_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MEVSCAN_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MEVSCAN_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MEVSCAN_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MEVSCAN_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MEVSCAN_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MEVSCAN_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MEVSCAN_S3_REGION")
	setStr(&cfg.S3.Bucket, "MEVSCAN_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MEVSCAN_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MEVSCAN_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MEVSCAN_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MEVSCAN_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MEVSCAN_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MEVSCAN_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "MEVSCAN_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MEVSCAN_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MEVSCAN_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MEVSCAN_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MEVSCAN_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MEVSCAN_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MEVSCAN_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MEVSCAN_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MEVSCAN_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MEVSCAN_MODE")
	setStr(&cfg.LogLevel, "MEVSCAN_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
