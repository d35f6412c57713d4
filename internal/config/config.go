// Package config defines the top-level configuration for the scanner and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MEVSCAN_* environment
// variables.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Feed        FeedConfig        `toml:"feed"`
	Arbitrage   ArbitrageConfig   `toml:"arbitrage"`
	Liquidation LiquidationConfig `toml:"liquidation"`
	Frontrun    FrontrunConfig    `toml:"frontrun"`
	Simulation  SimulationConfig  `toml:"simulation"`
	Gas         GasConfig         `toml:"gas"`
	Profit      ProfitConfig      `toml:"profit"`
	Queue       QueueConfig       `toml:"queue"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ChainConfig identifies the chain and the tracked universe.
type ChainConfig struct {
	ChainID int `toml:"chain_id"`
	// PoolsFile and PositionsFile seed the static metadata of tracked pools
	// and lending positions (tokens, fees, thresholds).
	PoolsFile     string `toml:"pools_file"`
	PositionsFile string `toml:"positions_file"`
}

// FeedConfig sizes the ingress buffers and the health window.
type FeedConfig struct {
	BlockBuffer   int      `toml:"block_buffer"`
	PendingBuffer int      `toml:"pending_buffer"`
	MaxDowntime   duration `toml:"max_downtime"`
	// ReplayFile feeds recorded diffs instead of a live connection (scan
	// mode offline runs).
	ReplayFile     string   `toml:"replay_file"`
	ReplayInterval duration `toml:"replay_interval"`
}

// ArbitrageConfig holds cycle detection parameters.
type ArbitrageConfig struct {
	Enabled        bool    `toml:"enabled"`
	MinMarginBps   int     `toml:"min_margin_bps"`
	ProbeAmounts   []int64 `toml:"probe_amounts_wei"`
	ValidityBlocks int     `toml:"validity_blocks"`
	SwapGas        int64   `toml:"swap_gas"`
	BaseConfidence float64 `toml:"base_confidence"`
}

// LiquidationConfig holds health-factor monitoring parameters.
type LiquidationConfig struct {
	Enabled         bool    `toml:"enabled"`
	SafetyBufferBps int     `toml:"safety_buffer_bps"`
	CloseFactorBps  int     `toml:"close_factor_bps"`
	FlashFeeBps     int     `toml:"flash_fee_bps"`
	ValidityBlocks  int     `toml:"validity_blocks"`
	BaseConfidence  float64 `toml:"base_confidence"`
}

// FrontrunConfig holds mempool pattern detection parameters.
type FrontrunConfig struct {
	Enabled            bool     `toml:"enabled"`
	SpikeStdDevs       float64  `toml:"spike_std_devs"`
	BaselineWindow     int      `toml:"baseline_window"`
	MinBaselineSamples int      `toml:"min_baseline_samples"`
	WatchedSelectors   []string `toml:"watched_selectors"`
	ProtectedSenders   []string `toml:"protected_senders"`
	RetentionHorizon   duration `toml:"retention_horizon"`
	ValidityBlocks     int      `toml:"validity_blocks"`
}

// SimulationConfig bounds the simulation worker pool.
type SimulationConfig struct {
	Workers         int     `toml:"workers"`
	ConfidenceFloor float64 `toml:"confidence_floor"`
}

// GasConfig holds the fee optimizer parameters.
type GasConfig struct {
	WindowBlocks     int     `toml:"window_blocks"`
	TargetPercentile float64 `toml:"target_percentile"`
	UrgencyStep      float64 `toml:"urgency_step"`
	FloorTipGwei     int64   `toml:"floor_tip_gwei"`
	FloorMaxFeeGwei  int64   `toml:"floor_max_fee_gwei"`
}

// ProfitConfig holds the scoring haircuts.
type ProfitConfig struct {
	SlippageBufferBps int     `toml:"slippage_buffer_bps"`
	CompetitionDecay  float64 `toml:"competition_decay"`
}

// QueueConfig bounds the opportunity queue and the dispatcher bridge.
type QueueConfig struct {
	Capacity     int      `toml:"capacity"`
	DispatchPoll duration `toml:"dispatch_poll"`
}

// PostgresConfig holds PostgreSQL connection parameters for the opportunity
// history.
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

// RedisConfig holds Redis connection parameters for prices and the signal
// bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archival of resolved history.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects the API endpoints; empty disables authentication.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID: 1,
		},
		Feed: FeedConfig{
			BlockBuffer:   16,
			PendingBuffer: 1024,
			MaxDowntime:   duration{2 * time.Minute},
		},
		Arbitrage: ArbitrageConfig{
			Enabled:        true,
			MinMarginBps:   10,
			ProbeAmounts:   []int64{1e15, 1e16, 1e17},
			ValidityBlocks: 2,
			SwapGas:        120_000,
			BaseConfidence: 0.9,
		},
		Liquidation: LiquidationConfig{
			Enabled:        true,
			CloseFactorBps: 5000,
			FlashFeeBps:    9,
			ValidityBlocks: 3,
			BaseConfidence: 0.85,
		},
		Frontrun: FrontrunConfig{
			Enabled:            true,
			SpikeStdDevs:       3,
			BaselineWindow:     256,
			MinBaselineSamples: 32,
			RetentionHorizon:   duration{2 * time.Minute},
			ValidityBlocks:     2,
		},
		Simulation: SimulationConfig{
			Workers:         4,
			ConfidenceFloor: 0.5,
		},
		Gas: GasConfig{
			WindowBlocks:     20,
			TargetPercentile: 0.60,
			UrgencyStep:      0.05,
			FloorTipGwei:     1,
			FloorMaxFeeGwei:  30,
		},
		Profit: ProfitConfig{
			SlippageBufferBps: 10,
			CompetitionDecay:  0.85,
		},
		Queue: QueueConfig{
			Capacity:     512,
			DispatchPoll: duration{100 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mevscan",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mevscan-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_queued", "opportunity_resolved", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode: "scan" runs the
// detection pipeline without history or bus, "record" adds persistence
// without the HTTP surface, "full" runs everything.
var validModes = map[string]bool{
	"scan":   true,
	"record": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, record, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	if !c.Arbitrage.Enabled && !c.Liquidation.Enabled && !c.Frontrun.Enabled {
		errs = append(errs, "at least one scanner must be enabled")
	}
	if c.Arbitrage.Enabled {
		if c.Arbitrage.MinMarginBps <= 0 {
			errs = append(errs, "arbitrage: min_margin_bps must be > 0 when enabled")
		}
		if len(c.Arbitrage.ProbeAmounts) == 0 {
			errs = append(errs, "arbitrage: probe_amounts_wei must not be empty when enabled")
		}
	}
	if c.Liquidation.Enabled {
		if c.Liquidation.CloseFactorBps <= 0 || c.Liquidation.CloseFactorBps > 10000 {
			errs = append(errs, fmt.Sprintf("liquidation: close_factor_bps must be 1-10000, got %d", c.Liquidation.CloseFactorBps))
		}
	}
	if c.Frontrun.Enabled {
		if c.Frontrun.SpikeStdDevs <= 0 {
			errs = append(errs, "frontrun: spike_std_devs must be > 0 when enabled")
		}
		for _, sel := range c.Frontrun.WatchedSelectors {
			if !validSelector(sel) {
				errs = append(errs, fmt.Sprintf("frontrun: watched selector %q must be 4 hex bytes (0xaabbccdd)", sel))
			}
		}
	}

	if c.Simulation.Workers < 1 {
		errs = append(errs, "simulation: workers must be >= 1")
	}
	if c.Simulation.ConfidenceFloor < 0 || c.Simulation.ConfidenceFloor > 1 {
		errs = append(errs, "simulation: confidence_floor must be in [0, 1]")
	}

	if c.Gas.TargetPercentile <= 0 || c.Gas.TargetPercentile >= 1 {
		errs = append(errs, "gas: target_percentile must be in (0, 1)")
	}
	if c.Gas.WindowBlocks < 1 {
		errs = append(errs, "gas: window_blocks must be >= 1")
	}

	if c.Queue.Capacity < 0 {
		errs = append(errs, "queue: capacity must be >= 0 (0 means unbounded)")
	}

	needsStores := c.Mode == "record" || c.Mode == "full"
	if needsStores {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be 0..pool_max_conns")
		}
	}

	// Redis backs the price source and signal bus in every mode.
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validSelector reports whether s looks like "0x" plus 8 hex digits.
func validSelector(s string) bool {
	if len(s) != 10 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range strings.ToLower(s[2:]) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
