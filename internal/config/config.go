// Package config defines the top-level configuration for the whale copy
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WHALEBOT_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Feed       FeedConfig       `toml:"feed"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Capital    CapitalConfig    `toml:"capital"`
	Risk       RiskConfig       `toml:"risk"`
	Advisor    AdvisorConfig    `toml:"advisor"`
	Loops      LoopsConfig      `toml:"loops"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials for the live gateway.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost  string `toml:"clob_host"`
	GammaHost string `toml:"gamma_host"`
	ChainID   int    `toml:"chain_id"`
}

// FeedConfig holds the on-chain fill feed parameters: the RPC websocket to
// subscribe on, the exchange contract whose fills are watched, and the
// initial whale roster (lowercase hex addresses). The roster is replaced by
// the persisted tier roster once it loads.
type FeedConfig struct {
	WsURL            string   `toml:"ws_url"`
	ExchangeContract string   `toml:"exchange_contract"`
	Whales           []string `toml:"whales"`
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

// S3Config holds S3-compatible object storage parameters for the daily
// archive. Disabled when the bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CapitalConfig holds the capital pool parameters.
type CapitalConfig struct {
	Starting float64 `toml:"starting"`
}

// RiskConfig holds the governor's exposure limits, as fractions of current
// capital. Zero values fall back to the built-in defaults.
type RiskConfig struct {
	MaxDrawdownPct      float64 `toml:"max_drawdown_pct"`
	MaxPerTradePct      float64 `toml:"max_per_trade_pct"`
	MaxPerWhalePct      float64 `toml:"max_per_whale_pct"`
	MaxPerMarketPct     float64 `toml:"max_per_market_pct"`
	MaxDailyExposurePct float64 `toml:"max_daily_exposure_pct"`
}

// AdvisorConfig holds the optional trade validation service. Disabled when
// the endpoint is empty; the engine then runs with a pass-through advisor.
type AdvisorConfig struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
}

// LoopsConfig holds the background loop cadences.
type LoopsConfig struct {
	Resolution    duration `toml:"resolution"`
	Promotion     duration `toml:"promotion"`
	RosterRefresh duration `toml:"roster_refresh"`
	Report        duration `toml:"report"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
		Polymarket: PolymarketConfig{
			ClobHost:  "https://clob.polymarket.com",
			GammaHost: "https://gamma-api.polymarket.com",
			ChainID:   137,
		},
		Feed: FeedConfig{
			// CTF Exchange on Polygon.
			ExchangeContract: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "whalecopy",
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
		},
		S3: S3Config{
			Region:         "us-east-1",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Capital: CapitalConfig{
			Starting: 100,
		},
		Risk: RiskConfig{
			MaxDrawdownPct:      0.30,
			MaxPerTradePct:      0.15,
			MaxPerWhalePct:      0.25,
			MaxPerMarketPct:     0.35,
			MaxDailyExposurePct: 0.60,
		},
		Loops: LoopsConfig{
			Resolution:    duration{30 * time.Second},
			Promotion:     duration{30 * time.Minute},
			RosterRefresh: duration{15 * time.Minute},
			Report:        duration{3 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"snapshot", "risk_state", "error"},
		},
		Mode:     "simulated",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":      true,
	"simulated": true,
	"observe":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, simulated, observe)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — required only for live execution.
	if strings.ToLower(c.Mode) == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	// Feed
	if c.Feed.WsURL == "" {
		errs = append(errs, "feed: ws_url must not be empty")
	}
	if !common.IsHexAddress(c.Feed.ExchangeContract) {
		errs = append(errs, fmt.Sprintf("feed: exchange_contract %q is not a valid address", c.Feed.ExchangeContract))
	}
	for _, w := range c.Feed.Whales {
		if !common.IsHexAddress(w) {
			errs = append(errs, fmt.Sprintf("feed: whale address %q is not a valid address", w))
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — optional; when a bucket is set, the endpoint must be too.
	if c.S3.Bucket != "" && c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty when bucket is set")
	}

	// Capital
	if c.Capital.Starting <= 0 {
		errs = append(errs, "capital: starting must be > 0")
	}

	// Risk — each limit is a fraction of capital.
	for _, lim := range []struct {
		name string
		v    float64
	}{
		{"max_drawdown_pct", c.Risk.MaxDrawdownPct},
		{"max_per_trade_pct", c.Risk.MaxPerTradePct},
		{"max_per_whale_pct", c.Risk.MaxPerWhalePct},
		{"max_per_market_pct", c.Risk.MaxPerMarketPct},
		{"max_daily_exposure_pct", c.Risk.MaxDailyExposurePct},
	} {
		if lim.v <= 0 || lim.v > 1 {
			errs = append(errs, fmt.Sprintf("risk: %s must be in (0, 1], got %v", lim.name, lim.v))
		}
	}

	// Loops
	if c.Loops.Resolution.Duration <= 0 {
		errs = append(errs, "loops: resolution must be > 0")
	}
	if c.Loops.Report.Duration <= 0 {
		errs = append(errs, "loops: report must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
