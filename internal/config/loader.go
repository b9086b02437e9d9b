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
// built-in defaults, applies WHALEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WHALEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WHALEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WHALEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WHALEBOT_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "WHALEBOT_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "WHALEBOT_POLYMARKET_GAMMA_HOST")
	setInt(&cfg.Polymarket.ChainID, "WHALEBOT_POLYMARKET_CHAIN_ID")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "WHALEBOT_FEED_WS_URL")
	setStr(&cfg.Feed.ExchangeContract, "WHALEBOT_FEED_EXCHANGE_CONTRACT")
	setStringSlice(&cfg.Feed.Whales, "WHALEBOT_FEED_WHALES")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WHALEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WHALEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WHALEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WHALEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WHALEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WHALEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WHALEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WHALEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WHALEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WHALEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WHALEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WHALEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WHALEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WHALEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WHALEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WHALEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WHALEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WHALEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WHALEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WHALEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WHALEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WHALEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WHALEBOT_S3_FORCE_PATH_STYLE")

	// ── Capital ──
	setFloat64(&cfg.Capital.Starting, "WHALEBOT_CAPITAL_STARTING")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDrawdownPct, "WHALEBOT_RISK_MAX_DRAWDOWN_PCT")
	setFloat64(&cfg.Risk.MaxPerTradePct, "WHALEBOT_RISK_MAX_PER_TRADE_PCT")
	setFloat64(&cfg.Risk.MaxPerWhalePct, "WHALEBOT_RISK_MAX_PER_WHALE_PCT")
	setFloat64(&cfg.Risk.MaxPerMarketPct, "WHALEBOT_RISK_MAX_PER_MARKET_PCT")
	setFloat64(&cfg.Risk.MaxDailyExposurePct, "WHALEBOT_RISK_MAX_DAILY_EXPOSURE_PCT")

	// ── Advisor ──
	setStr(&cfg.Advisor.Endpoint, "WHALEBOT_ADVISOR_ENDPOINT")
	setStr(&cfg.Advisor.APIKey, "WHALEBOT_ADVISOR_API_KEY")

	// ── Loops ──
	setDuration(&cfg.Loops.Resolution, "WHALEBOT_LOOPS_RESOLUTION")
	setDuration(&cfg.Loops.Promotion, "WHALEBOT_LOOPS_PROMOTION")
	setDuration(&cfg.Loops.RosterRefresh, "WHALEBOT_LOOPS_ROSTER_REFRESH")
	setDuration(&cfg.Loops.Report, "WHALEBOT_LOOPS_REPORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WHALEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WHALEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WHALEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WHALEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WHALEBOT_MODE")
	setStr(&cfg.LogLevel, "WHALEBOT_LOG_LEVEL")
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
