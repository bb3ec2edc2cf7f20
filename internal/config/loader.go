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
// built-in defaults, applies SIGNALBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SIGNALBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "SIGNALBOT_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.ApiKey, "SIGNALBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "SIGNALBOT_EXCHANGE_API_SECRET")
	setDuration(&cfg.Exchange.Timeout, "SIGNALBOT_EXCHANGE_TIMEOUT")
	setFloat64(&cfg.Exchange.PriceTolerance, "SIGNALBOT_EXCHANGE_PRICE_TOLERANCE")
	setIntMap(&cfg.Exchange.ProductIDs, "SIGNALBOT_EXCHANGE_PRODUCT_IDS")
	setInt(&cfg.Exchange.OrderRateLimit, "SIGNALBOT_EXCHANGE_ORDER_RATE_LIMIT")
	setDuration(&cfg.Exchange.OrderRateWindow, "SIGNALBOT_EXCHANGE_ORDER_RATE_WINDOW")

	// ── Trading ──
	setFloat64(&cfg.Trading.Quantity, "SIGNALBOT_TRADING_QUANTITY")
	setFloat64(&cfg.Trading.OrderSize, "SIGNALBOT_TRADING_ORDER_SIZE")
	setBool(&cfg.Trading.TradingEnabled, "SIGNALBOT_TRADING_ENABLED")

	// ── Risk ──
	setFloat64(&cfg.Risk.StopLossPercent, "SIGNALBOT_RISK_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Risk.TakeProfitPercent, "SIGNALBOT_RISK_TAKE_PROFIT_PERCENT")
	setBool(&cfg.Risk.TrailingStopEnabled, "SIGNALBOT_RISK_TRAILING_STOP_ENABLED")
	setStr(&cfg.Risk.TrailingStopType, "SIGNALBOT_RISK_TRAILING_STOP_TYPE")
	setFloat64(&cfg.Risk.TrailingStopPercent, "SIGNALBOT_RISK_TRAILING_STOP_PERCENT")
	setFloat64(&cfg.Risk.TrailingStopAmount, "SIGNALBOT_RISK_TRAILING_STOP_AMOUNT")
	setFloat64(&cfg.Risk.EmergencySpikePercent, "SIGNALBOT_RISK_EMERGENCY_SPIKE_PERCENT")
	setFloat64(&cfg.Risk.MaxPositionSize, "SIGNALBOT_RISK_MAX_POSITION_SIZE")
	setInt(&cfg.Risk.MaxOpenPositions, "SIGNALBOT_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxDailyTrades, "SIGNALBOT_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.MaxDailyLoss, "SIGNALBOT_RISK_MAX_DAILY_LOSS")
	setBool(&cfg.Risk.PanicMode, "SIGNALBOT_RISK_PANIC_MODE")

	// ── Monitor ──
	setDuration(&cfg.Monitor.RiskInterval, "SIGNALBOT_MONITOR_RISK_INTERVAL")
	setDuration(&cfg.Monitor.PriceInterval, "SIGNALBOT_MONITOR_PRICE_INTERVAL")
	setDuration(&cfg.Monitor.StopTimeout, "SIGNALBOT_MONITOR_STOP_TIMEOUT")
	setDuration(&cfg.Monitor.SymbolTimeout, "SIGNALBOT_MONITOR_SYMBOL_TIMEOUT")
	setInt(&cfg.Monitor.Concurrency, "SIGNALBOT_MONITOR_CONCURRENCY")
	setStringSlice(&cfg.Monitor.WatchSymbols, "SIGNALBOT_MONITOR_WATCH_SYMBOLS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SIGNALBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SIGNALBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGNALBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGNALBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGNALBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGNALBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGNALBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIGNALBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIGNALBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGNALBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SIGNALBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGNALBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGNALBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGNALBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MinIdleConns, "SIGNALBOT_REDIS_MIN_IDLE_CONNS")
	setInt(&cfg.Redis.MaxRetries, "SIGNALBOT_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "SIGNALBOT_REDIS_DIAL_TIMEOUT")
	setDuration(&cfg.Redis.ReadTimeout, "SIGNALBOT_REDIS_READ_TIMEOUT")
	setDuration(&cfg.Redis.WriteTimeout, "SIGNALBOT_REDIS_WRITE_TIMEOUT")
	setStr(&cfg.Redis.TLSServerName, "SIGNALBOT_REDIS_TLS_SERVER_NAME")
	setBool(&cfg.Redis.TLSEnabled, "SIGNALBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.QuoteTTL, "SIGNALBOT_REDIS_QUOTE_TTL")
	setInt(&cfg.Redis.StreamMaxLen, "SIGNALBOT_REDIS_STREAM_MAX_LEN")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIGNALBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIGNALBOT_SERVER_PORT")
	setStr(&cfg.Server.WebhookSecret, "SIGNALBOT_SERVER_WEBHOOK_SECRET")
	setStr(&cfg.Server.APIKey, "SIGNALBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "SIGNALBOT_SERVER_CORS_ORIGINS")
	setInt64(&cfg.Server.MaxBodySize, "SIGNALBOT_SERVER_MAX_BODY_SIZE")
	setInt(&cfg.Server.WebhookRateLimit, "SIGNALBOT_SERVER_WEBHOOK_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGNALBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGNALBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGNALBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGNALBOT_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Timeout, "SIGNALBOT_NOTIFY_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGNALBOT_MODE")
	setStr(&cfg.LogLevel, "SIGNALBOT_LOG_LEVEL")
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

// setIntMap parses "KEY=1,OTHER=2" and merges the pairs into dst. Malformed
// pairs are skipped.
func setIntMap(dst *map[string]int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if *dst == nil {
		*dst = make(map[string]int)
	}
	for _, pair := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			continue
		}
		(*dst)[strings.ToUpper(strings.TrimSpace(k))] = n
	}
}
