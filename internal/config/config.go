// Package config defines the top-level configuration for the signal bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIGNALBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Trading  TradingConfig  `toml:"trading"`
	Risk     RiskConfig     `toml:"risk"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds the exchange REST endpoint and API credentials.
type ExchangeConfig struct {
	BaseURL   string   `toml:"base_url"`
	ApiKey    string   `toml:"api_key"`
	ApiSecret string   `toml:"api_secret"`
	Timeout   duration `toml:"timeout"`
	// PriceTolerance is the maximum fractional deviation between the signal
	// price and the book mid before an order is blocked.
	PriceTolerance float64 `toml:"price_tolerance"`
	// ProductIDs maps symbols to exchange product ids ahead of any lookup.
	ProductIDs map[string]int `toml:"product_ids"`
	// OrderRateLimit is the maximum number of orders per OrderRateWindow.
	OrderRateLimit  int      `toml:"order_rate_limit"`
	OrderRateWindow duration `toml:"order_rate_window"`
}

// TradingConfig holds position sizing and the live-trading switch.
type TradingConfig struct {
	// Quantity is the fixed ledger quantity of every new position.
	Quantity float64 `toml:"quantity"`
	// OrderSize is the contract size sent to the exchange per order.
	OrderSize float64 `toml:"order_size"`
	// TradingEnabled sends real orders when true; false is dry-run.
	TradingEnabled bool `toml:"trading_enabled"`
}

// RiskConfig holds the default risk settings. Values stored in the
// system_settings table override these at runtime.
type RiskConfig struct {
	StopLossPercent       float64 `toml:"stop_loss_percent"`
	TakeProfitPercent     float64 `toml:"take_profit_percent"`
	TrailingStopEnabled   bool    `toml:"trailing_stop_enabled"`
	TrailingStopType      string  `toml:"trailing_stop_type"`
	TrailingStopPercent   float64 `toml:"trailing_stop_percent"`
	TrailingStopAmount    float64 `toml:"trailing_stop_amount"`
	EmergencySpikePercent float64 `toml:"emergency_spike_percent"`
	MaxPositionSize       float64 `toml:"max_position_size"`
	MaxOpenPositions      int     `toml:"max_open_positions"`
	MaxDailyTrades        int     `toml:"max_daily_trades"`
	MaxDailyLoss          float64 `toml:"max_daily_loss"`
	PanicMode             bool    `toml:"panic_mode"`
}

// MonitorConfig holds the background loop timings.
type MonitorConfig struct {
	RiskInterval  duration `toml:"risk_interval"`
	PriceInterval duration `toml:"price_interval"`
	StopTimeout   duration `toml:"stop_timeout"`
	SymbolTimeout duration `toml:"symbol_timeout"`
	Concurrency   int      `toml:"concurrency"`
	// WatchSymbols are quoted by the price collector even with no open
	// position.
	WatchSymbols []string `toml:"watch_symbols"`
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
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MinIdleConns  int      `toml:"min_idle_conns"`
	MaxRetries    int      `toml:"max_retries"`
	DialTimeout   duration `toml:"dial_timeout"`
	ReadTimeout   duration `toml:"read_timeout"`
	WriteTimeout  duration `toml:"write_timeout"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	TLSServerName string   `toml:"tls_server_name"`
	QuoteTTL      duration `toml:"quote_ttl"`
	StreamMaxLen  int      `toml:"stream_max_len"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
	// WebhookSecret, when set, must match the X-Webhook-Secret header on
	// POST /webhook.
	WebhookSecret string `toml:"webhook_secret"`
	// APIKey protects the /api routes. Empty disables authentication.
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	MaxBodySize int64    `toml:"max_body_size"`
	// WebhookRateLimit caps webhook calls per client IP per
	// WebhookRateWindow. Zero disables the limit.
	WebhookRateLimit  int      `toml:"webhook_rate_limit"`
	WebhookRateWindow duration `toml:"webhook_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Timeout           duration `toml:"timeout"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:        "https://api.india.delta.exchange",
			Timeout:        duration{10 * time.Second},
			PriceTolerance: 0.02,
			ProductIDs: map[string]int{
				"BTCUSD":  27,
				"ETHUSD":  3136,
				"BTCUSDT": 27,
				"ETHUSDT": 3136,
			},
			OrderRateLimit:  10,
			OrderRateWindow: duration{time.Second},
		},
		Trading: TradingConfig{
			Quantity:       100,
			OrderSize:      1,
			TradingEnabled: false,
		},
		Risk: RiskConfig{
			StopLossPercent:       1.0,
			TakeProfitPercent:     2.0,
			TrailingStopEnabled:   false,
			TrailingStopType:      "percent",
			TrailingStopPercent:   0.5,
			TrailingStopAmount:    50,
			EmergencySpikePercent: 10.0,
			MaxPositionSize:       100,
			MaxOpenPositions:      10,
			MaxDailyTrades:        50,
			MaxDailyLoss:          1000,
			PanicMode:             false,
		},
		Monitor: MonitorConfig{
			RiskInterval:  duration{5 * time.Second},
			PriceInterval: duration{time.Second},
			StopTimeout:   duration{10 * time.Second},
			SymbolTimeout: duration{4 * time.Second},
			Concurrency:   8,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "signalbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  duration{5 * time.Second},
			ReadTimeout:  duration{3 * time.Second},
			WriteTimeout: duration{3 * time.Second},
			TLSEnabled:   false,
			QuoteTTL:     duration{time.Minute},
			StreamMaxLen: 10000,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			MaxBodySize: 64 << 10,

			WebhookRateLimit:  30,
			WebhookRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:  []string{"opened", "immediate_flip", "blocked", "risk_exit", "panic_mode", "error"},
			Timeout: duration{10 * time.Second},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"server":  true,
	"monitor": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, server, monitor)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}
	if c.Trading.TradingEnabled && (c.Exchange.ApiKey == "" || c.Exchange.ApiSecret == "") {
		errs = append(errs, "exchange: api_key and api_secret are required when trading.trading_enabled is true")
	}
	if c.Exchange.PriceTolerance <= 0 || c.Exchange.PriceTolerance >= 1 {
		errs = append(errs, fmt.Sprintf("exchange: price_tolerance must be in (0, 1), got %g", c.Exchange.PriceTolerance))
	}
	if c.Exchange.Timeout.Duration <= 0 {
		errs = append(errs, "exchange: timeout must be > 0")
	}
	for sym, id := range c.Exchange.ProductIDs {
		if id <= 0 {
			errs = append(errs, fmt.Sprintf("exchange: product_ids[%s] must be positive", sym))
		}
	}

	// Trading
	if c.Trading.Quantity <= 0 {
		errs = append(errs, "trading: quantity must be > 0")
	}
	if c.Trading.OrderSize <= 0 {
		errs = append(errs, "trading: order_size must be > 0")
	}

	// Risk
	if c.Risk.StopLossPercent <= 0 {
		errs = append(errs, "risk: stop_loss_percent must be > 0")
	}
	if c.Risk.TakeProfitPercent <= 0 {
		errs = append(errs, "risk: take_profit_percent must be > 0")
	}
	switch c.Risk.TrailingStopType {
	case "percent", "amount":
	default:
		errs = append(errs, fmt.Sprintf("risk: trailing_stop_type must be percent or amount, got %q", c.Risk.TrailingStopType))
	}
	if c.Risk.EmergencySpikePercent <= 0 {
		errs = append(errs, "risk: emergency_spike_percent must be > 0")
	}
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}

	// Monitor
	if c.Monitor.RiskInterval.Duration <= 0 {
		errs = append(errs, "monitor: risk_interval must be > 0")
	}
	if c.Monitor.PriceInterval.Duration <= 0 {
		errs = append(errs, "monitor: price_interval must be > 0")
	}
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, "monitor: concurrency must be >= 1")
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
	if c.Redis.MinIdleConns < 0 || c.Redis.MinIdleConns > c.Redis.PoolSize {
		errs = append(errs, "redis: min_idle_conns must be between 0 and pool_size")
	}

	// Server
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
