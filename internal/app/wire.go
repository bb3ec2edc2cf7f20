package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/signalbot/internal/cache/redis"
	"github.com/alanyoungcy/signalbot/internal/config"
	"github.com/alanyoungcy/signalbot/internal/crypto"
	"github.com/alanyoungcy/signalbot/internal/notify"
	"github.com/alanyoungcy/signalbot/internal/platform/delta"
	"github.com/alanyoungcy/signalbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure clients the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client

	// Stores
	Positions *postgres.PositionStore
	Audit     *postgres.AuditStore
	Claims    *postgres.ClaimStore
	Signals   *postgres.SignalStore
	Settings  *postgres.SettingsStore

	// Caches
	PriceCache  *redis.PriceCache
	RateLimiter *redis.RateLimiter
	LockManager *redis.LockManager
	EventBus    *redis.EventBus

	Exchange *delta.Client
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Claims = postgres.NewClaimStore(pool)
	deps.Signals = postgres.NewSignalStore(pool)
	deps.Settings = postgres.NewSettingsStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		MaxRetries:    cfg.Redis.MaxRetries,
		DialTimeout:   cfg.Redis.DialTimeout.Duration,
		ReadTimeout:   cfg.Redis.ReadTimeout.Duration,
		WriteTimeout:  cfg.Redis.WriteTimeout.Duration,
		TLSEnabled:    cfg.Redis.TLSEnabled,
		TLSServerName: cfg.Redis.TLSServerName,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.QuoteTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.EventBus = redis.NewEventBus(redisClient, cfg.Redis.StreamMaxLen)

	// --- Exchange ---
	var auth *crypto.HMACAuth
	if cfg.Exchange.ApiKey != "" && cfg.Exchange.ApiSecret != "" {
		auth = &crypto.HMACAuth{Key: cfg.Exchange.ApiKey, Secret: cfg.Exchange.ApiSecret}
	}
	deps.Exchange = delta.NewClient(cfg.Exchange.BaseURL, auth, cfg.Exchange.Timeout.Duration)
	if !deps.Exchange.HasCredentials() {
		logger.WarnContext(ctx, "exchange credentials not set; orders cannot be placed live")
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Timeout.Duration, logger)

	return deps, cleanup, nil
}
