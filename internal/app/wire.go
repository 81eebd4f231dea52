package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	s3blob "github.com/alanyoungcy/nftmarket/internal/blob/s3"
	memcache "github.com/alanyoungcy/nftmarket/internal/cache/memory"
	"github.com/alanyoungcy/nftmarket/internal/cache/redis"
	"github.com/alanyoungcy/nftmarket/internal/config"
	"github.com/alanyoungcy/nftmarket/internal/crypto"
	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/events"
	"github.com/alanyoungcy/nftmarket/internal/notify"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	memstore "github.com/alanyoungcy/nftmarket/internal/store/memory"
	"github.com/alanyoungcy/nftmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Store    domain.TxRunner
	Listings domain.ListingStore
	Ledger   domain.LedgerStore
	EventLog domain.EventLog
	Cursors  domain.CursorStore
	Settings domain.SettingsStore
	Audit    domain.AuditStore

	// Coordination and caches
	ListingCache domain.ListingCache
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	SignalBus    domain.SignalBus

	// Cold storage; nil unless s3 is enabled.
	BlobReader domain.BlobReader
	Archiver   domain.EventArchiver

	// Publishers receive every committed event from the relay.
	Publishers []events.Publisher

	// Signer is the operator key; nil when none is configured.
	Signer *crypto.Signer

	// Health probes keyed by dependency name.
	Health map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}
	market := cfg.MarketAddress()

	// --- Durable store ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		deps.Health["postgres"] = pgClient

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		eventStore := postgres.NewEventStore(pool)
		deps.Store = postgres.NewMarketStore(pool, market)
		deps.Listings = postgres.NewListingStore(pool)
		deps.Ledger = postgres.NewLedgerStore(pool, market)
		deps.EventLog = eventStore
		deps.Cursors = eventStore
		deps.Settings = postgres.NewSettingsStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)

	default:
		logger.WarnContext(ctx, "using in-memory storage; state is lost on restart")
		store := memstore.New(market)
		deps.Store = store
		deps.Listings = store
		deps.Ledger = store
		deps.EventLog = store
		deps.Cursors = store
		deps.Settings = store
		deps.Audit = store
	}

	// --- Redis, or in-process equivalents ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Health["redis"] = redisClient

		deps.ListingCache = redis.NewListingCache(redisClient, cfg.Redis.ListingCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	} else {
		deps.ListingCache = memcache.NewListingCache(cfg.Redis.ListingCacheTTL.Duration)
		deps.RateLimiter = memcache.NewRateLimiter()
		deps.LockManager = memcache.NewLockManager()
		deps.SignalBus = memcache.NewBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- Operator key ---
	if cfg.HasOperatorKey() {
		signer, err := crypto.LoadOperatorKey(crypto.OperatorKeyConfig{
			RawPrivateKey: cfg.Operator.PrivateKey,
			KeystorePath:  cfg.Operator.KeystorePath,
			Password:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return fail("operator key", err)
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "operator key loaded", slog.String("address", signer.Address().Hex()))
	}

	// --- Event publishers ---
	deps.Publishers = append(deps.Publishers,
		events.NewBusPublisher(deps.SignalBus, cfg.Relay.Stream),
		events.NewCacheInvalidator(deps.ListingCache),
	)

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("marketd"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fail("nats", err)
		}
		closers = append(closers, func() { _ = nc.Drain() })

		js, err := events.NewJetStreamPublisher(ctx, nc, events.JetStreamConfig{
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxAge:        cfg.NATS.MaxAge.Duration,
			Replicas:      cfg.NATS.Replicas,
		})
		if err != nil {
			return fail("nats jetstream", err)
		}
		deps.Publishers = append(deps.Publishers, js)
	}

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
	if len(senders) > 0 {
		notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
		deps.Publishers = append(deps.Publishers, events.NewNotifyPublisher(notifier))
	}

	// --- S3 cold storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Health["s3"] = s3Client
		deps.BlobReader = s3blob.NewReader(s3Client)
		if cfg.Archive.Enabled {
			deps.Archiver = s3blob.NewEventArchiver(
				deps.EventLog,
				deps.Cursors,
				s3blob.NewWriter(s3Client),
				deps.Audit,
				cfg.Archive.Batch,
			)
		}
	}

	return deps, cleanup, nil
}
