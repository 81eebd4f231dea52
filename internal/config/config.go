// Package config defines the marketd configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Market   MarketConfig   `toml:"market"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	NATS     NATSConfig     `toml:"nats"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Settler  SettlerConfig  `toml:"settler"`
	Relay    RelayConfig    `toml:"relay"`
	Operator OperatorConfig `toml:"operator"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
}

// MarketConfig holds the marketplace principal and the initial fee schedule.
// FeeRate and Admin only seed an empty store; afterwards the stored schedule
// wins.
type MarketConfig struct {
	Address  string   `toml:"address"`
	Admin    string   `toml:"admin"`
	FeeRate  int      `toml:"fee_rate"`
	LockTTL  duration `toml:"lock_ttl"`
	LockWait duration `toml:"lock_wait"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN            string   `toml:"dsn"`
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	Database       string   `toml:"database"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	SSLMode        string   `toml:"ssl_mode"`
	PoolMaxConns   int      `toml:"pool_max_conns"`
	PoolMinConns   int      `toml:"pool_min_conns"`
	ConnectTimeout duration `toml:"connect_timeout"`
	RunMigrations  bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, rate
// limits, the signal bus and the listing cache run in-process.
type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	PoolSize        int      `toml:"pool_size"`
	MaxRetries      int      `toml:"max_retries"`
	DialTimeout     duration `toml:"dial_timeout"`
	TLSEnabled      bool     `toml:"tls_enabled"`
	StreamMaxLen    int64    `toml:"stream_max_len"`
	ListingCacheTTL duration `toml:"listing_cache_ttl"`
}

// NATSConfig configures the JetStream event publisher.
type NATSConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           string   `toml:"url"`
	Stream        string   `toml:"stream"`
	SubjectPrefix string   `toml:"subject_prefix"`
	MaxAge        duration `toml:"max_age"`
	Replicas      int      `toml:"replicas"`
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

// ArchiveConfig schedules event archival. Cron, when set, takes precedence
// over Interval.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	Cron      string   `toml:"cron"`
	Retention duration `toml:"retention"`
	Batch     int      `toml:"batch"`
}

// SettlerConfig controls the expired-auction sweeper.
type SettlerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Batch    int      `toml:"batch"`
}

// RelayConfig controls event delivery to publishers.
type RelayConfig struct {
	Interval   duration `toml:"interval"`
	Batch      int      `toml:"batch"`
	SignEvents bool     `toml:"sign_events"`
	Stream     string   `toml:"stream"`
}

// OperatorConfig holds the operator key and the API key that guards
// operator-only endpoints.
type OperatorConfig struct {
	PrivateKey   string `toml:"private_key"`
	KeystorePath string `toml:"keystore_path"`
	KeyPassword  string `toml:"key_password"`
	APIKey       string `toml:"api_key"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
	RateLimit         int      `toml:"rate_limit"`
	RateWindow        duration `toml:"rate_window"`
	ShutdownTimeout   duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials. Events lists the
// event kinds that are forwarded; empty forwards all of them.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so TOML strings like "30s" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs a single in-memory process.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Market: MarketConfig{
			FeeRate:  0,
			LockTTL:  duration{10 * time.Second},
			LockWait: duration{2 * time.Second},
		},
		Storage: StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "nftmarket",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			ConnectTimeout: duration{10 * time.Second},
			RunMigrations:  true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			DialTimeout:     duration{5 * time.Second},
			StreamMaxLen:    10000,
			ListingCacheTTL: duration{5 * time.Minute},
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Stream:        "MARKET_EVENTS",
			SubjectPrefix: "market.events",
			MaxAge:        duration{7 * 24 * time.Hour},
			Replicas:      1,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "nftmarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval:  duration{time.Hour},
			Retention: duration{30 * 24 * time.Hour},
			Batch:     1000,
		},
		Settler: SettlerConfig{
			Enabled:  true,
			Interval: duration{5 * time.Second},
			Batch:    100,
		},
		Relay: RelayConfig{
			Interval: duration{time.Second},
			Batch:    200,
			Stream:   "market:events",
		},
		Server: ServerConfig{
			Port:             8080,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        60,
			RateWindow:       duration{time.Minute},
			ShutdownTimeout:  duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"AuctionEnded", "ItemSold", "FeeRateChanged"},
		},
	}
}

var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// MarketAddress returns the marketplace principal.
func (c *Config) MarketAddress() common.Address {
	return common.HexToAddress(c.Market.Address)
}

// AdminAddress returns the initial fee admin, defaulting to the marketplace
// principal.
func (c *Config) AdminAddress() common.Address {
	if c.Market.Admin == "" {
		return c.MarketAddress()
	}
	return common.HexToAddress(c.Market.Admin)
}

// HasOperatorKey reports whether an operator key source is configured.
func (c *Config) HasOperatorKey() bool {
	return c.Operator.PrivateKey != "" || c.Operator.KeystorePath != ""
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: api, worker, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch {
	case !common.IsHexAddress(c.Market.Address):
		add("market: address must be a hex address, got %q", c.Market.Address)
	case c.MarketAddress() == (common.Address{}):
		add("market: address must not be the zero address")
	}
	if c.Market.Admin != "" && !common.IsHexAddress(c.Market.Admin) {
		add("market: admin must be a hex address, got %q", c.Market.Admin)
	}
	if c.Market.FeeRate < 0 || c.Market.FeeRate > 100 {
		add("market: fee_rate must be 0-100, got %d", c.Market.FeeRate)
	}
	if c.Market.LockTTL.Duration <= 0 {
		add("market: lock_ttl must be > 0")
	}

	switch c.Storage.Backend {
	case "memory":
		if c.Mode != "full" {
			add("storage: backend memory only supports mode full (api and worker must share a store)")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend)
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	} else if c.Storage.Backend == "postgres" && c.Mode != "full" {
		add("redis: must be enabled when api and worker run as separate processes")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		add("nats: url must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			add("archive: requires s3.enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			add("archive: retention must be > 0")
		}
		if c.Archive.Cron == "" && c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0 when cron is empty")
		}
	}

	if c.Settler.Enabled && c.Settler.Interval.Duration <= 0 {
		add("settler: interval must be > 0")
	}
	if c.Relay.SignEvents && !c.HasOperatorKey() {
		add("relay: sign_events requires operator.private_key or operator.keystore_path")
	}
	if c.Operator.KeystorePath != "" && c.Operator.KeyPassword == "" {
		add("operator: key_password is required when keystore_path is set")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RequireSignatures && c.Server.SignatureMaxSkew.Duration <= 0 {
		add("server: signature_max_skew must be > 0 when require_signatures is set")
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
