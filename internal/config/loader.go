package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies MARKETD_*
// environment overrides. An empty path or a missing file leaves the defaults
// in place. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "MARKETD_MODE")
	setStr(&cfg.LogLevel, "MARKETD_LOG_LEVEL")

	// ── Market ──
	setStr(&cfg.Market.Address, "MARKETD_MARKET_ADDRESS")
	setStr(&cfg.Market.Admin, "MARKETD_MARKET_ADMIN")
	setInt(&cfg.Market.FeeRate, "MARKETD_MARKET_FEE_RATE")
	setDuration(&cfg.Market.LockTTL, "MARKETD_MARKET_LOCK_TTL")
	setDuration(&cfg.Market.LockWait, "MARKETD_MARKET_LOCK_WAIT")

	setStr(&cfg.Storage.Backend, "MARKETD_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARKETD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "MARKETD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETD_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.ConnectTimeout, "MARKETD_POSTGRES_CONNECT_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "MARKETD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETD_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETD_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.DialTimeout, "MARKETD_REDIS_DIAL_TIMEOUT")
	setBool(&cfg.Redis.TLSEnabled, "MARKETD_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "MARKETD_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.ListingCacheTTL, "MARKETD_REDIS_LISTING_CACHE_TTL")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "MARKETD_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "MARKETD_NATS_URL")
	setStr(&cfg.NATS.Stream, "MARKETD_NATS_STREAM")
	setStr(&cfg.NATS.SubjectPrefix, "MARKETD_NATS_SUBJECT_PREFIX")
	setDuration(&cfg.NATS.MaxAge, "MARKETD_NATS_MAX_AGE")
	setInt(&cfg.NATS.Replicas, "MARKETD_NATS_REPLICAS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MARKETD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MARKETD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETD_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETD_S3_FORCE_PATH_STYLE")

	// ── Workers ──
	setBool(&cfg.Archive.Enabled, "MARKETD_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "MARKETD_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Cron, "MARKETD_ARCHIVE_CRON")
	setDuration(&cfg.Archive.Retention, "MARKETD_ARCHIVE_RETENTION")
	setInt(&cfg.Archive.Batch, "MARKETD_ARCHIVE_BATCH")
	setBool(&cfg.Settler.Enabled, "MARKETD_SETTLER_ENABLED")
	setDuration(&cfg.Settler.Interval, "MARKETD_SETTLER_INTERVAL")
	setInt(&cfg.Settler.Batch, "MARKETD_SETTLER_BATCH")
	setDuration(&cfg.Relay.Interval, "MARKETD_RELAY_INTERVAL")
	setInt(&cfg.Relay.Batch, "MARKETD_RELAY_BATCH")
	setBool(&cfg.Relay.SignEvents, "MARKETD_RELAY_SIGN_EVENTS")
	setStr(&cfg.Relay.Stream, "MARKETD_RELAY_STREAM")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "MARKETD_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.KeystorePath, "MARKETD_OPERATOR_KEYSTORE_PATH")
	setStr(&cfg.Operator.KeyPassword, "MARKETD_OPERATOR_KEY_PASSWORD")
	setStr(&cfg.Operator.APIKey, "MARKETD_OPERATOR_API_KEY")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETD_SERVER_CORS_ORIGINS")
	setBool(&cfg.Server.RequireSignatures, "MARKETD_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxSkew, "MARKETD_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "MARKETD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARKETD_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.ShutdownTimeout, "MARKETD_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETD_NOTIFY_EVENTS")
}

// Typed env helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
