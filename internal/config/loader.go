package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BONDENGINE_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known BONDENGINE_* environment variables
// and overwrites the corresponding Config fields when a variable is set.
// This lets operators inject secrets at deploy time without touching the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.NativeCurrency, "BONDENGINE_ENGINE_NATIVE_CURRENCY")
	setUint64(&cfg.Engine.IssuanceFee, "BONDENGINE_ENGINE_ISSUANCE_FEE")
	setUint64(&cfg.Engine.PurchaseRate, "BONDENGINE_ENGINE_PURCHASE_RATE")
	setUint64(&cfg.Engine.EarlyRedemptionRate, "BONDENGINE_ENGINE_EARLY_REDEMPTION_RATE")
	setUint64(&cfg.Engine.ReferrerRewardRate, "BONDENGINE_ENGINE_REFERRER_REWARD_RATE")
	setInt(&cfg.Engine.BlockTimeSeconds, "BONDENGINE_ENGINE_BLOCK_TIME_SECONDS")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "BONDENGINE_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "BONDENGINE_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "BONDENGINE_OPERATOR_KEY_PASSWORD")
	setStr(&cfg.Operator.Address, "BONDENGINE_OPERATOR_ADDRESS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BONDENGINE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BONDENGINE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BONDENGINE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BONDENGINE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BONDENGINE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BONDENGINE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BONDENGINE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BONDENGINE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BONDENGINE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BONDENGINE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BONDENGINE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BONDENGINE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BONDENGINE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BONDENGINE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BONDENGINE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BONDENGINE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BONDENGINE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BONDENGINE_S3_REGION")
	setStr(&cfg.S3.Bucket, "BONDENGINE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BONDENGINE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BONDENGINE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BONDENGINE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BONDENGINE_S3_FORCE_PATH_STYLE")

	// ── Journal / Bus ──
	setBool(&cfg.Journal.Enabled, "BONDENGINE_JOURNAL_ENABLED")
	setInt(&cfg.Journal.RetentionDays, "BONDENGINE_JOURNAL_RETENTION_DAYS")
	setBool(&cfg.Journal.Archive, "BONDENGINE_JOURNAL_ARCHIVE")
	setBool(&cfg.Bus.Enabled, "BONDENGINE_BUS_ENABLED")
	setStr(&cfg.Bus.Channel, "BONDENGINE_BUS_CHANNEL")
	setStr(&cfg.Bus.Stream, "BONDENGINE_BUS_STREAM")

	// ── Top-level ──
	setStr(&cfg.Mode, "BONDENGINE_MODE")
	setStr(&cfg.LogLevel, "BONDENGINE_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
