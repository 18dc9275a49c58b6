// Package config defines the top-level configuration for the bond engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BONDENGINE_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Operator OperatorConfig `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Journal  JournalConfig  `toml:"journal"`
	Bus      BusConfig      `toml:"bus"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the engine's economic parameters: the native
// currency, the issuance fee, and the default fee schedule copied to each
// newly issued bond. Rates are parts-per-1000.
type EngineConfig struct {
	NativeCurrency      string `toml:"native_currency"`
	IssuanceFee         uint64 `toml:"issuance_fee"`
	PurchaseRate        uint64 `toml:"purchase_rate"`
	EarlyRedemptionRate uint64 `toml:"early_redemption_rate"`
	ReferrerRewardRate  uint64 `toml:"referrer_reward_rate"`
	BlockTimeSeconds    int    `toml:"block_time_seconds"`
}

// OperatorConfig identifies the administrator of the registry and vault.
// Either a key source (raw or encrypted file) or a plain address.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	Address          string `toml:"address"`
}

// PostgresConfig holds PostgreSQL connection parameters for the event
// journal.
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

// RedisConfig holds Redis connection parameters for the event bus.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for journal
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// JournalConfig controls the persistent event journal and its archival.
type JournalConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	Archive       bool `toml:"archive"`
}

// BusConfig controls live event publication.
type BusConfig struct {
	Enabled bool   `toml:"enabled"`
	Channel string `toml:"channel"`
	Stream  string `toml:"stream"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			NativeCurrency:      "NATIVE",
			IssuanceFee:         0,
			PurchaseRate:        25,
			EarlyRedemptionRate: 50,
			ReferrerRewardRate:  10,
			BlockTimeSeconds:    12,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bondengine",
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
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bondengine-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Journal: JournalConfig{
			Enabled:       false,
			RetentionDays: 90,
			Archive:       false,
		},
		Bus: BusConfig{
			Enabled: false,
			Channel: "bond_events",
			Stream:  "bond_events",
		},
		Mode:     "demo",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"demo": true,
	"full": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: demo, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine — rates are parts-per-1000 and the referrer share can never
	// exceed the protocol's purchase take.
	if c.Engine.NativeCurrency == "" {
		errs = append(errs, "engine: native_currency must not be empty")
	}
	if c.Engine.PurchaseRate >= 1000 {
		errs = append(errs, fmt.Sprintf("engine: purchase_rate must be < 1000, got %d", c.Engine.PurchaseRate))
	}
	if c.Engine.EarlyRedemptionRate >= 1000 {
		errs = append(errs, fmt.Sprintf("engine: early_redemption_rate must be < 1000, got %d", c.Engine.EarlyRedemptionRate))
	}
	if c.Engine.ReferrerRewardRate >= 1000 {
		errs = append(errs, fmt.Sprintf("engine: referrer_reward_rate must be < 1000, got %d", c.Engine.ReferrerRewardRate))
	}
	if c.Engine.ReferrerRewardRate > c.Engine.PurchaseRate {
		errs = append(errs, "engine: referrer_reward_rate must not exceed purchase_rate")
	}
	if c.Engine.BlockTimeSeconds <= 0 {
		errs = append(errs, "engine: block_time_seconds must be positive")
	}

	// Operator — demo mode falls back to a built-in address; full mode
	// needs an explicit identity.
	if c.Mode == "full" {
		if c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" && c.Operator.Address == "" {
			errs = append(errs, "operator: one of private_key, encrypted_key_path, or address must be set for mode full")
		}
		if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
		}
	}

	// Postgres — only needed when the journal is on.
	if c.Journal.Enabled {
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
		if c.Journal.RetentionDays < 1 {
			errs = append(errs, "journal: retention_days must be >= 1")
		}
	}

	// Redis — only needed when the bus is on.
	if c.Bus.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Bus.Channel == "" {
			errs = append(errs, "bus: channel must not be empty")
		}
	}

	// S3 — only needed when archival is on.
	if c.Journal.Archive {
		if !c.Journal.Enabled {
			errs = append(errs, "journal: archive requires journal.enabled")
		}
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
