package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/obligo/bondengine/internal/blob/s3"
	"github.com/obligo/bondengine/internal/cache/redis"
	"github.com/obligo/bondengine/internal/config"
	"github.com/obligo/bondengine/internal/crypto"
	"github.com/obligo/bondengine/internal/domain"
	"github.com/obligo/bondengine/internal/ledger"
	"github.com/obligo/bondengine/internal/registry"
	"github.com/obligo/bondengine/internal/store/postgres"
	"github.com/obligo/bondengine/internal/vault"
)

// demoOperator is the built-in administrator identity used when demo mode
// runs without a configured operator key.
const demoOperator = "0x00000000000000000000000000000000000DE110"

// Dependencies bundles everything the application modes need: the engine
// core (ledger, clock, vault, registry) plus the optional journal, bus, and
// archiver adapters. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Operator common.Address

	Ledger   *ledger.Ledger
	Native   *ledger.Token
	Clock    *ledger.Clock
	Vault    *vault.Vault
	Registry *registry.Registry

	Journal  domain.EventJournal
	Bus      domain.EventBus
	Blob     domain.BlobWriter
	Archiver *s3blob.Archiver
	Relay    *Relay
}

// engineAddress derives a stable ledger address for an engine singleton
// from its label.
func engineAddress(label string) common.Address {
	h := ethcrypto.Keccak256([]byte("bondengine/" + label))
	return common.BytesToAddress(h[12:])
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Operator identity ---
	operator, err := crypto.ResolveOperator(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
		Address:          cfg.Operator.Address,
	})
	if err != nil {
		unset := cfg.Operator.PrivateKey == "" && cfg.Operator.EncryptedKeyPath == "" && cfg.Operator.Address == ""
		if cfg.Mode != "demo" || !unset {
			return nil, nil, fmt.Errorf("wire: operator: %w", err)
		}
		operator = common.HexToAddress(demoOperator)
	}
	deps.Operator = operator

	// --- PostgreSQL event journal ---
	if cfg.Journal.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Journal = postgres.NewEventJournal(pgClient.Pool())
	}

	// --- Redis event bus ---
	if cfg.Bus.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Bus = redis.NewEventBus(redisClient)
	}

	// --- S3 journal archiver ---
	if cfg.Journal.Archive {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Blob = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.Blob, deps.Journal, logger)
	}

	// --- Event sinks ---
	sinks := MultiSink{NewLogSink(logger)}
	if deps.Journal != nil || deps.Bus != nil {
		deps.Relay = NewRelay(deps.Journal, deps.Bus, cfg.Bus.Channel, cfg.Bus.Stream, logger)
		sinks = append(sinks, deps.Relay)
	}

	// --- Engine core ---
	deps.Ledger = ledger.New()
	deps.Native = deps.Ledger.NewCurrency(cfg.Engine.NativeCurrency)
	deps.Clock = ledger.NewClock(time.Now().UTC(), time.Duration(cfg.Engine.BlockTimeSeconds)*time.Second)

	vlt, err := vault.New(vault.Config{
		Address:     engineAddress("vault"),
		Admin:       operator,
		Native:      deps.Native,
		IssuanceFee: cfg.Engine.IssuanceFee,
		DefaultSchedule: domain.FeeSchedule{
			PurchaseRate:        cfg.Engine.PurchaseRate,
			EarlyRedemptionRate: cfg.Engine.EarlyRedemptionRate,
			ReferrerRewardRate:  cfg.Engine.ReferrerRewardRate,
		},
		Clock:  deps.Clock,
		Logger: logger,
		Sink:   sinks,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vault: %w", err)
	}
	deps.Vault = vlt

	reg, err := registry.New(registry.Config{
		Address: engineAddress("registry"),
		Admin:   operator,
		Native:  deps.Native,
		Vault:   vlt,
		Clock:   deps.Clock,
		Logger:  logger,
		Sink:    sinks,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: registry: %w", err)
	}
	deps.Registry = reg

	if err := vlt.BindRegistry(operator, reg.Address(), reg); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: bind registry: %w", err)
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("operator", operator.Hex()),
		slog.String("vault", vlt.Address().Hex()),
		slog.String("registry", reg.Address().Hex()),
		slog.Bool("journal", deps.Journal != nil),
		slog.Bool("bus", deps.Bus != nil),
		slog.Bool("archiver", deps.Archiver != nil),
	)
	return deps, cleanup, nil
}
