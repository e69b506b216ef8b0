package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/bondledger/internal/blob/s3"
	memcache "github.com/alanyoungcy/bondledger/internal/cache/memory"
	"github.com/alanyoungcy/bondledger/internal/cache/redis"
	"github.com/alanyoungcy/bondledger/internal/config"
	"github.com/alanyoungcy/bondledger/internal/crypto"
	"github.com/alanyoungcy/bondledger/internal/domain"
	"github.com/alanyoungcy/bondledger/internal/ledger"
	"github.com/alanyoungcy/bondledger/internal/metrics"
	"github.com/alanyoungcy/bondledger/internal/notify"
	"github.com/alanyoungcy/bondledger/internal/protocol"
	"github.com/alanyoungcy/bondledger/internal/server/handler"
	"github.com/alanyoungcy/bondledger/internal/service"
	"github.com/alanyoungcy/bondledger/internal/store/memory"
	"github.com/alanyoungcy/bondledger/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	StateStore   domain.StateStore
	ReceiptStore domain.ReceiptStore
	CursorStore  domain.CursorStore
	AuditStore   domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	BondCache   domain.BondCache

	// Blob storage; nil when S3 is disabled.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics

	// Health probes of the external backends, by name.
	Checks map[string]handler.HealthCheck

	Runtime *ledger.Runtime
	Ledger  *service.LedgerService
	Bonds   *service.BondService
	Archive *service.ArchiveService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Backends that are not enabled
// fall back to in-process implementations.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  map[string]handler.HealthCheck{},
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.StateStore = postgres.NewStateStore(pool)
		deps.ReceiptStore = postgres.NewReceiptStore(pool)
		deps.CursorStore = postgres.NewCursorStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: postgres disabled, ledger state is kept in memory")
		store := memory.New()
		deps.StateStore = store
		deps.ReceiptStore = store
		deps.CursorStore = store
		deps.AuditStore = memory.NewAuditLog()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.BondCache = redis.NewBondCache(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: redis disabled, locks and signal bus are in-process")
		deps.RateLimiter = memcache.NewRateLimiter()
		deps.LockManager = memcache.NewLockManager()
		deps.SignalBus = memcache.NewSignalBus(10000)
		deps.BondCache = memcache.NewBondCache()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.BlobReader)
		deps.Checks["s3"] = s3Client.Health
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
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Ledger runtime and services ---
	rt := ledger.NewRuntime(logger, ledger.WithStateStore(deps.StateStore))
	protocol.Register(rt)
	if err := rt.Restore(ctx); err != nil {
		return fail(fmt.Errorf("wire: restore ledger: %w", err))
	}
	deps.Runtime = rt
	deps.Metrics.SetHeight(rt.Height())

	deps.Ledger = service.NewLedgerService(rt, deps.LockManager, deps.AuditStore, deps.SignalBus, deps.Notifier, deps.Metrics,
		service.LedgerConfig{
			LockTTL:       cfg.Ledger.LockTTL.Duration,
			LockWait:      cfg.Ledger.LockWait.Duration,
			NotifyTimeout: cfg.Ledger.NotifyTimeout.Duration,
		}, logger)
	closers = append(closers, deps.Ledger.Close)

	escrowAddr, err := resolveEscrow(rt, cfg.Ledger, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Bonds = service.NewBondService(rt, escrowAddr, deps.BondCache, deps.ReceiptStore, logger)

	if deps.Archiver != nil {
		deps.Archive = service.NewArchiveService(
			deps.ReceiptStore, deps.CursorStore, deps.Archiver, deps.BlobReader,
			&restoringSource{rt: rt, ctx: ctx, logger: logger},
			deps.AuditStore, deps.Metrics,
			service.ArchiveConfig{
				Interval:      cfg.Archive.Interval.Duration,
				BatchSize:     cfg.Archive.BatchSize,
				SnapshotEvery: cfg.Archive.SnapshotEvery,
				Prefix:        "archive/",
			}, logger)
	}

	return deps, cleanup, nil
}

// resolveAdmin returns the admin address from the configured key, or from
// admin_address when no key is set.
func resolveAdmin(cfg config.LedgerConfig) (common.Address, error) {
	if cfg.HasAdminKey() {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.PrivateKey,
			EncryptedKeyPath: cfg.EncryptedKeyPath,
			KeyPassword:      cfg.KeyPassword,
		})
		if err != nil {
			return common.Address{}, err
		}
		return signer.Address(), nil
	}
	if common.IsHexAddress(cfg.AdminAddress) {
		return common.HexToAddress(cfg.AdminAddress), nil
	}
	return common.Address{}, crypto.ErrNoKey
}

// resolveEscrow picks the escrow the bond views read. The configured admin
// wins. Without one, and only when bootstrap is off, the escrow recorded in
// the restored state is used.
func resolveEscrow(rt *ledger.Runtime, cfg config.LedgerConfig, logger *slog.Logger) (common.Address, error) {
	admin, err := resolveAdmin(cfg)
	if err == nil {
		return protocol.Predict(admin).Escrow, nil
	}
	if cfg.Bootstrap {
		return common.Address{}, fmt.Errorf("admin: %w", err)
	}
	addr, findErr := protocol.FindEscrow(rt)
	if findErr != nil {
		return common.Address{}, fmt.Errorf("admin: %w; %w", err, findErr)
	}
	logger.Warn("wire: no admin configured, using escrow from restored state",
		slog.String("escrow", addr.Hex()),
		slog.String("reason", err.Error()),
	)
	return addr, nil
}

// restoringSource reloads committed state before each snapshot so a process
// that does not execute still archives what other writers committed.
type restoringSource struct {
	rt     *ledger.Runtime
	ctx    context.Context
	logger *slog.Logger
}

func (s *restoringSource) Snapshot() (uint64, map[string][]byte) {
	if err := s.rt.Restore(s.ctx); err != nil {
		s.logger.WarnContext(s.ctx, "wire: restore before snapshot failed",
			slog.String("error", err.Error()),
		)
	}
	return s.rt.Snapshot()
}
