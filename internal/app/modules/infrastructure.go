package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/s35241607/ticket-system/internal/config"
	"github.com/s35241607/ticket-system/internal/domain"
	"github.com/s35241607/ticket-system/internal/eventsink"
	"github.com/s35241607/ticket-system/internal/governance/audit"
	"github.com/s35241607/ticket-system/internal/infrastructure"
	"github.com/s35241607/ticket-system/internal/jobs"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
	"github.com/s35241607/ticket-system/internal/pkg/worker"
	"github.com/s35241607/ticket-system/internal/repository/postgres"
	"github.com/s35241607/ticket-system/internal/resolver"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Pools       *worker.Pools
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
	Store       *postgres.Store
	Dispatcher  *domain.EventDispatcher
	AuditLogger *audit.Logger
	Directory   resolver.Directory
	Publisher   eventsink.Publisher
	Redis       redis.UniversalClient
}

// NewInfrastructure initializes DB/pools and shared services.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// Dev-mode: apply schema + River queue tables.
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		SweepPoolSize:   cfg.Worker.SweepPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	publisher, err := eventsink.New(cfg.Events)
	if err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init event publisher: %w", err)
	}

	store := postgres.NewStore(db.Pool)
	infra := &Infrastructure{
		Config:      cfg,
		DB:          db,
		Pools:       pools,
		Pool:        db.Pool,
		Store:       store,
		Dispatcher:  domain.NewEventDispatcher(),
		AuditLogger: audit.NewLogger(db.DB),
		Directory:   store.Directory(),
		Publisher:   publisher,
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			// The directory still works uncached.
			logger.Warn("redis unavailable, approver resolution is not cached",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err),
			)
			_ = client.Close()
		} else {
			infra.Redis = client
			infra.Directory = resolver.NewCachedDirectory(infra.Directory, resolver.NewRedisCache(client), cfg.Redis.CacheTTL)
			logger.Info("approver resolution cache enabled", zap.Duration("ttl", cfg.Redis.CacheTTL))
		}
	}

	return infra, nil
}

// InitRiver initializes the River client on top of a prepared worker
// registry and hands the relay enqueuer to the store, so outbox writes
// enqueue their relay jobs in the same transaction.
func (i *Infrastructure) InitRiver(workers *river.Workers) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	periodic, err := jobs.PeriodicJobs(i.Config.Approval.TimeoutSweepSchedule)
	if err != nil {
		return fmt.Errorf("periodic jobs: %w", err)
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	if i.Store != nil {
		i.Store.UseRelayEnqueuer(jobs.NewRelayEnqueuer(i.RiverClient))
	}
	return nil
}

func (i *Infrastructure) sweepPool() *worker.Pool {
	if i.Pools == nil {
		return nil
	}
	return i.Pools.Sweep
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Publisher != nil {
		if err := i.Publisher.Close(); err != nil {
			logger.Warn("close event publisher", zap.Error(err))
		}
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
