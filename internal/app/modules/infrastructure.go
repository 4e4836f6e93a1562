package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/broker"
	"procurement.io/orchestrator/internal/config"
	"procurement.io/orchestrator/internal/infrastructure"
	"procurement.io/orchestrator/internal/jobs"
	"procurement.io/orchestrator/internal/notification"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/pkg/worker"
	"procurement.io/orchestrator/internal/repository"
	"procurement.io/orchestrator/internal/repository/memory"
	"procurement.io/orchestrator/internal/repository/postgres"
)

// Store is the unit of work the service runs on, plus a health probe.
type Store interface {
	repository.UnitOfWork
	Ping(ctx context.Context) error
}

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config *config.Config
	// DB is nil with the memory driver.
	DB        *infrastructure.DatabaseClients
	Pools     *worker.Pools
	Chains    *approval.Chains
	Publisher broker.Publisher
	Triggers  *notification.Triggers

	// Store and Outbox are final once InitRiver has run.
	Store Store
	// Outbox reports whether committed events reach Publisher.
	Outbox bool
}

// NewInfrastructure initializes the store, pools and shared services.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	chains, err := cfg.Approval.LoadChains()
	if err != nil {
		return nil, fmt.Errorf("load approval chains: %w", err)
	}

	publisher, err := newPublisher(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("init broker: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		RelayPoolSize:  cfg.Worker.RelayPoolSize,
		NotifyPoolSize: cfg.Worker.NotifyPoolSize,
	})
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	infra := &Infrastructure{
		Config:    cfg,
		Pools:     pools,
		Chains:    chains,
		Publisher: publisher,
		Triggers:  notification.NewTriggers(notification.NewLogSender(), pools, chains),
	}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		infra.Store = memory.New(
			memory.WithRelay(publisher.Publish),
			memory.WithRelayRunner(func(task func(context.Context)) error {
				return pools.Submit(worker.PoolRelay, task)
			}),
		)
		infra.Outbox = true
		logger.Warn("Using in-memory store; state is lost on restart")
	default:
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("init database: %w", err)
		}
		infra.DB = db
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				infra.Close()
				return nil, fmt.Errorf("auto-migrate: %w", err)
			}
		}
		infra.Store = postgres.New(db.Pool)
	}

	logger.Info("Infrastructure initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.Strings("approval_entity_types", chains.EntityTypes()),
	)
	return infra, nil
}

func newPublisher(cfg config.BrokerConfig) (broker.Publisher, error) {
	if cfg.NATSURL == "" {
		return broker.NewLogPublisher(cfg.SubjectPrefix), nil
	}
	return broker.NewNATSPublisher(broker.NATSConfig{
		URL:           cfg.NATSURL,
		SubjectPrefix: cfg.SubjectPrefix,
		JetStream:     cfg.JetStream,
	})
}

// InitRiver creates the River client and switches the PostgreSQL store to
// stage events on it. It is a no-op unless River is enabled.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if !i.Config.River.Enabled {
		if i.DB != nil {
			logger.Warn("River disabled; committed events are not relayed to the broker")
		}
		return nil
	}
	if i.DB == nil {
		return fmt.Errorf("river requires the postgres driver")
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.Store = postgres.New(i.DB.Pool, postgres.WithStager(jobs.NewRiverStager(i.DB.RiverClient)))
	i.Outbox = true
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.Publisher != nil {
		if err := i.Publisher.Close(); err != nil {
			logger.Warn("broker close returned error", zap.Error(err))
		}
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
