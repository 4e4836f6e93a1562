// Package worker runs detached background work on bounded ants pools.
//
// Tasks receive the service lifecycle context rather than the request
// context that scheduled them: they outlive the request but stop with
// Shutdown.
//
// Import Path: procurement.io/orchestrator/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/pkg/logger"
)

// Pool names.
const (
	// PoolRelay forwards committed events to the broker.
	PoolRelay = "relay"
	// PoolNotify delivers after-commit notifications.
	PoolNotify = "notify"
)

var (
	// ErrPoolClosed is returned when submitting after Shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrUnknownPool is returned for a pool name NewPools did not create.
	ErrUnknownPool = errors.New("unknown worker pool")
)

// Task is a unit of detached work.
type Task func(ctx context.Context)

// PoolConfig sizes the pools.
type PoolConfig struct {
	RelayPoolSize  int
	NotifyPoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		RelayPoolSize:  4,
		NotifyPoolSize: 20,
	}
}

// Stats is a point-in-time view of one pool.
type Stats struct {
	Name    string `json:"name"`
	Running int    `json:"running"`
	Free    int    `json:"free"`
	Cap     int    `json:"cap"`
}

// Pools is the set of named pools sharing one lifecycle context.
type Pools struct {
	pools map[string]*ants.Pool
	names []string

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// NewPools creates the relay and notify pools.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)
	p := &Pools{
		pools:         make(map[string]*ants.Pool, 2),
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}

	for _, spec := range []struct {
		name   string
		size   int
		expiry time.Duration
	}{
		{PoolRelay, cfg.RelayPoolSize, 10 * time.Second},
		{PoolNotify, cfg.NotifyPoolSize, 30 * time.Second},
	} {
		name := spec.name
		pool, err := ants.NewPool(spec.size,
			ants.WithPanicHandler(func(v interface{}) {
				logger.Error("Worker panic recovered",
					zap.String("pool", name),
					zap.Any("panic", v),
					zap.Stack("stack"),
				)
			}),
			ants.WithNonblocking(false),
			ants.WithExpiryDuration(spec.expiry),
		)
		if err != nil {
			p.Shutdown()
			return nil, fmt.Errorf("create %s pool: %w", name, err)
		}
		p.pools[name] = pool
		p.names = append(p.names, name)
	}
	return p, nil
}

// Submit runs task on the named pool. It blocks while the pool is full.
// A task still queued when Shutdown begins is skipped.
func (p *Pools) Submit(poolName string, task Task) error {
	pool, ok := p.pools[poolName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, poolName)
	}
	if p.serviceCtx.Err() != nil {
		return ErrPoolClosed
	}

	err := pool.Submit(func() {
		if err := p.serviceCtx.Err(); err != nil {
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Stats reports every pool in creation order.
func (p *Pools) Stats() []Stats {
	out := make([]Stats, 0, len(p.names))
	for _, name := range p.names {
		pool := p.pools[name]
		out = append(out, Stats{
			Name:    name,
			Running: pool.Running(),
			Free:    pool.Free(),
			Cap:     pool.Cap(),
		})
	}
	return out
}

// Shutdown cancels the lifecycle context, then waits up to 30s per pool for
// running tasks.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	for _, name := range p.names {
		if err := p.pools[name].ReleaseTimeout(shutdownTimeout); err != nil {
			logger.Warn("Worker pool shutdown timeout", zap.String("pool", name), zap.Error(err))
		}
	}
}
