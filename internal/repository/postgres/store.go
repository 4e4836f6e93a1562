// Package postgres is the PostgreSQL store behind the orchestration unit of
// work. All queries of one command run in a single pgx transaction that
// also carries the River jobs staged for event relay.
//
// Import Path: procurement.io/orchestrator/internal/repository/postgres
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/domain"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/repository"
)

// Stager persists an envelope inside a pgx transaction.
type Stager interface {
	StageTx(ctx context.Context, tx pgx.Tx, env domain.Envelope) error
}

// Option configures a Store.
type Option func(*Store)

// WithStager enables event staging through s.
func WithStager(s Stager) Option {
	return func(st *Store) { st.stager = s }
}

// Store implements repository.UnitOfWork on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	stager Stager
}

var _ repository.UnitOfWork = (*Store)(nil)

// New creates a Store on pool. The schema must be migrated.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn in a READ COMMITTED transaction. Lost updates are prevented
// by the version column and the partial unique indexes, not by isolation.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := pgxTx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				logger.Warn("Transaction rollback failed", zap.Error(rbErr))
			}
		}
	}()

	t := &tx{tx: pgxTx, stager: s.stager}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return mapError(err, "transaction", "commit")
	}
	committed = true

	after := context.WithoutCancel(ctx)
	for _, hook := range t.hooks {
		hook(after)
	}
	return nil
}

type tx struct {
	tx     pgx.Tx
	stager Stager
	hooks  []func(context.Context)
}

var _ repository.Tx = (*tx)(nil)

// AfterCommit implements eventbus.Tx.
func (t *tx) AfterCommit(fn func(context.Context)) {
	t.hooks = append(t.hooks, fn)
}

// Stage implements eventbus.Tx.
func (t *tx) Stage(ctx context.Context, env domain.Envelope) error {
	if t.stager == nil {
		return apperrors.Internal(nil, "event staging is not configured")
	}
	return t.stager.StageTx(ctx, t.tx, env)
}

// Constraint names surfaced as CONCURRENT_MODIFICATION params.
var constraintParams = map[string]string{
	"rfq_items_one_selected":            "one_selected_rfq_item",
	"purchase_orders_one_open_per_item": "one_open_order_per_item",
	"approval_requests_one_pending":     "one_pending_approval",
}

// mapError turns races the database detected into CONCURRENT_MODIFICATION
// so the orchestration layer can retry them. Other errors are wrapped.
func mapError(err error, aggregate, id string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%s %s: %w", aggregate, id, err)
	}
	switch pgErr.Code {
	case "23505", "40001", "40P01":
		logger.Debug("Database reported a conflicting write",
			zap.String("aggregate", aggregate),
			zap.String("id", id),
			zap.String("sqlstate", pgErr.Code),
			zap.String("constraint", pgErr.ConstraintName),
		)
		appErr := apperrors.ConcurrentModification(aggregate, id)
		if name, ok := constraintParams[pgErr.ConstraintName]; ok {
			appErr = appErr.WithParams(map[string]interface{}{"constraint": name})
		}
		return appErr
	default:
		return fmt.Errorf("%s %s: %w", aggregate, id, err)
	}
}

// checkUpdated resolves a zero-row optimistic UPDATE into NOT_FOUND or
// CONCURRENT_MODIFICATION.
func (t *tx) checkUpdated(ctx context.Context, tag pgconn.CommandTag, table, aggregate, id string, version int64) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var stored int64
	err := t.tx.QueryRow(ctx, "SELECT version FROM "+table+" WHERE id = $1", id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(aggregate, id)
	}
	if err != nil {
		return fmt.Errorf("read %s version: %w", aggregate, err)
	}
	return apperrors.ConcurrentModification(aggregate, id).
		WithParams(map[string]interface{}{"expected_version": version, "actual_version": stored})
}
