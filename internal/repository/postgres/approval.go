package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"procurement.io/orchestrator/internal/approval"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
)

const selectApproval = `
SELECT id, entity_type, entity_id, description, current_level, total_levels, status,
       submitter_id, submitted_at, completed_at, version
FROM approval_requests`

const selectLevels = `
SELECT level_order, name, expected_approver_id, overrides, actual_approver_id, status, decided_at, comments
FROM approval_levels WHERE approval_request_id = $1 ORDER BY level_order`

// querier is satisfied by both pgx.Tx and *pgxpool.Pool.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanApproval(row pgx.Row) (*approval.Request, error) {
	var (
		r      approval.Request
		status string
	)
	if err := row.Scan(&r.ID, &r.EntityType, &r.EntityID, &r.Description, &r.CurrentLevel, &r.TotalLevels,
		&status, &r.SubmitterID, &r.SubmittedAt, &r.CompletedAt, &r.Version); err != nil {
		return nil, err
	}
	r.Status = approval.Status(status)
	r.SubmittedAt = r.SubmittedAt.UTC()
	if r.CompletedAt != nil {
		c := r.CompletedAt.UTC()
		r.CompletedAt = &c
	}
	return &r, nil
}

func loadLevels(ctx context.Context, q querier, r *approval.Request) error {
	rows, err := q.Query(ctx, selectLevels, r.ID)
	if err != nil {
		return fmt.Errorf("load levels of approval %s: %w", r.ID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l      approval.LevelDecision
			status string
		)
		if err := rows.Scan(&l.Order, &l.Name, &l.ExpectedApproverID, &l.Overrides, &l.ActualApproverID,
			&status, &l.DecidedAt, &l.Comments); err != nil {
			return fmt.Errorf("scan approval level: %w", err)
		}
		l.Status = approval.DecisionStatus(status)
		if len(l.Overrides) == 0 {
			l.Overrides = nil
		}
		if l.DecidedAt != nil {
			d := l.DecidedAt.UTC()
			l.DecidedAt = &d
		}
		r.Levels = append(r.Levels, &l)
	}
	return rows.Err()
}

// LoadApproval implements approval.Repository.
func (t *tx) LoadApproval(ctx context.Context, id string) (*approval.Request, error) {
	r, err := scanApproval(t.tx.QueryRow(ctx, selectApproval+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load approval request %s: %w", id, err)
	}
	if err := loadLevels(ctx, t.tx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// FindPendingApproval implements approval.Repository.
func (t *tx) FindPendingApproval(ctx context.Context, entityType, entityID string) (*approval.Request, error) {
	r, err := scanApproval(t.tx.QueryRow(ctx,
		selectApproval+` WHERE entity_type = $1 AND entity_id = $2 AND status = 'PENDING'`, entityType, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find pending approval of %s %s: %w", entityType, entityID, err)
	}
	if err := loadLevels(ctx, t.tx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveApproval implements approval.Repository.
func (t *tx) SaveApproval(ctx context.Context, r *approval.Request) error {
	if r.Version == 0 {
		_, err := t.tx.Exec(ctx, `
INSERT INTO approval_requests (id, entity_type, entity_id, description, current_level, total_levels,
    status, submitter_id, submitted_at, completed_at, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)`,
			r.ID, r.EntityType, r.EntityID, r.Description, r.CurrentLevel, r.TotalLevels,
			string(r.Status), r.SubmitterID, r.SubmittedAt, r.CompletedAt,
		)
		if err != nil {
			return mapError(err, "approval_request", r.ID)
		}
	} else {
		tag, err := t.tx.Exec(ctx, `
UPDATE approval_requests
SET current_level = $3, status = $4, completed_at = $5, version = version + 1
WHERE id = $1 AND version = $2`,
			r.ID, r.Version, r.CurrentLevel, string(r.Status), r.CompletedAt,
		)
		if err != nil {
			return mapError(err, "approval_request", r.ID)
		}
		if err := t.checkUpdated(ctx, tag, "approval_requests", "approval_request", r.ID, r.Version); err != nil {
			return err
		}
	}

	for _, l := range r.Levels {
		overrides := l.Overrides
		if overrides == nil {
			overrides = []string{}
		}
		_, err := t.tx.Exec(ctx, `
INSERT INTO approval_levels (approval_request_id, level_order, name, expected_approver_id, overrides,
    actual_approver_id, status, decided_at, comments)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (approval_request_id, level_order) DO UPDATE
SET actual_approver_id = EXCLUDED.actual_approver_id, status = EXCLUDED.status,
    decided_at = EXCLUDED.decided_at, comments = EXCLUDED.comments`,
			r.ID, l.Order, l.Name, l.ExpectedApproverID, overrides, l.ActualApproverID,
			string(l.Status), l.DecidedAt, l.Comments,
		)
		if err != nil {
			return mapError(err, "approval_request", r.ID)
		}
	}
	r.Version++
	return nil
}

// ListPendingApprovals returns up to limit PENDING requests submitted before
// the cutoff, oldest first.
func (s *Store) ListPendingApprovals(ctx context.Context, submittedBefore time.Time, limit int) ([]*approval.Request, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		selectApproval+` WHERE status = 'PENDING' AND submitted_at < $1 ORDER BY submitted_at, id LIMIT $2`,
		submittedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	var out []*approval.Request
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}

	for _, r := range out {
		if err := loadLevels(ctx, s.pool, r); err != nil {
			return nil, err
		}
	}
	return out, nil
}
