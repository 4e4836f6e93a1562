// Package repository defines the unit-of-work contract shared by the stores
// in memory/ and postgres/.
package repository

import (
	"context"
	"fmt"
	"time"

	"procurement.io/orchestrator/internal/approval"
	"procurement.io/orchestrator/internal/eventbus"
	"procurement.io/orchestrator/internal/purchasing"
)

// Tx is one atomic unit of work. Everything written through it, including
// staged envelopes, commits or rolls back together. AfterCommit hooks run
// only after a successful commit.
type Tx interface {
	eventbus.Tx
	purchasing.Repository
	approval.Repository
}

// UnitOfWork runs fn inside a transaction. A non-nil error from fn, a panic,
// or a context error at commit time rolls everything back.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// FormatNumber renders a human-readable identifier such as PR-2026-000001.
func FormatNumber(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%04d-%06d", prefix, at.Year(), seq)
}
