// Package jobs defines River Queue job types for async processing.
//
// Committed domain events leave the process through the event_relay queue:
// the envelope is inserted as a job in the same transaction as the business
// change and published to the broker by EventRelayWorker.
//
// Import Path: procurement.io/orchestrator/internal/jobs
package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/broker"
	"procurement.io/orchestrator/internal/domain"
	"procurement.io/orchestrator/internal/pkg/logger"
)

// QueueEventRelay is the queue relay jobs run on.
const QueueEventRelay = "event_relay"

// ---------------------------------------------------------------------------
// Job Args
// ---------------------------------------------------------------------------

// EventRelayArgs carries one staged envelope.
type EventRelayArgs struct {
	Envelope domain.Envelope `json:"envelope"`
}

// Kind returns the job kind identifier for event relay.
func (EventRelayArgs) Kind() string { return "event_relay" }

// InsertOpts returns default insert options for relay jobs.
func (EventRelayArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueEventRelay,
		MaxAttempts: 10,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// ---------------------------------------------------------------------------
// Worker
// ---------------------------------------------------------------------------

// EventRelayWorker publishes relayed envelopes to the broker. A publish
// failure is retried by River with backoff; an envelope that cannot be
// decoded is cancelled.
type EventRelayWorker struct {
	river.WorkerDefaults[EventRelayArgs]
	publisher broker.Publisher
}

// NewEventRelayWorker creates a new EventRelayWorker.
func NewEventRelayWorker(publisher broker.Publisher) *EventRelayWorker {
	return &EventRelayWorker{publisher: publisher}
}

// Work publishes the envelope.
func (w *EventRelayWorker) Work(ctx context.Context, job *river.Job[EventRelayArgs]) error {
	if w == nil || w.publisher == nil {
		return fmt.Errorf("event relay worker is not initialized")
	}
	env := job.Args.Envelope

	if _, err := domain.Decode(env); err != nil {
		logger.Error("Dropping undecodable envelope",
			zap.String("event_id", env.EventID),
			zap.String("event_type", string(env.EventType)),
			zap.Error(err),
		)
		return river.JobCancel(fmt.Errorf("decode envelope %s: %w", env.EventID, err))
	}

	if err := w.publisher.Publish(ctx, env); err != nil {
		logger.Warn("Event relay attempt failed",
			zap.String("event_id", env.EventID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return fmt.Errorf("publish event %s: %w", env.EventID, err)
	}
	return nil
}

// RiverStager stages envelopes as relay jobs inside the caller's pgx
// transaction, so they are enqueued only if the transaction commits.
type RiverStager struct {
	client *river.Client[pgx.Tx]
}

// NewRiverStager creates a stager. The client may be insert-only.
func NewRiverStager(client *river.Client[pgx.Tx]) *RiverStager {
	return &RiverStager{client: client}
}

// StageTx inserts a relay job for env in tx.
func (s *RiverStager) StageTx(ctx context.Context, tx pgx.Tx, env domain.Envelope) error {
	if _, err := s.client.InsertTx(ctx, tx, EventRelayArgs{Envelope: env}, nil); err != nil {
		return fmt.Errorf("insert relay job for %s: %w", env.EventID, err)
	}
	return nil
}
