// Package usecase provides the application commands of the procurement core.
//
// Every exported command runs in exactly one unit of work: the aggregate is
// loaded, mutated and saved, then its recorded events are published so the
// in-transaction handlers cascade inside the same transaction. Either the
// whole cascade commits or nothing does.
//
// Import Path: procurement.io/orchestrator/internal/usecase
package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"procurement.io/orchestrator/internal/domain"
	"procurement.io/orchestrator/internal/eventbus"
	apperrors "procurement.io/orchestrator/internal/pkg/errors"
	"procurement.io/orchestrator/internal/pkg/logger"
	"procurement.io/orchestrator/internal/repository"
)

const tracerName = "procurement.io/orchestrator/usecase"

// Options tunes an OrchestrationService.
type Options struct {
	// MaxConflictRetries is how many times a command is re-run from a fresh
	// load after a CONCURRENT_MODIFICATION error. 0 disables retries.
	MaxConflictRetries int
	// DefaultCurrency applies to purchase orders created without one.
	DefaultCurrency string
	// Clock returns the command timestamp. Defaults to UTC wall time.
	Clock func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxConflictRetries: 2,
		DefaultCurrency:    "KRW",
		Clock:              func() time.Time { return time.Now().UTC() },
	}
}

// OrchestrationService is the command facade over the purchasing and
// approval machines.
type OrchestrationService struct {
	uow  repository.UnitOfWork
	bus  eventbus.Publisher[repository.Tx]
	opts Options
}

// NewOrchestrationService creates the service. An empty currency or nil clock
// falls back to DefaultOptions; MaxConflictRetries is taken as given.
func NewOrchestrationService(uow repository.UnitOfWork, bus eventbus.Publisher[repository.Tx], opts Options) *OrchestrationService {
	def := DefaultOptions()
	if opts.MaxConflictRetries < 0 {
		opts.MaxConflictRetries = 0
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = def.DefaultCurrency
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	return &OrchestrationService{uow: uow, bus: bus, opts: opts}
}

func (s *OrchestrationService) now() time.Time {
	return s.opts.Clock()
}

// run executes fn in a unit of work, retrying the whole command on an
// optimistic-lock conflict.
func (s *OrchestrationService) run(ctx context.Context, command string, attrs []attribute.KeyValue, fn func(ctx context.Context, tx repository.Tx) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "usecase."+command)
	defer span.End()
	span.SetAttributes(attrs...)

	log := logger.Ctx(ctx).With(zap.String("command", command))
	var err error
	for attempt := 0; ; attempt++ {
		err = s.uow.InTx(ctx, fn)
		if err == nil || attempt >= s.opts.MaxConflictRetries ||
			!apperrors.HasCode(err, apperrors.CodeConcurrentModification) {
			break
		}
		log.Warn("Concurrent modification, retrying command",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, command)
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.HTTPStatus < 500 {
			log.Info("Command rejected", zap.String("code", appErr.Code), zap.Error(err))
		} else {
			log.Error("Command failed", zap.Error(err))
		}
		return err
	}
	log.Debug("Command committed")
	return nil
}

// publish dispatches drained events in order. The first failure aborts the
// command.
func (s *OrchestrationService) publish(ctx context.Context, tx repository.Tx, events []domain.Event) error {
	for _, ev := range events {
		if err := s.bus.Publish(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

func requireActor(field, actor string) error {
	if actor == "" {
		return apperrors.InvalidRequestField(field, "actor is required")
	}
	return nil
}
