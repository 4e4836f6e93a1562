package modules

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"procurement.io/orchestrator/internal/jobs"
	"procurement.io/orchestrator/internal/repository/postgres"
)

// RelayModule owns the River workers: the outbox relay to the broker and the
// daily approval reminder sweep.
type RelayModule struct {
	infra *Infrastructure
}

// NewRelayModule creates the relay module.
func NewRelayModule(infra *Infrastructure) *RelayModule {
	return &RelayModule{infra: infra}
}

func (m *RelayModule) Name() string { return "relay" }

func (m *RelayModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewEventRelayWorker(m.infra.Publisher))
	if m.infra.DB != nil {
		river.AddWorker(workers, jobs.NewApprovalReminderWorker(
			postgres.New(m.infra.DB.Pool),
			m.infra.Triggers,
			m.infra.Config.Approval.ReminderAfter,
		))
	}
}

// PeriodicJobs schedules the reminder sweep daily and once on startup.
func (m *RelayModule) PeriodicJobs() []*river.PeriodicJob {
	if m.infra.DB == nil {
		return nil
	}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(24*time.Hour),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.ApprovalReminderArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

func (m *RelayModule) Shutdown(context.Context) error { return nil }
