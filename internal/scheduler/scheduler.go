// Package scheduler runs periodic housekeeping for RemindPipe.
//
// Expired idempotency marks and leases are purged from SQL backends and
// abandoned running jobs are handed back to the delay queue, on a cron
// expression.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/RemindPipe/internal/store"
)

// DefaultMaintenanceSpec runs maintenance every five minutes.
const DefaultMaintenanceSpec = "*/5 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// StaleJobRecoverer requeues jobs abandoned by crashed workers.
type StaleJobRecoverer interface {
	RecoverStaleJobs(ctx context.Context) error
}

// Maintenance purges expired TTL rows and recovers stale jobs.
type Maintenance struct {
	jobs    StaleJobRecoverer
	marks   []store.MarkMaintainer
	leases  []store.LeaseMaintainer
	timeout time.Duration
}

// MaintenanceOption configures a Maintenance task.
type MaintenanceOption func(*Maintenance)

// WithMarkPurge purges expired idempotency marks from each backend.
func WithMarkPurge(backends ...store.MarkMaintainer) MaintenanceOption {
	return func(m *Maintenance) { m.marks = append(m.marks, backends...) }
}

// WithLeasePurge purges expired leases from each backend.
func WithLeasePurge(backends ...store.LeaseMaintainer) MaintenanceOption {
	return func(m *Maintenance) { m.leases = append(m.leases, backends...) }
}

// NewMaintenance builds a maintenance task that recovers stale jobs and runs
// the purges selected by opts. Redis needs no purge since its keys expire on
// their own.
func NewMaintenance(jobs StaleJobRecoverer, opts ...MaintenanceOption) *Maintenance {
	m := &Maintenance{jobs: jobs, timeout: time.Minute}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce performs one maintenance pass. Failures are logged and the pass
// continues with the next task.
func (m *Maintenance) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	for _, mm := range m.marks {
		n, err := mm.PurgeExpiredMarks(ctx)
		if err != nil {
			slog.Error("Maintenance.RunOnce: purge marks failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("Maintenance.RunOnce: purged expired marks", "count", n)
		}
	}
	for _, lm := range m.leases {
		n, err := lm.PurgeExpiredLeases(ctx)
		if err != nil {
			slog.Error("Maintenance.RunOnce: purge leases failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("Maintenance.RunOnce: purged expired leases", "count", n)
		}
	}
	if m.jobs != nil {
		if err := m.jobs.RecoverStaleJobs(ctx); err != nil {
			slog.Error("Maintenance.RunOnce: stale job recovery failed", "error", err)
		}
	}
}

// Schedule registers the maintenance pass on s under expr.
func (m *Maintenance) Schedule(ctx context.Context, s *Scheduler, expr string) error {
	if expr == "" {
		expr = DefaultMaintenanceSpec
	}
	if err := s.AddJob(expr, func() { m.RunOnce(ctx) }); err != nil {
		return err
	}
	slog.Debug("Maintenance.Schedule: registered", "spec", expr)
	return nil
}
