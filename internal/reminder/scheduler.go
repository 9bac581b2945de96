// Package reminder implements the appointment reminder core: scheduling a
// delayed job per appointment and dispatching delivered jobs with at most one
// send per appointment.
package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RemindPipe/internal/models"
	"github.com/BTreeMap/RemindPipe/internal/store"
)

const (
	// JobKindSendReminder is the delay queue job kind handled by the Dispatcher.
	JobKindSendReminder = "send-reminder"

	// DefaultLeadTime is how long before the appointment the reminder fires.
	DefaultLeadTime = 24 * time.Hour

	dedupKeyPrefix = "reminder_"
)

// ErrInvalidAppointment is returned when a schedule request is missing an
// identifier or the appointment date.
var ErrInvalidAppointment = errors.New("invalid appointment")

// DedupKey returns the delay queue dedup key for an appointment.
func DedupKey(appointmentID string) string {
	return dedupKeyPrefix + appointmentID
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLeadTime overrides how far ahead of the appointment the reminder fires.
func WithLeadTime(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.leadTime = d
		}
	}
}

// WithSchedulerClock replaces time.Now. Tests only.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler turns appointments into delayed send-reminder jobs.
type Scheduler struct {
	queue    store.JobRepo
	leadTime time.Duration
	now      func() time.Time
}

// NewScheduler creates a Scheduler that enqueues onto queue.
func NewScheduler(queue store.JobRepo, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		queue:    queue,
		leadTime: DefaultLeadTime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule enqueues a reminder to fire leadTime before appointmentDate. Fire
// times already in the past are delivered immediately. While a job for the
// same appointment is still pending, Schedule enqueues nothing and returns
// that job, with its own fire time, marked Deduplicated.
func (s *Scheduler) Schedule(ctx context.Context, appointmentID string, appointmentDate time.Time, tenantID string) (*models.ScheduledReminder, error) {
	req := models.ScheduleRequest{AppointmentID: appointmentID, TenantID: tenantID, AppointmentDate: appointmentDate}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAppointment, err)
	}

	now := s.now()
	target := appointmentDate.Add(-s.leadTime)
	delay := target.Sub(now)
	if delay < 0 {
		delay = 0
	}

	payload, err := json.Marshal(models.ReminderPayload{
		AppointmentID:  appointmentID,
		TenantID:       tenantID,
		TargetFireTime: target,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reminder payload: %w", err)
	}

	key := DedupKey(appointmentID)
	runAt := now.Add(delay)
	jobID, created, err := s.queue.EnqueueUniqueJob(ctx, JobKindSendReminder, runAt, string(payload), key)
	if err != nil {
		slog.Error("Scheduler.Schedule: enqueue failed", "appointmentID", appointmentID, "tenantID", tenantID, "error", err)
		return nil, fmt.Errorf("failed to enqueue reminder for appointment %s: %w", appointmentID, err)
	}
	if !created {
		return s.pending(ctx, jobID, key, now)
	}

	slog.Info("Scheduler.Schedule: reminder scheduled",
		"appointmentID", appointmentID, "tenantID", tenantID, "targetFireTime", target, "delay", delay, "jobID", jobID)
	return newScheduledReminder(jobID, key, appointmentID, tenantID, target, runAt, now, false), nil
}

// pending describes the job that already owns key, using its stored run time
// and payload.
func (s *Scheduler) pending(ctx context.Context, jobID, key string, now time.Time) (*models.ScheduledReminder, error) {
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending reminder job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, fmt.Errorf("pending reminder job %s not found", jobID)
	}
	var p models.ReminderPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		return nil, fmt.Errorf("%w: job %s: %w", ErrInvalidPayload, jobID, err)
	}

	slog.Debug("Scheduler.Schedule: reminder already pending",
		"appointmentID", p.AppointmentID, "jobID", jobID, "status", job.Status, "targetFireTime", p.TargetFireTime, "runAt", job.RunAt)
	return newScheduledReminder(jobID, key, p.AppointmentID, p.TenantID, p.TargetFireTime, job.RunAt, now, true), nil
}

func newScheduledReminder(jobID, key, appointmentID, tenantID string, target, runAt, now time.Time, deduplicated bool) *models.ScheduledReminder {
	delay := runAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	return &models.ScheduledReminder{
		JobID:          jobID,
		DedupKey:       key,
		AppointmentID:  appointmentID,
		TenantID:       tenantID,
		TargetFireTime: target,
		RunAt:          runAt,
		Delay:          delay,
		DelaySeconds:   int64(delay / time.Second),
		Deduplicated:   deduplicated,
	}
}

// Reschedule cancels the queued reminder for the appointment, if any, and
// schedules a new one for appointmentDate. A reminder already being delivered
// is not interrupted; the in-flight job is returned marked Deduplicated.
func (s *Scheduler) Reschedule(ctx context.Context, appointmentID string, appointmentDate time.Time, tenantID string) (*models.ScheduledReminder, error) {
	if err := models.ValidateIdentifiers(appointmentID, tenantID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAppointment, err)
	}
	canceled, err := s.queue.CancelJobByDedupeKey(ctx, DedupKey(appointmentID))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel pending reminder for appointment %s: %w", appointmentID, err)
	}
	slog.Debug("Scheduler.Reschedule", "appointmentID", appointmentID, "canceledPrevious", canceled)
	return s.Schedule(ctx, appointmentID, appointmentDate, tenantID)
}
