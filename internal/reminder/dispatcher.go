package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RemindPipe/internal/metrics"
	"github.com/BTreeMap/RemindPipe/internal/models"
	"github.com/BTreeMap/RemindPipe/internal/store"
)

const (
	// DefaultLockTTL bounds how long a crashed worker can block an appointment.
	DefaultLockTTL = 60 * time.Second
	// DefaultMarkTTL is how long a sent reminder suppresses further sends.
	DefaultMarkTTL = 24 * time.Hour

	lockKeyPrefix = "lock:reminder:"
	markKeyPrefix = "processed:reminder:"
)

// Skip reasons reported on Outcome and the skipped counter.
const (
	ReasonLockHeld         = "lock_held"
	ReasonQuietHours       = "quiet_hours"
	ReasonAlreadyProcessed = "already_processed"
	ReasonInvalidPayload   = "invalid_payload"
	ReasonLockError        = "lock_error"
	ReasonStoreError       = "store_error"
)

// ErrInvalidPayload is returned for a job whose payload cannot be decoded.
var ErrInvalidPayload = errors.New("invalid reminder payload")

// LockKey returns the lock key for an appointment.
func LockKey(appointmentID string) string { return lockKeyPrefix + appointmentID }

// MarkKey returns the idempotency mark key for an appointment.
func MarkKey(appointmentID string) string { return markKeyPrefix + appointmentID }

// Status is the terminal state of one dispatch.
type Status int

const (
	StatusSent Status = iota
	StatusSkipped
	StatusRetryRequested
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusSkipped:
		return "skipped"
	case StatusRetryRequested:
		return "retry"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching one delivered job. Err is set only
// for StatusRetryRequested.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

func sent() Outcome { return Outcome{Status: StatusSent} }

func skipped(reason string) Outcome { return Outcome{Status: StatusSkipped, Reason: reason} }

func retry(reason string, err error) Outcome {
	return Outcome{Status: StatusRetryRequested, Reason: reason, Err: err}
}

// MetricsSink receives dispatch counters. *metrics.Metrics implements it.
type MetricsSink interface {
	IncSent(kind, tenantID, status string)
	IncSkipped(reason string)
	ObserveDispatch(outcome string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) IncSent(string, string, string) {}

func (nopMetrics) IncSkipped(string) {}

func (nopMetrics) ObserveDispatch(string, time.Duration) {}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLocation sets the time zone quiet hours are evaluated in.
func WithLocation(loc *time.Location) DispatcherOption {
	return func(d *Dispatcher) {
		if loc != nil {
			d.location = loc
		}
	}
}

// WithClock replaces time.Now. Tests only.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLockTTL overrides the per-appointment lock lifetime.
func WithLockTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.lockTTL = ttl
		}
	}
}

// WithMarkTTL overrides how long an idempotency mark lives.
func WithMarkTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.markTTL = ttl
		}
	}
}

// WithQuietHours replaces the quiet window.
func WithQuietHours(q QuietHours) DispatcherOption {
	return func(d *Dispatcher) { d.quiet = q }
}

// WithQuietHoursEnabled turns quiet-hours suppression on or off.
func WithQuietHoursEnabled(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.quietEnabled = enabled }
}

// WithMetrics sets the sink for dispatch counters.
func WithMetrics(m MetricsSink) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher handles delivered send-reminder jobs. The queue may deliver the
// same job more than once and several workers may run at once; the lock and
// the idempotency mark together keep the send to at most one per appointment
// per mark TTL.
type Dispatcher struct {
	locker  store.Locker
	marks   store.IdempotencyStore
	records store.ReminderRepo
	metrics MetricsSink

	location     *time.Location
	now          func() time.Time
	lockTTL      time.Duration
	markTTL      time.Duration
	quiet        QuietHours
	quietEnabled bool
}

// NewDispatcher creates a Dispatcher from its collaborators.
func NewDispatcher(locker store.Locker, marks store.IdempotencyStore, records store.ReminderRepo, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		locker:       locker,
		marks:        marks,
		records:      records,
		metrics:      nopMetrics{},
		location:     time.Local,
		now:          time.Now,
		lockTTL:      DefaultLockTTL,
		markTTL:      DefaultMarkTTL,
		quiet:        DefaultQuietHours(),
		quietEnabled: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs the Dispatcher as the runner's send-reminder handler.
func (d *Dispatcher) Register(runner *store.JobRunner) {
	runner.RegisterHandler(JobKindSendReminder, d.HandleJob)
}

// HandleJob adapts Dispatch to the delay queue: a retry request becomes an
// error so the runner redelivers the job; every other outcome acknowledges
// it. Once started, a dispatch is not cancelled by ctx.
func (d *Dispatcher) HandleJob(ctx context.Context, job store.Job) error {
	out := d.Dispatch(context.WithoutCancel(ctx), job)
	if out.Status != StatusRetryRequested {
		return nil
	}
	if out.Err == nil {
		return fmt.Errorf("reminder job %s: retry requested (%s)", job.ID, out.Reason)
	}
	return out.Err
}

// Dispatch runs one delivered job to a terminal state.
func (d *Dispatcher) Dispatch(ctx context.Context, job store.Job) Outcome {
	start := time.Now()
	out := d.dispatch(ctx, job)
	d.metrics.ObserveDispatch(out.Status.String(), time.Since(start))
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, job store.Job) Outcome {
	var p models.ReminderPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
		slog.Error("Dispatcher.Dispatch: payload decode failed", "jobID", job.ID, "error", err)
		return retry(ReasonInvalidPayload, fmt.Errorf("%w: job %s: %w", ErrInvalidPayload, job.ID, err))
	}
	if err := models.ValidateIdentifiers(p.AppointmentID, p.TenantID); err != nil {
		slog.Error("Dispatcher.Dispatch: payload invalid", "jobID", job.ID, "error", err)
		return retry(ReasonInvalidPayload, fmt.Errorf("%w: job %s: %w", ErrInvalidPayload, job.ID, err))
	}

	out, err := d.withLock(ctx, LockKey(p.AppointmentID), func(ctx context.Context) Outcome {
		return d.send(ctx, job, p)
	})
	if err != nil {
		slog.Error("Dispatcher.Dispatch: lock acquire failed", "jobID", job.ID, "appointmentID", p.AppointmentID, "error", err)
		return retry(ReasonLockError, err)
	}
	if out.Status == StatusSkipped {
		d.metrics.IncSkipped(out.Reason)
	}
	return out
}

// withLock runs fn while holding the lease on key and releases it on every
// path out of fn. A lease held by someone else skips fn entirely.
func (d *Dispatcher) withLock(ctx context.Context, key string, fn func(ctx context.Context) Outcome) (Outcome, error) {
	token, ok, err := d.locker.Acquire(ctx, key, d.lockTTL)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		slog.Info("Dispatcher.withLock: lock held by another worker", "key", key)
		return skipped(ReasonLockHeld), nil
	}
	defer func() {
		if err := d.locker.Release(ctx, key, token); err != nil {
			slog.Warn("Dispatcher.withLock: release failed, lease will expire", "key", key, "ttl", d.lockTTL, "error", err)
		}
	}()
	return fn(ctx), nil
}

// send runs the steps guarded by the lock: quiet hours, idempotency check,
// record, mark, success counter.
func (d *Dispatcher) send(ctx context.Context, job store.Job, p models.ReminderPayload) Outcome {
	now := d.now()
	if d.quietEnabled {
		if hour := now.In(d.location).Hour(); d.quiet.Contains(hour) {
			slog.Warn("Dispatcher.send: quiet hours, reminder dropped",
				"jobID", job.ID, "appointmentID", p.AppointmentID, "tenantID", p.TenantID, "hour", hour)
			return skipped(ReasonQuietHours)
		}
	}

	kind := string(models.ReminderTypeEmail)
	markKey := MarkKey(p.AppointmentID)

	done, err := d.marks.Exists(ctx, markKey)
	if err != nil {
		d.metrics.IncSent(kind, p.TenantID, metrics.StatusError)
		slog.Error("Dispatcher.send: idempotency check failed", "jobID", job.ID, "appointmentID", p.AppointmentID, "error", err)
		return retry(ReasonStoreError, fmt.Errorf("idempotency check for appointment %s: %w", p.AppointmentID, err))
	}
	if done {
		slog.Info("Dispatcher.send: already processed", "jobID", job.ID, "appointmentID", p.AppointmentID)
		return skipped(ReasonAlreadyProcessed)
	}

	sentAt := now
	rec := models.ReminderRecord{
		ID:            job.ID,
		AppointmentID: p.AppointmentID,
		TenantID:      p.TenantID,
		Type:          models.ReminderTypeEmail,
		ScheduledAt:   p.TargetFireTime,
		Status:        models.ReminderStatusSent,
		SentAt:        &sentAt,
	}
	if err := d.records.InsertReminder(ctx, rec); err != nil {
		d.metrics.IncSent(kind, p.TenantID, metrics.StatusError)
		slog.Error("Dispatcher.send: record insert failed", "jobID", job.ID, "appointmentID", p.AppointmentID, "error", err)
		return retry(ReasonStoreError, fmt.Errorf("insert reminder for appointment %s: %w", p.AppointmentID, err))
	}
	if err := d.marks.Set(ctx, markKey, d.markTTL); err != nil {
		d.metrics.IncSent(kind, p.TenantID, metrics.StatusError)
		slog.Error("Dispatcher.send: mark write failed", "jobID", job.ID, "appointmentID", p.AppointmentID, "error", err)
		return retry(ReasonStoreError, fmt.Errorf("set idempotency mark for appointment %s: %w", p.AppointmentID, err))
	}

	d.metrics.IncSent(kind, p.TenantID, metrics.StatusSuccess)
	slog.Info("Dispatcher.send: reminder sent", "jobID", job.ID, "appointmentID", p.AppointmentID, "tenantID", p.TenantID)
	return sent()
}
