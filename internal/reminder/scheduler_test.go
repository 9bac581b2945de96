package reminder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/RemindPipe/internal/models"
	"github.com/BTreeMap/RemindPipe/internal/store"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestScheduleComputesFireTimeAndDelay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore(store.WithClock(fixedClock(now)))
	s := NewScheduler(st, WithSchedulerClock(fixedClock(now)))

	appt := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	got, err := s.Schedule(ctx, "appt-1", appt, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), got.TargetFireTime)
	assert.Equal(t, time.Hour, got.Delay)
	assert.Equal(t, "reminder_appt-1", got.DedupKey)

	job, err := st.GetJob(ctx, got.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobKindSendReminder, job.Kind)
	assert.Equal(t, "reminder_appt-1", job.DedupeKey)
	assert.True(t, job.RunAt.Equal(now.Add(time.Hour)))

	var p models.ReminderPayload
	require.NoError(t, json.Unmarshal([]byte(job.PayloadJSON), &p))
	assert.Equal(t, "appt-1", p.AppointmentID)
	assert.Equal(t, "tenant-1", p.TenantID)
	assert.True(t, p.TargetFireTime.Equal(got.TargetFireTime))
}

func TestScheduleClampsPastFireTimeToZeroDelay(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	s := NewScheduler(st, WithSchedulerClock(fixedClock(now)))

	got, err := s.Schedule(context.Background(), "appt-soon", now.Add(2*time.Hour), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), got.Delay)

	job, err := st.GetJob(context.Background(), got.JobID)
	require.NoError(t, err)
	assert.True(t, job.RunAt.Equal(now))
}

func TestScheduleTwiceYieldsOneJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	s := NewScheduler(st, WithSchedulerClock(fixedClock(now)))
	appt := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	first, err := s.Schedule(ctx, "appt-dup", appt, "tenant-1")
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)
	second, err := s.Schedule(ctx, "appt-dup", appt, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, first.JobID, second.JobID)
	assert.True(t, second.Deduplicated)

	claimed, err := st.ClaimDueJobs(ctx, appt, 10)
	require.NoError(t, err)
	assert.Len(t, claimed, 1)
}

func TestScheduleWithNewDateReportsPendingJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	s := NewScheduler(st, WithSchedulerClock(fixedClock(now)))

	first, err := s.Schedule(ctx, "appt-x", time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), "tenant-1")
	require.NoError(t, err)
	second, err := s.Schedule(ctx, "appt-x", time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC), "tenant-1")
	require.NoError(t, err)

	job, err := st.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, first.JobID, second.JobID)
	assert.True(t, second.Deduplicated)
	assert.True(t, second.TargetFireTime.Equal(time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)), "target %v", second.TargetFireTime)
	assert.True(t, second.RunAt.Equal(job.RunAt), "runAt %v, queued %v", second.RunAt, job.RunAt)
	assert.Equal(t, 25*time.Hour, second.Delay)
	assert.Equal(t, int64(25*3600), second.DelaySeconds)
	assert.Equal(t, "tenant-1", second.TenantID)
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	s := NewScheduler(store.NewInMemoryStore())
	appt := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		appointmentID string
		tenantID      string
		date          time.Time
		cause         error
	}{
		{"empty appointment", "", "tenant-1", appt, models.ErrEmptyAppointmentID},
		{"blank tenant", "appt-1", "  ", appt, models.ErrEmptyTenantID},
		{"zero date", "appt-1", "tenant-1", time.Time{}, models.ErrMissingAppointmentAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Schedule(context.Background(), tt.appointmentID, tt.date, tt.tenantID)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAppointment)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

type failingQueue struct {
	store.JobRepo
	err error
}

func (q failingQueue) EnqueueUniqueJob(context.Context, string, time.Time, string, string) (string, bool, error) {
	return "", false, q.err
}

func TestSchedulePropagatesEnqueueError(t *testing.T) {
	boom := errors.New("queue unavailable")
	s := NewScheduler(failingQueue{err: boom})

	_, err := s.Schedule(context.Background(), "appt-1", time.Now().Add(48*time.Hour), "tenant-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRescheduleReplacesPendingJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	s := NewScheduler(st, WithSchedulerClock(fixedClock(now)))

	first, err := s.Schedule(ctx, "appt-moved", time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), "tenant-1")
	require.NoError(t, err)

	moved := time.Date(2024, 1, 5, 15, 0, 0, 0, time.UTC)
	second, err := s.Reschedule(ctx, "appt-moved", moved, "tenant-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, moved.Add(-DefaultLeadTime), second.TargetFireTime)

	old, err := st.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCanceled, old.Status)

	current, err := st.GetJob(ctx, second.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusQueued, current.Status)
}

func TestRescheduleInFlightJobReportsRunningJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	st := store.NewInMemoryStore()
	s := NewScheduler(st, WithSchedulerClock(fixedClock(now)))

	first, err := s.Schedule(ctx, "appt-busy", now.Add(2*time.Hour), "tenant-1")
	require.NoError(t, err)
	claimed, err := st.ClaimDueJobs(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	got, err := s.Reschedule(ctx, "appt-busy", now.Add(72*time.Hour), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, first.JobID, got.JobID)
	assert.True(t, got.Deduplicated)
	assert.True(t, got.TargetFireTime.Equal(first.TargetFireTime))
	assert.Equal(t, time.Duration(0), got.Delay)

	job, err := st.GetJob(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusRunning, job.Status)
}

func TestRescheduleWithoutPendingJobSchedules(t *testing.T) {
	st := store.NewInMemoryStore()
	s := NewScheduler(st)

	got, err := s.Reschedule(context.Background(), "appt-new", time.Now().Add(72*time.Hour), "tenant-1")
	require.NoError(t, err)
	assert.NotEmpty(t, got.JobID)
}

func TestWithLeadTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	s := NewScheduler(store.NewInMemoryStore(), WithSchedulerClock(fixedClock(now)), WithLeadTime(2*time.Hour))

	got, err := s.Schedule(context.Background(), "appt-1", now.Add(5*time.Hour), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, got.Delay)
}
