package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/RemindPipe/internal/models"
	"github.com/BTreeMap/RemindPipe/internal/util"
)

// InMemoryStore is a process-local implementation of every collaborator the
// reminder core needs. It is used when no DSN is configured and in tests.
type InMemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	jobs      map[string]*Job
	leases    map[string]memLease
	marks     map[string]time.Time
	reminders []models.ReminderRecord
}

type memLease struct {
	token     string
	expiresAt time.Time
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store. Only WithClock is honored.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryStore{
		now:    cfg.clock(),
		jobs:   make(map[string]*Job),
		leases: make(map[string]memLease),
		marks:  make(map[string]time.Time),
	}
}

func isActive(status JobStatus) bool {
	return status == JobStatusQueued || status == JobStatusRunning
}

func (s *InMemoryStore) EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	id, _, err := s.EnqueueUniqueJob(ctx, kind, runAt, payloadJSON, dedupeKey)
	return id, err
}

func (s *InMemoryStore) EnqueueUniqueJob(_ context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && isActive(j.Status) {
				return j.ID, false, nil
			}
		}
	}
	now := s.now()
	id := util.GenerateJobID()
	s.jobs[id] = &Job{
		ID:          id,
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: DefaultMaxAttempts,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, true, nil
}

func (s *InMemoryStore) ClaimDueJobs(_ context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Job, 0, len(due))
	for _, j := range due {
		lockedAt := now
		j.Status = JobStatusRunning
		j.LockedAt = &lockedAt
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *InMemoryStore) CompleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusDone
		j.LockedAt = nil
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *InMemoryStore) FailJob(_ context.Context, id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = s.now()
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	return nil
}

func (s *InMemoryStore) CancelJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusCanceled
		j.LockedAt = nil
		j.UpdatedAt = s.now()
	}
	return nil
}

func (s *InMemoryStore) CancelJobByDedupeKey(_ context.Context, dedupeKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	canceled := false
	for _, j := range s.jobs {
		if j.DedupeKey == dedupeKey && j.Status == JobStatusQueued {
			j.Status = JobStatusCanceled
			j.UpdatedAt = s.now()
			canceled = true
		}
	}
	return canceled, nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(_ context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *InMemoryStore) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.leases[key]; ok && now.Before(l.expiresAt) {
		return "", false, nil
	}
	token := newLeaseToken()
	s.leases[key] = memLease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

func (s *InMemoryStore) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[key]; ok && l.token == token {
		delete(s.leases, key)
	}
	return nil
}

func (s *InMemoryStore) PurgeExpiredLeases(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, l := range s.leases {
		if !now.Before(l.expiresAt) {
			delete(s.leases, k)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.marks[key]
	return ok && s.now().Before(exp), nil
}

func (s *InMemoryStore) Set(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[key] = s.now().Add(ttl)
	return nil
}

func (s *InMemoryStore) PurgeExpiredMarks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, exp := range s.marks {
		if !now.Before(exp) {
			delete(s.marks, k)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) InsertReminder(_ context.Context, rec models.ReminderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reminders {
		if r.ID == rec.ID {
			return nil
		}
	}
	s.reminders = append(s.reminders, rec)
	return nil
}

func (s *InMemoryStore) ListReminders(_ context.Context, appointmentID string) ([]models.ReminderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReminderRecord
	for _, r := range s.reminders {
		if r.AppointmentID == appointmentID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if !out[a].ScheduledAt.Equal(out[b].ScheduledAt) {
			return out[a].ScheduledAt.Before(out[b].ScheduledAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
