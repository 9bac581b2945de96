package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/RemindPipe/internal/models"
)

// Compile-time check that PostgresStore implements ReminderRepo.
var _ ReminderRepo = (*PostgresStore)(nil)

func (s *PostgresStore) InsertReminder(ctx context.Context, rec models.ReminderRecord) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, appointment_id, tenant_id, type, scheduled_at, status, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.AppointmentID, rec.TenantID, string(rec.Type), rec.ScheduledAt, string(rec.Status), rec.SentAt,
	)
	if err != nil {
		slog.Error("PostgresStore InsertReminder failed", "error", err, "id", rec.ID, "appointmentID", rec.AppointmentID)
		return fmt.Errorf("failed to insert reminder %s: %w", rec.ID, err)
	}
	slog.Debug("PostgresStore InsertReminder succeeded", "id", rec.ID, "appointmentID", rec.AppointmentID)
	return nil
}

func (s *PostgresStore) ListReminders(ctx context.Context, appointmentID string) ([]models.ReminderRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, appointment_id, tenant_id, type, scheduled_at, status, sent_at
		 FROM reminders WHERE appointment_id = $1 ORDER BY scheduled_at ASC, id ASC`,
		appointmentID,
	)
	if err != nil {
		slog.Error("PostgresStore ListReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}
