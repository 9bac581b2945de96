package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/RemindPipe/internal/models"
)

// Compile-time check that SQLiteStore implements ReminderRepo.
var _ ReminderRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) InsertReminder(ctx context.Context, rec models.ReminderRecord) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var sentAt interface{}
	if rec.SentAt != nil {
		sentAt = rec.SentAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, appointment_id, tenant_id, type, scheduled_at, status, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.AppointmentID, rec.TenantID, string(rec.Type), rec.ScheduledAt.UTC(), string(rec.Status), sentAt,
	)
	if err != nil {
		slog.Error("SQLiteStore InsertReminder failed", "error", err, "id", rec.ID, "appointmentID", rec.AppointmentID)
		return fmt.Errorf("failed to insert reminder %s: %w", rec.ID, err)
	}
	slog.Debug("SQLiteStore InsertReminder succeeded", "id", rec.ID, "appointmentID", rec.AppointmentID)
	return nil
}

func (s *SQLiteStore) ListReminders(ctx context.Context, appointmentID string) ([]models.ReminderRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, appointment_id, tenant_id, type, scheduled_at, status, sent_at
		 FROM reminders WHERE appointment_id = ? ORDER BY scheduled_at ASC, id ASC`,
		appointmentID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListReminders query failed", "error", err)
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]models.ReminderRecord, error) {
	var out []models.ReminderRecord
	for rows.Next() {
		var r models.ReminderRecord
		var kind, status string
		var sentAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.AppointmentID, &r.TenantID, &kind, &r.ScheduledAt, &status, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		r.Type = models.ReminderType(kind)
		r.Status = models.ReminderStatus(status)
		if sentAt.Valid {
			t := sentAt.Time
			r.SentAt = &t
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	return out, nil
}
