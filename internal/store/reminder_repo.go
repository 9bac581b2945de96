// Package store provides the ReminderRepo interface for sent-reminder records.
package store

import (
	"context"

	"github.com/BTreeMap/RemindPipe/internal/models"
)

// ReminderRepo persists reminder records.
type ReminderRepo interface {
	// InsertReminder writes a record. Inserting an ID that already exists is a
	// no-op, so redelivering the same job never produces a second row.
	InsertReminder(ctx context.Context, rec models.ReminderRecord) error

	// ListReminders returns all records for an appointment, oldest first.
	ListReminders(ctx context.Context, appointmentID string) ([]models.ReminderRecord, error)
}
