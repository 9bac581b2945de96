// Package models defines the core data structures for RemindPipe.
//
// It includes the reminder job payload, the durable reminder record and the
// request types shared between the API and the reminder core.
package models

import (
	"errors"
	"strings"
	"time"
)

// ReminderType is the notification kind stored on a reminder record.
type ReminderType string

const (
	// ReminderTypeEmail is the only reminder type produced today.
	ReminderTypeEmail ReminderType = "EMAIL"
)

// ReminderStatus is the outcome stored on a reminder record.
type ReminderStatus string

const (
	// ReminderStatusSent marks a reminder whose send side effect completed.
	ReminderStatusSent ReminderStatus = "SENT"
)

// Validation constants for input validation
const (
	// MaxIdentifierLength bounds appointment and tenant identifiers.
	MaxIdentifierLength = 255
)

// Error variables for better error handling and testability
var (
	ErrEmptyAppointmentID   = errors.New("appointment_id cannot be empty")
	ErrEmptyTenantID        = errors.New("tenant_id cannot be empty")
	ErrIdentifierTooLong    = errors.New("identifier exceeds maximum length")
	ErrMissingAppointmentAt = errors.New("appointment_date is required")
)

// ReminderPayload is the JSON payload carried by a send-reminder job.
type ReminderPayload struct {
	AppointmentID  string    `json:"appointment_id"`
	TenantID       string    `json:"tenant_id"`
	TargetFireTime time.Time `json:"target_fire_time"`
}

// ReminderRecord is the durable row written when a reminder is sent. More
// than one record may exist for an appointment; readers must tolerate that.
type ReminderRecord struct {
	ID            string         `json:"id"`
	AppointmentID string         `json:"appointment_id"`
	TenantID      string         `json:"tenant_id"`
	Type          ReminderType   `json:"type"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	Status        ReminderStatus `json:"status"`
	SentAt        *time.Time     `json:"sent_at,omitempty"`
}

// ScheduleRequest asks for a reminder ahead of an appointment.
type ScheduleRequest struct {
	AppointmentID   string    `json:"appointment_id"`
	TenantID        string    `json:"tenant_id"`
	AppointmentDate time.Time `json:"appointment_date"`
}

// Validate checks the identifiers and the appointment date.
func (r *ScheduleRequest) Validate() error {
	if err := ValidateIdentifiers(r.AppointmentID, r.TenantID); err != nil {
		return err
	}
	if r.AppointmentDate.IsZero() {
		return ErrMissingAppointmentAt
	}
	return nil
}

// ValidateIdentifiers checks an appointment/tenant identifier pair.
func ValidateIdentifiers(appointmentID, tenantID string) error {
	if strings.TrimSpace(appointmentID) == "" {
		return ErrEmptyAppointmentID
	}
	if strings.TrimSpace(tenantID) == "" {
		return ErrEmptyTenantID
	}
	if len(appointmentID) > MaxIdentifierLength || len(tenantID) > MaxIdentifierLength {
		return ErrIdentifierTooLong
	}
	return nil
}

// ScheduledReminder describes the reminder job the delay queue holds for an
// appointment. When Deduplicated is set, the times are those of the job that
// was already pending, not of the request.
type ScheduledReminder struct {
	JobID          string        `json:"job_id"`
	DedupKey       string        `json:"dedup_key"`
	AppointmentID  string        `json:"appointment_id"`
	TenantID       string        `json:"tenant_id"`
	TargetFireTime time.Time     `json:"target_fire_time"`
	RunAt          time.Time     `json:"run_at"`
	Delay          time.Duration `json:"-"`
	DelaySeconds   int64         `json:"delay_seconds"`
	Deduplicated   bool          `json:"deduplicated"`
}
