// Package api provides HTTP handlers for RemindPipe endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/RemindPipe/internal/models"
	"github.com/BTreeMap/RemindPipe/internal/reminder"
)

func (s *Server) remindersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.scheduleHandler(w, r, false)
	case http.MethodPut:
		s.scheduleHandler(w, r, true)
	case http.MethodGet:
		s.listRemindersHandler(w, r)
	default:
		slog.Warn("Server.remindersHandler: method not allowed", "method", r.Method)
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodPut)
	}
}

// scheduleHandler accepts a reminder request. With reschedule set, a pending
// reminder for the same appointment is replaced instead of kept.
func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request, reschedule bool) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.scheduleHandler: processing schedule request", "method", r.Method, "reschedule", reschedule)

	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.scheduleHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.scheduleHandler: validation failed", "error", err, "appointmentID", req.AppointmentID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	schedule := s.scheduler.Schedule
	status := http.StatusCreated
	if reschedule {
		schedule = s.scheduler.Reschedule
		status = http.StatusOK
	}
	result, err := schedule(ctx, req.AppointmentID, req.AppointmentDate, req.TenantID)
	if err != nil {
		if errors.Is(err, reminder.ErrInvalidAppointment) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.scheduleHandler: failed to schedule reminder", "error", err, "appointmentID", req.AppointmentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to schedule reminder"))
		return
	}

	if result.Deduplicated {
		if reschedule {
			// The pending job was already claimed by a worker and could not be replaced.
			slog.Warn("Server.scheduleHandler: reminder in flight, reschedule not applied", "appointmentID", req.AppointmentID, "jobID", result.JobID)
			writeJSONResponse(w, http.StatusConflict, models.NewAPIResponseBuilder().
				WithStatus(models.APIStatusError).
				WithMessage("Reminder is already being delivered; reschedule not applied").
				WithResult(result).
				Build())
			return
		}
		slog.Debug("Server.scheduleHandler: reminder already pending", "appointmentID", req.AppointmentID, "jobID", result.JobID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Reminder already pending", result))
		return
	}

	slog.Info("Server.scheduleHandler: reminder accepted", "appointmentID", req.AppointmentID, "jobID", result.JobID, "reschedule", reschedule)
	writeJSONResponse(w, status, models.Scheduled(result))
}

func (s *Server) listRemindersHandler(w http.ResponseWriter, r *http.Request) {
	appointmentID := strings.TrimSpace(r.URL.Query().Get("appointment_id"))
	if appointmentID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: appointment_id"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	recs, err := s.records.ListReminders(ctx, appointmentID)
	if err != nil {
		slog.Error("Server.listRemindersHandler: failed to list reminders", "error", err, "appointmentID", appointmentID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list reminders"))
		return
	}
	if recs == nil {
		recs = []models.ReminderRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
