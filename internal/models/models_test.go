package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestScheduleRequestValidate(t *testing.T) {
	when := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		req     ScheduleRequest
		wantErr error
	}{
		{"valid", ScheduleRequest{AppointmentID: "a1", TenantID: "t1", AppointmentDate: when}, nil},
		{"missing appointment", ScheduleRequest{TenantID: "t1", AppointmentDate: when}, ErrEmptyAppointmentID},
		{"blank appointment", ScheduleRequest{AppointmentID: "  ", TenantID: "t1", AppointmentDate: when}, ErrEmptyAppointmentID},
		{"missing tenant", ScheduleRequest{AppointmentID: "a1", AppointmentDate: when}, ErrEmptyTenantID},
		{"missing date", ScheduleRequest{AppointmentID: "a1", TenantID: "t1"}, ErrMissingAppointmentAt},
		{"too long", ScheduleRequest{AppointmentID: strings.Repeat("a", MaxIdentifierLength+1), TenantID: "t1", AppointmentDate: when}, ErrIdentifierTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("Error() = %+v", r)
	}
	if r := Scheduled("x"); r.Status != string(APIStatusScheduled) || r.Result != "x" {
		t.Errorf("Scheduled() = %+v", r)
	}
	if r := SuccessWithMessage("done", nil); r.Status != string(APIStatusOK) || r.Message != "done" {
		t.Errorf("SuccessWithMessage() = %+v", r)
	}
}
