package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.IncSent("EMAIL", "t1", StatusSuccess)
	m.IncSent("EMAIL", "t1", StatusSuccess)
	m.IncSent("EMAIL", "t1", StatusError)
	m.IncSkipped("quiet_hours")

	if got := testutil.ToFloat64(m.SentCounter().WithLabelValues("EMAIL", "t1", StatusSuccess)); got != 2 {
		t.Errorf("success counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SentCounter().WithLabelValues("EMAIL", "t1", StatusError)); got != 1 {
		t.Errorf("error counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SkippedCounter().WithLabelValues("quiet_hours")); got != 1 {
		t.Errorf("skipped counter = %v, want 1", got)
	}
}

func TestHandlerExposesReminderMetrics(t *testing.T) {
	m := New()
	m.IncSent("EMAIL", "t1", StatusSuccess)
	m.ObserveDispatch("sent", 20*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"reminders_sent_total", "reminder_dispatch_duration_seconds"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
