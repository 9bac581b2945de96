package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"garbage", true, true},
	}
	for _, tt := range tests {
		t.Setenv("REMINDPIPE_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("REMINDPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("REMINDPIPE_TEST_INT", " 8 ")
	if got := ParseIntEnv("REMINDPIPE_TEST_INT", 4); got != 8 {
		t.Errorf("ParseIntEnv = %d, want 8", got)
	}
	t.Setenv("REMINDPIPE_TEST_INT", "eight")
	if got := ParseIntEnv("REMINDPIPE_TEST_INT", 4); got != 4 {
		t.Errorf("ParseIntEnv invalid = %d, want default 4", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("REMINDPIPE_TEST_DUR", "250ms")
	if got := ParseDurationEnv("REMINDPIPE_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Errorf("ParseDurationEnv = %v, want 250ms", got)
	}
	t.Setenv("REMINDPIPE_TEST_DUR", "soon")
	if got := ParseDurationEnv("REMINDPIPE_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("ParseDurationEnv invalid = %v, want 1s", got)
	}
}
