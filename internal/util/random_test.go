package util

import (
	"strings"
	"testing"
)

func isLowerHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}

func TestGenerateID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		wantLength int
	}{
		{"job prefix", "job_", 36},
		{"short prefix", "r_", 34},
		{"no prefix", "", 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateID(tt.prefix)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("GenerateID() = %v, want prefix %v", got, tt.prefix)
			}
			if len(got) != tt.wantLength {
				t.Errorf("GenerateID() length = %v, want %v", len(got), tt.wantLength)
			}
			if !isLowerHex(got[len(tt.prefix):]) {
				t.Errorf("GenerateID() = %v, suffix is not lowercase hex", got)
			}
		})
	}
}

func TestGenerateJobID(t *testing.T) {
	id := GenerateJobID()
	if !strings.HasPrefix(id, JobIDPrefix) || len(id) != len(JobIDPrefix)+32 {
		t.Errorf("GenerateJobID() = %q, want job_ + 32 hex", id)
	}

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateJobID()
		if seen[id] {
			t.Fatalf("GenerateJobID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}
