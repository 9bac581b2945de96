package reminder

import "testing"

func TestIsQuietHour(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{0, true},
		{7, true},
		{8, false},
		{12, false},
		{20, false},
		{21, true},
		{23, true},
	}
	for _, tt := range tests {
		if got := IsQuietHour(tt.hour); got != tt.want {
			t.Errorf("IsQuietHour(%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestQuietHoursContains(t *testing.T) {
	tests := []struct {
		name string
		q    QuietHours
		hour int
		want bool
	}{
		{"default matches IsQuietHour at 21", DefaultQuietHours(), 21, true},
		{"default matches IsQuietHour at 8", DefaultQuietHours(), 8, false},
		{"same-day window start", QuietHours{Start: 12, End: 14}, 12, true},
		{"same-day window end exclusive", QuietHours{Start: 12, End: 14}, 14, false},
		{"same-day window outside", QuietHours{Start: 12, End: 14}, 3, false},
		{"wrapping window after midnight", QuietHours{Start: 22, End: 6}, 2, true},
		{"disabled window", QuietHours{Start: 5, End: 5}, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Contains(tt.hour); got != tt.want {
				t.Errorf("Contains(%d) = %v, want %v", tt.hour, got, tt.want)
			}
		})
	}
}

func TestDefaultQuietHoursAgreesWithIsQuietHour(t *testing.T) {
	q := DefaultQuietHours()
	for h := 0; h < 24; h++ {
		if q.Contains(h) != IsQuietHour(h) {
			t.Errorf("hour %d: Contains=%v IsQuietHour=%v", h, q.Contains(h), IsQuietHour(h))
		}
	}
}
