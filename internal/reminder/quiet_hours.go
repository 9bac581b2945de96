package reminder

// Default quiet window: 21:00 until 08:00 local time.
const (
	DefaultQuietStart = 21
	DefaultQuietEnd   = 8
)

// IsQuietHour reports whether a local hour falls inside the default quiet
// window.
func IsQuietHour(hour int) bool {
	return hour >= DefaultQuietStart || hour < DefaultQuietEnd
}

// QuietHours is a half-open window [Start, End) of local hours in which no
// reminder is sent. A window with Start > End wraps past midnight. Start ==
// End disables suppression.
type QuietHours struct {
	Start int
	End   int
}

// DefaultQuietHours returns the window used by IsQuietHour.
func DefaultQuietHours() QuietHours {
	return QuietHours{Start: DefaultQuietStart, End: DefaultQuietEnd}
}

// Contains reports whether hour is inside the window.
func (q QuietHours) Contains(hour int) bool {
	switch {
	case q.Start == q.End:
		return false
	case q.Start < q.End:
		return hour >= q.Start && hour < q.End
	default:
		return hour >= q.Start || hour < q.End
	}
}
