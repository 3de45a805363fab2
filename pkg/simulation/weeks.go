package simulation

import "time"

// Day truncates a timestamp to its UTC calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FullWeekEnd snaps a nominal end date so the simulated range [start, end)
// covers a whole number of weeks. Ranges longer than a week snap down to the
// last full week boundary; ranges shorter than a week snap up to one week.
// Downstream trial processing is defined over 7-day blocks, so a partial
// trailing week is never simulated. Idempotent: snapping a snapped date is a
// no-op.
func FullWeekEnd(start, end time.Time) time.Time {
	start, end = Day(start), Day(end)
	days := int(end.Sub(start).Hours() / 24)
	weeks := days / 7
	if weeks < 1 {
		weeks = 1
	}
	return start.AddDate(0, 0, weeks*7)
}

// TotalDays returns the number of simulated dates in [start, end).
func TotalDays(start, end time.Time) int {
	return int(Day(end).Sub(Day(start)).Hours() / 24)
}

// DateRange lists every simulated date in [start, end) in order.
func DateRange(start, end time.Time) []time.Time {
	n := TotalDays(start, end)
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	d := Day(start)
	for i := 0; i < n; i++ {
		out = append(out, d)
		d = d.AddDate(0, 0, 1)
	}
	return out
}
