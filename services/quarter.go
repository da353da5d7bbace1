package services

import (
	"fmt"
	"time"
)

// QuarterLabel maps a timestamp to its allocation period, e.g. "2026-Q1".
// Quarters are calendar quarters in UTC so every instance agrees on the
// period regardless of server locale.
func QuarterLabel(t time.Time) string {
	t = t.UTC()
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("%d-Q%d", t.Year(), q)
}

// QuarterBounds returns the [start, end) window of a quarter label.
func QuarterBounds(label string) (time.Time, time.Time, error) {
	var year, q int
	if _, err := fmt.Sscanf(label, "%d-Q%d", &year, &q); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid quarter label %q: %w", label, err)
	}
	if q < 1 || q > 4 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid quarter label %q: quarter out of range", label)
	}
	start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, 0), nil
}

// CurrentQuarter is QuarterLabel(now); the allocation default when no
// explicit quarter override is given.
func CurrentQuarter() string {
	return QuarterLabel(time.Now())
}
