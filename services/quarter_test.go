package services

import (
	"testing"
	"time"
)

func TestQuarterLabel(t *testing.T) {
	cases := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-Q1"},
		{time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC), "2026-Q1"},
		{time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), "2026-Q2"},
		{time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), "2026-Q3"},
		{time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), "2026-Q4"},
	}
	for _, c := range cases {
		if got := QuarterLabel(c.in); got != c.want {
			t.Errorf("QuarterLabel(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestQuarterLabelUsesUTC(t *testing.T) {
	// 2026-03-31 23:00 in UTC-5 is already Q2 locally only if read in the
	// wrong zone; the label must come from UTC.
	loc := time.FixedZone("UTC-5", -5*3600)
	in := time.Date(2026, 3, 31, 20, 0, 0, 0, loc) // 2026-04-01 01:00 UTC
	if got := QuarterLabel(in); got != "2026-Q2" {
		t.Errorf("QuarterLabel(%v) = %q, want 2026-Q2", in, got)
	}
}

func TestQuarterBounds(t *testing.T) {
	start, end, err := QuarterBounds("2026-Q1")
	if err != nil {
		t.Fatalf("QuarterBounds returned error: %v", err)
	}
	wantStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) || !end.Equal(wantEnd) {
		t.Errorf("QuarterBounds(2026-Q1) = [%v, %v), want [%v, %v)", start, end, wantStart, wantEnd)
	}

	// Round-trip: every instant inside the bounds maps back to the label.
	if got := QuarterLabel(start); got != "2026-Q1" {
		t.Errorf("QuarterLabel(start) = %q, want 2026-Q1", got)
	}
	if got := QuarterLabel(end.Add(-time.Second)); got != "2026-Q1" {
		t.Errorf("QuarterLabel(end-1s) = %q, want 2026-Q1", got)
	}
}

func TestQuarterBoundsInvalid(t *testing.T) {
	for _, label := range []string{"", "2026", "2026-Q5", "2026-Q0", "garbage"} {
		if _, _, err := QuarterBounds(label); err == nil {
			t.Errorf("QuarterBounds(%q) expected error, got nil", label)
		}
	}
}
