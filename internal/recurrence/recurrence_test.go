package recurrence

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func TestNextCronFiveMinutes(t *testing.T) {
	after := mustParse(t, "2026-07-29T12:07:30Z")
	next, err := Next(Spec{Type: TypeCustom, CronExpression: "*/5 * * * *"}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2026-07-29T12:10:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextDailyRollsOverPastAnchor(t *testing.T) {
	after := mustParse(t, "2026-07-29T23:30:00Z")
	next, err := Next(Spec{Type: TypeDaily, HourOfDay: 9, MinuteOfHour: 0}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2026-07-30T09:00:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextWeeklyExactBoundaryIsNotDueAgainUntilNextWeek(t *testing.T) {
	// Anchor: Wednesday 09:00 UTC. `after` lands exactly on the anchor.
	after := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC) // a Wednesday
	next, err := Next(Spec{Type: TypeWeekly, DayOfWeek: time.Wednesday, HourOfDay: 9, MinuteOfHour: 0}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := after.AddDate(0, 0, 7)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v (one week later, not the same instant)", next, want)
	}
}

func TestNextMonthlyClampsDay31ToMonthEnd(t *testing.T) {
	// April has 30 days; day 31 clamps to April 30.
	after := mustParse(t, "2026-04-01T00:00:00Z")
	next, err := Next(Spec{Type: TypeMonthly, DayOfMonth: 31, HourOfDay: 0, MinuteOfHour: 0}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2026-04-30T00:00:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextMonthlyNextMonthAfterFiring(t *testing.T) {
	after := mustParse(t, "2026-04-30T00:00:00Z")
	next, err := Next(Spec{Type: TypeMonthly, DayOfMonth: 31, HourOfDay: 0, MinuteOfHour: 0}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2026-05-31T00:00:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextMinutesNoAnchorAlignsToHourGrid(t *testing.T) {
	after := mustParse(t, "2026-07-29T12:07:30Z")
	next, err := Next(Spec{Type: TypeMinutes, IntervalMinutes: 15}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2026-07-29T12:15:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

// TestNextMinutesColdStart matches spec.md §8 scenario 1.
func TestNextMinutesColdStart(t *testing.T) {
	after := mustParse(t, "2024-06-01T09:07:00Z")
	next, err := Next(Spec{
		Type: TypeMinutes, IntervalMinutes: 15, MinutesStartingAt: "09:00",
	}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2024-06-01T09:15:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

// TestNextMinutesWarmStart matches spec.md §8 scenario 2.
func TestNextMinutesWarmStart(t *testing.T) {
	lastRanAt := mustParse(t, "2024-06-01T09:15:00Z")
	after := mustParse(t, "2024-06-01T09:16:00Z")
	next, err := Next(Spec{
		Type: TypeMinutes, IntervalMinutes: 15, MinutesStartingAt: "09:00",
		LastRanAt: &lastRanAt,
	}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2024-06-01T09:30:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

// TestNextMinutesWarmStartBoundaryAlreadyPast covers a warm-start schedule
// whose aligned boundary after LastRanAt has already elapsed by `after`,
// which must advance by one more interval (spec.md §4.6).
func TestNextMinutesWarmStartBoundaryAlreadyPast(t *testing.T) {
	lastRanAt := mustParse(t, "2024-06-01T09:15:00Z")
	after := mustParse(t, "2024-06-01T09:35:00Z")
	next, err := Next(Spec{
		Type: TypeMinutes, IntervalMinutes: 15, MinutesStartingAt: "09:00",
		LastRanAt: &lastRanAt,
	}, after)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want := mustParse(t, "2024-06-01T09:45:00Z")
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextUnsupportedScheduleType(t *testing.T) {
	if _, err := Next(Spec{Type: "bogus"}, time.Now()); err == nil {
		t.Fatal("expected an error for an unsupported schedule type")
	}
}
