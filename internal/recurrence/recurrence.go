// Package recurrence computes a schedule's next due time, per spec.md
// §4.6. It is grounded on the teacher's internal/service/workflow/scheduler.go
// cron-spec handling (CRON_TZ= prefix, robfig-style five-field expressions)
// for the "custom" schedule type, generalized with a hand-written dispatch
// table for the fixed schedule types (minutes/hourly/daily/weekly/monthly)
// spec.md §4.6 also names.
package recurrence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rakunlabs/flowlane/internal/flowerrors"
)

// ScheduleType enumerates the recurrence kinds spec.md §4.6 defines.
type ScheduleType string

const (
	TypeMinutes ScheduleType = "minutes"
	TypeHourly  ScheduleType = "hourly"
	TypeDaily   ScheduleType = "daily"
	TypeWeekly  ScheduleType = "weekly"
	TypeMonthly ScheduleType = "monthly"
	TypeCustom  ScheduleType = "custom" // raw cron expression
)

// Spec is the parsed configuration of one ScheduleRecord's recurrence rule.
type Spec struct {
	Type ScheduleType

	// CronExpression is read only when Type == TypeCustom. A non-empty
	// Timezone prefixes it with "CRON_TZ=", matching the teacher's
	// scheduler.go convention.
	CronExpression string
	Timezone       string

	// IntervalMinutes is used by TypeMinutes (every N minutes).
	IntervalMinutes int

	// MinutesStartingAt anchors a TypeMinutes schedule's grid to a time of
	// day ("HH:MM", interpreted in Timezone). Empty means no anchor: the
	// grid is every multiple of the interval counted from Go's zero time,
	// which starts at the top of each UTC hour only for an interval that
	// divides an hour.
	MinutesStartingAt string

	// LastRanAt is the schedule's previous successful run, or nil if it
	// has never run. TypeMinutes uses its presence to choose between the
	// cold-start and warm-start rules in spec.md §4.6's table.
	LastRanAt *time.Time

	// HourOfDay/MinuteOfHour anchor daily/weekly/monthly schedules (0-23 /
	// 0-59), interpreted in Timezone (default UTC).
	HourOfDay   int
	MinuteOfHour int

	// DayOfWeek anchors TypeWeekly (0 = Sunday .. 6 = Saturday).
	DayOfWeek time.Weekday

	// DayOfMonth anchors TypeMonthly (1-31). Per spec.md §9's resolved
	// Open Question, a DayOfMonth of 29-31 clamps to the last day of a
	// shorter month rather than skipping it or rolling into the next one.
	DayOfMonth int
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Next computes the next time strictly after `after` that the schedule fires.
func Next(spec Spec, after time.Time) (time.Time, error) {
	switch spec.Type {
	case TypeCustom:
		return nextCron(spec.CronExpression, spec.Timezone, after)
	case TypeMinutes:
		return nextMinutes(spec, after)
	case TypeHourly:
		return nextHourly(spec, after)
	case TypeDaily:
		return nextDaily(spec, after)
	case TypeWeekly:
		return nextWeekly(spec, after)
	case TypeMonthly:
		return nextMonthly(spec, after)
	default:
		return time.Time{}, fmt.Errorf("%w: %q", flowerrors.ErrUnsupportedScheduleType, spec.Type)
	}
}

func nextCron(expr, timezone string, after time.Time) (time.Time, error) {
	spec := expr
	if timezone != "" {
		spec = "CRON_TZ=" + timezone + " " + expr
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", flowerrors.ErrInvalidCronExpression, expr, err)
	}
	return schedule.Next(after), nil
}

// nextMinutes implements spec.md §4.6's minutes schedule row. With no
// MinutesStartingAt anchor, it rounds `after` down to a multiple of the
// interval counted from Go's zero time and steps forward, rather than
// using "after + interval", so two schedules with the same interval fire in
// lockstep; for an interval that divides an hour this is the grid a cron
// "*/N" expression gives. With an anchor, it follows the cold-start/warm-start rule: a
// never-run schedule steps forward from startingAt until strictly after
// `after`; a previously-run schedule aligns to the next interval boundary
// after LastRanAt, advancing once more if that boundary is already past.
func nextMinutes(spec Spec, after time.Time) (time.Time, error) {
	if spec.IntervalMinutes <= 0 {
		return time.Time{}, fmt.Errorf("%w: minutes schedule needs a positive interval", flowerrors.ErrUnsupportedScheduleType)
	}
	interval := time.Duration(spec.IntervalMinutes) * time.Minute

	if spec.MinutesStartingAt == "" {
		truncated := after.Truncate(interval)
		next := truncated
		for !next.After(after) {
			next = next.Add(interval)
		}
		return next, nil
	}

	hh, mm, err := parseHHMM(spec.MinutesStartingAt)
	if err != nil {
		return time.Time{}, err
	}
	loc := location(spec.Timezone)

	if spec.LastRanAt == nil {
		local := after.In(loc)
		anchor := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		return nextBoundaryAfter(anchor, interval, local).UTC(), nil
	}

	lastLocal := spec.LastRanAt.In(loc)
	anchor := time.Date(lastLocal.Year(), lastLocal.Month(), lastLocal.Day(), hh, mm, 0, 0, loc)
	next := nextBoundaryAfter(anchor, interval, lastLocal)
	if !next.After(after) {
		next = next.Add(interval)
	}
	return next.UTC(), nil
}

// nextBoundaryAfter returns the smallest anchor+k*interval strictly after t,
// for any integer k (positive or negative), without looping day-by-day for
// a long-dormant schedule.
func nextBoundaryAfter(anchor time.Time, interval time.Duration, t time.Time) time.Time {
	diff := t.Sub(anchor)
	steps := floorDivDuration(diff, interval)
	return anchor.Add(interval * time.Duration(steps+1))
}

// floorDivDuration is integer division rounded toward negative infinity,
// unlike Go's / operator which truncates toward zero.
func floorDivDuration(a, b time.Duration) int64 {
	q := int64(a / b)
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		q--
	}
	return q
}

// parseHHMM parses a "HH:MM" time-of-day string (spec.md §4.6).
func parseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: minutesStartingAt %q: %v", flowerrors.ErrUnsupportedScheduleType, s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func nextHourly(spec Spec, after time.Time) (time.Time, error) {
	loc := location(spec.Timezone)
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), spec.MinuteOfHour, 0, 0, loc)
	if !next.After(local) {
		next = next.Add(time.Hour)
	}
	return next.UTC(), nil
}

func nextDaily(spec Spec, after time.Time) (time.Time, error) {
	loc := location(spec.Timezone)
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), spec.HourOfDay, spec.MinuteOfHour, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.UTC(), nil
}

// nextWeekly anchors on spec.DayOfWeek/HourOfDay/MinuteOfHour. Per spec.md
// §9's resolved Open Question, a `now` that lands exactly on the target
// instant is NOT due again until the following week — the comparison is
// strictly "after", not "at or after".
func nextWeekly(spec Spec, after time.Time) (time.Time, error) {
	loc := location(spec.Timezone)
	local := after.In(loc)

	daysUntil := (int(spec.DayOfWeek) - int(local.Weekday()) + 7) % 7
	candidate := time.Date(local.Year(), local.Month(), local.Day(), spec.HourOfDay, spec.MinuteOfHour, 0, 0, loc).
		AddDate(0, 0, daysUntil)

	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate.UTC(), nil
}

// nextMonthly anchors on spec.DayOfMonth/HourOfDay/MinuteOfHour. Per
// spec.md §9's resolved Open Question, a DayOfMonth that does not exist in
// a given month (e.g. 31 in April) clamps to that month's last day rather
// than skipping the month or rolling into the next one.
func nextMonthly(spec Spec, after time.Time) (time.Time, error) {
	loc := location(spec.Timezone)
	local := after.In(loc)

	candidate := monthlyOccurrence(local.Year(), local.Month(), spec, loc)
	if !candidate.After(local) {
		y, m := local.Year(), local.Month()+1
		if m > 12 {
			m = 1
			y++
		}
		candidate = monthlyOccurrence(y, m, spec, loc)
	}
	return candidate.UTC(), nil
}

func monthlyOccurrence(year int, month time.Month, spec Spec, loc *time.Location) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	day := spec.DayOfMonth
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, spec.HourOfDay, spec.MinuteOfHour, 0, 0, loc)
}

func location(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
