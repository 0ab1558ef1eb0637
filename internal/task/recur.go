package task

import (
	"fmt"
	"sort"
	"time"
)

// RepeatKind selects the recurrence stepping of a repeat rule.
type RepeatKind string

const (
	RepeatDaily   RepeatKind = "daily"
	RepeatWeekly  RepeatKind = "weekly"
	RepeatMonthly RepeatKind = "monthly"
	RepeatYearly  RepeatKind = "yearly"
)

// ExpandCeiling is the maximum number of occurrences a single Expand call
// may generate within the requested window before failing with
// ErrRecurrenceOverflow.
const ExpandCeiling = 5000

// RepeatRule describes how a task template repeats. The rule is owned by its
// task; the anchor date is always the task's own start time.
type RepeatRule struct {
	Kind     RepeatKind
	Interval int

	// At most one of EndDate / EndCount may be set. Both unset means the
	// rule is unbounded (callers always expand within a bounded window).
	EndDate  time.Time
	EndCount int

	// Weekdays applies to weekly rules; empty defaults to the anchor's
	// weekday. MonthDay applies to monthly rules; 0 defaults to the
	// anchor's day of month.
	Weekdays []time.Weekday
	MonthDay int
}

// Validate checks the rule invariants, wrapping ErrValidation.
func (r RepeatRule) Validate() error {
	switch r.Kind {
	case RepeatDaily, RepeatWeekly, RepeatMonthly, RepeatYearly:
	default:
		return fmt.Errorf("%w: unknown repeat kind %q", ErrValidation, r.Kind)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: repeat interval must be at least 1, got %d", ErrValidation, r.Interval)
	}
	if !r.EndDate.IsZero() && r.EndCount > 0 {
		return fmt.Errorf("%w: repeat rule may set end_date or end_count, not both", ErrValidation)
	}
	if r.EndCount < 0 {
		return fmt.Errorf("%w: repeat end_count must not be negative", ErrValidation)
	}
	for _, wd := range r.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday selector out of range: %d", ErrValidation, wd)
		}
	}
	if r.MonthDay < 0 || r.MonthDay > 31 {
		return fmt.Errorf("%w: month day selector out of range: %d", ErrValidation, r.MonthDay)
	}
	return nil
}

// Expand computes the concrete occurrences of a task within the half-open
// window [winStart, winEnd). It is a pure function: the same task and window
// always yield the same sequence, and the task is never mutated.
//
// Non-repeating tasks yield at most one occurrence, when their interval
// intersects the window. Repeating tasks are walked forward from the anchor
// (the task's start time) at the rule's interval, stopping at the window
// end, the rule's end date, or the rule's occurrence count, whichever comes
// first. Generating more than ExpandCeiling occurrences within the window
// fails with ErrRecurrenceOverflow.
func Expand(t Task, winStart, winEnd time.Time) ([]Occurrence, error) {
	if winEnd.Before(winStart) {
		return nil, fmt.Errorf("%w: window end before window start", ErrValidation)
	}

	duration := t.EndTime.Sub(t.StartTime)

	if t.Repeat == nil {
		occ := Occurrence{TaskID: t.ID, Start: t.StartTime, End: t.EndTime, Index: 0}
		if intersects(occ, winStart, winEnd) {
			return []Occurrence{occ}, nil
		}
		return nil, nil
	}

	rule := *t.Repeat
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var out []Occurrence
	index := 0
	overflow := false

	collect := func(start time.Time) (done bool) {
		if !rule.EndDate.IsZero() && start.After(rule.EndDate) {
			return true
		}
		if rule.EndCount > 0 && index >= rule.EndCount {
			return true
		}
		if !start.Before(winEnd) {
			return true
		}
		occ := Occurrence{TaskID: t.ID, Start: start, End: start.Add(duration), Index: index}
		index++
		if intersects(occ, winStart, winEnd) {
			if len(out) >= ExpandCeiling {
				overflow = true
				return true
			}
			out = append(out, occ)
		}
		return false
	}

	switch rule.Kind {
	case RepeatDaily:
		walkDaily(t.StartTime, rule.Interval, collect)
	case RepeatWeekly:
		walkWeekly(t.StartTime, rule, collect)
	case RepeatMonthly:
		walkMonthly(t.StartTime, rule, collect)
	case RepeatYearly:
		walkYearly(t.StartTime, rule.Interval, collect)
	}

	if overflow {
		return nil, fmt.Errorf("%w: task %s exceeded %d occurrences in window", ErrRecurrenceOverflow, t.ID, ExpandCeiling)
	}
	return out, nil
}

func intersects(occ Occurrence, winStart, winEnd time.Time) bool {
	if !occ.Start.Before(winEnd) {
		return false
	}
	return !occ.End.Before(winStart)
}

func walkDaily(anchor time.Time, interval int, collect func(time.Time) bool) {
	for step := 0; ; step += interval {
		if collect(anchor.AddDate(0, 0, step)) {
			return
		}
	}
}

func walkWeekly(anchor time.Time, rule RepeatRule, collect func(time.Time) bool) {
	weekdays := rule.Weekdays
	if len(weekdays) == 0 {
		weekdays = []time.Weekday{anchor.Weekday()}
	}
	sorted := append([]time.Weekday(nil), weekdays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	// weekBase is the Sunday of the anchor's week, at the anchor's
	// time of day. Selected weekdays before the anchor itself are skipped.
	weekBase := anchor.AddDate(0, 0, -int(anchor.Weekday()))
	for week := 0; ; week += rule.Interval {
		for _, wd := range sorted {
			start := weekBase.AddDate(0, 0, week*7+int(wd))
			if start.Before(anchor) {
				continue
			}
			if collect(start) {
				return
			}
		}
	}
}

func walkMonthly(anchor time.Time, rule RepeatRule, collect func(time.Time) bool) {
	day := rule.MonthDay
	if day == 0 {
		day = anchor.Day()
	}
	for step := 0; ; step += rule.Interval {
		base := time.Date(anchor.Year(), anchor.Month(), 1, anchor.Hour(), anchor.Minute(),
			anchor.Second(), anchor.Nanosecond(), anchor.Location()).AddDate(0, step, 0)
		start := clampToMonth(base, day)
		if start.Before(anchor) {
			continue
		}
		if collect(start) {
			return
		}
	}
}

func walkYearly(anchor time.Time, interval int, collect func(time.Time) bool) {
	for step := 0; ; step += interval {
		base := time.Date(anchor.Year()+step, anchor.Month(), 1, anchor.Hour(), anchor.Minute(),
			anchor.Second(), anchor.Nanosecond(), anchor.Location())
		if collect(clampToMonth(base, anchor.Day())) {
			return
		}
	}
}

// clampToMonth places day within base's month, rolling back to the last
// valid day when the month is shorter (Jan 31 → Feb 28/29).
func clampToMonth(base time.Time, day int) time.Time {
	last := daysInMonth(base.Year(), base.Month())
	if day > last {
		day = last
	}
	return time.Date(base.Year(), base.Month(), day, base.Hour(), base.Minute(),
		base.Second(), base.Nanosecond(), base.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
