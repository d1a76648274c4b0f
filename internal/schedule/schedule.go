// Package schedule decides whether a recurring report job is due on a
// given calendar date. Evaluation is pure and total: malformed specs
// evaluate to not-due instead of failing, so arbitrarily many scheduler
// workers can call it concurrently with no synchronization. Spec
// integrity is checked once at creation time via Validate.
package schedule

import (
	"fmt"
	"time"
)

type Frequency string

const (
	FreqDaily      Frequency = "daily"
	FreqWeekly     Frequency = "weekly"
	FreqMonthly    Frequency = "monthly"
	FreqCustomCron Frequency = "custom_cron"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusDisabled  Status = "disabled"
	StatusCompleted Status = "completed"
)

// LastDayOfMonth is the day-of-month sentinel meaning "last day of the
// month", whatever that is for the month being evaluated.
const LastDayOfMonth = -1

// Spec is an immutable schedule specification. Replaced wholesale on edit.
type Spec struct {
	Frequency    Frequency
	IntervalDays *int
	DaysOfWeek   []time.Weekday
	DayOfMonth   *int
	CronExpr     string
	StartDate    *time.Time
	EndDate      *time.Time
	Status       Status
}

// CronDelegate evaluates a cron expression against a point in time. The
// evaluator makes no cron-parsing decisions itself.
type CronDelegate interface {
	IsDue(expr string, at time.Time) (bool, error)
}

// IsDueToday reports whether the spec fires on the given calendar date.
// Time-of-day governs the minute of execution, not the day-level check;
// today is truncated to a date before evaluation.
func IsDueToday(spec Spec, today time.Time, cron CronDelegate) bool {
	day := dateOnly(today)
	if spec.Status != StatusActive {
		return false
	}
	if spec.StartDate != nil && day.Before(dateOnly(*spec.StartDate)) {
		return false
	}
	if spec.EndDate != nil && day.After(dateOnly(*spec.EndDate)) {
		return false
	}
	switch spec.Frequency {
	case FreqDaily:
		return dueDaily(spec, day)
	case FreqWeekly:
		return dueWeekly(spec, day)
	case FreqMonthly:
		return dueMonthly(spec, day)
	case FreqCustomCron:
		if spec.CronExpr == "" || cron == nil {
			return false
		}
		due, err := cron.IsDue(spec.CronExpr, day)
		if err != nil {
			return false
		}
		return due
	default:
		return false
	}
}

func dueDaily(spec Spec, day time.Time) bool {
	if spec.IntervalDays == nil || *spec.IntervalDays <= 1 {
		return true
	}
	if spec.StartDate == nil {
		// No anchor to compute the modulus from.
		return true
	}
	elapsed := daysBetween(dateOnly(*spec.StartDate), day)
	return elapsed%*spec.IntervalDays == 0
}

func dueWeekly(spec Spec, day time.Time) bool {
	for _, wd := range spec.DaysOfWeek {
		if day.Weekday() == wd {
			return true
		}
	}
	return false
}

func dueMonthly(spec Spec, day time.Time) bool {
	if spec.DayOfMonth == nil {
		return false
	}
	if *spec.DayOfMonth == LastDayOfMonth {
		return day.Day() == lastDay(day)
	}
	return day.Day() == *spec.DayOfMonth
}

// Validate checks spec integrity at creation time. Evaluation never
// raises; callers that skip validation simply get not-due answers.
func Validate(spec Spec) error {
	switch spec.Frequency {
	case FreqDaily:
		if spec.IntervalDays != nil && *spec.IntervalDays < 1 {
			return MalformedScheduleError{Reason: "interval_days must be >= 1"}
		}
	case FreqWeekly:
		if len(spec.DaysOfWeek) == 0 {
			return MalformedScheduleError{Reason: "weekly schedule needs at least one weekday"}
		}
	case FreqMonthly:
		if spec.DayOfMonth == nil {
			return MalformedScheduleError{Reason: "monthly schedule needs day_of_month"}
		}
		if d := *spec.DayOfMonth; d != LastDayOfMonth && (d < 1 || d > 31) {
			return MalformedScheduleError{Reason: fmt.Sprintf("day_of_month %d out of range", d)}
		}
	case FreqCustomCron:
		if spec.CronExpr == "" {
			return MalformedScheduleError{Reason: "cron schedule needs an expression"}
		}
	default:
		return MalformedScheduleError{Reason: fmt.Sprintf("unknown frequency %q", spec.Frequency)}
	}
	if spec.StartDate != nil && spec.EndDate != nil && dateOnly(*spec.EndDate).Before(dateOnly(*spec.StartDate)) {
		return MalformedScheduleError{Reason: "end_date before start_date"}
	}
	return nil
}

// MalformedScheduleError is returned by Validate for specs that would
// never evaluate meaningfully.
type MalformedScheduleError struct {
	Reason string
}

func (e MalformedScheduleError) Error() string {
	return "malformed schedule: " + e.Reason
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}

func lastDay(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
