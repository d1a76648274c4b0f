package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := date(y, m, d)
	return &t
}

func intPtr(v int) *int { return &v }

type fakeCron struct {
	due  bool
	err  error
	expr string
	at   time.Time
}

func (f *fakeCron) IsDue(expr string, at time.Time) (bool, error) {
	f.expr = expr
	f.at = at
	return f.due, f.err
}

func TestDailyInterval(t *testing.T) {
	spec := Spec{
		Frequency:    FreqDaily,
		IntervalDays: intPtr(3),
		StartDate:    datePtr(2025, time.January, 1),
		Status:       StatusActive,
	}
	assert.True(t, IsDueToday(spec, date(2025, time.January, 1), nil))
	assert.False(t, IsDueToday(spec, date(2025, time.January, 2), nil))
	assert.False(t, IsDueToday(spec, date(2025, time.January, 3), nil))
	assert.True(t, IsDueToday(spec, date(2025, time.January, 4), nil))
	assert.True(t, IsDueToday(spec, date(2025, time.January, 7), nil))
}

func TestDailyDefaults(t *testing.T) {
	// interval absent or <= 1 means every day
	spec := Spec{Frequency: FreqDaily, StartDate: datePtr(2025, time.January, 1), Status: StatusActive}
	assert.True(t, IsDueToday(spec, date(2025, time.March, 14), nil))

	spec.IntervalDays = intPtr(1)
	assert.True(t, IsDueToday(spec, date(2025, time.March, 15), nil))

	// no anchor: interval cannot be applied, fire every day
	spec = Spec{Frequency: FreqDaily, IntervalDays: intPtr(5), Status: StatusActive}
	assert.True(t, IsDueToday(spec, date(2025, time.March, 16), nil))
}

func TestWeekly(t *testing.T) {
	spec := Spec{
		Frequency:  FreqWeekly,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
		Status:     StatusActive,
	}
	// 2025-01-06 is a Monday; sweep four weeks
	for day := 0; day < 28; day++ {
		today := date(2025, time.January, 6).AddDate(0, 0, day)
		want := today.Weekday() == time.Monday || today.Weekday() == time.Wednesday
		assert.Equalf(t, want, IsDueToday(spec, today, nil), "day %s", today.Format("2006-01-02"))
	}
}

func TestMonthlyFixedDay(t *testing.T) {
	spec := Spec{Frequency: FreqMonthly, DayOfMonth: intPtr(15), Status: StatusActive}
	assert.True(t, IsDueToday(spec, date(2025, time.April, 15), nil))
	assert.False(t, IsDueToday(spec, date(2025, time.April, 14), nil))
	assert.False(t, IsDueToday(spec, date(2025, time.April, 30), nil))
}

func TestMonthlyLastDay(t *testing.T) {
	spec := Spec{Frequency: FreqMonthly, DayOfMonth: intPtr(LastDayOfMonth), Status: StatusActive}
	assert.True(t, IsDueToday(spec, date(2025, time.February, 28), nil))
	assert.True(t, IsDueToday(spec, date(2024, time.February, 29), nil), "leap year")
	assert.False(t, IsDueToday(spec, date(2024, time.February, 28), nil), "not last in leap February")
	for d := 1; d < 28; d++ {
		assert.Falsef(t, IsDueToday(spec, date(2025, time.February, d), nil), "2025-02-%02d", d)
	}
	assert.True(t, IsDueToday(spec, date(2025, time.April, 30), nil))
	assert.True(t, IsDueToday(spec, date(2025, time.December, 31), nil))
	assert.False(t, IsDueToday(spec, date(2025, time.December, 30), nil))
}

func TestStatusAndDateBounds(t *testing.T) {
	spec := Spec{
		Frequency: FreqDaily,
		StartDate: datePtr(2025, time.June, 1),
		EndDate:   datePtr(2025, time.June, 30),
		Status:    StatusActive,
	}
	assert.False(t, IsDueToday(spec, date(2025, time.May, 31), nil), "before start")
	assert.True(t, IsDueToday(spec, date(2025, time.June, 1), nil))
	assert.True(t, IsDueToday(spec, date(2025, time.June, 30), nil), "end date inclusive")
	assert.False(t, IsDueToday(spec, date(2025, time.July, 1), nil), "after end")

	for _, st := range []Status{StatusPaused, StatusDisabled, StatusCompleted} {
		spec.Status = st
		assert.Falsef(t, IsDueToday(spec, date(2025, time.June, 15), nil), "status %s", st)
	}
}

func TestCronDelegation(t *testing.T) {
	spec := Spec{Frequency: FreqCustomCron, CronExpr: "0 6 * * 1", Status: StatusActive}

	cron := &fakeCron{due: true}
	assert.True(t, IsDueToday(spec, date(2025, time.January, 6), cron))
	assert.Equal(t, "0 6 * * 1", cron.expr)
	assert.Equal(t, date(2025, time.January, 6), cron.at)

	cron = &fakeCron{due: false}
	assert.False(t, IsDueToday(spec, date(2025, time.January, 7), cron))

	// delegate failure and missing delegate both evaluate to not-due
	cron = &fakeCron{err: errors.New("bad expression")}
	assert.False(t, IsDueToday(spec, date(2025, time.January, 6), cron))
	assert.False(t, IsDueToday(spec, date(2025, time.January, 6), nil))
}

// Malformed specs never raise; they are simply not due.
func TestMalformedSpecsEvaluateFalse(t *testing.T) {
	weekly := Spec{Frequency: FreqWeekly, Status: StatusActive}
	assert.False(t, IsDueToday(weekly, date(2025, time.January, 6), nil))

	monthly := Spec{Frequency: FreqMonthly, Status: StatusActive}
	assert.False(t, IsDueToday(monthly, date(2025, time.January, 31), nil))

	unknown := Spec{Frequency: Frequency("hourly"), Status: StatusActive}
	assert.False(t, IsDueToday(unknown, date(2025, time.January, 6), nil))
}

func TestEvaluationIsPure(t *testing.T) {
	spec := Spec{
		Frequency:    FreqDaily,
		IntervalDays: intPtr(7),
		StartDate:    datePtr(2025, time.January, 1),
		Status:       StatusActive,
	}
	today := time.Date(2025, time.January, 8, 17, 45, 12, 0, time.UTC)
	first := IsDueToday(spec, today, nil)
	second := IsDueToday(spec, today, nil)
	assert.Equal(t, first, second)
	assert.True(t, first, "time of day must not affect the day-level check")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"daily ok", Spec{Frequency: FreqDaily, IntervalDays: intPtr(2)}, true},
		{"daily zero interval", Spec{Frequency: FreqDaily, IntervalDays: intPtr(0)}, false},
		{"weekly ok", Spec{Frequency: FreqWeekly, DaysOfWeek: []time.Weekday{time.Friday}}, true},
		{"weekly empty", Spec{Frequency: FreqWeekly}, false},
		{"monthly ok", Spec{Frequency: FreqMonthly, DayOfMonth: intPtr(28)}, true},
		{"monthly last day", Spec{Frequency: FreqMonthly, DayOfMonth: intPtr(LastDayOfMonth)}, true},
		{"monthly missing day", Spec{Frequency: FreqMonthly}, false},
		{"monthly day out of range", Spec{Frequency: FreqMonthly, DayOfMonth: intPtr(32)}, false},
		{"cron ok", Spec{Frequency: FreqCustomCron, CronExpr: "@daily"}, true},
		{"cron empty", Spec{Frequency: FreqCustomCron}, false},
		{"unknown frequency", Spec{Frequency: Frequency("sometimes")}, false},
		{"end before start", Spec{
			Frequency: FreqDaily,
			StartDate: datePtr(2025, time.June, 2),
			EndDate:   datePtr(2025, time.June, 1),
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.spec)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				var mse MalformedScheduleError
				require.ErrorAs(t, err, &mse)
				assert.NotEmpty(t, mse.Reason)
			}
		})
	}
}
