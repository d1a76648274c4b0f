package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reportline/internal/domain"
	"reportline/internal/events"
	"reportline/internal/schedule"
)

// CreateScheduleOptions are parameters for registering a recurring
// schedule. Dates are calendar dates in YYYY-MM-DD form.
type CreateScheduleOptions struct {
	ID           string
	Name         string
	ReportID     string
	Frequency    string
	IntervalDays *int
	DaysOfWeek   []string
	DayOfMonth   *int
	CronExpr     string
	StartDate    string
	EndDate      string
	ActorID      string
}

// CreateSchedule validates the specification once and stores it. A spec
// that passes here will never make the evaluator fail later.
func (e Engine) CreateSchedule(ctx context.Context, opts CreateScheduleOptions) (domain.Schedule, error) {
	if opts.Name == "" {
		return domain.Schedule{}, fmt.Errorf("name is required")
	}
	if opts.ReportID != "" {
		if _, err := e.Repo.GetReport(ctx, opts.ReportID); err != nil {
			return domain.Schedule{}, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	s := domain.Schedule{
		ID:           id,
		Name:         opts.Name,
		ReportID:     optionalString(opts.ReportID),
		Frequency:    opts.Frequency,
		IntervalDays: opts.IntervalDays,
		DaysOfWeek:   opts.DaysOfWeek,
		DayOfMonth:   opts.DayOfMonth,
		CronExpr:     opts.CronExpr,
		StartDate:    optionalString(opts.StartDate),
		EndDate:      optionalString(opts.EndDate),
		Status:       string(schedule.StatusActive),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	spec, err := specFromSchedule(s)
	if err != nil {
		return s, err
	}
	if err := schedule.Validate(spec); err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSchedule(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.created", opts.ReportID, "schedule", s.ID, opts.ActorID, events.EventPayload{
		"name":      s.Name,
		"frequency": s.Frequency,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

var scheduleStatusMoves = map[schedule.Status][]schedule.Status{
	schedule.StatusActive:    {schedule.StatusPaused, schedule.StatusDisabled, schedule.StatusCompleted},
	schedule.StatusPaused:    {schedule.StatusActive, schedule.StatusDisabled},
	schedule.StatusDisabled:  {},
	schedule.StatusCompleted: {},
}

// SetScheduleStatus moves a schedule between lifecycle statuses. Disabled
// and completed are terminal; disabling is the logical delete.
func (e Engine) SetScheduleStatus(ctx context.Context, id string, status schedule.Status, actorID string) (domain.Schedule, error) {
	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil {
		return s, err
	}
	from := schedule.Status(s.Status)
	allowed := false
	for _, st := range scheduleStatusMoves[from] {
		if st == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return s, fmt.Errorf("schedule status cannot move from %s to %s", from, status)
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduleStatus(ctx, tx, s.ID, string(status), now); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "schedule."+string(status), reportIDOf(s), "schedule", s.ID, actorID, events.EventPayload{
		"from": string(from),
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	s.Status = string(status)
	s.UpdatedAt = now
	return s, nil
}

// ReplaceSchedule swaps the full specification of an existing schedule.
// Specs are value objects; there is no field-level patching.
func (e Engine) ReplaceSchedule(ctx context.Context, id string, opts CreateScheduleOptions) (domain.Schedule, error) {
	old, err := e.Repo.GetSchedule(ctx, id)
	if err != nil {
		return old, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Schedule{
		ID:           old.ID,
		Name:         opts.Name,
		ReportID:     optionalString(opts.ReportID),
		Frequency:    opts.Frequency,
		IntervalDays: opts.IntervalDays,
		DaysOfWeek:   opts.DaysOfWeek,
		DayOfMonth:   opts.DayOfMonth,
		CronExpr:     opts.CronExpr,
		StartDate:    optionalString(opts.StartDate),
		EndDate:      optionalString(opts.EndDate),
		Status:       old.Status,
		CreatedAt:    old.CreatedAt,
		UpdatedAt:    now,
	}
	if s.Name == "" {
		s.Name = old.Name
	}
	spec, err := specFromSchedule(s)
	if err != nil {
		return s, err
	}
	if err := schedule.Validate(spec); err != nil {
		return s, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceSchedule(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.replaced", reportIDOf(s), "schedule", s.ID, opts.ActorID, events.EventPayload{
		"frequency": s.Frequency,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// DueSchedule pairs a schedule with the evaluation date it fired on.
type DueSchedule struct {
	Schedule domain.Schedule `json:"schedule"`
	DueOn    string          `json:"due_on" format:"date"`
}

// DueToday sweeps the active schedules and returns those due on the given
// date. Rows whose stored spec no longer parses evaluate to not-due; the
// sweep never aborts over a single bad row.
func (e Engine) DueToday(ctx context.Context, today time.Time) ([]DueSchedule, error) {
	list, err := e.Repo.ListSchedules(ctx, string(schedule.StatusActive))
	if err != nil {
		return nil, err
	}
	day := today.UTC().Format("2006-01-02")
	var due []DueSchedule
	for _, s := range list {
		spec, err := specFromSchedule(s)
		if err != nil {
			continue
		}
		if schedule.IsDueToday(spec, today, e.Cron) {
			due = append(due, DueSchedule{Schedule: s, DueOn: day})
		}
	}
	return due, nil
}

// specFromSchedule converts the stored row into the evaluator's spec.
func specFromSchedule(s domain.Schedule) (schedule.Spec, error) {
	spec := schedule.Spec{
		Frequency:    schedule.Frequency(s.Frequency),
		IntervalDays: s.IntervalDays,
		DayOfMonth:   s.DayOfMonth,
		CronExpr:     s.CronExpr,
		Status:       schedule.Status(s.Status),
	}
	for _, name := range s.DaysOfWeek {
		wd, err := parseWeekday(name)
		if err != nil {
			return spec, err
		}
		spec.DaysOfWeek = append(spec.DaysOfWeek, wd)
	}
	if s.StartDate != nil {
		t, err := time.Parse("2006-01-02", *s.StartDate)
		if err != nil {
			return spec, schedule.MalformedScheduleError{Reason: "bad start_date " + *s.StartDate}
		}
		spec.StartDate = &t
	}
	if s.EndDate != nil {
		t, err := time.Parse("2006-01-02", *s.EndDate)
		if err != nil {
			return spec, schedule.MalformedScheduleError{Reason: "bad end_date " + *s.EndDate}
		}
		spec.EndDate = &t
	}
	return spec, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(name string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, schedule.MalformedScheduleError{Reason: fmt.Sprintf("unknown weekday %q", name)}
	}
	return wd, nil
}

func reportIDOf(s domain.Schedule) string {
	if s.ReportID == nil {
		return ""
	}
	return *s.ReportID
}
