package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"reportline/internal/domain"
)

const scheduleColumns = `id,name,report_id,frequency,interval_days,days_of_week,day_of_month,cron_expr,start_date,end_date,status,created_at,updated_at`

func (r Repo) InsertSchedule(ctx context.Context, tx *sql.Tx, s domain.Schedule) error {
	days, err := marshalDays(s.DaysOfWeek)
	if err != nil {
		return err
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx, `INSERT INTO schedules(`+scheduleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.ReportID, s.Frequency, s.IntervalDays, days, s.DayOfMonth, nullable(s.CronExpr),
		s.StartDate, s.EndDate, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	return scanSchedule(row.Scan)
}

func (r Repo) ListSchedules(ctx context.Context, status string) ([]domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	args := []any{}
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateScheduleStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE schedules SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceSchedule swaps the full specification; schedules are immutable
// value objects replaced wholesale on edit.
func (r Repo) ReplaceSchedule(ctx context.Context, tx *sql.Tx, s domain.Schedule) error {
	days, err := marshalDays(s.DaysOfWeek)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE schedules SET name=?,report_id=?,frequency=?,interval_days=?,days_of_week=?,day_of_month=?,cron_expr=?,start_date=?,end_date=?,status=?,updated_at=? WHERE id=?`,
		s.Name, s.ReportID, s.Frequency, s.IntervalDays, days, s.DayOfMonth, nullable(s.CronExpr),
		s.StartDate, s.EndDate, s.Status, s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSchedule(scan func(dest ...any) error) (domain.Schedule, error) {
	var s domain.Schedule
	var days sql.NullString
	var cron sql.NullString
	err := scan(&s.ID, &s.Name, &s.ReportID, &s.Frequency, &s.IntervalDays, &days, &s.DayOfMonth, &cron,
		&s.StartDate, &s.EndDate, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.CronExpr = cron.String
	if days.Valid && days.String != "" {
		if err := json.Unmarshal([]byte(days.String), &s.DaysOfWeek); err != nil {
			return s, err
		}
	}
	return s, nil
}

func marshalDays(days []string) (any, error) {
	if len(days) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(days)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
