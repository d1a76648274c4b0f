package repo

import (
	"context"
	"database/sql"

	"reportline/internal/domain"
)

func (r Repo) InsertQualityCheck(ctx context.Context, tx *sql.Tx, c domain.QualityCheck) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quality_checks(id,report_id,name,passed,severity,score,detail,checked_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ReportID, c.Name, boolToInt(c.Passed), c.Severity, c.Score, nullable(c.Detail), c.CheckedBy, c.CreatedAt)
	return err
}

func (r Repo) ListQualityChecks(ctx context.Context, reportID string) ([]domain.QualityCheck, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,report_id,name,passed,severity,score,COALESCE(detail,''),checked_by,created_at FROM quality_checks WHERE report_id=? ORDER BY created_at ASC, id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QualityCheck
	for rows.Next() {
		var c domain.QualityCheck
		var passed int
		if err := rows.Scan(&c.ID, &c.ReportID, &c.Name, &passed, &c.Severity, &c.Score, &c.Detail, &c.CheckedBy, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Passed = passed != 0
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) GetFreezeWindow(ctx context.Context) (domain.FreezeWindow, error) {
	var fw domain.FreezeWindow
	var active int
	var until, updatedBy, updatedAt sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT active,until,updated_by,updated_at FROM freeze_window WHERE id=1`).
		Scan(&active, &until, &updatedBy, &updatedAt)
	if err != nil {
		return fw, err
	}
	fw.Active = active != 0
	fw.Until = until.String
	fw.UpdatedBy = updatedBy.String
	fw.UpdatedAt = updatedAt.String
	return fw, nil
}

func (r Repo) SetFreezeWindow(ctx context.Context, tx *sql.Tx, fw domain.FreezeWindow) error {
	_, err := tx.ExecContext(ctx, `UPDATE freeze_window SET active=?, until=?, updated_by=?, updated_at=? WHERE id=1`,
		boolToInt(fw.Active), nullable(fw.Until), nullable(fw.UpdatedBy), nullable(fw.UpdatedAt))
	return err
}

const changeRequestColumns = `id,report_id,change_type,description,requested_by,status,decided_by,scheduled_for,implemented_at,created_at,updated_at`

func (r Repo) InsertChangeRequest(ctx context.Context, tx *sql.Tx, cr domain.ChangeRequest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO change_requests(`+changeRequestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		cr.ID, cr.ReportID, cr.ChangeType, cr.Description, cr.RequestedBy, cr.Status, cr.DecidedBy,
		cr.ScheduledFor, cr.ImplementedAt, cr.CreatedAt, cr.UpdatedAt)
	return err
}

func (r Repo) GetChangeRequest(ctx context.Context, id string) (domain.ChangeRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+changeRequestColumns+` FROM change_requests WHERE id=?`, id)
	return scanChangeRequest(row.Scan)
}

func (r Repo) ListChangeRequests(ctx context.Context, reportID, status string) ([]domain.ChangeRequest, error) {
	query := `SELECT ` + changeRequestColumns + ` FROM change_requests WHERE report_id=?`
	args := []any{reportID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, cr)
	}
	return res, rows.Err()
}

func (r Repo) UpdateChangeRequest(ctx context.Context, tx *sql.Tx, cr domain.ChangeRequest) error {
	res, err := tx.ExecContext(ctx, `UPDATE change_requests SET status=?,decided_by=?,scheduled_for=?,implemented_at=?,updated_at=? WHERE id=?`,
		cr.Status, cr.DecidedBy, cr.ScheduledFor, cr.ImplementedAt, cr.UpdatedAt, cr.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanChangeRequest(scan func(dest ...any) error) (domain.ChangeRequest, error) {
	var cr domain.ChangeRequest
	err := scan(&cr.ID, &cr.ReportID, &cr.ChangeType, &cr.Description, &cr.RequestedBy, &cr.Status,
		&cr.DecidedBy, &cr.ScheduledFor, &cr.ImplementedAt, &cr.CreatedAt, &cr.UpdatedAt)
	if err == sql.ErrNoRows {
		return cr, ErrNotFound
	}
	return cr, err
}
