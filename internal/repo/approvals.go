package repo

import (
	"context"
	"database/sql"

	"reportline/internal/domain"
)

const approvalColumns = `id,report_id,position,approver_id,required,status,COALESCE(comment,''),decided_at,created_at`

func (r Repo) InsertApprovalStep(ctx context.Context, tx *sql.Tx, s domain.ApprovalStep) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO approval_steps(id,report_id,position,approver_id,required,status,comment,decided_at,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ReportID, s.Position, s.ApproverID, boolToInt(s.Required), s.Status, nullable(s.Comment), s.DecidedAt, s.CreatedAt)
	return err
}

func (r Repo) GetApprovalStep(ctx context.Context, stepID string) (domain.ApprovalStep, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_steps WHERE id=?`, stepID)
	return scanApprovalStep(row.Scan)
}

func (r Repo) ListApprovalSteps(ctx context.Context, reportID string) ([]domain.ApprovalStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+approvalColumns+` FROM approval_steps WHERE report_id=? ORDER BY position ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalStep
	for rows.Next() {
		s, err := scanApprovalStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpdateApprovalStep(ctx context.Context, tx *sql.Tx, s domain.ApprovalStep) error {
	res, err := tx.ExecContext(ctx, `UPDATE approval_steps SET status=?,comment=?,decided_at=? WHERE id=?`,
		s.Status, nullable(s.Comment), s.DecidedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReportApprovalStatus stores the recomputed aggregate on the report row.
func (r Repo) SetReportApprovalStatus(ctx context.Context, tx *sql.Tx, reportID, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET approval_status=?, updated_at=? WHERE id=?`, status, updatedAt, reportID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanApprovalStep(scan func(dest ...any) error) (domain.ApprovalStep, error) {
	var s domain.ApprovalStep
	var required int
	err := scan(&s.ID, &s.ReportID, &s.Position, &s.ApproverID, &required, &s.Status, &s.Comment, &s.DecidedAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.Required = required != 0
	return s, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
