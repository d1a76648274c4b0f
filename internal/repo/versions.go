package repo

import (
	"context"
	"database/sql"
	"fmt"

	"reportline/internal/domain"
)

// VersionConsistencyError reports a ledger observed with zero or more than
// one current version. It indicates a broken atomic-update guarantee and is
// not recoverable by the caller.
type VersionConsistencyError struct {
	ReportID string
	Count    int
}

func (e VersionConsistencyError) Error() string {
	return fmt.Sprintf("version ledger for report %s has %d current entries, want exactly 1", e.ReportID, e.Count)
}

const versionColumns = `id,report_id,major,minor,patch,semver,change_type,current,COALESCE(notes,''),created_by,created_at`

// AppendVersion demotes every existing entry and inserts the new one as
// current, all inside the caller's transaction.
func (r Repo) AppendVersion(ctx context.Context, tx *sql.Tx, v domain.Version) error {
	if _, err := tx.ExecContext(ctx, `UPDATE versions SET current=0 WHERE report_id=? AND current=1`, v.ReportID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO versions(id,report_id,major,minor,patch,semver,change_type,current,notes,created_by,created_at) VALUES (?,?,?,?,?,?,?,1,?,?,?)`,
		v.ID, v.ReportID, v.Major, v.Minor, v.Patch, v.Semver, v.ChangeType, nullable(v.Notes), v.CreatedBy, v.CreatedAt)
	return err
}

func (r Repo) ListVersions(ctx context.Context, reportID string) ([]domain.Version, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE report_id=? ORDER BY created_at ASC, id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Version
	for rows.Next() {
		v, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// CurrentVersion returns the single current entry and enforces the
// exactly-one invariant on read.
func (r Repo) CurrentVersion(ctx context.Context, reportID string) (domain.Version, error) {
	var count int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE report_id=? AND current=1`, reportID).Scan(&count); err != nil {
		return domain.Version{}, err
	}
	if count != 1 {
		var total int
		if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM versions WHERE report_id=?`, reportID).Scan(&total); err != nil {
			return domain.Version{}, err
		}
		if total == 0 {
			return domain.Version{}, ErrNotFound
		}
		return domain.Version{}, VersionConsistencyError{ReportID: reportID, Count: count}
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE report_id=? AND current=1`, reportID)
	return scanVersion(row.Scan)
}

func scanVersion(scan func(dest ...any) error) (domain.Version, error) {
	var v domain.Version
	var current int
	err := scan(&v.ID, &v.ReportID, &v.Major, &v.Minor, &v.Patch, &v.Semver, &v.ChangeType, &current, &v.Notes, &v.CreatedBy, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	v.Current = current != 0
	return v, err
}
