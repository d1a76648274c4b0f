package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"reportline/internal/config"
	"reportline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrStaleStage means a stage-guarded update found the row in a different
// stage than the one the caller decided against.
var ErrStaleStage = errors.New("report stage changed since read")

const reportColumns = `id,title,type,owner_id,stage,previous_stage,stage_changed_at,stage_changed_by,approval_status,current_version,deprecation_reason,replacement_id,retirement_date,created_at,updated_at`

func scanReport(scan func(dest ...any) error) (domain.Report, error) {
	var r domain.Report
	err := scan(&r.ID, &r.Title, &r.Type, &r.OwnerID, &r.Stage, &r.PreviousStage, &r.StageChangedAt,
		&r.StageChangedBy, &r.ApprovalStatus, &r.CurrentVersion, &r.DeprecationReason, &r.ReplacementID,
		&r.RetirementDate, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	return r, err
}

func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reports(`+reportColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.Title, rep.Type, rep.OwnerID, rep.Stage, rep.PreviousStage, rep.StageChangedAt,
		rep.StageChangedBy, rep.ApprovalStatus, rep.CurrentVersion, rep.DeprecationReason, rep.ReplacementID,
		rep.RetirementDate, rep.CreatedAt, rep.UpdatedAt)
	return err
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id=?`, id)
	return scanReport(row.Scan)
}

func (r Repo) ListReports(ctx context.Context, stage, reportType string) ([]domain.Report, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if stage != "" {
		clauses = append(clauses, "stage=?")
		args = append(args, stage)
	}
	if reportType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, reportType)
	}
	query := `SELECT ` + reportColumns + ` FROM reports WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// UpdateReportStage writes a stage move with an optimistic guard: the row
// must still hold the stage the transition decision was made against,
// otherwise nothing is written and ErrStaleStage is returned.
func (r Repo) UpdateReportStage(ctx context.Context, tx *sql.Tx, rep domain.Report, expectedStage string) error {
	res, err := tx.ExecContext(ctx, `UPDATE reports SET stage=?,previous_stage=?,stage_changed_at=?,stage_changed_by=?,deprecation_reason=?,replacement_id=?,retirement_date=?,updated_at=? WHERE id=? AND stage=?`,
		rep.Stage, rep.PreviousStage, rep.StageChangedAt, rep.StageChangedBy,
		rep.DeprecationReason, rep.ReplacementID, rep.RetirementDate,
		rep.UpdatedAt, rep.ID, expectedStage)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT stage FROM reports WHERE id=?`, rep.ID).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrStaleStage
	}
	return nil
}

func (r Repo) CountReportsByStage(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stage, COUNT(*) FROM reports GROUP BY stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		if stage == "" {
			stage = "registered"
		}
		counts[stage] = n
	}
	return counts, rows.Err()
}

func (r Repo) InsertStageTransition(ctx context.Context, tx *sql.Tx, t domain.StageTransition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_transitions(report_id,from_stage,to_stage,actor_id,reason,ts) VALUES (?,?,?,?,?,?)`,
		t.ReportID, t.FromStage, t.ToStage, t.ActorID, nullable(t.Reason), t.TS)
	return err
}

func (r Repo) ListStageTransitions(ctx context.Context, reportID string) ([]domain.StageTransition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,report_id,from_stage,to_stage,actor_id,COALESCE(reason,''),ts FROM stage_transitions WHERE report_id=? ORDER BY id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageTransition
	for rows.Next() {
		var t domain.StageTransition
		if err := rows.Scan(&t.ID, &t.ReportID, &t.FromStage, &t.ToStage, &t.ActorID, &t.Reason, &t.TS); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpsertWorkspaceConfig(ctx context.Context, workspaceID string, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, r.DB, nil, workspaceID, cfg)
}

func (r Repo) UpsertWorkspaceConfigTx(ctx context.Context, tx *sql.Tx, workspaceID string, cfg *config.Config) error {
	return upsertWorkspaceConfig(ctx, nil, tx, workspaceID, cfg)
}

func upsertWorkspaceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, workspaceID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Workspace.ID = workspaceID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO workspace_configs(workspace_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(workspace_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, workspaceID, string(payload), now, now)
	return err
}

func (r Repo) GetWorkspaceConfig(ctx context.Context, workspaceID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM workspace_configs WHERE workspace_id=?`, workspaceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Workspace.ID == "" {
		cfg.Workspace.ID = workspaceID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, reportID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if reportID != "" {
		clauses = append(clauses, "report_id=?")
		args = append(args, reportID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)
	query := `SELECT id,ts,type,COALESCE(report_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ReportID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns up to limit events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(report_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ReportID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
