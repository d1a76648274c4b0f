package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"reportline/internal/approval"
	"reportline/internal/config"
	"reportline/internal/domain"
	"reportline/internal/events"
	"reportline/internal/lifecycle"
	"reportline/internal/quality"
	"reportline/internal/repo"
	"reportline/internal/schedule"
)

// Engine orchestrates governance mutations. Every mutation runs inside a
// single transaction together with its audit event, so the aggregate is
// observed either before or after the full change, never in between.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Cron   schedule.CronDelegate
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ChangeFrozenError signals a mutation attempted while a freeze window is
// active.
type ChangeFrozenError struct {
	Until string
}

func (e ChangeFrozenError) Error() string {
	return fmt.Sprintf("change freeze active until %s", e.Until)
}

func (e Engine) frozen(ctx context.Context) (*ChangeFrozenError, error) {
	fw, err := e.Repo.GetFreezeWindow(ctx)
	if err != nil {
		return nil, err
	}
	if !fw.Active || fw.Until == "" {
		return nil, nil
	}
	until, err := time.Parse(time.RFC3339, fw.Until)
	if err != nil {
		return nil, fmt.Errorf("parse freeze until: %w", err)
	}
	if e.now().UTC().Before(until) {
		return &ChangeFrozenError{Until: fw.Until}, nil
	}
	return nil, nil
}

// RegisterReportOptions are parameters for registering a report.
type RegisterReportOptions struct {
	ID               string
	Title            string
	Type             string
	OwnerID          string
	ApprovalTemplate string
	ActorID          string
}

// RegisterReport creates the governance aggregate for a report. The report
// starts in the pre-draft state; the only legal first transition is into
// draft. Approval steps are seeded from the configured template for the
// report type.
func (e Engine) RegisterReport(ctx context.Context, opts RegisterReportOptions) (domain.Report, error) {
	if e.Config == nil {
		return domain.Report{}, errors.New("config not loaded")
	}
	if opts.Title == "" {
		return domain.Report{}, errors.New("title is required")
	}
	if opts.OwnerID == "" {
		return domain.Report{}, errors.New("owner is required")
	}
	if opts.Type == "" {
		opts.Type = "operational"
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	tmplName := opts.ApprovalTemplate
	if tmplName == "" {
		tmplName = e.Config.Approvals.Defaults[opts.Type]
	}
	var steps []config.StepTemplate
	if tmplName != "" {
		tmpl, ok := e.Config.Approvals.Templates[tmplName]
		if !ok {
			return domain.Report{}, fmt.Errorf("approval template %s not found", tmplName)
		}
		steps = tmpl
	}
	rep := domain.Report{
		ID:             id,
		Title:          opts.Title,
		Type:           opts.Type,
		OwnerID:        opts.OwnerID,
		Stage:          string(lifecycle.StageNone),
		ApprovalStatus: string(approval.WorkflowPending),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Report{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertReport(ctx, tx, rep); err != nil {
		return domain.Report{}, fmt.Errorf("insert report: %w", err)
	}
	for _, st := range steps {
		step := domain.ApprovalStep{
			ID:         uuid.New().String(),
			ReportID:   rep.ID,
			Position:   st.Position,
			ApproverID: st.Approver,
			Required:   st.Required,
			Status:     string(approval.StepPending),
			CreatedAt:  now,
		}
		if err := e.Repo.InsertApprovalStep(ctx, tx, step); err != nil {
			return domain.Report{}, fmt.Errorf("seed approval step: %w", err)
		}
	}
	if err := e.Events.Append(ctx, tx, "report.registered", rep.ID, "report", rep.ID, opts.ActorID, events.EventPayload{
		"title":    rep.Title,
		"type":     rep.Type,
		"template": tmplName,
	}); err != nil {
		return domain.Report{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// DeprecationDetails is the metadata captured atomically with a move into
// the deprecated stage.
type DeprecationDetails struct {
	Reason         string
	ReplacementID  string
	RetirementDate string
}

// TransitionOptions are parameters for a stage transition.
type TransitionOptions struct {
	ReportID    string
	To          lifecycle.Stage
	ActorID     string
	Reason      string
	Deprecation *DeprecationDetails
}

// Transition validates and applies one stage move. Gates are checked in
// order: transition table, approval workflow (entering approved only),
// change freeze. On success the history entry, stage pointers and any
// deprecation metadata are written in one transaction; on any failure the
// aggregate is unchanged.
func (e Engine) Transition(ctx context.Context, opts TransitionOptions) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, opts.ReportID)
	if err != nil {
		return rep, err
	}
	from := lifecycle.Stage(rep.Stage)
	if err := lifecycle.EnsureTransition(from, opts.To); err != nil {
		return rep, err
	}
	if opts.To == lifecycle.StageApproved {
		steps, err := e.Repo.ListApprovalSteps(ctx, rep.ID)
		if err != nil {
			return rep, err
		}
		if st := approval.Aggregate(steps); st != approval.WorkflowApproved {
			return rep, approval.ApprovalRequiredError{Status: st}
		}
	}
	// Every transition counts as a change; there are no observability-only
	// moves in this machine.
	frozenErr, err := e.frozen(ctx)
	if err != nil {
		return rep, err
	}
	if frozenErr != nil {
		return rep, *frozenErr
	}

	now := e.now().UTC().Format(time.RFC3339)
	var fromPtr *string
	if from != lifecycle.StageNone {
		s := string(from)
		fromPtr = &s
	}
	rep.PreviousStage = fromPtr
	rep.Stage = string(opts.To)
	rep.StageChangedAt = &now
	rep.StageChangedBy = &opts.ActorID
	rep.UpdatedAt = now
	if opts.To == lifecycle.StageDeprecated && opts.Deprecation != nil {
		rep.DeprecationReason = optionalString(opts.Deprecation.Reason)
		rep.ReplacementID = optionalString(opts.Deprecation.ReplacementID)
		rep.RetirementDate = optionalString(opts.Deprecation.RetirementDate)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertStageTransition(ctx, tx, domain.StageTransition{
		ReportID:  rep.ID,
		FromStage: fromPtr,
		ToStage:   rep.Stage,
		ActorID:   opts.ActorID,
		Reason:    opts.Reason,
		TS:        now,
	}); err != nil {
		return rep, err
	}
	if err := e.Repo.UpdateReportStage(ctx, tx, rep, string(from)); err != nil {
		if errors.Is(err, repo.ErrStaleStage) {
			// Another transition won the race; re-validate against the
			// stage it left behind.
			var current string
			if qerr := tx.QueryRowContext(ctx, `SELECT stage FROM reports WHERE id=?`, rep.ID).Scan(&current); qerr != nil {
				return rep, qerr
			}
			return rep, lifecycle.InvalidTransitionError{From: lifecycle.Stage(current), To: opts.To}
		}
		return rep, err
	}
	if err := e.Events.Append(ctx, tx, "report.transitioned", rep.ID, "report", rep.ID, opts.ActorID, events.EventPayload{
		"from":   stringOrNone(fromPtr),
		"to":     rep.Stage,
		"reason": opts.Reason,
	}); err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	return rep, nil
}

// AddApprovalStepOptions are parameters for appending a workflow step.
type AddApprovalStepOptions struct {
	ReportID   string
	Position   int
	ApproverID string
	Required   bool
	ActorID    string
}

func (e Engine) AddApprovalStep(ctx context.Context, opts AddApprovalStepOptions) (domain.ApprovalStep, error) {
	if opts.ApproverID == "" {
		return domain.ApprovalStep{}, errors.New("approver is required")
	}
	if opts.Position < 1 {
		return domain.ApprovalStep{}, errors.New("position must be >= 1")
	}
	rep, err := e.Repo.GetReport(ctx, opts.ReportID)
	if err != nil {
		return domain.ApprovalStep{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	step := domain.ApprovalStep{
		ID:         uuid.New().String(),
		ReportID:   rep.ID,
		Position:   opts.Position,
		ApproverID: opts.ApproverID,
		Required:   opts.Required,
		Status:     string(approval.StepPending),
		CreatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return step, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApprovalStep(ctx, tx, step); err != nil {
		return step, err
	}
	if err := e.recomputeApproval(ctx, tx, rep.ID, now); err != nil {
		return step, err
	}
	if err := e.Events.Append(ctx, tx, "approval.step.added", rep.ID, "approval_step", step.ID, opts.ActorID, events.EventPayload{
		"position": step.Position,
		"approver": step.ApproverID,
		"required": step.Required,
	}); err != nil {
		return step, err
	}
	if err := tx.Commit(); err != nil {
		return step, err
	}
	return step, nil
}

// ApproveStep records an approval decision and recomputes the aggregate.
func (e Engine) ApproveStep(ctx context.Context, stepID, actorID, comment string) (domain.ApprovalStep, error) {
	return e.decideStep(ctx, stepID, approval.StepApproved, actorID, comment)
}

// RejectStep records a rejection. The aggregate turns rejected and stays
// rejected regardless of later approvals of other steps.
func (e Engine) RejectStep(ctx context.Context, stepID, actorID, comment string) (domain.ApprovalStep, error) {
	return e.decideStep(ctx, stepID, approval.StepRejected, actorID, comment)
}

func (e Engine) decideStep(ctx context.Context, stepID string, status approval.StepStatus, actorID, comment string) (domain.ApprovalStep, error) {
	step, err := e.Repo.GetApprovalStep(ctx, stepID)
	if err != nil {
		return step, err
	}
	if approval.StepStatus(step.Status) != approval.StepPending {
		return step, fmt.Errorf("step %s already decided (%s)", step.ID, step.Status)
	}
	now := e.now().UTC().Format(time.RFC3339)
	step.Status = string(status)
	step.Comment = comment
	step.DecidedAt = &now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return step, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApprovalStep(ctx, tx, step); err != nil {
		return step, err
	}
	if err := e.recomputeApproval(ctx, tx, step.ReportID, now); err != nil {
		return step, err
	}
	evtType := "approval.step.approved"
	if status == approval.StepRejected {
		evtType = "approval.step.rejected"
	}
	if err := e.Events.Append(ctx, tx, evtType, step.ReportID, "approval_step", step.ID, actorID, events.EventPayload{
		"position": step.Position,
		"comment":  comment,
	}); err != nil {
		return step, err
	}
	if err := tx.Commit(); err != nil {
		return step, err
	}
	return step, nil
}

// recomputeApproval re-reads the step list inside the transaction and
// stores the derived aggregate on the report row.
func (e Engine) recomputeApproval(ctx context.Context, tx *sql.Tx, reportID, now string) error {
	rows, err := tx.QueryContext(ctx, `SELECT required, status FROM approval_steps WHERE report_id=? ORDER BY position ASC`, reportID)
	if err != nil {
		return err
	}
	defer rows.Close()
	var steps []domain.ApprovalStep
	for rows.Next() {
		var required int
		var status string
		if err := rows.Scan(&required, &status); err != nil {
			return err
		}
		steps = append(steps, domain.ApprovalStep{Required: required != 0, Status: status})
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return e.Repo.SetReportApprovalStatus(ctx, tx, reportID, string(approval.Aggregate(steps)), now)
}

// WorkflowStatus returns the aggregate status and the ordered step list.
func (e Engine) WorkflowStatus(ctx context.Context, reportID string) (approval.WorkflowStatus, []domain.ApprovalStep, error) {
	if _, err := e.Repo.GetReport(ctx, reportID); err != nil {
		return "", nil, err
	}
	steps, err := e.Repo.ListApprovalSteps(ctx, reportID)
	if err != nil {
		return "", nil, err
	}
	return approval.Aggregate(steps), steps, nil
}

var changeTypes = map[string]bool{
	"major": true, "minor": true, "patch": true,
	"hotfix": true, "enhancement": true, "refactor": true,
}

// AddVersionOptions are parameters for appending a ledger entry. Bump
// arithmetic is the caller's decision; the ledger validates and records.
type AddVersionOptions struct {
	ReportID   string
	Semver     string
	ChangeType string
	Notes      string
	ActorID    string
}

// AddVersion demotes the previous current entry, appends the new one as
// current and updates the report's current-version pointer, atomically.
func (e Engine) AddVersion(ctx context.Context, opts AddVersionOptions) (domain.Version, error) {
	if !changeTypes[opts.ChangeType] {
		return domain.Version{}, fmt.Errorf("unknown change type %q", opts.ChangeType)
	}
	sv, err := semver.StrictNewVersion(opts.Semver)
	if err != nil {
		return domain.Version{}, fmt.Errorf("invalid semver %q: %w", opts.Semver, err)
	}
	rep, err := e.Repo.GetReport(ctx, opts.ReportID)
	if err != nil {
		return domain.Version{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	v := domain.Version{
		ID:         uuid.New().String(),
		ReportID:   rep.ID,
		Major:      sv.Major(),
		Minor:      sv.Minor(),
		Patch:      sv.Patch(),
		Semver:     sv.String(),
		ChangeType: opts.ChangeType,
		Current:    true,
		Notes:      opts.Notes,
		CreatedBy:  opts.ActorID,
		CreatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return v, err
	}
	defer tx.Rollback()
	if err := e.Repo.AppendVersion(ctx, tx, v); err != nil {
		return v, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reports SET current_version=?, updated_at=? WHERE id=?`, v.Semver, now, rep.ID); err != nil {
		return v, err
	}
	if err := e.Events.Append(ctx, tx, "version.added", rep.ID, "version", v.ID, opts.ActorID, events.EventPayload{
		"semver":      v.Semver,
		"change_type": v.ChangeType,
	}); err != nil {
		return v, err
	}
	if err := tx.Commit(); err != nil {
		return v, err
	}
	return v, nil
}

// RecordQualityCheckOptions are parameters for appending a quality check.
type RecordQualityCheckOptions struct {
	ReportID string
	Name     string
	Passed   bool
	Severity string
	Score    float64
	Detail   string
	ActorID  string
}

func (e Engine) RecordQualityCheck(ctx context.Context, opts RecordQualityCheckOptions) (domain.QualityCheck, error) {
	if opts.Name == "" {
		return domain.QualityCheck{}, errors.New("name is required")
	}
	if opts.Severity == "" {
		opts.Severity = "info"
	}
	rep, err := e.Repo.GetReport(ctx, opts.ReportID)
	if err != nil {
		return domain.QualityCheck{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.QualityCheck{
		ID:        uuid.New().String(),
		ReportID:  rep.ID,
		Name:      opts.Name,
		Passed:    opts.Passed,
		Severity:  opts.Severity,
		Score:     opts.Score,
		Detail:    opts.Detail,
		CheckedBy: opts.ActorID,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertQualityCheck(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "quality.check.recorded", rep.ID, "quality_check", c.ID, opts.ActorID, events.EventPayload{
		"name":   c.Name,
		"passed": c.Passed,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// QualitySummary folds the recorded checks into the aggregate gate signal.
func (e Engine) QualitySummary(ctx context.Context, reportID string) (quality.Summary, error) {
	if _, err := e.Repo.GetReport(ctx, reportID); err != nil {
		return quality.Summary{}, err
	}
	checks, err := e.Repo.ListQualityChecks(ctx, reportID)
	if err != nil {
		return quality.Summary{}, err
	}
	return quality.Summarize(checks), nil
}

// SetFreeze toggles the change-freeze window.
func (e Engine) SetFreeze(ctx context.Context, active bool, until time.Time, actorID string) (domain.FreezeWindow, error) {
	now := e.now().UTC().Format(time.RFC3339)
	fw := domain.FreezeWindow{
		Active:    active,
		UpdatedBy: actorID,
		UpdatedAt: now,
	}
	if active {
		if until.IsZero() {
			return fw, errors.New("until is required to activate a freeze")
		}
		fw.Until = until.UTC().Format(time.RFC3339)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return fw, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetFreezeWindow(ctx, tx, fw); err != nil {
		return fw, err
	}
	evtType := "freeze.deactivated"
	if active {
		evtType = "freeze.activated"
	}
	if err := e.Events.Append(ctx, tx, evtType, "", "freeze_window", "", actorID, events.EventPayload{
		"until": fw.Until,
	}); err != nil {
		return fw, err
	}
	if err := tx.Commit(); err != nil {
		return fw, err
	}
	return fw, nil
}

// Frozen reports whether a freeze window currently blocks mutations.
func (e Engine) Frozen(ctx context.Context) (bool, domain.FreezeWindow, error) {
	fw, err := e.Repo.GetFreezeWindow(ctx)
	if err != nil {
		return false, fw, err
	}
	frozenErr, err := e.frozen(ctx)
	if err != nil {
		return false, fw, err
	}
	return frozenErr != nil, fw, nil
}

// CreateChangeRequestOptions are parameters for a change request.
type CreateChangeRequestOptions struct {
	ReportID     string
	ChangeType   string
	Description  string
	ScheduledFor string
	ActorID      string
}

// CreateChangeRequest admits a change request; admission is subject to the
// freeze gate.
func (e Engine) CreateChangeRequest(ctx context.Context, opts CreateChangeRequestOptions) (domain.ChangeRequest, error) {
	if !changeTypes[opts.ChangeType] {
		return domain.ChangeRequest{}, fmt.Errorf("unknown change type %q", opts.ChangeType)
	}
	if opts.Description == "" {
		return domain.ChangeRequest{}, errors.New("description is required")
	}
	rep, err := e.Repo.GetReport(ctx, opts.ReportID)
	if err != nil {
		return domain.ChangeRequest{}, err
	}
	frozenErr, err := e.frozen(ctx)
	if err != nil {
		return domain.ChangeRequest{}, err
	}
	if frozenErr != nil {
		return domain.ChangeRequest{}, *frozenErr
	}
	now := e.now().UTC().Format(time.RFC3339)
	cr := domain.ChangeRequest{
		ID:           uuid.New().String(),
		ReportID:     rep.ID,
		ChangeType:   opts.ChangeType,
		Description:  opts.Description,
		RequestedBy:  opts.ActorID,
		Status:       "pending",
		ScheduledFor: optionalString(opts.ScheduledFor),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return cr, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertChangeRequest(ctx, tx, cr); err != nil {
		return cr, err
	}
	if err := e.Events.Append(ctx, tx, "change.requested", rep.ID, "change_request", cr.ID, opts.ActorID, events.EventPayload{
		"change_type": cr.ChangeType,
	}); err != nil {
		return cr, err
	}
	if err := tx.Commit(); err != nil {
		return cr, err
	}
	return cr, nil
}

// DecideChangeRequest approves or rejects a pending change request.
// Approval is subject to the freeze gate; rejection is not a change.
func (e Engine) DecideChangeRequest(ctx context.Context, id string, approve bool, actorID string) (domain.ChangeRequest, error) {
	cr, err := e.Repo.GetChangeRequest(ctx, id)
	if err != nil {
		return cr, err
	}
	if cr.Status != "pending" {
		return cr, fmt.Errorf("change request %s already decided (%s)", cr.ID, cr.Status)
	}
	if approve {
		frozenErr, err := e.frozen(ctx)
		if err != nil {
			return cr, err
		}
		if frozenErr != nil {
			return cr, *frozenErr
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	cr.Status = "rejected"
	if approve {
		cr.Status = "approved"
	}
	cr.DecidedBy = &actorID
	cr.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return cr, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChangeRequest(ctx, tx, cr); err != nil {
		return cr, err
	}
	if err := e.Events.Append(ctx, tx, "change."+cr.Status, cr.ReportID, "change_request", cr.ID, actorID, events.EventPayload{}); err != nil {
		return cr, err
	}
	if err := tx.Commit(); err != nil {
		return cr, err
	}
	return cr, nil
}

// MarkChangeImplemented records the time an approved change request was
// applied. Applying a change is itself a change, so the freeze gate is
// consulted here too.
func (e Engine) MarkChangeImplemented(ctx context.Context, id, actorID string) (domain.ChangeRequest, error) {
	cr, err := e.Repo.GetChangeRequest(ctx, id)
	if err != nil {
		return cr, err
	}
	if cr.Status != "approved" {
		return cr, fmt.Errorf("change request %s is %s, only approved changes can be implemented", cr.ID, cr.Status)
	}
	if cr.ImplementedAt != nil {
		return cr, fmt.Errorf("change request %s already implemented at %s", cr.ID, *cr.ImplementedAt)
	}
	frozenErr, err := e.frozen(ctx)
	if err != nil {
		return cr, err
	}
	if frozenErr != nil {
		return cr, *frozenErr
	}
	now := e.now().UTC().Format(time.RFC3339)
	cr.ImplementedAt = &now
	cr.UpdatedAt = now
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return cr, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChangeRequest(ctx, tx, cr); err != nil {
		return cr, err
	}
	if err := e.Events.Append(ctx, tx, "change.implemented", cr.ReportID, "change_request", cr.ID, actorID, events.EventPayload{
		"implemented_at": now,
	}); err != nil {
		return cr, err
	}
	if err := tx.Commit(); err != nil {
		return cr, err
	}
	return cr, nil
}

// ReadinessReport is the advisory go/no-go composition for a release
// decision. Quality is reported but deliberately not enforced by
// Transition; the approval gate is.
type ReadinessReport struct {
	ReportID string                  `json:"report_id"`
	Stage    string                  `json:"stage"`
	Approval approval.WorkflowStatus `json:"approval"`
	Frozen   bool                    `json:"frozen"`
	Quality  quality.Summary         `json:"quality"`
	Go       bool                    `json:"go"`
}

// ReleaseReadiness composes the three gates for callers deciding a
// publish.
func (e Engine) ReleaseReadiness(ctx context.Context, reportID string) (ReadinessReport, error) {
	rep, err := e.Repo.GetReport(ctx, reportID)
	if err != nil {
		return ReadinessReport{}, err
	}
	steps, err := e.Repo.ListApprovalSteps(ctx, reportID)
	if err != nil {
		return ReadinessReport{}, err
	}
	checks, err := e.Repo.ListQualityChecks(ctx, reportID)
	if err != nil {
		return ReadinessReport{}, err
	}
	frozenErr, err := e.frozen(ctx)
	if err != nil {
		return ReadinessReport{}, err
	}
	rr := ReadinessReport{
		ReportID: rep.ID,
		Stage:    rep.Stage,
		Approval: approval.Aggregate(steps),
		Frozen:   frozenErr != nil,
		Quality:  quality.Summarize(checks),
	}
	rr.Go = rr.Approval == approval.WorkflowApproved && !rr.Frozen && rr.Quality.AllPassed
	return rr, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringOrNone(s *string) string {
	if s == nil {
		return "(none)"
	}
	return *s
}
