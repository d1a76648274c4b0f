package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reportline/internal/approval"
	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/engine"
	"reportline/internal/lifecycle"
	"reportline/internal/migrate"
	"reportline/internal/repo"
	"reportline/internal/schedule"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("ws-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.UpsertWorkspaceConfig(ctx, "ws-1", cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func registerReport(t *testing.T, env testEnv, reportType string) string {
	t.Helper()
	rep, err := env.Engine.RegisterReport(env.Ctx, engine.RegisterReportOptions{
		Title:   "Monthly revenue",
		Type:    reportType,
		OwnerID: "owner-1",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("register report: %v", err)
	}
	return rep.ID
}

func transition(t *testing.T, env testEnv, id string, to lifecycle.Stage) {
	t.Helper()
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: id, To: to, ActorID: "tester"}); err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
}

func approveAll(t *testing.T, env testEnv, id string) {
	t.Helper()
	_, steps, err := env.Engine.WorkflowStatus(env.Ctx, id)
	if err != nil {
		t.Fatalf("workflow status: %v", err)
	}
	for _, s := range steps {
		if _, err := env.Engine.ApproveStep(env.Ctx, s.ID, s.ApproverID, "lgtm"); err != nil {
			t.Fatalf("approve step %d: %v", s.Position, err)
		}
	}
}

func TestFirstTransitionMustBeDraft(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")

	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: id, To: lifecycle.StagePublished, ActorID: "tester"})
	var ite lifecycle.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	rep, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: id, To: lifecycle.StageDraft, ActorID: "tester"})
	if err != nil {
		t.Fatalf("to draft: %v", err)
	}
	if rep.Stage != "draft" {
		t.Fatalf("stage = %s, want draft", rep.Stage)
	}
	if rep.PreviousStage != nil {
		t.Fatalf("previous stage = %v, want nil", *rep.PreviousStage)
	}
	if rep.StageChangedBy == nil || *rep.StageChangedBy != "tester" {
		t.Fatalf("stage_changed_by not recorded")
	}
}

func TestApprovalGateOnApproved(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "financial")
	transition(t, env, id, lifecycle.StageDraft)
	transition(t, env, id, lifecycle.StageReview)

	// workflow still pending, entering approved must be refused
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: id, To: lifecycle.StageApproved, ActorID: "tester"})
	var are approval.ApprovalRequiredError
	if !errors.As(err, &are) {
		t.Fatalf("expected ApprovalRequiredError, got %v", err)
	}

	approveAll(t, env, id)
	rep, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: id, To: lifecycle.StageApproved, ActorID: "tester"})
	if err != nil {
		t.Fatalf("to approved after workflow: %v", err)
	}
	if rep.ApprovalStatus != string(approval.WorkflowApproved) {
		t.Fatalf("approval status = %s, want approved", rep.ApprovalStatus)
	}
}

func TestRejectionIsSticky(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "financial")
	transition(t, env, id, lifecycle.StageDraft)
	transition(t, env, id, lifecycle.StageReview)

	_, steps, err := env.Engine.WorkflowStatus(env.Ctx, id)
	if err != nil || len(steps) < 2 {
		t.Fatalf("want seeded steps, got %d (%v)", len(steps), err)
	}
	if _, err := env.Engine.RejectStep(env.Ctx, steps[0].ID, steps[0].ApproverID, "numbers off"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	// approving the remaining steps must not unstick the rejection
	for _, s := range steps[1:] {
		if _, err := env.Engine.ApproveStep(env.Ctx, s.ID, s.ApproverID, ""); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	status, _, err := env.Engine.WorkflowStatus(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if status != approval.WorkflowRejected {
		t.Fatalf("status = %s, want rejected", status)
	}
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: id, To: lifecycle.StageApproved, ActorID: "tester"})
	var are approval.ApprovalRequiredError
	if !errors.As(err, &are) {
		t.Fatalf("expected ApprovalRequiredError, got %v", err)
	}
}

func TestStepDecisionIsFinal(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	_, steps, err := env.Engine.WorkflowStatus(env.Ctx, id)
	if err != nil || len(steps) == 0 {
		t.Fatalf("want seeded steps: %v", err)
	}
	if _, err := env.Engine.ApproveStep(env.Ctx, steps[0].ID, steps[0].ApproverID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RejectStep(env.Ctx, steps[0].ID, steps[0].ApproverID, "changed my mind"); err == nil {
		t.Fatal("expected error re-deciding a decided step")
	}
}

func TestVersionLedgerKeepsOneCurrent(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")

	for _, v := range []struct{ semver, ct string }{
		{"1.0.0", "major"},
		{"1.1.0", "minor"},
		{"1.1.1", "patch"},
	} {
		if _, err := env.Engine.AddVersion(env.Ctx, engine.AddVersionOptions{
			ReportID: id, Semver: v.semver, ChangeType: v.ct, ActorID: "tester",
		}); err != nil {
			t.Fatalf("add %s: %v", v.semver, err)
		}
	}
	versions, err := env.Engine.Repo.ListVersions(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 3 {
		t.Fatalf("ledger has %d entries, want 3", len(versions))
	}
	current := 0
	for _, v := range versions {
		if v.Current {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("%d current entries, want exactly 1", current)
	}
	cv, err := env.Engine.Repo.CurrentVersion(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if cv.Semver != "1.1.1" {
		t.Fatalf("current = %s, want 1.1.1", cv.Semver)
	}
	rep, err := env.Engine.Repo.GetReport(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rep.CurrentVersion == nil || *rep.CurrentVersion != "1.1.1" {
		t.Fatalf("report pointer not updated")
	}
}

func TestAddVersionRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	if _, err := env.Engine.AddVersion(env.Ctx, engine.AddVersionOptions{ReportID: id, Semver: "not-a-version", ChangeType: "minor"}); err == nil {
		t.Fatal("expected semver error")
	}
	if _, err := env.Engine.AddVersion(env.Ctx, engine.AddVersionOptions{ReportID: id, Semver: "1.0.0", ChangeType: "cosmetic"}); err == nil {
		t.Fatal("expected change type error")
	}
}

func TestFreezeBlocksTransitions(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")

	until := env.Engine.Now().Add(48 * time.Hour)
	if _, err := env.Engine.SetFreeze(env.Ctx, true, until, "release-mgr"); err != nil {
		t.Fatalf("activate freeze: %v", err)
	}
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{ReportID: id, To: lifecycle.StageDraft, ActorID: "tester"})
	var cfe engine.ChangeFrozenError
	if !errors.As(err, &cfe) {
		t.Fatalf("expected ChangeFrozenError, got %v", err)
	}
	_, err = env.Engine.CreateChangeRequest(env.Ctx, engine.CreateChangeRequestOptions{
		ReportID: id, ChangeType: "minor", Description: "tweak layout", ActorID: "tester",
	})
	if !errors.As(err, &cfe) {
		t.Fatalf("expected ChangeFrozenError for change request, got %v", err)
	}

	// an expired window no longer blocks even while the flag is still set
	env.Engine.Now = func() time.Time { return until.Add(time.Minute) }
	transition(t, env, id, lifecycle.StageDraft)
}

func TestDeactivatedFreezeDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	until := env.Engine.Now().Add(48 * time.Hour)
	if _, err := env.Engine.SetFreeze(env.Ctx, true, until, "release-mgr"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetFreeze(env.Ctx, false, time.Time{}, "release-mgr"); err != nil {
		t.Fatal(err)
	}
	frozen, _, err := env.Engine.Frozen(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if frozen {
		t.Fatal("deactivated freeze still reported frozen")
	}
	transition(t, env, id, lifecycle.StageDraft)
}

func TestDeprecationMetadata(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	replacement := registerReport(t, env, "operational")
	transition(t, env, id, lifecycle.StageDraft)
	transition(t, env, id, lifecycle.StageReview)
	approveAll(t, env, id)
	transition(t, env, id, lifecycle.StageApproved)
	transition(t, env, id, lifecycle.StagePublished)

	rep, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		ReportID: id,
		To:       lifecycle.StageDeprecated,
		ActorID:  "tester",
		Deprecation: &engine.DeprecationDetails{
			Reason:         "superseded",
			ReplacementID:  replacement,
			RetirementDate: "2025-12-31",
		},
	})
	if err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	if rep.DeprecationReason == nil || *rep.DeprecationReason != "superseded" {
		t.Fatal("deprecation reason not stored")
	}
	if rep.ReplacementID == nil || *rep.ReplacementID != replacement {
		t.Fatal("replacement not stored")
	}
	if rep.RetirementDate == nil || *rep.RetirementDate != "2025-12-31" {
		t.Fatal("retirement date not stored")
	}
}

func TestQualityReportsButDoesNotBlock(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	transition(t, env, id, lifecycle.StageDraft)
	transition(t, env, id, lifecycle.StageReview)
	approveAll(t, env, id)
	transition(t, env, id, lifecycle.StageApproved)

	if _, err := env.Engine.RecordQualityCheck(env.Ctx, engine.RecordQualityCheckOptions{
		ReportID: id, Name: "freshness", Passed: false, Severity: "critical", Score: 0.2, ActorID: "bot",
	}); err != nil {
		t.Fatal(err)
	}
	// a failing check is advisory; publish proceeds
	transition(t, env, id, lifecycle.StagePublished)

	rr, err := env.Engine.ReleaseReadiness(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rr.Quality.AllPassed {
		t.Fatal("summary should report the failing check")
	}
	if rr.Go {
		t.Fatal("readiness should be no-go with failing quality")
	}
	if rr.Approval != approval.WorkflowApproved {
		t.Fatalf("approval = %s, want approved", rr.Approval)
	}
}

func TestDueTodaySweep(t *testing.T) {
	env := newTestEnv(t)
	interval := 3
	dom := 15
	daily, err := env.Engine.CreateSchedule(env.Ctx, engine.CreateScheduleOptions{
		Name: "daily-sales", Frequency: "daily", IntervalDays: &interval, StartDate: "2025-06-10", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create daily: %v", err)
	}
	weekly, err := env.Engine.CreateSchedule(env.Ctx, engine.CreateScheduleOptions{
		Name: "weekly-ops", Frequency: "weekly", DaysOfWeek: []string{"monday", "wednesday"}, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create weekly: %v", err)
	}
	monthly, err := env.Engine.CreateSchedule(env.Ctx, engine.CreateScheduleOptions{
		Name: "monthly-close", Frequency: "monthly", DayOfMonth: &dom, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create monthly: %v", err)
	}

	// 2025-06-16 is a Monday, 6 days after the daily anchor
	due, err := env.Engine.DueToday(env.Ctx, time.Date(2025, 6, 16, 8, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, d := range due {
		got[d.Schedule.ID] = true
	}
	if !got[daily.ID] || !got[weekly.ID] {
		t.Fatalf("daily and weekly should fire, got %v", got)
	}
	if got[monthly.ID] {
		t.Fatal("monthly should not fire on the 16th")
	}

	// a paused schedule drops out of the sweep
	if _, err := env.Engine.SetScheduleStatus(env.Ctx, weekly.ID, schedule.StatusPaused, "tester"); err != nil {
		t.Fatal(err)
	}
	due, err = env.Engine.DueToday(env.Ctx, time.Date(2025, 6, 16, 8, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range due {
		if d.Schedule.ID == weekly.ID {
			t.Fatal("paused schedule still due")
		}
	}
}

func TestScheduleStatusMoves(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.CreateSchedule(env.Ctx, engine.CreateScheduleOptions{
		Name: "nightly", Frequency: "daily", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetScheduleStatus(env.Ctx, s.ID, schedule.StatusDisabled, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SetScheduleStatus(env.Ctx, s.ID, schedule.StatusActive, "tester"); err == nil {
		t.Fatal("disabled schedule must stay disabled")
	}
}

func TestCreateScheduleRejectsMalformedSpec(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateSchedule(env.Ctx, engine.CreateScheduleOptions{
		Name: "bad", Frequency: "weekly", ActorID: "tester",
	})
	var mse schedule.MalformedScheduleError
	if !errors.As(err, &mse) {
		t.Fatalf("expected MalformedScheduleError, got %v", err)
	}
}

func TestChangeRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	cr, err := env.Engine.CreateChangeRequest(env.Ctx, engine.CreateChangeRequestOptions{
		ReportID: id, ChangeType: "minor", Description: "add region filter", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	cr, err = env.Engine.DecideChangeRequest(env.Ctx, cr.ID, true, "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	if cr.Status != "approved" {
		t.Fatalf("status = %s, want approved", cr.Status)
	}
	if _, err := env.Engine.DecideChangeRequest(env.Ctx, cr.ID, false, "owner-1"); err == nil {
		t.Fatal("expected error re-deciding a decided change request")
	}
}

func TestEventsAppendedWithMutations(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	transition(t, env, id, lifecycle.StageDraft)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, id, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	if !types["report.registered"] || !types["report.transitioned"] {
		t.Fatalf("missing audit events, got %v", types)
	}
}

func TestCurrentVersionEnforcesSingleCurrent(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")

	// empty ledger
	if _, err := env.Engine.Repo.CurrentVersion(env.Ctx, id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("empty ledger: got %v, want ErrNotFound", err)
	}

	for _, sv := range []string{"1.0.0", "1.1.0"} {
		if _, err := env.Engine.AddVersion(env.Ctx, engine.AddVersionOptions{
			ReportID: id, Semver: sv, ChangeType: "minor", ActorID: "tester",
		}); err != nil {
			t.Fatalf("add %s: %v", sv, err)
		}
	}

	// two rows flagged current
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE versions SET current=1 WHERE report_id=?`, id); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.Repo.CurrentVersion(env.Ctx, id)
	var vce repo.VersionConsistencyError
	if !errors.As(err, &vce) {
		t.Fatalf("two current rows: got %v, want VersionConsistencyError", err)
	}
	if vce.Count != 2 {
		t.Fatalf("count = %d, want 2", vce.Count)
	}

	// no row flagged current
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE versions SET current=0 WHERE report_id=?`, id); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Repo.CurrentVersion(env.Ctx, id)
	if !errors.As(err, &vce) {
		t.Fatalf("zero current rows: got %v, want VersionConsistencyError", err)
	}
	if vce.Count != 0 {
		t.Fatalf("count = %d, want 0", vce.Count)
	}
}

func TestMarkChangeImplemented(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	cr, err := env.Engine.CreateChangeRequest(env.Ctx, engine.CreateChangeRequestOptions{
		ReportID: id, ChangeType: "patch", Description: "fix totals column", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	// pending requests cannot be implemented
	if _, err := env.Engine.MarkChangeImplemented(env.Ctx, cr.ID, "tester"); err == nil {
		t.Fatal("expected error implementing a pending change request")
	}

	if _, err := env.Engine.DecideChangeRequest(env.Ctx, cr.ID, true, "owner-1"); err != nil {
		t.Fatal(err)
	}
	cr, err = env.Engine.MarkChangeImplemented(env.Ctx, cr.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if cr.ImplementedAt == nil || *cr.ImplementedAt == "" {
		t.Fatal("implemented_at not recorded")
	}
	if _, err := env.Engine.MarkChangeImplemented(env.Ctx, cr.ID, "tester"); err == nil {
		t.Fatal("expected error implementing twice")
	}
}

func TestMarkChangeImplementedRespectsFreeze(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	cr, err := env.Engine.CreateChangeRequest(env.Ctx, engine.CreateChangeRequestOptions{
		ReportID: id, ChangeType: "patch", Description: "fix totals column", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DecideChangeRequest(env.Ctx, cr.ID, true, "owner-1"); err != nil {
		t.Fatal(err)
	}
	until := env.Engine.Now().Add(48 * time.Hour)
	if _, err := env.Engine.SetFreeze(env.Ctx, true, until, "admin"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.MarkChangeImplemented(env.Ctx, cr.ID, "tester")
	var cfe engine.ChangeFrozenError
	if !errors.As(err, &cfe) {
		t.Fatalf("expected ChangeFrozenError, got %v", err)
	}
}

func TestStageGuardRejectsStaleWrite(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	transition(t, env, id, lifecycle.StageDraft)

	rep, err := env.Engine.Repo.GetReport(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	rep.Stage = "review"
	// the row holds draft, not the stage this write was decided against
	err = env.Engine.Repo.UpdateReportStage(env.Ctx, tx, rep, "published")
	if !errors.Is(err, repo.ErrStaleStage) {
		t.Fatalf("got %v, want ErrStaleStage", err)
	}
}

func TestConcurrentTransitionsElectOneWinner(t *testing.T) {
	env := newTestEnv(t)
	id := registerReport(t, env, "operational")
	transition(t, env, id, lifecycle.StageDraft)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
				ReportID: id, To: lifecycle.StageReview, ActorID: "tester",
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var ite lifecycle.InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("loser got %v, want InvalidTransitionError", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	rep, err := env.Engine.Repo.GetReport(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Stage != "review" {
		t.Fatalf("stage = %s, want review", rep.Stage)
	}
	history, err := env.Engine.Repo.ListStageTransitions(env.Ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
}
