package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("ws-test")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if err := e.Repo.UpsertWorkspaceConfig(context.Background(), cfg.Workspace.ID, cfg); err != nil {
		t.Fatalf("seed workspace config: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestReportLifecycleOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":    "Quarterly revenue",
		"type":     "operational",
		"owner_id": "owner-1",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register report: %d %s", res.StatusCode, string(data))
	}
	var rep domain.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}

	// registration seeds the workflow but stage starts pre-draft
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transitions", map[string]any{
		"to": "published",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 invalid transition, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition envelope, got %s", string(data))
	}

	for _, stage := range []string{"draft", "review"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transitions", map[string]any{
			"to": stage,
		}, actorHeader)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("to %s: %d %s", stage, res.StatusCode, string(data))
		}
	}

	// approval gate blocks until the seeded steps are approved
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transitions", map[string]any{
		"to": "approved",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected approval_required, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+rep.ID+"/workflow", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get workflow: %d %s", res.StatusCode, string(data))
	}
	var wf struct {
		Status string                `json:"status"`
		Steps  []domain.ApprovalStep `json:"steps"`
	}
	if err := json.Unmarshal(data, &wf); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	if len(wf.Steps) == 0 {
		t.Fatal("expected seeded approval steps")
	}
	for _, step := range wf.Steps {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflow/steps/"+step.ID+"/approve", map[string]any{
			"comment": "ok",
		}, actorHeader)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("approve step: %d %s", res.StatusCode, string(data))
		}
	}

	for _, stage := range []string{"approved", "published"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transitions", map[string]any{
			"to": stage,
		}, actorHeader)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("to %s: %d %s", stage, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+rep.ID+"/transitions", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(data))
	}
	var history []domain.StageTransition
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(history))
	}
}

func TestFreezeEndpointBlocksTransitions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":    "Frozen report",
		"owner_id": "owner-1",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %s", res.StatusCode, string(data))
	}
	var rep domain.Report
	_ = json.Unmarshal(data, &rep)

	until := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/freeze", map[string]any{
		"active": true,
		"until":  until,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set freeze: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transitions", map[string]any{
		"to": "draft",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected change_frozen, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "change_frozen" {
		t.Fatalf("expected change_frozen envelope, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/freeze", map[string]any{
		"active": false,
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("lift freeze: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/transitions", map[string]any{
		"to": "draft",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("transition after lift: %d %s", res.StatusCode, string(data))
	}
}

func TestScheduleEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedules", map[string]any{
		"name":         "weekly-ops",
		"frequency":    "weekly",
		"days_of_week": []string{"monday"},
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create schedule: %d %s", res.StatusCode, string(data))
	}
	var sched domain.Schedule
	_ = json.Unmarshal(data, &sched)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/schedules", map[string]any{
		"name":      "broken",
		"frequency": "weekly",
	}, actorHeader)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected malformed_schedule 400, got %d %s", res.StatusCode, string(data))
	}

	// 2025-06-16 is a Monday
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedules/due?date=2025-06-16", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("due: %d %s", res.StatusCode, string(data))
	}
	var due []engine.DueSchedule
	if err := json.Unmarshal(data, &due); err != nil {
		t.Fatalf("unmarshal due: %v", err)
	}
	if len(due) != 1 || due[0].Schedule.ID != sched.ID {
		t.Fatalf("expected one due schedule, got %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedules/due?date=2025-06-17", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("due tuesday: %d %s", res.StatusCode, string(data))
	}
	due = nil
	_ = json.Unmarshal(data, &due)
	if len(due) != 0 {
		t.Fatalf("expected nothing due on tuesday, got %s", string(data))
	}
}

func TestVersionEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports", map[string]any{
		"title":    "Versioned",
		"owner_id": "owner-1",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %s", res.StatusCode, string(data))
	}
	var rep domain.Report
	_ = json.Unmarshal(data, &rep)

	for _, v := range []string{"1.0.0", "1.1.0"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/reports/"+rep.ID+"/versions", map[string]any{
			"semver":      v,
			"change_type": "minor",
		}, actorHeader)
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add version %s: %d %s", v, res.StatusCode, string(data))
		}
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/"+rep.ID+"/versions/current", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("current: %d %s", res.StatusCode, string(data))
	}
	var cur domain.Version
	if err := json.Unmarshal(data, &cur); err != nil {
		t.Fatalf("unmarshal current: %v", err)
	}
	if cur.Semver != "1.1.0" || !cur.Current {
		t.Fatalf("current = %s (current=%v), want 1.1.0", cur.Semver, cur.Current)
	}
}
