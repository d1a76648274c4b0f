package reportlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Reportline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Report represents the API report model (partial).
type Report struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Type           string  `json:"type"`
	OwnerID        string  `json:"owner_id"`
	Stage          string  `json:"stage"`
	ApprovalStatus string  `json:"approval_status"`
	CurrentVersion *string `json:"current_version,omitempty"`
}

// ApprovalStep represents one sign-off step.
type ApprovalStep struct {
	ID         string `json:"id"`
	ReportID   string `json:"report_id"`
	Position   int    `json:"position"`
	ApproverID string `json:"approver_id"`
	Required   bool   `json:"required"`
	Status     string `json:"status"`
	Comment    string `json:"comment,omitempty"`
}

// Workflow is the aggregate workflow view.
type Workflow struct {
	Status string         `json:"status"`
	Steps  []ApprovalStep `json:"steps"`
}

// Version represents a ledger entry.
type Version struct {
	ID         string `json:"id"`
	ReportID   string `json:"report_id"`
	Semver     string `json:"semver"`
	ChangeType string `json:"change_type"`
	Current    bool   `json:"current"`
	Notes      string `json:"notes,omitempty"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at"`
}

// FreezeWindow is the global change-freeze state.
type FreezeWindow struct {
	Active    bool   `json:"active"`
	Until     string `json:"until,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Readiness is the advisory release decision view.
type Readiness struct {
	ReportID string `json:"report_id"`
	Stage    string `json:"stage"`
	Approval string `json:"approval"`
	Frozen   bool   `json:"frozen"`
	Go       bool   `json:"go"`
}

// Event represents a log entry. Payload is the stored JSON document.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ReportID   string `json:"report_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// Schedule represents the API schedule model (partial).
type Schedule struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ReportID  *string `json:"report_id,omitempty"`
	Frequency string  `json:"frequency"`
	Status    string  `json:"status"`
}

// DueSchedule pairs a schedule with the date it is due on.
type DueSchedule struct {
	Schedule Schedule `json:"schedule"`
	DueOn    string   `json:"due_on"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RegisterReport registers a report in the pre-draft state.
func (c *Client) RegisterReport(ctx context.Context, title, reportType, ownerID string) (Report, error) {
	body := map[string]any{
		"title":    title,
		"type":     reportType,
		"owner_id": ownerID,
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, "v0/reports", body, &resp)
	return resp, err
}

// GetReport fetches a report by id.
func (c *Client) GetReport(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, c.reportPath(id, ""), nil, &resp)
	return resp, err
}

// Transition moves a report to another lifecycle stage.
func (c *Client) Transition(ctx context.Context, reportID, to, reason string) (Report, error) {
	body := map[string]any{
		"to":     to,
		"reason": reason,
	}
	var resp Report
	err := c.do(ctx, http.MethodPost, c.reportPath(reportID, "transitions"), body, &resp)
	return resp, err
}

// Workflow returns the approval workflow status with its steps.
func (c *Client) Workflow(ctx context.Context, reportID string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, c.reportPath(reportID, "workflow"), nil, &resp)
	return resp, err
}

// ApproveStep approves a workflow step.
func (c *Client) ApproveStep(ctx context.Context, stepID, comment string) (ApprovalStep, error) {
	return c.decideStep(ctx, stepID, "approve", comment)
}

// RejectStep rejects a workflow step. The rejection is final for the step
// and pins the workflow rejected.
func (c *Client) RejectStep(ctx context.Context, stepID, comment string) (ApprovalStep, error) {
	return c.decideStep(ctx, stepID, "reject", comment)
}

func (c *Client) decideStep(ctx context.Context, stepID, action, comment string) (ApprovalStep, error) {
	body := map[string]any{"comment": comment}
	var resp ApprovalStep
	endpoint := fmt.Sprintf("v0/workflow/steps/%s/%s", url.PathEscape(stepID), action)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddVersion appends a ledger entry for a report.
func (c *Client) AddVersion(ctx context.Context, reportID, semver, changeType, notes string) (Version, error) {
	body := map[string]any{
		"semver":      semver,
		"change_type": changeType,
		"notes":       notes,
	}
	var resp Version
	err := c.do(ctx, http.MethodPost, c.reportPath(reportID, "versions"), body, &resp)
	return resp, err
}

// CurrentVersion returns the single current ledger entry.
func (c *Client) CurrentVersion(ctx context.Context, reportID string) (Version, error) {
	var resp Version
	err := c.do(ctx, http.MethodGet, c.reportPath(reportID, "versions/current"), nil, &resp)
	return resp, err
}

// Freeze returns the freeze window.
func (c *Client) Freeze(ctx context.Context) (FreezeWindow, error) {
	var resp FreezeWindow
	err := c.do(ctx, http.MethodGet, "v0/freeze", nil, &resp)
	return resp, err
}

// SetFreeze activates or lifts the change freeze.
func (c *Client) SetFreeze(ctx context.Context, active bool, until string) (FreezeWindow, error) {
	body := map[string]any{
		"active": active,
		"until":  until,
	}
	var resp FreezeWindow
	err := c.do(ctx, http.MethodPut, "v0/freeze", body, &resp)
	return resp, err
}

// Readiness returns the advisory release readiness for a report.
func (c *Client) Readiness(ctx context.Context, reportID string) (Readiness, error) {
	var resp Readiness
	err := c.do(ctx, http.MethodGet, c.reportPath(reportID, "readiness"), nil, &resp)
	return resp, err
}

// DueSchedules returns the schedules due on a date (YYYY-MM-DD; empty for
// today).
func (c *Client) DueSchedules(ctx context.Context, date string) ([]DueSchedule, error) {
	endpoint := "v0/schedules/due"
	if date != "" {
		endpoint = fmt.Sprintf("%s?date=%s", endpoint, url.QueryEscape(date))
	}
	var resp []DueSchedule
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) reportPath(reportID, p string) string {
	base := fmt.Sprintf("v0/reports/%s", url.PathEscape(reportID))
	if p == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
