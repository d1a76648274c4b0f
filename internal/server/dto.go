package server

// Request payloads

type RegisterReportRequest struct {
	ID               *string `json:"id,omitempty"`
	Title            string  `json:"title"`
	Type             string  `json:"type,omitempty" enum:"operational,financial,compliance,audit"`
	OwnerID          string  `json:"owner_id"`
	ApprovalTemplate *string `json:"approval_template,omitempty"`
}

type DeprecationRequest struct {
	Reason         string `json:"reason,omitempty"`
	ReplacementID  string `json:"replacement_id,omitempty"`
	RetirementDate string `json:"retirement_date,omitempty" format:"date"`
}

type TransitionRequest struct {
	To          string              `json:"to" enum:"draft,review,approved,published,deprecated,archived,retired"`
	Reason      string              `json:"reason,omitempty"`
	Deprecation *DeprecationRequest `json:"deprecation,omitempty"`
}

type AddApprovalStepRequest struct {
	Position   int    `json:"position" minimum:"1"`
	ApproverID string `json:"approver_id"`
	Required   bool   `json:"required"`
}

type DecideStepRequest struct {
	Comment string `json:"comment,omitempty"`
}

type AddVersionRequest struct {
	Semver     string `json:"semver"`
	ChangeType string `json:"change_type" enum:"major,minor,patch,hotfix,enhancement,refactor"`
	Notes      string `json:"notes,omitempty"`
}

type QualityCheckRequest struct {
	Name     string  `json:"name"`
	Passed   bool    `json:"passed"`
	Severity string  `json:"severity,omitempty" enum:"info,warning,critical"`
	Score    float64 `json:"score,omitempty" minimum:"0" maximum:"1"`
	Detail   string  `json:"detail,omitempty"`
}

type SetFreezeRequest struct {
	Active bool    `json:"active"`
	Until  *string `json:"until,omitempty" format:"date-time"`
}

type CreateChangeRequestRequest struct {
	ChangeType   string  `json:"change_type" enum:"major,minor,patch,hotfix,enhancement,refactor"`
	Description  string  `json:"description"`
	ScheduledFor *string `json:"scheduled_for,omitempty" format:"date-time"`
}

type DecideChangeRequestRequest struct {
	Approve bool `json:"approve"`
}

type ScheduleRequest struct {
	ID           *string  `json:"id,omitempty"`
	Name         string   `json:"name"`
	ReportID     *string  `json:"report_id,omitempty"`
	Frequency    string   `json:"frequency" enum:"daily,weekly,monthly,custom_cron"`
	IntervalDays *int     `json:"interval_days,omitempty"`
	DaysOfWeek   []string `json:"days_of_week,omitempty"`
	DayOfMonth   *int     `json:"day_of_month,omitempty"`
	CronExpr     string   `json:"cron_expr,omitempty"`
	StartDate    *string  `json:"start_date,omitempty" format:"date"`
	EndDate      *string  `json:"end_date,omitempty" format:"date"`
}

type SetScheduleStatusRequest struct {
	Status string `json:"status" enum:"active,paused,disabled,completed"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
	// Key is returned exactly once at creation; only its hash is stored.
	Key string `json:"key"`
}

type WhoAmIResponse struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type StatusResponse struct {
	WorkspaceID string         `json:"workspace_id"`
	StageCounts map[string]int `json:"stage_counts"`
	Frozen      bool           `json:"frozen"`
	FreezeUntil string         `json:"freeze_until,omitempty" format:"date-time"`
	LastEventID int64          `json:"last_event_id"`
}
