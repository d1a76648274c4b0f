package domain

type Report struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Type              string  `json:"type"`
	OwnerID           string  `json:"owner_id"`
	Stage             string  `json:"stage,omitempty" enum:"draft,review,approved,published,deprecated,archived,retired"`
	PreviousStage     *string `json:"previous_stage,omitempty"`
	StageChangedAt    *string `json:"stage_changed_at,omitempty" format:"date-time"`
	StageChangedBy    *string `json:"stage_changed_by,omitempty"`
	ApprovalStatus    string  `json:"approval_status" enum:"pending,in_progress,approved,rejected"`
	CurrentVersion    *string `json:"current_version,omitempty"`
	DeprecationReason *string `json:"deprecation_reason,omitempty"`
	ReplacementID     *string `json:"replacement_id,omitempty"`
	RetirementDate    *string `json:"retirement_date,omitempty" format:"date"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type StageTransition struct {
	ID        int64   `json:"id"`
	ReportID  string  `json:"report_id"`
	FromStage *string `json:"from_stage,omitempty"`
	ToStage   string  `json:"to_stage"`
	ActorID   string  `json:"actor_id"`
	Reason    string  `json:"reason,omitempty"`
	TS        string  `json:"ts" format:"date-time"`
}

type ApprovalStep struct {
	ID         string  `json:"id"`
	ReportID   string  `json:"report_id"`
	Position   int     `json:"position"`
	ApproverID string  `json:"approver_id"`
	Required   bool    `json:"required"`
	Status     string  `json:"status" enum:"pending,approved,rejected"`
	Comment    string  `json:"comment,omitempty"`
	DecidedAt  *string `json:"decided_at,omitempty" format:"date-time"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Version struct {
	ID         string `json:"id"`
	ReportID   string `json:"report_id"`
	Major      uint64 `json:"major"`
	Minor      uint64 `json:"minor"`
	Patch      uint64 `json:"patch"`
	Semver     string `json:"semver"`
	ChangeType string `json:"change_type" enum:"major,minor,patch,hotfix,enhancement,refactor"`
	Current    bool   `json:"current"`
	Notes      string `json:"notes,omitempty"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ChangeRequest struct {
	ID            string  `json:"id"`
	ReportID      string  `json:"report_id"`
	ChangeType    string  `json:"change_type" enum:"major,minor,patch,hotfix,enhancement,refactor"`
	Description   string  `json:"description"`
	RequestedBy   string  `json:"requested_by"`
	Status        string  `json:"status" enum:"pending,approved,rejected"`
	DecidedBy     *string `json:"decided_by,omitempty"`
	ScheduledFor  *string `json:"scheduled_for,omitempty" format:"date-time"`
	ImplementedAt *string `json:"implemented_at,omitempty" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type QualityCheck struct {
	ID        string  `json:"id"`
	ReportID  string  `json:"report_id"`
	Name      string  `json:"name"`
	Passed    bool    `json:"passed"`
	Severity  string  `json:"severity" enum:"info,warning,critical"`
	Score     float64 `json:"score"`
	Detail    string  `json:"detail,omitempty"`
	CheckedBy string  `json:"checked_by"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type FreezeWindow struct {
	Active    bool   `json:"active"`
	Until     string `json:"until,omitempty" format:"date-time"`
	UpdatedBy string `json:"updated_by,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type Schedule struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ReportID     *string  `json:"report_id,omitempty"`
	Frequency    string   `json:"frequency" enum:"daily,weekly,monthly,custom_cron"`
	IntervalDays *int     `json:"interval_days,omitempty"`
	DaysOfWeek   []string `json:"days_of_week,omitempty"`
	DayOfMonth   *int     `json:"day_of_month,omitempty"`
	CronExpr     string   `json:"cron_expr,omitempty"`
	StartDate    *string  `json:"start_date,omitempty" format:"date"`
	EndDate      *string  `json:"end_date,omitempty" format:"date"`
	Status       string   `json:"status" enum:"active,paused,disabled,completed"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ReportID   string `json:"report_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
