package model

import (
	"time"

	"github.com/sells-group/outreach-cli/internal/audit"
)

// Request is the raw input to one pipeline run.
type Request struct {
	Objective   string  `json:"objective"`
	Intent      string  `json:"intent"`
	Urgency     Urgency `json:"urgency"`
	Location    string  `json:"location"`
	TargetEmail string  `json:"target_email"`
	TargetPhone string  `json:"target_phone"`
	Campaign    string  `json:"campaign"`
}

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning          RunStatus = "running"
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	RunStatusRejected         RunStatus = "rejected"
	RunStatusDispatched       RunStatus = "dispatched"
	RunStatusComplete         RunStatus = "complete"
	RunStatusFailed           RunStatus = "failed"
)

// StageStatus distinguishes a stage that worked from one that fell back to
// its default value and one that failed outright.
type StageStatus string

const (
	StageStatusOK       StageStatus = "ok"
	StageStatusFallback StageStatus = "fallback"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
)

// StageResult holds the typed outcome of one pipeline stage.
type StageResult struct {
	Name     string      `json:"name"`
	Status   StageStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Error    string      `json:"error,omitempty"`
}

// DraftStatus is the generation outcome of a content draft.
type DraftStatus string

const (
	DraftGenerated DraftStatus = "generated"
	DraftFailed    DraftStatus = "failed"
)

// ContentDraft is channel-specific generated content awaiting approval and
// dispatch. Created by exactly one generator.
type ContentDraft struct {
	Channel Channel     `json:"channel"`
	Subject string      `json:"subject,omitempty"`
	Body    string      `json:"body"`
	Status  DraftStatus `json:"status"`
	Reason  string      `json:"reason,omitempty"`
}

// DispatchStatus is the delivery outcome after approval.
type DispatchStatus string

const (
	DispatchSent    DispatchStatus = "sent"
	DispatchFailed  DispatchStatus = "failed"
	DispatchSkipped DispatchStatus = "skipped"
)

// DispatchResult records what happened when approved content was delivered.
type DispatchResult struct {
	Status      DispatchStatus `json:"status"`
	Detail      string         `json:"detail,omitempty"`
	TrackingID  string         `json:"tracking_id,omitempty"`
	ProviderRef string         `json:"provider_ref,omitempty"`
	FollowUps   int            `json:"follow_ups,omitempty"`
}

// ApprovalDecision is the external signal that resumes a suspended run.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Actor    string `json:"actor,omitempty"`
	Note     string `json:"note,omitempty"`
}

// PipelineRun is the full persisted state of one pipeline execution,
// including everything needed to resume it at the approval gate.
type PipelineRun struct {
	ID              string          `json:"id"`
	Request         Request         `json:"request"`
	Status          RunStatus       `json:"status"`
	Classification  string          `json:"classification,omitempty"`
	ICP             *ICPProfile     `json:"icp,omitempty"`
	Channel         Channel         `json:"channel,omitempty"`
	Draft           *ContentDraft   `json:"draft,omitempty"`
	Dispatch        *DispatchResult `json:"dispatch,omitempty"`
	Stages          []StageResult   `json:"stages,omitempty"`
	Audit           audit.Trail     `json:"audit_trail,omitempty"`
	ExecutionStatus string          `json:"execution_status,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Terminal reports whether the run has reached a state the coordinator will
// never advance past.
func (r *PipelineRun) Terminal() bool {
	switch r.Status {
	case RunStatusRejected, RunStatusDispatched, RunStatusComplete, RunStatusFailed:
		return true
	}
	return false
}
