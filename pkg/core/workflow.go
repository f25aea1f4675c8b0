package core

import (
	"strings"
	"time"
)

// WorkflowKind identifies a bulk mutation workflow. It is a closed set;
// every switch over it must handle all three kinds.
type WorkflowKind string

const (
	// KindDeleteByPattern deletes every key matching a pattern.
	KindDeleteByPattern WorkflowKind = "deleteByPattern"

	// KindTTLNormalize rewrites matched keys with a normalized TTL.
	KindTTLNormalize WorkflowKind = "ttlNormalize"

	// KindWarmupSet writes a literal list of entries into the backend.
	KindWarmupSet WorkflowKind = "warmupSet"
)

// Valid reports whether the kind is one of the built-in workflow kinds.
func (k WorkflowKind) Valid() bool {
	switch k {
	case KindDeleteByPattern, KindTTLNormalize, KindWarmupSet:
		return true
	}
	return false
}

// BuiltinTemplatePrefix marks immutable built-in template ids.
const BuiltinTemplatePrefix = "builtin-"

// MaxWorkflowItems is the hard console-wide cap on preview items a single
// workflow run may process. Policy packs may lower it, never raise it.
const MaxWorkflowItems = 500

// WorkflowTemplate is a named, parameterized workflow definition.
// Built-in templates (ids prefixed "builtin-") are immutable; user
// templates may be updated and deleted.
type WorkflowTemplate struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Kind WorkflowKind `json:"kind"`

	// Parameters are kind-specific defaults, merged with per-run overrides.
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// RequiresApprovalOnProd demands an explicit guardrail confirmation
	// before running against a prod connection.
	RequiresApprovalOnProd bool `json:"requires_approval_on_prod"`

	// SupportsDryRun indicates the template can preview without mutating.
	SupportsDryRun bool `json:"supports_dry_run"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Builtin reports whether the template is an immutable built-in.
func (t *WorkflowTemplate) Builtin() bool {
	return strings.HasPrefix(t.ID, BuiltinTemplatePrefix)
}

// PreviewAction is the mutation a preview item maps to at execution time.
type PreviewAction string

const (
	ActionDelete   PreviewAction = "delete"
	ActionSetTTL   PreviewAction = "setTtl"
	ActionSetValue PreviewAction = "setValue"
)

// PreviewItem is one target of a workflow run.
type PreviewItem struct {
	// Key is the cache key this item operates on.
	Key string `json:"key"`

	// Action is the mutation applied at execution time.
	Action PreviewAction `json:"action"`

	// Value is the literal value for setValue items.
	Value string `json:"value,omitempty"`

	// TTLSeconds is the TTL applied by setValue and setTtl items.
	TTLSeconds int `json:"ttl_seconds,omitempty"`

	// CurrentTTLSeconds reports the key's TTL before normalization,
	// populated by ttlNormalize previews.
	CurrentTTLSeconds int `json:"current_ttl_seconds,omitempty"`
}

// WorkflowPreview is a bounded, paginated list of workflow targets.
// Building a preview never mutates the backend.
type WorkflowPreview struct {
	Kind WorkflowKind `json:"kind"`

	// EstimatedCount is the number of items visible on this page; the
	// true total may be larger when Truncated is set.
	EstimatedCount int `json:"estimated_count"`

	// Truncated reports that the backend had more items than fit the page.
	Truncated bool `json:"truncated"`

	// NextCursor continues pagination: an opaque backend token for
	// pattern kinds, a stringified offset for warmupSet.
	NextCursor string `json:"next_cursor,omitempty"`

	Items []PreviewItem `json:"items"`
}

// ExecutionStatus is the workflow execution state machine:
// pending -> running -> success | error | aborted.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "pending"
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
	ExecutionAborted ExecutionStatus = "aborted"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionError, ExecutionAborted:
		return true
	}
	return false
}

// StepStatus classifies one processed preview item.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"

	// StepSkipped records a no-op, such as a ttlNormalize target whose
	// value disappeared between preview and execution.
	StepSkipped StepStatus = "skipped"
)

// WorkflowStepResult records the outcome of one processed preview item,
// in processing order.
type WorkflowStepResult struct {
	// Step is the key or synthetic label this result describes.
	Step string `json:"step"`

	Status StepStatus `json:"status"`

	// Attempts is the number of executor attempts the step consumed.
	Attempts int `json:"attempts"`

	DurationMs int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

// WorkflowExecutionRecord is the persisted record of one workflow run.
type WorkflowExecutionRecord struct {
	ID string `json:"id"`

	// TemplateID references a stored or built-in template. Inline runs
	// carry a synthetic "inline-" id; those templates are never persisted.
	TemplateID string `json:"template_id,omitempty"`

	Name         string       `json:"name"`
	Kind         WorkflowKind `json:"kind"`
	ConnectionID string       `json:"connection_id"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Status ExecutionStatus `json:"status"`

	// RetryCount aggregates retries across steps: the sum over steps of
	// max(0, attempts-1).
	RetryCount int `json:"retry_count"`

	DryRun     bool                   `json:"dry_run"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	StepResults []WorkflowStepResult `json:"step_results"`

	// CheckpointToken is the index of the first unprocessed preview item,
	// present only on non-success terminal states with items remaining.
	CheckpointToken string `json:"checkpoint_token,omitempty"`

	// PolicyPackID and ScheduleWindowID record the governance context the
	// run was approved under, when one applied.
	PolicyPackID     string `json:"policy_pack_id,omitempty"`
	ScheduleWindowID string `json:"schedule_window_id,omitempty"`

	// ResumedFromExecutionID links a resumed run to its predecessor.
	ResumedFromExecutionID string `json:"resumed_from_execution_id,omitempty"`
}

// Resumable reports whether the execution can be resumed: a non-success
// record carrying a checkpoint.
func (r *WorkflowExecutionRecord) Resumable() bool {
	return r.Status != ExecutionSuccess && r.CheckpointToken != ""
}
