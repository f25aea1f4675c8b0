package core

import (
	"time"
)

// ExportJobStatus is the incident export job state machine:
// pending -> running -> success | failed
// pending -> cancelled (cancel before start)
// running -> cancelling -> cancelled (cooperative, at stage boundaries)
// cancelled | failed -> pending (resume restarts the whole job).
type ExportJobStatus string

const (
	ExportPending    ExportJobStatus = "pending"
	ExportRunning    ExportJobStatus = "running"
	ExportCancelling ExportJobStatus = "cancelling"
	ExportCancelled  ExportJobStatus = "cancelled"
	ExportFailed     ExportJobStatus = "failed"
	ExportSuccess    ExportJobStatus = "success"
)

// Terminal reports whether the status is final.
func (s ExportJobStatus) Terminal() bool {
	switch s {
	case ExportCancelled, ExportFailed, ExportSuccess:
		return true
	}
	return false
}

// ExportStage tracks job progress through the export pipeline.
type ExportStage string

const (
	StageQueued      ExportStage = "queued"
	StageCollecting  ExportStage = "collecting"
	StageSerializing ExportStage = "serializing"
	StageWriting     ExportStage = "writing"
	StagePersisting  ExportStage = "persisting"
	StageCompleted   ExportStage = "completed"
	StageCancelled   ExportStage = "cancelled"
	StageFailed      ExportStage = "failed"
)

// StageProgress maps each pipeline stage to its reported completion
// percentage.
func StageProgress(stage ExportStage) int {
	switch stage {
	case StageCollecting:
		return 10
	case StageSerializing:
		return 45
	case StageWriting:
		return 70
	case StagePersisting:
		return 90
	case StageCompleted:
		return 100
	default:
		return 0
	}
}

// RedactionProfile selects how much free text an export preserves.
type RedactionProfile string

const (
	// RedactionNone exports records verbatim.
	RedactionNone RedactionProfile = "none"

	// RedactionStrict strips free-text detail and diff fields from
	// timeline and diagnostic events and truncates alert messages.
	RedactionStrict RedactionProfile = "strict"
)

// IncidentExportRequest scopes an incident export.
type IncidentExportRequest struct {
	// From and To bound the collected time range.
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	// ConnectionIDs restricts collection to the given connections when
	// non-empty.
	ConnectionIDs []string `json:"connection_ids,omitempty"`

	// Redaction selects the redaction profile. Empty means none.
	Redaction RedactionProfile `json:"redaction,omitempty"`

	// DestinationDir is where the artifact file is written.
	DestinationDir string `json:"destination_dir"`
}

// IncidentExportJob tracks one asynchronous export through its lifecycle.
type IncidentExportJob struct {
	ID     string          `json:"id"`
	Status ExportJobStatus `json:"status"`
	Stage  ExportStage     `json:"stage"`

	// ProgressPercent follows StageProgress for the current stage.
	ProgressPercent int `json:"progress_percent"`

	Request IncidentExportRequest `json:"request"`

	// DestinationPath is the artifact file path once writing starts.
	DestinationPath string `json:"destination_path,omitempty"`

	// ChecksumPreview is a hash over counts and identifying parameters
	// only, letting callers detect drift before committing to an export.
	ChecksumPreview string `json:"checksum_preview,omitempty"`

	// Manifest lists included record ids per section once collection ran.
	Manifest *ExportManifest `json:"manifest,omitempty"`

	// Bundle is the persisted bundle metadata on success.
	Bundle *IncidentBundle `json:"bundle,omitempty"`

	// ErrorMessage records a background failure; it never propagates to
	// the caller of Start.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ExportManifest lists the record ids included in each artifact section.
type ExportManifest struct {
	TimelineIDs   []string `json:"timeline_ids"`
	LogIDs        []string `json:"log_ids"`
	DiagnosticIDs []string `json:"diagnostic_ids"`
	MetricIDs     []string `json:"metric_ids"`

	// Truncated reports that at least one section hit the collection cap.
	Truncated bool `json:"truncated"`
}

// IncidentBundle is the persisted metadata of a completed export.
type IncidentBundle struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	SizeBytes int64     `json:"size_bytes"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	CreatedAt time.Time `json:"created_at"`
}
