package core

import (
	"context"
	"time"
)

// Capabilities reports what a cache backend supports.
type Capabilities struct {
	// SupportsTTL reports whether the backend supports per-key expiry.
	SupportsTTL bool `json:"supports_ttl"`

	// SupportsPatternSearch reports whether the backend can scan by
	// pattern server-side.
	SupportsPatternSearch bool `json:"supports_pattern_search"`

	// ServerVersion is the backend-reported version string.
	ServerVersion string `json:"server_version,omitempty"`
}

// ValueRecord is a fetched cache value. A nil *ValueRecord means the key
// is absent.
type ValueRecord struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	TTLSeconds int    `json:"ttl_seconds"`
	SizeBytes  int64  `json:"size_bytes"`
}

// KeySearchResult is one page of a pattern search.
type KeySearchResult struct {
	Keys []string `json:"keys"`

	// NextCursor continues the scan; empty when exhausted.
	NextCursor string `json:"next_cursor,omitempty"`

	// Truncated reports that more keys matched than this page holds.
	Truncated bool `json:"truncated"`
}

// CacheGateway talks to a cache backend on behalf of a profile. All
// methods fail with a retryable CONNECTION_FAILED failure on transport
// errors. Implementations live outside the core.
type CacheGateway interface {
	// TestConnection verifies the backend is reachable with the secret.
	TestConnection(ctx context.Context, profile *ConnectionProfile, secret string) error

	// GetCapabilities reports the backend's capabilities.
	GetCapabilities(ctx context.Context, profile *ConnectionProfile, secret string) (*Capabilities, error)

	// ListKeys returns a page of keys without filtering.
	ListKeys(ctx context.Context, profile *ConnectionProfile, secret string, cursor string, limit int) (*KeySearchResult, error)

	// SearchKeys returns a page of keys matching a pattern.
	SearchKeys(ctx context.Context, profile *ConnectionProfile, secret string, pattern string, cursor string, limit int) (*KeySearchResult, error)

	// GetValue fetches a key. A nil record with nil error means absent.
	GetValue(ctx context.Context, profile *ConnectionProfile, secret string, key string) (*ValueRecord, error)

	// SetValue writes a key with an optional TTL (0 means no expiry).
	SetValue(ctx context.Context, profile *ConnectionProfile, secret string, key, value string, ttlSeconds int) error

	// DeleteKey removes a key. Deleting an absent key is not an error.
	DeleteKey(ctx context.Context, profile *ConnectionProfile, secret string, key string) error
}

// ConnectionRepository persists connection profiles.
type ConnectionRepository interface {
	List(ctx context.Context) ([]*ConnectionProfile, error)
	FindByID(ctx context.Context, id string) (*ConnectionProfile, error)
	Save(ctx context.Context, profile *ConnectionProfile) error
	Delete(ctx context.Context, id string) error
}

// SecretStore keeps per-connection secrets. GetSecret failing with a
// VALIDATION_ERROR means "no secret stored".
type SecretStore interface {
	SaveSecret(ctx context.Context, connectionID, secret string) error
	GetSecret(ctx context.Context, connectionID string) (string, error)
	DeleteSecret(ctx context.Context, connectionID string) error
}

// WorkflowTemplateRepository persists user workflow templates. Built-in
// templates never pass through it.
type WorkflowTemplateRepository interface {
	List(ctx context.Context) ([]*WorkflowTemplate, error)
	FindByID(ctx context.Context, id string) (*WorkflowTemplate, error)
	Save(ctx context.Context, template *WorkflowTemplate) error
	Delete(ctx context.Context, id string) error
}

// ExecutionFilter narrows an execution list query.
type ExecutionFilter struct {
	ConnectionID string
	TemplateID   string

	// Limit bounds the result count; zero means the store default.
	Limit int
}

// WorkflowExecutionRepository persists workflow execution records,
// listed by start time descending.
type WorkflowExecutionRepository interface {
	List(ctx context.Context, filter ExecutionFilter) ([]*WorkflowExecutionRecord, error)
	FindByID(ctx context.Context, id string) (*WorkflowExecutionRecord, error)
	Save(ctx context.Context, record *WorkflowExecutionRecord) error
}

// GovernancePolicyPackRepository persists policy packs.
type GovernancePolicyPackRepository interface {
	List(ctx context.Context) ([]*GovernancePolicyPack, error)
	FindByID(ctx context.Context, id string) (*GovernancePolicyPack, error)
	Save(ctx context.Context, pack *GovernancePolicyPack) error
	Delete(ctx context.Context, id string) error
}

// GovernanceAssignmentRepository maps connections to at most one pack.
type GovernanceAssignmentRepository interface {
	List(ctx context.Context) ([]*GovernanceAssignment, error)

	// FindByConnection returns nil with no error when the connection has
	// no assignment.
	FindByConnection(ctx context.Context, connectionID string) (*GovernanceAssignment, error)
	Assign(ctx context.Context, assignment *GovernanceAssignment) error
	Unassign(ctx context.Context, connectionID string) error
}

// RetentionRepository persists retention policies and executes purges.
type RetentionRepository interface {
	ListPolicies(ctx context.Context) ([]*RetentionPolicy, error)
	FindPolicy(ctx context.Context, dataset Dataset) (*RetentionPolicy, error)
	SavePolicy(ctx context.Context, policy *RetentionPolicy) error

	// Purge deletes rows older than the cutoff. A zero olderThan derives
	// the cutoff from the dataset's retention policy. DryRun reports what
	// would be deleted without deleting.
	Purge(ctx context.Context, dataset Dataset, olderThan time.Time, dryRun bool) (*PurgeResult, error)

	// GetStorageSummary reports usage for every dataset.
	GetStorageSummary(ctx context.Context) ([]*StorageDatasetSummary, error)
}

// AlertRepository persists raised alert events.
type AlertRepository interface {
	Append(ctx context.Context, event *AlertEvent) error
	List(ctx context.Context, limit int) ([]*AlertEvent, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	CountUnread(ctx context.Context) (int, error)
}

// AlertRuleRepository persists alert rules.
type AlertRuleRepository interface {
	List(ctx context.Context) ([]*AlertRule, error)
	FindByID(ctx context.Context, id string) (*AlertRule, error)
	Save(ctx context.Context, rule *AlertRule) error
	Delete(ctx context.Context, id string) error
}

// HistoryRepository persists the operation timeline.
type HistoryRepository interface {
	Append(ctx context.Context, event *HistoryEvent) error

	// Range returns events within [from, to], newest first, capped at
	// limit (zero means the store default). An empty connectionID matches
	// all connections.
	Range(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*HistoryEvent, error)
}

// ObservabilityRepository persists operation snapshots. Range follows
// the same contract as HistoryRepository.Range.
type ObservabilityRepository interface {
	Append(ctx context.Context, snapshot *OperationSnapshot) error
	Range(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*OperationSnapshot, error)
}

// IncidentBundleRepository persists metadata of completed exports.
type IncidentBundleRepository interface {
	Save(ctx context.Context, bundle *IncidentBundle) error
	List(ctx context.Context) ([]*IncidentBundle, error)
}
