package core

import (
	"time"
)

// Environment identifies the deployment tier a connection belongs to.
type Environment string

const (
	EnvironmentDev     Environment = "dev"
	EnvironmentStaging Environment = "staging"
	EnvironmentProd    Environment = "prod"
)

// Valid reports whether the environment is one of the known tiers.
func (e Environment) Valid() bool {
	switch e {
	case EnvironmentDev, EnvironmentStaging, EnvironmentProd:
		return true
	}
	return false
}

// CacheEngine identifies the wire protocol family of a cache backend.
// It is a closed set: adding an engine requires updating every switch
// over this type, which the compiler will point out.
type CacheEngine string

const (
	EngineRedis     CacheEngine = "redis"
	EngineMemcached CacheEngine = "memcached"
	EngineValkey    CacheEngine = "valkey"
)

// Valid reports whether the engine is a known protocol family.
func (e CacheEngine) Valid() bool {
	switch e {
	case EngineRedis, EngineMemcached, EngineValkey:
		return true
	}
	return false
}

// BackoffStrategy selects how retry delays grow between attempts.
type BackoffStrategy string

const (
	// BackoffFixed sleeps the same duration between every attempt.
	BackoffFixed BackoffStrategy = "fixed"

	// BackoffExponential doubles the delay after each failed attempt.
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy controls how the operation executor retries a unit of work.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts"`

	// BackoffMs is the base delay between attempts, in milliseconds.
	BackoffMs int `json:"backoff_ms"`

	// BackoffStrategy selects fixed or exponential delay growth.
	BackoffStrategy BackoffStrategy `json:"backoff_strategy"`

	// AbortOnErrorRate aborts the operation once errorCount/attempts
	// exceeds this ratio, even before MaxAttempts is exhausted. Range [0,1].
	AbortOnErrorRate float64 `json:"abort_on_error_rate"`
}

// Fallback retry policy values used when neither an override nor the
// connection's stored defaults supply them.
const (
	DefaultMaxAttempts      = 1
	DefaultBackoffMs        = 250
	DefaultAbortOnErrorRate = 1.0
)

// ResolveRetryPolicy derives the effective retry policy for a call: the
// explicit override wins, then the connection's stored defaults, then the
// hard-coded fallbacks.
func ResolveRetryPolicy(override *RetryPolicy, profile *ConnectionProfile) RetryPolicy {
	resolved := RetryPolicy{
		MaxAttempts:      DefaultMaxAttempts,
		BackoffMs:        DefaultBackoffMs,
		BackoffStrategy:  BackoffFixed,
		AbortOnErrorRate: DefaultAbortOnErrorRate,
	}
	if profile != nil && profile.DefaultRetryPolicy != nil {
		resolved = mergeRetryPolicy(resolved, *profile.DefaultRetryPolicy)
	}
	if override != nil {
		resolved = mergeRetryPolicy(resolved, *override)
	}
	return resolved
}

func mergeRetryPolicy(base, over RetryPolicy) RetryPolicy {
	if over.MaxAttempts > 0 {
		base.MaxAttempts = over.MaxAttempts
	}
	if over.BackoffMs > 0 {
		base.BackoffMs = over.BackoffMs
	}
	if over.BackoffStrategy != "" {
		base.BackoffStrategy = over.BackoffStrategy
	}
	if over.AbortOnErrorRate > 0 {
		base.AbortOnErrorRate = over.AbortOnErrorRate
	}
	return base
}

// ConnectionProfile describes a configured cache backend connection.
// The core treats profiles as read-mostly input; mutation happens only
// through the console's explicit update operations.
type ConnectionProfile struct {
	// ID is the unique identifier for this connection.
	ID string `json:"id"`

	// Name is the human-readable connection name.
	Name string `json:"name"`

	// Engine is the cache protocol family.
	Engine CacheEngine `json:"engine"`

	// Host and Port locate the backend.
	Host string `json:"host"`
	Port int    `json:"port"`

	// Environment is the deployment tier (dev, staging, prod).
	Environment Environment `json:"environment"`

	// ReadOnly marks the connection as user-requested read-only.
	ReadOnly bool `json:"read_only"`

	// ForceReadOnly marks the connection read-only at the policy level;
	// it cannot be cleared by the connection owner.
	ForceReadOnly bool `json:"force_read_only"`

	// TimeoutMs is the per-operation timeout in milliseconds.
	TimeoutMs int `json:"timeout_ms"`

	// DefaultRetryPolicy is applied when a call supplies no override.
	DefaultRetryPolicy *RetryPolicy `json:"default_retry_policy,omitempty"`

	// Labels are key-value pairs for organizing connections.
	Labels map[string]string `json:"labels,omitempty"`

	// CreatedAt is when the profile was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the profile was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Writable reports whether mutating operations are allowed on the
// connection.
func (p *ConnectionProfile) Writable() bool {
	return !p.ReadOnly && !p.ForceReadOnly
}

// Timeout returns the per-operation deadline, clamped to a 100ms floor.
func (p *ConnectionProfile) Timeout() time.Duration {
	ms := p.TimeoutMs
	if ms < 100 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}

// HistoryStatus classifies a recorded operation outcome.
type HistoryStatus string

const (
	HistoryStatusSuccess HistoryStatus = "success"
	HistoryStatusError   HistoryStatus = "error"

	// HistoryStatusBlocked records an operation denied by a gate
	// (read-only connection, missing guardrail, governance) before it ran.
	HistoryStatusBlocked HistoryStatus = "blocked"
)

// HistoryEvent is one entry in the per-connection operation timeline.
type HistoryEvent struct {
	ID           string        `json:"id"`
	ConnectionID string        `json:"connection_id"`
	Action       string        `json:"action"`
	KeyOrPattern string        `json:"key_or_pattern,omitempty"`
	Status       HistoryStatus `json:"status"`
	Attempts     int           `json:"attempts"`
	DurationMs   int64         `json:"duration_ms"`
	Message      string        `json:"message,omitempty"`

	// Detail carries free-text context, such as a value diff for
	// destructive operations. Stripped under strict export redaction.
	Detail string `json:"detail,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// OperationSnapshot is a persisted rollup of the 60-second rolling
// per-connection operation sample window.
type OperationSnapshot struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`

	// P50Ms and P95Ms are latency percentiles over the window.
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`

	// ErrorRate is errorCount/sampleCount over the window.
	ErrorRate float64 `json:"error_rate"`

	// OpsPerSec is the observed operation throughput.
	OpsPerSec float64 `json:"ops_per_sec"`

	SampleCount int       `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Severity grades alerts and policy decisions.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertMetric selects the quantity an alert rule evaluates.
type AlertMetric string

const (
	MetricErrorRate            AlertMetric = "errorRate"
	MetricLatencyP95Ms         AlertMetric = "latencyP95Ms"
	MetricSlowOperationCount   AlertMetric = "slowOperationCount"
	MetricFailedOperationCount AlertMetric = "failedOperationCount"
)

// Valid reports whether the metric is a known quantity.
func (m AlertMetric) Valid() bool {
	switch m {
	case MetricErrorRate, MetricLatencyP95Ms, MetricSlowOperationCount, MetricFailedOperationCount:
		return true
	}
	return false
}

// AlertRule is a user-defined threshold rule evaluated after operations.
type AlertRule struct {
	ID string `json:"id"`

	// Metric is the quantity to evaluate.
	Metric AlertMetric `json:"metric"`

	// Threshold triggers the rule when the metric value exceeds it.
	Threshold float64 `json:"threshold"`

	// LookbackMinutes bounds the evaluation window ending at "now".
	LookbackMinutes int `json:"lookback_minutes"`

	// Severity is assigned to alerts raised by this rule.
	Severity Severity `json:"severity"`

	// ConnectionID restricts the rule to one connection when set.
	ConnectionID string `json:"connection_id,omitempty"`

	// Environment restricts the rule to one tier when set.
	Environment Environment `json:"environment,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertSource identifies which subsystem raised an alert.
type AlertSource string

const (
	AlertSourceApp           AlertSource = "app"
	AlertSourcePolicy        AlertSource = "policy"
	AlertSourceWorkflow      AlertSource = "workflow"
	AlertSourceObservability AlertSource = "observability"
)

// AlertEvent is a raised alert visible in the console inbox.
type AlertEvent struct {
	ID           string      `json:"id"`
	CreatedAt    time.Time   `json:"created_at"`
	ConnectionID string      `json:"connection_id,omitempty"`
	Environment  Environment `json:"environment,omitempty"`
	Severity     Severity    `json:"severity"`
	Title        string      `json:"title"`
	Message      string      `json:"message"`
	Source       AlertSource `json:"source"`
	Read         bool        `json:"read"`
}

// Dataset names a retained data collection subject to storage budgets.
type Dataset string

const (
	DatasetTimelineEvents         Dataset = "timelineEvents"
	DatasetObservabilitySnapshots Dataset = "observabilitySnapshots"
	DatasetWorkflowHistory        Dataset = "workflowHistory"
	DatasetIncidentArtifacts      Dataset = "incidentArtifacts"
)

// AllDatasets lists every retained dataset.
func AllDatasets() []Dataset {
	return []Dataset{
		DatasetTimelineEvents,
		DatasetObservabilitySnapshots,
		DatasetWorkflowHistory,
		DatasetIncidentArtifacts,
	}
}

// RetentionPolicy bounds one dataset's age and storage footprint.
type RetentionPolicy struct {
	Dataset Dataset `json:"dataset"`

	// RetentionDays is the maximum record age before purge eligibility.
	RetentionDays int `json:"retention_days"`

	// StorageBudgetMb is the dataset's storage budget.
	StorageBudgetMb int `json:"storage_budget_mb"`

	// AutoPurgeOldest purges oldest rows automatically when over budget
	// instead of only alerting.
	AutoPurgeOldest bool `json:"auto_purge_oldest"`

	UpdatedAt time.Time `json:"updated_at"`
}

// StorageDatasetSummary reports one dataset's current storage usage.
// It is read from the retention port, never computed by the core.
type StorageDatasetSummary struct {
	Dataset    Dataset `json:"dataset"`
	RowCount   int64   `json:"row_count"`
	TotalBytes int64   `json:"total_bytes"`
	BudgetBytes int64  `json:"budget_bytes"`
	UsageRatio float64 `json:"usage_ratio"`
	OverBudget bool    `json:"over_budget"`
}

// PurgeResult reports the outcome of a retention purge.
type PurgeResult struct {
	Dataset     Dataset   `json:"dataset"`
	Cutoff      time.Time `json:"cutoff"`
	DeletedRows int64     `json:"deleted_rows"`
	FreedBytes  int64     `json:"freed_bytes"`
	DryRun      bool      `json:"dry_run"`
}
