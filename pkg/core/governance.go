package core

import (
	"time"
)

// ExecutionWindow is a recurring weekday and time-of-day range during
// which governed workflows may run. Windows are matched in UTC; a window
// wraps past midnight when EndTime < StartTime.
type ExecutionWindow struct {
	ID string `json:"id"`

	// Weekdays lists permitted days, 0=Sunday through 6=Saturday (UTC).
	Weekdays []time.Weekday `json:"weekdays"`

	// StartTime and EndTime are "HH:MM" UTC time-of-day bounds, inclusive.
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	// Timezone is an IANA zone name recorded for display purposes only;
	// it does not shift window matching, which is always UTC.
	Timezone string `json:"timezone,omitempty"`
}

// GovernancePolicyPack is a named bundle of governance limits assignable
// to connections.
type GovernancePolicyPack struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Environments lists the tiers this pack permits execution against.
	Environments []Environment `json:"environments"`

	// MaxWorkflowItems caps how many preview items a governed run may
	// process. Zero means no pack-level cap.
	MaxWorkflowItems int `json:"max_workflow_items"`

	// MaxRetryAttempts caps the retry policy of governed runs. Zero means
	// no pack-level cap.
	MaxRetryAttempts int `json:"max_retry_attempts"`

	// SchedulingEnabled requires "now" to fall inside an execution window.
	SchedulingEnabled bool              `json:"scheduling_enabled"`
	ExecutionWindows  []ExecutionWindow `json:"execution_windows,omitempty"`

	// GuardRego is an optional Rego rule evaluated against the execution
	// request; any deny result blocks the run.
	GuardRego string `json:"guard_rego,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllowsEnvironment reports whether the pack permits the given tier.
func (p *GovernancePolicyPack) AllowsEnvironment(env Environment) bool {
	for _, e := range p.Environments {
		if e == env {
			return true
		}
	}
	return false
}

// GovernanceAssignment maps a connection to at most one policy pack.
// Absence of an assignment means unrestricted execution.
type GovernanceAssignment struct {
	ConnectionID string    `json:"connection_id"`
	PolicyPackID string    `json:"policy_pack_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}
