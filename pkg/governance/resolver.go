// Package governance gates workflow execution by environment, time-of-day
// schedule, and optional Rego guard rules carried on policy packs.
package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// Resolution is the governance context a run was approved under.
type Resolution struct {
	// Pack is the applicable policy pack, nil when execution is
	// unrestricted.
	Pack *core.GovernancePolicyPack

	// ActiveWindowID is the execution window that matched "now", set only
	// when the pack has scheduling enabled.
	ActiveWindowID string
}

// ItemLimit caps how many preview items a governed run may process:
// the minimum of the hard console cap (500) and the pack cap.
func (r *Resolution) ItemLimit() int {
	limit := core.MaxWorkflowItems
	if r != nil && r.Pack != nil && r.Pack.MaxWorkflowItems > 0 && r.Pack.MaxWorkflowItems < limit {
		limit = r.Pack.MaxWorkflowItems
	}
	return limit
}

// CapRetryPolicy applies the pack's retry attempt cap to a resolved
// retry policy.
func (r *Resolution) CapRetryPolicy(policy core.RetryPolicy) core.RetryPolicy {
	if r != nil && r.Pack != nil && r.Pack.MaxRetryAttempts > 0 && policy.MaxAttempts > r.Pack.MaxRetryAttempts {
		policy.MaxAttempts = r.Pack.MaxRetryAttempts
	}
	return policy
}

// Resolver evaluates the governance policy assigned to a connection.
type Resolver struct {
	packs       core.GovernancePolicyPackRepository
	assignments core.GovernanceAssignmentRepository
	guards      *guardCache
	logger      zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewResolver creates a governance resolver.
func NewResolver(packs core.GovernancePolicyPackRepository, assignments core.GovernanceAssignmentRepository, logger zerolog.Logger) *Resolver {
	return &Resolver{
		packs:       packs,
		assignments: assignments,
		guards:      newGuardCache(),
		logger:      logger.With().Str("component", "governance").Logger(),
		now:         time.Now,
	}
}

// Resolve looks up the policy pack assigned to the profile's connection
// and validates the requested action against it. No assignment, or an
// assignment to a disabled pack, means unrestricted execution.
func (r *Resolver) Resolve(ctx context.Context, profile *core.ConnectionProfile, action string) (*Resolution, error) {
	return r.ResolveWithItemCount(ctx, profile, action, 0)
}

// ResolveWithItemCount behaves like Resolve and additionally feeds the
// expected item count into the pack's Rego guard, when one is set.
func (r *Resolver) ResolveWithItemCount(ctx context.Context, profile *core.ConnectionProfile, action string, itemCount int) (*Resolution, error) {
	assignment, err := r.assignments.FindByConnection(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return &Resolution{}, nil
	}

	pack, err := r.packs.FindByID(ctx, assignment.PolicyPackID)
	if err != nil {
		if core.IsCode(err, core.CodeValidation) {
			// Assignment points at a deleted pack; treat as unrestricted.
			return &Resolution{}, nil
		}
		return nil, err
	}
	if !pack.Enabled {
		return &Resolution{}, nil
	}

	if !pack.AllowsEnvironment(profile.Environment) {
		return nil, core.NewUnauthorizedFailure(
			fmt.Sprintf("policy pack %q does not permit environment %s", pack.Name, profile.Environment), nil).
			WithConnection(profile.ID).
			WithOperation(action).
			WithDetail("policy_pack_id", pack.ID).
			WithDetail("environment", string(profile.Environment))
	}

	if pack.GuardRego != "" {
		if err := r.guards.evaluate(ctx, pack, profile, action, itemCount); err != nil {
			return nil, err
		}
	}

	if !pack.SchedulingEnabled {
		return &Resolution{Pack: pack}, nil
	}

	now := r.now().UTC()
	windowID, ok := matchWindow(pack.ExecutionWindows, now)
	if !ok {
		return nil, core.NewUnauthorizedFailure(
			fmt.Sprintf("policy pack %q has no active execution window", pack.Name), nil).
			WithConnection(profile.ID).
			WithOperation(action).
			WithDetail("policy_pack_id", pack.ID).
			WithDetail("weekday", now.Weekday().String()).
			WithDetail("time_utc", now.Format("15:04"))
	}

	return &Resolution{Pack: pack, ActiveWindowID: windowID}, nil
}

// matchWindow scans execution windows for one containing the given UTC
// instant. A window whose end precedes its start wraps past midnight.
func matchWindow(windows []core.ExecutionWindow, now time.Time) (string, bool) {
	minutes := now.Hour()*60 + now.Minute()
	weekday := now.Weekday()

	for _, w := range windows {
		if !weekdayIn(w.Weekdays, weekday) {
			continue
		}
		start, err := parseClock(w.StartTime)
		if err != nil {
			continue
		}
		end, err := parseClock(w.EndTime)
		if err != nil {
			continue
		}

		if end < start {
			// Overnight wrap: the window covers [start, midnight) plus
			// [midnight, end].
			if minutes >= start || minutes <= end {
				return w.ID, true
			}
			continue
		}
		if minutes >= start && minutes <= end {
			return w.ID, true
		}
	}
	return "", false
}

func weekdayIn(days []time.Weekday, day time.Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

// parseClock converts an "HH:MM" string to minutes past midnight.
func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
