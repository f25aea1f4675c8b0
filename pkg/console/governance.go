package console

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/governance"
)

// PolicyPackRequest carries the user-editable fields of a governance
// policy pack.
type PolicyPackRequest struct {
	Name              string                 `json:"name"`
	Environments      []core.Environment     `json:"environments"`
	MaxWorkflowItems  int                    `json:"max_workflow_items"`
	MaxRetryAttempts  int                    `json:"max_retry_attempts"`
	SchedulingEnabled bool                   `json:"scheduling_enabled"`
	ExecutionWindows  []core.ExecutionWindow `json:"execution_windows,omitempty"`
	GuardRego         string                 `json:"guard_rego,omitempty"`
	Enabled           bool                   `json:"enabled"`
}

func (r *PolicyPackRequest) validate() error {
	if r.Name == "" {
		return core.NewValidationFailure("policy pack name is required", nil)
	}
	if len(r.Environments) == 0 {
		return core.NewValidationFailure("policy pack must permit at least one environment", nil)
	}
	for _, env := range r.Environments {
		if !env.Valid() {
			return core.NewValidationFailure(fmt.Sprintf("unknown environment %q", env), nil)
		}
	}
	if r.MaxWorkflowItems < 0 || r.MaxWorkflowItems > core.MaxWorkflowItems {
		return core.NewValidationFailure(fmt.Sprintf("maxWorkflowItems must be between 0 and %d", core.MaxWorkflowItems), nil)
	}
	if r.SchedulingEnabled && len(r.ExecutionWindows) == 0 {
		return core.NewValidationFailure("scheduling requires at least one execution window", nil)
	}
	for _, window := range r.ExecutionWindows {
		if err := governance.ValidateWindow(window); err != nil {
			return err
		}
	}
	if r.GuardRego != "" {
		if err := governance.CompileGuard(r.GuardRego); err != nil {
			return err
		}
	}
	return nil
}

func (r *PolicyPackRequest) apply(pack *core.GovernancePolicyPack) {
	pack.Name = r.Name
	pack.Environments = r.Environments
	pack.MaxWorkflowItems = r.MaxWorkflowItems
	pack.MaxRetryAttempts = r.MaxRetryAttempts
	pack.SchedulingEnabled = r.SchedulingEnabled
	pack.ExecutionWindows = r.ExecutionWindows
	pack.GuardRego = r.GuardRego
	pack.Enabled = r.Enabled
}

// ListPolicyPacks returns every governance policy pack.
func (s *Service) ListPolicyPacks(ctx context.Context) ([]*core.GovernancePolicyPack, error) {
	return s.store.PolicyPacks().List(ctx)
}

// GetPolicyPack returns one policy pack by id.
func (s *Service) GetPolicyPack(ctx context.Context, id string) (*core.GovernancePolicyPack, error) {
	return s.store.PolicyPacks().FindByID(ctx, id)
}

// CreatePolicyPack validates and persists a new policy pack, including
// window IDs for any execution windows missing one.
func (s *Service) CreatePolicyPack(ctx context.Context, req PolicyPackRequest) (*core.GovernancePolicyPack, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	pack := &core.GovernancePolicyPack{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(pack)
	assignWindowIDs(pack)
	if err := s.store.PolicyPacks().Save(ctx, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// UpdatePolicyPack applies the request to a stored policy pack.
func (s *Service) UpdatePolicyPack(ctx context.Context, id string, req PolicyPackRequest) (*core.GovernancePolicyPack, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	pack, err := s.store.PolicyPacks().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(pack)
	assignWindowIDs(pack)
	pack.UpdatedAt = s.now()
	if err := s.store.PolicyPacks().Save(ctx, pack); err != nil {
		return nil, err
	}
	return pack, nil
}

// DeletePolicyPack removes a policy pack and every assignment pointing
// at it.
func (s *Service) DeletePolicyPack(ctx context.Context, id string) error {
	return s.store.PolicyPacks().Delete(ctx, id)
}

// AssignPolicyPack binds a connection to a policy pack, replacing any
// existing assignment.
func (s *Service) AssignPolicyPack(ctx context.Context, connectionID, packID string) (*core.GovernanceAssignment, error) {
	if _, err := s.store.Connections().FindByID(ctx, connectionID); err != nil {
		return nil, err
	}
	if _, err := s.store.PolicyPacks().FindByID(ctx, packID); err != nil {
		return nil, err
	}
	assignment := &core.GovernanceAssignment{
		ConnectionID: connectionID,
		PolicyPackID: packID,
		AssignedAt:   s.now(),
	}
	if err := s.store.Assignments().Assign(ctx, assignment); err != nil {
		return nil, err
	}
	s.logger.WithConnectionID(connectionID).WithField("policy_pack", packID).Info("Policy pack assigned")
	return assignment, nil
}

// UnassignPolicyPack removes a connection's policy pack assignment.
// Unassigning a connection with no assignment is a no-op.
func (s *Service) UnassignPolicyPack(ctx context.Context, connectionID string) error {
	return s.store.Assignments().Unassign(ctx, connectionID)
}

// ListAssignments returns every connection-to-pack assignment.
func (s *Service) ListAssignments(ctx context.Context) ([]*core.GovernanceAssignment, error) {
	return s.store.Assignments().List(ctx)
}

func assignWindowIDs(pack *core.GovernancePolicyPack) {
	for i := range pack.ExecutionWindows {
		if pack.ExecutionWindows[i].ID == "" {
			pack.ExecutionWindows[i].ID = uuid.New().String()
		}
	}
}
