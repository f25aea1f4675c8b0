package console

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/workflow"
)

// TemplateRequest carries the user-editable fields of a workflow
// template.
type TemplateRequest struct {
	Name                   string                 `json:"name"`
	Kind                   core.WorkflowKind      `json:"kind"`
	Parameters             map[string]interface{} `json:"parameters,omitempty"`
	RequiresApprovalOnProd bool                   `json:"requires_approval_on_prod"`
	SupportsDryRun         bool                   `json:"supports_dry_run"`
}

func (r *TemplateRequest) validate() error {
	if r.Name == "" {
		return core.NewValidationFailure("template name is required", nil)
	}
	if !r.Kind.Valid() {
		return core.NewValidationFailure(fmt.Sprintf("unknown workflow kind %q", r.Kind), nil)
	}
	return nil
}

// ListTemplates returns the built-in templates followed by every stored
// user template.
func (s *Service) ListTemplates(ctx context.Context) ([]*core.WorkflowTemplate, error) {
	stored, err := s.store.Templates().List(ctx)
	if err != nil {
		return nil, err
	}
	return append(workflow.BuiltinTemplates(), stored...), nil
}

// GetTemplate returns a built-in or stored template by id.
func (s *Service) GetTemplate(ctx context.Context, id string) (*core.WorkflowTemplate, error) {
	if builtin := workflow.FindBuiltinTemplate(id); builtin != nil {
		return builtin, nil
	}
	return s.store.Templates().FindByID(ctx, id)
}

// CreateTemplate persists a new user workflow template.
func (s *Service) CreateTemplate(ctx context.Context, req TemplateRequest) (*core.WorkflowTemplate, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	template := &core.WorkflowTemplate{
		ID:                     uuid.New().String(),
		Name:                   req.Name,
		Kind:                   req.Kind,
		Parameters:             req.Parameters,
		RequiresApprovalOnProd: req.RequiresApprovalOnProd,
		SupportsDryRun:         req.SupportsDryRun,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.store.Templates().Save(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

// UpdateTemplate applies the request to a stored template. Built-in
// templates are immutable.
func (s *Service) UpdateTemplate(ctx context.Context, id string, req TemplateRequest) (*core.WorkflowTemplate, error) {
	if workflow.FindBuiltinTemplate(id) != nil {
		return nil, core.NewValidationFailure(fmt.Sprintf("built-in template %s cannot be modified", id), nil)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	template, err := s.store.Templates().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	template.Name = req.Name
	template.Kind = req.Kind
	template.Parameters = req.Parameters
	template.RequiresApprovalOnProd = req.RequiresApprovalOnProd
	template.SupportsDryRun = req.SupportsDryRun
	template.UpdatedAt = s.now()
	if err := s.store.Templates().Save(ctx, template); err != nil {
		return nil, err
	}
	return template, nil
}

// DeleteTemplate removes a stored template. Built-in templates are
// immutable.
func (s *Service) DeleteTemplate(ctx context.Context, id string) error {
	if workflow.FindBuiltinTemplate(id) != nil {
		return core.NewValidationFailure(fmt.Sprintf("built-in template %s cannot be deleted", id), nil)
	}
	return s.store.Templates().Delete(ctx, id)
}

// PreviewWorkflow builds a read-only preview of the targets a workflow
// run would touch.
func (s *Service) PreviewWorkflow(ctx context.Context, connectionID string, req workflow.ExecuteRequest, page workflow.PageRequest) (*core.WorkflowPreview, error) {
	profile, secret, err := s.profileAndSecret(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	template, err := workflow.ResolveTemplate(ctx, s.store.Templates(), req.TemplateID, req.InlineTemplate)
	if err != nil {
		return nil, err
	}
	params := workflow.MergeParameters(template.Parameters, req.ParameterOverrides)
	return s.preview.Build(ctx, profile, secret, template.Kind, params, page)
}

// ExecuteWorkflow runs a workflow against a connection.
func (s *Service) ExecuteWorkflow(ctx context.Context, connectionID string, req workflow.ExecuteRequest) (*core.WorkflowExecutionRecord, error) {
	profile, secret, err := s.profileAndSecret(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.coordinator.Execute(ctx, profile, secret, req)
}

// ResumeWorkflow continues an aborted or failed run from its checkpoint.
func (s *Service) ResumeWorkflow(ctx context.Context, executionID string, guardrailConfirmed bool) (*core.WorkflowExecutionRecord, error) {
	prior, err := s.store.Executions().FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	profile, secret, err := s.profileAndSecret(ctx, prior.ConnectionID)
	if err != nil {
		return nil, err
	}
	return s.coordinator.Resume(ctx, profile, secret, executionID, guardrailConfirmed)
}

// RerunWorkflow starts a fresh run with the parameters of a prior
// execution.
func (s *Service) RerunWorkflow(ctx context.Context, executionID string, guardrailConfirmed bool) (*core.WorkflowExecutionRecord, error) {
	prior, err := s.store.Executions().FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	profile, secret, err := s.profileAndSecret(ctx, prior.ConnectionID)
	if err != nil {
		return nil, err
	}
	return s.coordinator.Rerun(ctx, profile, secret, executionID, guardrailConfirmed)
}

// ListExecutions returns execution records matching the filter, newest
// first.
func (s *Service) ListExecutions(ctx context.Context, filter core.ExecutionFilter) ([]*core.WorkflowExecutionRecord, error) {
	return s.store.Executions().List(ctx, filter)
}

// GetExecution returns one execution record by id.
func (s *Service) GetExecution(ctx context.Context, id string) (*core.WorkflowExecutionRecord, error) {
	return s.store.Executions().FindByID(ctx, id)
}
