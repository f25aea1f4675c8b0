package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/executor"
	"github.com/cachedeck/cachedeck/pkg/governance"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// skipped marks a step whose target vanished between preview and
// execution; the work function returns it instead of an error.
type skipMarker struct{}

var skipped = skipMarker{}

// ExecuteRequest describes one workflow run.
type ExecuteRequest struct {
	// TemplateID selects a built-in or stored template. Ignored when
	// InlineTemplate is set.
	TemplateID string

	// InlineTemplate is a one-off template draft, never persisted.
	InlineTemplate *core.WorkflowTemplate

	// ParameterOverrides are merged over the template's defaults.
	ParameterOverrides map[string]interface{}

	// DryRun builds the preview and records the run without mutating.
	DryRun bool

	// GuardrailConfirmed acknowledges the production approval guardrail.
	GuardrailConfirmed bool

	// RetryPolicy overrides the connection's retry defaults for every
	// step of this run.
	RetryPolicy *core.RetryPolicy
}

// Coordinator executes workflow runs: it resolves the template, gates the
// run on writability, the prod guardrail, and governance, then drives
// each preview item through the operation executor.
type Coordinator struct {
	templates  core.WorkflowTemplateRepository
	executions core.WorkflowExecutionRepository
	gateway    core.CacheGateway
	exec       *executor.Executor
	resolver   *governance.Resolver
	preview    *PreviewBuilder
	history    core.HistoryRepository
	alerts     core.AlertRepository
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	logger     *telemetry.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewCoordinator creates a workflow execution coordinator.
func NewCoordinator(
	templates core.WorkflowTemplateRepository,
	executions core.WorkflowExecutionRepository,
	gateway core.CacheGateway,
	exec *executor.Executor,
	resolver *governance.Resolver,
	preview *PreviewBuilder,
	history core.HistoryRepository,
	alerts core.AlertRepository,
	metrics *telemetry.Metrics,
	tracer *telemetry.Tracer,
	logger *telemetry.Logger,
) *Coordinator {
	return &Coordinator{
		templates:  templates,
		executions: executions,
		gateway:    gateway,
		exec:       exec,
		resolver:   resolver,
		preview:    preview,
		history:    history,
		alerts:     alerts,
		metrics:    metrics,
		tracer:     tracer,
		logger:     logger.WithField("component", "workflow-coordinator"),
		now:        time.Now,
	}
}

// Execute runs a workflow against a connection. Dry runs build the
// preview and persist an execution record without touching the backend.
func (c *Coordinator) Execute(ctx context.Context, profile *core.ConnectionProfile, secret string, req ExecuteRequest) (*core.WorkflowExecutionRecord, error) {
	template, err := ResolveTemplate(ctx, c.templates, req.TemplateID, req.InlineTemplate)
	if err != nil {
		return nil, err
	}
	params := MergeParameters(template.Parameters, req.ParameterOverrides)

	if !req.DryRun {
		if err := c.gate(ctx, profile, template, req.GuardrailConfirmed); err != nil {
			return nil, err
		}
	}

	// The preview is read-only, so it is safe to build before governance
	// has approved the run; its size feeds the pack's guard rules.
	preview, err := c.preview.Build(ctx, profile, secret, template.Kind, params, PageRequest{})
	if err != nil {
		return nil, err
	}
	items := preview.Items

	resolution := &governance.Resolution{}
	if !req.DryRun {
		resolution, err = c.resolver.ResolveWithItemCount(ctx, profile, string(template.Kind), len(items))
		if err != nil {
			if core.IsCode(err, core.CodeUnauthorized) {
				c.metrics.RecordGovernanceDenial("policy_pack")
			}
			return nil, err
		}
		if limit := resolution.ItemLimit(); len(items) > limit {
			items = items[:limit]
		}
	}

	record := &core.WorkflowExecutionRecord{
		ID:           uuid.New().String(),
		TemplateID:   template.ID,
		Name:         template.Name,
		Kind:         template.Kind,
		ConnectionID: profile.ID,
		StartedAt:    c.now(),
		Status:       core.ExecutionRunning,
		DryRun:       req.DryRun,
		Parameters:   params,
	}
	if resolution.Pack != nil {
		record.PolicyPackID = resolution.Pack.ID
		record.ScheduleWindowID = resolution.ActiveWindowID
	}
	if err := c.executions.Save(ctx, record); err != nil {
		return nil, err
	}

	if req.DryRun {
		return c.finishDryRun(ctx, record, preview)
	}

	policy := resolution.CapRetryPolicy(core.ResolveRetryPolicy(req.RetryPolicy, profile))
	return c.runItems(ctx, profile, secret, record, items, policy, 0)
}

// Resume continues a non-success execution from its checkpoint. The run
// is re-gated and the preview rebuilt from the recorded parameters, so
// targets that disappeared in the meantime become skipped steps.
func (c *Coordinator) Resume(ctx context.Context, profile *core.ConnectionProfile, secret, executionID string, guardrailConfirmed bool) (*core.WorkflowExecutionRecord, error) {
	prior, err := c.executions.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !prior.Resumable() {
		return nil, core.NewConflictFailure(
			fmt.Sprintf("execution %s has no checkpoint to resume from", executionID), nil).
			WithConnection(prior.ConnectionID)
	}
	if prior.ConnectionID != profile.ID {
		return nil, core.NewValidationFailure("execution belongs to a different connection", nil)
	}

	template, err := c.templateForRecord(ctx, prior)
	if err != nil {
		return nil, err
	}
	if err := c.gate(ctx, profile, template, guardrailConfirmed); err != nil {
		return nil, err
	}

	preview, err := c.preview.Build(ctx, profile, secret, prior.Kind, prior.Parameters, PageRequest{})
	if err != nil {
		return nil, err
	}
	items := preview.Items

	resolution, err := c.resolver.ResolveWithItemCount(ctx, profile, string(prior.Kind), len(items))
	if err != nil {
		if core.IsCode(err, core.CodeUnauthorized) {
			c.metrics.RecordGovernanceDenial("policy_pack")
		}
		return nil, err
	}
	if limit := resolution.ItemLimit(); len(items) > limit {
		items = items[:limit]
	}

	startIndex, err := strconv.Atoi(prior.CheckpointToken)
	if err != nil || startIndex < 0 {
		return nil, core.NewInternalFailure(
			fmt.Sprintf("execution %s has a malformed checkpoint %q", executionID, prior.CheckpointToken), err)
	}
	if startIndex > len(items) {
		startIndex = len(items)
	}

	record := &core.WorkflowExecutionRecord{
		ID:                     uuid.New().String(),
		TemplateID:             prior.TemplateID,
		Name:                   prior.Name,
		Kind:                   prior.Kind,
		ConnectionID:           profile.ID,
		StartedAt:              c.now(),
		Status:                 core.ExecutionRunning,
		Parameters:             prior.Parameters,
		ResumedFromExecutionID: prior.ID,
	}
	if resolution.Pack != nil {
		record.PolicyPackID = resolution.Pack.ID
		record.ScheduleWindowID = resolution.ActiveWindowID
	}
	if err := c.executions.Save(ctx, record); err != nil {
		return nil, err
	}

	policy := resolution.CapRetryPolicy(core.ResolveRetryPolicy(nil, profile))
	return c.runItems(ctx, profile, secret, record, items, policy, startIndex)
}

// Rerun starts a fresh execution with a prior run's template and
// parameters, from the beginning.
func (c *Coordinator) Rerun(ctx context.Context, profile *core.ConnectionProfile, secret, executionID string, guardrailConfirmed bool) (*core.WorkflowExecutionRecord, error) {
	prior, err := c.executions.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	req := ExecuteRequest{
		TemplateID:         prior.TemplateID,
		ParameterOverrides: prior.Parameters,
		GuardrailConfirmed: guardrailConfirmed,
	}
	if strings.HasPrefix(prior.TemplateID, "inline-") {
		req.TemplateID = ""
		req.InlineTemplate = inlineFromRecord(prior)
	}
	return c.Execute(ctx, profile, secret, req)
}

// gate enforces the writability and production guardrail checks. A
// failed gate is both returned and recorded: a blocked history event
// plus a policy alert.
func (c *Coordinator) gate(ctx context.Context, profile *core.ConnectionProfile, template *core.WorkflowTemplate, guardrailConfirmed bool) error {
	if !profile.Writable() {
		return c.deny(ctx, profile, string(template.Kind), "connection is read-only")
	}
	if profile.Environment == core.EnvironmentProd && template.RequiresApprovalOnProd && !guardrailConfirmed {
		return c.deny(ctx, profile, string(template.Kind), "production guardrail requires explicit confirmation")
	}
	return nil
}

// deny records a blocked operation and returns the matching failure.
func (c *Coordinator) deny(ctx context.Context, profile *core.ConnectionProfile, action, reason string) error {
	now := c.now()

	event := &core.HistoryEvent{
		ID:           uuid.New().String(),
		ConnectionID: profile.ID,
		Action:       action,
		Status:       core.HistoryStatusBlocked,
		Message:      reason,
		Timestamp:    now,
	}
	if err := c.history.Append(ctx, event); err != nil {
		c.logger.WithError(err).WithConnectionID(profile.ID).Error("Failed to record blocked event")
	}

	alert := &core.AlertEvent{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		ConnectionID: profile.ID,
		Environment:  profile.Environment,
		Severity:     core.SeverityWarning,
		Title:        "Workflow blocked",
		Message:      reason,
		Source:       core.AlertSourcePolicy,
	}
	if err := c.alerts.Append(ctx, alert); err != nil {
		c.logger.WithError(err).WithConnectionID(profile.ID).Error("Failed to record policy alert")
	}
	c.metrics.RecordAlert(string(core.AlertSourcePolicy), string(core.SeverityWarning))
	c.metrics.RecordGovernanceDenial("gate")

	return core.NewUnauthorizedFailure(reason, nil).
		WithConnection(profile.ID).
		WithOperation(action)
}

func (c *Coordinator) finishDryRun(ctx context.Context, record *core.WorkflowExecutionRecord, preview *core.WorkflowPreview) (*core.WorkflowExecutionRecord, error) {
	record.StepResults = []core.WorkflowStepResult{{
		Step:    "preview",
		Status:  core.StepSuccess,
		Message: fmt.Sprintf("%d item(s) previewed", preview.EstimatedCount),
	}}
	finished := c.now()
	record.FinishedAt = &finished
	record.Status = core.ExecutionSuccess

	if err := c.executions.Save(ctx, record); err != nil {
		return nil, err
	}
	c.metrics.RecordWorkflowRun(string(record.Kind), string(record.Status), preview.EstimatedCount)
	return record, nil
}

// runItems processes preview items sequentially from startIndex, tracking
// the error-rate abort threshold over the steps completed in this run.
func (c *Coordinator) runItems(ctx context.Context, profile *core.ConnectionProfile, secret string, record *core.WorkflowExecutionRecord, items []core.PreviewItem, policy core.RetryPolicy, startIndex int) (*core.WorkflowExecutionRecord, error) {
	ctx, span := c.tracer.StartWorkflowSpan(ctx, record.ID, string(record.Kind), profile.ID)
	defer span.End()

	log := c.logger.WithExecutionID(record.ID).WithConnectionID(profile.ID)
	log.WithField("items", len(items)-startIndex).Info("Workflow execution started")

	errorCount := 0
	aborted := false
	nextIndex := len(items)

	for i := startIndex; i < len(items); i++ {
		if ctx.Err() != nil {
			aborted = true
			nextIndex = i
			break
		}

		step := c.runStep(ctx, profile, secret, items[i], policy)
		record.StepResults = append(record.StepResults, step)
		if step.Attempts > 1 {
			record.RetryCount += step.Attempts - 1
		}
		c.metrics.RecordWorkflowStep(string(items[i].Action), string(step.Status))

		if step.Status == core.StepError {
			errorCount++
			completed := i - startIndex + 1
			if float64(errorCount)/float64(completed) > policy.AbortOnErrorRate {
				aborted = true
				nextIndex = i + 1
				break
			}
		}
	}

	switch {
	case aborted:
		record.Status = core.ExecutionAborted
	case errorCount > 0:
		record.Status = core.ExecutionError
	default:
		record.Status = core.ExecutionSuccess
	}
	if record.Status != core.ExecutionSuccess && nextIndex < len(items) {
		record.CheckpointToken = strconv.Itoa(nextIndex)
	}
	finished := c.now()
	record.FinishedAt = &finished

	if err := c.executions.Save(ctx, record); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	c.metrics.RecordWorkflowRun(string(record.Kind), string(record.Status), len(record.StepResults))

	if record.Status == core.ExecutionSuccess {
		telemetry.RecordSuccess(span)
		log.Info("Workflow execution succeeded")
		return record, nil
	}

	c.raiseRunAlert(ctx, profile, record, errorCount)
	log.WithField("status", string(record.Status)).
		WithField("errors", errorCount).
		Warn("Workflow execution did not succeed")
	return record, nil
}

// runStep executes one preview item through the operation executor.
func (c *Coordinator) runStep(ctx context.Context, profile *core.ConnectionProfile, secret string, item core.PreviewItem, policy core.RetryPolicy) core.WorkflowStepResult {
	var work executor.Work
	var action string

	switch item.Action {
	case core.ActionDelete:
		action = "delete"
		// Best-effort snapshot of the doomed value; failures are swallowed.
		if record, err := c.gateway.GetValue(ctx, profile, secret, item.Key); err == nil && record != nil {
			c.logger.WithField("key", item.Key).
				WithField("size_bytes", record.SizeBytes).
				Debug("Captured pre-delete snapshot")
		}
		work = func(ctx context.Context) (interface{}, error) {
			return nil, c.gateway.DeleteKey(ctx, profile, secret, item.Key)
		}
	case core.ActionSetTTL:
		action = "setTtl"
		work = func(ctx context.Context) (interface{}, error) {
			record, err := c.gateway.GetValue(ctx, profile, secret, item.Key)
			if err != nil {
				return nil, err
			}
			if record == nil {
				return skipped, nil
			}
			return nil, c.gateway.SetValue(ctx, profile, secret, item.Key, record.Value, item.TTLSeconds)
		}
	case core.ActionSetValue:
		action = "setValue"
		work = func(ctx context.Context) (interface{}, error) {
			return nil, c.gateway.SetValue(ctx, profile, secret, item.Key, item.Value, item.TTLSeconds)
		}
	default:
		return core.WorkflowStepResult{
			Step:    item.Key,
			Status:  core.StepError,
			Message: fmt.Sprintf("unknown preview action %q", item.Action),
		}
	}

	outcome, err := c.exec.Run(ctx, profile, action, item.Key, work, executor.Options{RetryPolicy: &policy})
	step := core.WorkflowStepResult{
		Step:       item.Key,
		Attempts:   outcome.Attempts,
		DurationMs: outcome.Duration.Milliseconds(),
	}
	switch {
	case err != nil:
		step.Status = core.StepError
		step.Message = err.Error()
	case outcome.Result == skipped:
		step.Status = core.StepSkipped
		step.Message = "key absent, skipped"
	default:
		step.Status = core.StepSuccess
	}
	return step
}

// raiseRunAlert raises a workflow alert for a non-success run: critical
// when the run aborted, warning otherwise.
func (c *Coordinator) raiseRunAlert(ctx context.Context, profile *core.ConnectionProfile, record *core.WorkflowExecutionRecord, errorCount int) {
	severity := core.SeverityWarning
	title := fmt.Sprintf("Workflow %s failed", record.Name)
	if record.Status == core.ExecutionAborted {
		severity = core.SeverityCritical
		title = fmt.Sprintf("Workflow %s aborted", record.Name)
	}

	alert := &core.AlertEvent{
		ID:           uuid.New().String(),
		CreatedAt:    c.now(),
		ConnectionID: profile.ID,
		Environment:  profile.Environment,
		Severity:     severity,
		Title:        title,
		Message: fmt.Sprintf("%d of %d step(s) failed (execution %s)",
			errorCount, len(record.StepResults), record.ID),
		Source: core.AlertSourceWorkflow,
	}
	if err := c.alerts.Append(ctx, alert); err != nil {
		c.logger.WithError(err).WithExecutionID(record.ID).Error("Failed to record workflow alert")
	}
	c.metrics.RecordAlert(string(core.AlertSourceWorkflow), string(severity))
}

// templateForRecord rebuilds the template a recorded run used, falling
// back to an inline reconstruction for synthetic inline ids.
func (c *Coordinator) templateForRecord(ctx context.Context, record *core.WorkflowExecutionRecord) (*core.WorkflowTemplate, error) {
	if strings.HasPrefix(record.TemplateID, "inline-") {
		return inlineFromRecord(record), nil
	}
	return ResolveTemplate(ctx, c.templates, record.TemplateID, nil)
}

// inlineFromRecord reconstructs an inline template from its execution
// record. Approval requirements cannot be recovered, so the guardrail is
// kept armed.
func inlineFromRecord(record *core.WorkflowExecutionRecord) *core.WorkflowTemplate {
	return &core.WorkflowTemplate{
		ID:                     record.TemplateID,
		Name:                   record.Name,
		Kind:                   record.Kind,
		Parameters:             record.Parameters,
		RequiresApprovalOnProd: true,
		SupportsDryRun:         true,
	}
}
