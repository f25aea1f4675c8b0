package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// defaultExecutionListLimit bounds execution list queries when the
// caller gives no limit.
const defaultExecutionListLimit = 100

type sqliteTemplates struct {
	store *SQLiteStore
}

func (r *sqliteTemplates) List(ctx context.Context) ([]*core.WorkflowTemplate, error) {
	query := `
		SELECT id, name, kind, parameters, requires_approval_on_prod, supports_dry_run,
		       created_at, updated_at
		FROM workflow_templates
		ORDER BY created_at DESC
	`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list templates", err)
	}
	defer rows.Close()

	var templates []*core.WorkflowTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list templates", err)
	}
	return templates, nil
}

func (r *sqliteTemplates) FindByID(ctx context.Context, id string) (*core.WorkflowTemplate, error) {
	query := `
		SELECT id, name, kind, parameters, requires_approval_on_prod, supports_dry_run,
		       created_at, updated_at
		FROM workflow_templates
		WHERE id = ?
	`

	template, err := scanTemplate(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, core.NewValidationFailure(fmt.Sprintf("workflow template %s not found", id), nil)
	}
	return template, err
}

func (r *sqliteTemplates) Save(ctx context.Context, template *core.WorkflowTemplate) error {
	parameters, err := marshalJSON(template.Parameters)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_templates (id, name, kind, parameters, requires_approval_on_prod,
		                                supports_dry_run, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			parameters = excluded.parameters,
			requires_approval_on_prod = excluded.requires_approval_on_prod,
			supports_dry_run = excluded.supports_dry_run,
			updated_at = excluded.updated_at
	`

	_, err = r.store.db.ExecContext(ctx, query,
		template.ID,
		template.Name,
		string(template.Kind),
		parameters,
		template.RequiresApprovalOnProd,
		template.SupportsDryRun,
		template.CreatedAt,
		template.UpdatedAt,
	)
	if err != nil {
		return core.NewInternalFailure("failed to save template", err)
	}
	return nil
}

func (r *sqliteTemplates) Delete(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, "DELETE FROM workflow_templates WHERE id = ?", id)
	if err != nil {
		return core.NewInternalFailure("failed to delete template", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.NewInternalFailure("failed to delete template", err)
	}
	if affected == 0 {
		return core.NewValidationFailure(fmt.Sprintf("workflow template %s not found", id), nil)
	}
	return nil
}

type sqliteExecutions struct {
	store *SQLiteStore
}

func (r *sqliteExecutions) List(ctx context.Context, filter core.ExecutionFilter) ([]*core.WorkflowExecutionRecord, error) {
	query := `
		SELECT id, template_id, name, kind, connection_id, started_at, finished_at, status,
		       retry_count, dry_run, parameters, step_results, checkpoint_token,
		       policy_pack_id, schedule_window_id, resumed_from_execution_id
		FROM workflow_executions
		WHERE (? = '' OR connection_id = ?)
		  AND (? = '' OR template_id = ?)
		ORDER BY started_at DESC
		LIMIT ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultExecutionListLimit
	}

	rows, err := r.store.db.QueryContext(ctx, query,
		filter.ConnectionID, filter.ConnectionID,
		filter.TemplateID, filter.TemplateID,
		limit,
	)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list executions", err)
	}
	defer rows.Close()

	var records []*core.WorkflowExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list executions", err)
	}
	return records, nil
}

func (r *sqliteExecutions) FindByID(ctx context.Context, id string) (*core.WorkflowExecutionRecord, error) {
	query := `
		SELECT id, template_id, name, kind, connection_id, started_at, finished_at, status,
		       retry_count, dry_run, parameters, step_results, checkpoint_token,
		       policy_pack_id, schedule_window_id, resumed_from_execution_id
		FROM workflow_executions
		WHERE id = ?
	`

	record, err := scanExecution(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, core.NewValidationFailure(fmt.Sprintf("workflow execution %s not found", id), nil)
	}
	return record, err
}

func (r *sqliteExecutions) Save(ctx context.Context, record *core.WorkflowExecutionRecord) error {
	parameters, err := marshalJSON(record.Parameters)
	if err != nil {
		return err
	}
	steps := sql.NullString{}
	if record.StepResults != nil {
		steps, err = marshalJSON(record.StepResults)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO workflow_executions (id, template_id, name, kind, connection_id, started_at,
		                                 finished_at, status, retry_count, dry_run, parameters,
		                                 step_results, checkpoint_token, policy_pack_id,
		                                 schedule_window_id, resumed_from_execution_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			retry_count = excluded.retry_count,
			step_results = excluded.step_results,
			checkpoint_token = excluded.checkpoint_token
	`

	_, err = r.store.db.ExecContext(ctx, query,
		record.ID,
		nullString(record.TemplateID),
		record.Name,
		string(record.Kind),
		record.ConnectionID,
		record.StartedAt,
		nullTime(record.FinishedAt),
		string(record.Status),
		record.RetryCount,
		record.DryRun,
		parameters,
		steps,
		nullString(record.CheckpointToken),
		nullString(record.PolicyPackID),
		nullString(record.ScheduleWindowID),
		nullString(record.ResumedFromExecutionID),
	)
	if err != nil {
		return core.NewInternalFailure("failed to save execution", err)
	}
	return nil
}

func scanTemplate(row rowScanner) (*core.WorkflowTemplate, error) {
	template := &core.WorkflowTemplate{}
	var kind string
	var parameters sql.NullString

	err := row.Scan(
		&template.ID,
		&template.Name,
		&kind,
		&parameters,
		&template.RequiresApprovalOnProd,
		&template.SupportsDryRun,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, core.NewInternalFailure("failed to scan template", err)
	}

	template.Kind = core.WorkflowKind(kind)
	if err := unmarshalJSON(parameters, &template.Parameters); err != nil {
		return nil, err
	}
	return template, nil
}

func scanExecution(row rowScanner) (*core.WorkflowExecutionRecord, error) {
	record := &core.WorkflowExecutionRecord{}
	var kind, status string
	var templateID, parameters, steps, checkpoint, packID, windowID, resumedFrom sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(
		&record.ID,
		&templateID,
		&record.Name,
		&kind,
		&record.ConnectionID,
		&record.StartedAt,
		&finishedAt,
		&status,
		&record.RetryCount,
		&record.DryRun,
		&parameters,
		&steps,
		&checkpoint,
		&packID,
		&windowID,
		&resumedFrom,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, core.NewInternalFailure("failed to scan execution", err)
	}

	record.TemplateID = templateID.String
	record.Kind = core.WorkflowKind(kind)
	record.Status = core.ExecutionStatus(status)
	record.CheckpointToken = checkpoint.String
	record.PolicyPackID = packID.String
	record.ScheduleWindowID = windowID.String
	record.ResumedFromExecutionID = resumedFrom.String
	if finishedAt.Valid {
		t := finishedAt.Time
		record.FinishedAt = &t
	}
	if err := unmarshalJSON(parameters, &record.Parameters); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(steps, &record.StepResults); err != nil {
		return nil, err
	}
	return record, nil
}
