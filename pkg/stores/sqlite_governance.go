package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cachedeck/cachedeck/pkg/core"
)

type sqlitePolicyPacks struct {
	store *SQLiteStore
}

func (r *sqlitePolicyPacks) List(ctx context.Context) ([]*core.GovernancePolicyPack, error) {
	query := `
		SELECT id, name, environments, max_workflow_items, max_retry_attempts,
		       scheduling_enabled, execution_windows, guard_rego, enabled,
		       created_at, updated_at
		FROM governance_policy_packs
		ORDER BY created_at DESC
	`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list policy packs", err)
	}
	defer rows.Close()

	var packs []*core.GovernancePolicyPack
	for rows.Next() {
		pack, err := scanPolicyPack(rows)
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list policy packs", err)
	}
	return packs, nil
}

func (r *sqlitePolicyPacks) FindByID(ctx context.Context, id string) (*core.GovernancePolicyPack, error) {
	query := `
		SELECT id, name, environments, max_workflow_items, max_retry_attempts,
		       scheduling_enabled, execution_windows, guard_rego, enabled,
		       created_at, updated_at
		FROM governance_policy_packs
		WHERE id = ?
	`

	pack, err := scanPolicyPack(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, core.NewValidationFailure(fmt.Sprintf("policy pack %s not found", id), nil)
	}
	return pack, err
}

func (r *sqlitePolicyPacks) Save(ctx context.Context, pack *core.GovernancePolicyPack) error {
	environments, err := marshalJSON(pack.Environments)
	if err != nil {
		return err
	}
	windows := sql.NullString{}
	if len(pack.ExecutionWindows) > 0 {
		windows, err = marshalJSON(pack.ExecutionWindows)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO governance_policy_packs (id, name, environments, max_workflow_items,
		                                     max_retry_attempts, scheduling_enabled,
		                                     execution_windows, guard_rego, enabled,
		                                     created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			environments = excluded.environments,
			max_workflow_items = excluded.max_workflow_items,
			max_retry_attempts = excluded.max_retry_attempts,
			scheduling_enabled = excluded.scheduling_enabled,
			execution_windows = excluded.execution_windows,
			guard_rego = excluded.guard_rego,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.store.db.ExecContext(ctx, query,
		pack.ID,
		pack.Name,
		environments,
		pack.MaxWorkflowItems,
		pack.MaxRetryAttempts,
		pack.SchedulingEnabled,
		windows,
		nullString(pack.GuardRego),
		pack.Enabled,
		pack.CreatedAt,
		pack.UpdatedAt,
	)
	if err != nil {
		return core.NewInternalFailure("failed to save policy pack", err)
	}
	return nil
}

func (r *sqlitePolicyPacks) Delete(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, "DELETE FROM governance_policy_packs WHERE id = ?", id)
	if err != nil {
		return core.NewInternalFailure("failed to delete policy pack", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.NewInternalFailure("failed to delete policy pack", err)
	}
	if affected == 0 {
		return core.NewValidationFailure(fmt.Sprintf("policy pack %s not found", id), nil)
	}
	return nil
}

type sqliteAssignments struct {
	store *SQLiteStore
}

func (r *sqliteAssignments) List(ctx context.Context) ([]*core.GovernanceAssignment, error) {
	query := `
		SELECT connection_id, policy_pack_id, assigned_at
		FROM governance_assignments
		ORDER BY assigned_at DESC
	`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list assignments", err)
	}
	defer rows.Close()

	var assignments []*core.GovernanceAssignment
	for rows.Next() {
		assignment := &core.GovernanceAssignment{}
		if err := rows.Scan(&assignment.ConnectionID, &assignment.PolicyPackID, &assignment.AssignedAt); err != nil {
			return nil, core.NewInternalFailure("failed to scan assignment", err)
		}
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list assignments", err)
	}
	return assignments, nil
}

// FindByConnection returns nil with no error when the connection has no
// assignment.
func (r *sqliteAssignments) FindByConnection(ctx context.Context, connectionID string) (*core.GovernanceAssignment, error) {
	assignment := &core.GovernanceAssignment{}
	err := r.store.db.QueryRowContext(ctx,
		"SELECT connection_id, policy_pack_id, assigned_at FROM governance_assignments WHERE connection_id = ?",
		connectionID,
	).Scan(&assignment.ConnectionID, &assignment.PolicyPackID, &assignment.AssignedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewInternalFailure("failed to get assignment", err)
	}
	return assignment, nil
}

func (r *sqliteAssignments) Assign(ctx context.Context, assignment *core.GovernanceAssignment) error {
	query := `
		INSERT INTO governance_assignments (connection_id, policy_pack_id, assigned_at)
		VALUES (?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
			policy_pack_id = excluded.policy_pack_id,
			assigned_at = excluded.assigned_at
	`
	if _, err := r.store.db.ExecContext(ctx, query,
		assignment.ConnectionID, assignment.PolicyPackID, assignment.AssignedAt); err != nil {
		return core.NewInternalFailure("failed to save assignment", err)
	}
	return nil
}

// Unassign removes the assignment. Removing an absent assignment is not
// an error.
func (r *sqliteAssignments) Unassign(ctx context.Context, connectionID string) error {
	if _, err := r.store.db.ExecContext(ctx,
		"DELETE FROM governance_assignments WHERE connection_id = ?", connectionID); err != nil {
		return core.NewInternalFailure("failed to remove assignment", err)
	}
	return nil
}

func scanPolicyPack(row rowScanner) (*core.GovernancePolicyPack, error) {
	pack := &core.GovernancePolicyPack{}
	var environments, windows, guardRego sql.NullString

	err := row.Scan(
		&pack.ID,
		&pack.Name,
		&environments,
		&pack.MaxWorkflowItems,
		&pack.MaxRetryAttempts,
		&pack.SchedulingEnabled,
		&windows,
		&guardRego,
		&pack.Enabled,
		&pack.CreatedAt,
		&pack.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, core.NewInternalFailure("failed to scan policy pack", err)
	}

	pack.GuardRego = guardRego.String
	if err := unmarshalJSON(environments, &pack.Environments); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(windows, &pack.ExecutionWindows); err != nil {
		return nil, err
	}
	return pack, nil
}
