package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// datasetTable maps a retained dataset to its backing table, its age
// column, and a SQL expression estimating the stored bytes per row.
type datasetTable struct {
	table      string
	timeColumn string
	sizeExpr   string
}

var datasetTables = map[core.Dataset]datasetTable{
	core.DatasetTimelineEvents: {
		table:      "history_events",
		timeColumn: "timestamp",
		sizeExpr: "LENGTH(id) + LENGTH(connection_id) + LENGTH(action) + " +
			"LENGTH(COALESCE(key_or_pattern, '')) + LENGTH(COALESCE(message, '')) + " +
			"LENGTH(COALESCE(detail, '')) + 64",
	},
	core.DatasetObservabilitySnapshots: {
		table:      "operation_snapshots",
		timeColumn: "created_at",
		sizeExpr:   "LENGTH(id) + LENGTH(connection_id) + 96",
	},
	core.DatasetWorkflowHistory: {
		table:      "workflow_executions",
		timeColumn: "started_at",
		sizeExpr: "LENGTH(id) + LENGTH(COALESCE(parameters, '')) + " +
			"LENGTH(COALESCE(step_results, '')) + 128",
	},
	core.DatasetIncidentArtifacts: {
		table:      "incident_bundles",
		timeColumn: "created_at",
		sizeExpr:   "size_bytes",
	},
}

type sqliteRetention struct {
	store *SQLiteStore
}

func (r *sqliteRetention) ListPolicies(ctx context.Context) ([]*core.RetentionPolicy, error) {
	query := `
		SELECT dataset, retention_days, storage_budget_mb, auto_purge_oldest, updated_at
		FROM retention_policies
		ORDER BY dataset
	`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list retention policies", err)
	}
	defer rows.Close()

	var policies []*core.RetentionPolicy
	for rows.Next() {
		policy, err := scanRetentionPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list retention policies", err)
	}
	return policies, nil
}

func (r *sqliteRetention) FindPolicy(ctx context.Context, dataset core.Dataset) (*core.RetentionPolicy, error) {
	query := `
		SELECT dataset, retention_days, storage_budget_mb, auto_purge_oldest, updated_at
		FROM retention_policies
		WHERE dataset = ?
	`

	policy, err := scanRetentionPolicy(r.store.db.QueryRowContext(ctx, query, string(dataset)))
	if err == sql.ErrNoRows {
		return nil, core.NewValidationFailure(
			fmt.Sprintf("no retention policy for dataset %s", dataset), nil)
	}
	return policy, err
}

func (r *sqliteRetention) SavePolicy(ctx context.Context, policy *core.RetentionPolicy) error {
	if _, ok := datasetTables[policy.Dataset]; !ok {
		return core.NewValidationFailure(fmt.Sprintf("unknown dataset %q", policy.Dataset), nil)
	}

	query := `
		INSERT INTO retention_policies (dataset, retention_days, storage_budget_mb,
		                                auto_purge_oldest, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dataset) DO UPDATE SET
			retention_days = excluded.retention_days,
			storage_budget_mb = excluded.storage_budget_mb,
			auto_purge_oldest = excluded.auto_purge_oldest,
			updated_at = excluded.updated_at
	`
	if _, err := r.store.db.ExecContext(ctx, query,
		string(policy.Dataset),
		policy.RetentionDays,
		policy.StorageBudgetMb,
		policy.AutoPurgeOldest,
		policy.UpdatedAt,
	); err != nil {
		return core.NewInternalFailure("failed to save retention policy", err)
	}
	return nil
}

// Purge deletes dataset rows older than the cutoff. A zero olderThan
// derives the cutoff from the dataset's retention policy.
func (r *sqliteRetention) Purge(ctx context.Context, dataset core.Dataset, olderThan time.Time, dryRun bool) (*core.PurgeResult, error) {
	mapping, ok := datasetTables[dataset]
	if !ok {
		return nil, core.NewValidationFailure(fmt.Sprintf("unknown dataset %q", dataset), nil)
	}

	cutoff := olderThan
	if cutoff.IsZero() {
		policy, err := r.FindPolicy(ctx, dataset)
		if err != nil {
			return nil, err
		}
		cutoff = time.Now().AddDate(0, 0, -policy.RetentionDays)
	}

	var rows int64
	var bytes sql.NullInt64
	countQuery := fmt.Sprintf(
		"SELECT COUNT(*), COALESCE(SUM(%s), 0) FROM %s WHERE %s < ?",
		mapping.sizeExpr, mapping.table, mapping.timeColumn)
	if err := r.store.db.QueryRowContext(ctx, countQuery, cutoff).Scan(&rows, &bytes); err != nil {
		return nil, core.NewInternalFailure("failed to measure purge", err)
	}

	result := &core.PurgeResult{
		Dataset:     dataset,
		Cutoff:      cutoff,
		DeletedRows: rows,
		FreedBytes:  bytes.Int64,
		DryRun:      dryRun,
	}
	if dryRun || rows == 0 {
		return result, nil
	}

	deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", mapping.table, mapping.timeColumn)
	if _, err := r.store.db.ExecContext(ctx, deleteQuery, cutoff); err != nil {
		return nil, core.NewInternalFailure("failed to purge dataset", err)
	}
	return result, nil
}

// GetStorageSummary reports usage for every dataset against its policy
// budget.
func (r *sqliteRetention) GetStorageSummary(ctx context.Context) ([]*core.StorageDatasetSummary, error) {
	var summaries []*core.StorageDatasetSummary
	for _, dataset := range core.AllDatasets() {
		mapping := datasetTables[dataset]

		var rows int64
		var bytes sql.NullInt64
		query := fmt.Sprintf("SELECT COUNT(*), COALESCE(SUM(%s), 0) FROM %s",
			mapping.sizeExpr, mapping.table)
		if err := r.store.db.QueryRowContext(ctx, query).Scan(&rows, &bytes); err != nil {
			return nil, core.NewInternalFailure("failed to measure dataset", err)
		}

		summary := &core.StorageDatasetSummary{
			Dataset:    dataset,
			RowCount:   rows,
			TotalBytes: bytes.Int64,
		}
		policy, err := r.FindPolicy(ctx, dataset)
		if err == nil {
			summary.BudgetBytes = int64(policy.StorageBudgetMb) * 1024 * 1024
			if summary.BudgetBytes > 0 {
				summary.UsageRatio = float64(summary.TotalBytes) / float64(summary.BudgetBytes)
				summary.OverBudget = summary.TotalBytes > summary.BudgetBytes
			}
		} else if !core.IsCode(err, core.CodeValidation) {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func scanRetentionPolicy(row rowScanner) (*core.RetentionPolicy, error) {
	policy := &core.RetentionPolicy{}
	var dataset string

	err := row.Scan(
		&dataset,
		&policy.RetentionDays,
		&policy.StorageBudgetMb,
		&policy.AutoPurgeOldest,
		&policy.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, core.NewInternalFailure("failed to scan retention policy", err)
	}

	policy.Dataset = core.Dataset(dataset)
	return policy, nil
}
