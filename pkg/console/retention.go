package console

import (
	"context"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// RetentionPolicyRequest carries the user-editable fields of a dataset
// retention policy.
type RetentionPolicyRequest struct {
	RetentionDays   int  `json:"retention_days"`
	StorageBudgetMb int  `json:"storage_budget_mb"`
	AutoPurgeOldest bool `json:"auto_purge_oldest"`
}

// ListRetentionPolicies returns the retention policy for every dataset.
func (s *Service) ListRetentionPolicies(ctx context.Context) ([]*core.RetentionPolicy, error) {
	return s.store.Retention().ListPolicies(ctx)
}

// UpdateRetentionPolicy applies the request to a dataset's retention
// policy.
func (s *Service) UpdateRetentionPolicy(ctx context.Context, dataset core.Dataset, req RetentionPolicyRequest) (*core.RetentionPolicy, error) {
	if req.RetentionDays < 1 {
		return nil, core.NewValidationFailure("retention must be at least one day", nil)
	}
	if req.StorageBudgetMb < 1 {
		return nil, core.NewValidationFailure("storage budget must be at least 1 MB", nil)
	}
	policy, err := s.store.Retention().FindPolicy(ctx, dataset)
	if err != nil {
		return nil, err
	}
	policy.RetentionDays = req.RetentionDays
	policy.StorageBudgetMb = req.StorageBudgetMb
	policy.AutoPurgeOldest = req.AutoPurgeOldest
	policy.UpdatedAt = s.now()
	if err := s.store.Retention().SavePolicy(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// PurgeDataset deletes rows older than the dataset's retention cutoff.
// A zero olderThan derives the cutoff from the policy; dryRun reports
// without deleting.
func (s *Service) PurgeDataset(ctx context.Context, dataset core.Dataset, olderThan time.Time, dryRun bool) (*core.PurgeResult, error) {
	result, err := s.store.Retention().Purge(ctx, dataset, olderThan, dryRun)
	if err != nil {
		return nil, err
	}
	if !dryRun {
		if s.metrics != nil {
			s.metrics.RecordRetentionPurge(string(dataset), result.DeletedRows)
		}
		s.logger.WithField("dataset", string(dataset)).
			Infof("Purged %d row(s), freed %d byte(s)", result.DeletedRows, result.FreedBytes)
	}
	return result, nil
}

// StorageSummary reports per-dataset storage usage against budgets.
func (s *Service) StorageSummary(ctx context.Context) ([]*core.StorageDatasetSummary, error) {
	return s.store.Retention().GetStorageSummary(ctx)
}
