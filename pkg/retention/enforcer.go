// Package retention self-regulates dataset storage: after telemetry is
// recorded it compares each dataset's usage against its budget and either
// auto-purges or raises a throttled alert.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// alertCooldown throttles repeated retention alerts for one dataset.
const alertCooldown = 5 * time.Minute

// nearBudgetRatio raises an informational alert before the budget is hit.
const nearBudgetRatio = 0.9

// Enforcer applies retention policies after operations record telemetry.
// Enforcement is side-effecting only: it never fails the triggering
// operation.
type Enforcer struct {
	retention core.RetentionRepository
	alerts    core.AlertRepository
	metrics   *telemetry.Metrics
	logger    zerolog.Logger

	mu        sync.Mutex
	cooldowns map[core.Dataset]time.Time

	// now is swappable in tests.
	now func() time.Time
}

// NewEnforcer creates a retention enforcer. Cooldown state is owned by
// the instance, not shared process-wide.
func NewEnforcer(retention core.RetentionRepository, alerts core.AlertRepository, metrics *telemetry.Metrics, logger zerolog.Logger) *Enforcer {
	return &Enforcer{
		retention: retention,
		alerts:    alerts,
		metrics:   metrics,
		logger:    logger.With().Str("component", "retention").Logger(),
		cooldowns: make(map[core.Dataset]time.Time),
		now:       time.Now,
	}
}

// Run re-evaluates every dataset's budget on a fixed cadence until ctx
// is cancelled, covering periods where no operations complete. An
// interval of zero or less disables the loop.
func (e *Enforcer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info().Dur("interval", interval).Msg("Retention enforcement loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Retention enforcement loop stopped")
			return
		case <-ticker.C:
			e.Enforce(ctx, core.AllDatasets()...)
		}
	}
}

// Enforce checks each affected dataset against its budget. Failures are
// logged, never returned.
func (e *Enforcer) Enforce(ctx context.Context, datasets ...core.Dataset) {
	summaries, err := e.retention.GetStorageSummary(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to read storage summary")
		return
	}

	byDataset := make(map[core.Dataset]*core.StorageDatasetSummary, len(summaries))
	for _, s := range summaries {
		byDataset[s.Dataset] = s
	}

	for _, dataset := range datasets {
		summary, ok := byDataset[dataset]
		if !ok {
			continue
		}
		e.enforceDataset(ctx, dataset, summary)
	}
}

func (e *Enforcer) enforceDataset(ctx context.Context, dataset core.Dataset, summary *core.StorageDatasetSummary) {
	policy, err := e.retention.FindPolicy(ctx, dataset)
	if err != nil {
		e.logger.Error().Err(err).Str("dataset", string(dataset)).Msg("Failed to read retention policy")
		return
	}

	switch {
	case summary.OverBudget && policy.AutoPurgeOldest:
		result, err := e.retention.Purge(ctx, dataset, time.Time{}, false)
		if err != nil {
			e.logger.Error().Err(err).Str("dataset", string(dataset)).Msg("Retention purge failed")
			return
		}
		if e.metrics != nil {
			e.metrics.RecordRetentionPurge(string(dataset), result.DeletedRows)
		}
		if result.DeletedRows > 0 {
			e.raise(ctx, dataset, core.SeverityWarning,
				fmt.Sprintf("Auto-purged %d rows from %s (freed %d bytes)", result.DeletedRows, dataset, result.FreedBytes))
		}

	case summary.OverBudget:
		e.raise(ctx, dataset, core.SeverityWarning,
			fmt.Sprintf("Dataset %s is over its storage budget (%.0f%% used); auto-purge is disabled", dataset, summary.UsageRatio*100))

	case summary.UsageRatio >= nearBudgetRatio:
		e.raise(ctx, dataset, core.SeverityInfo,
			fmt.Sprintf("Dataset %s is approaching its storage budget (%.0f%% used)", dataset, summary.UsageRatio*100))
	}
}

// raise appends a retention alert unless the dataset's cooldown is still
// active. The cooldown prevents alert storms from repeated small
// operations.
func (e *Enforcer) raise(ctx context.Context, dataset core.Dataset, severity core.Severity, message string) {
	now := e.now()

	e.mu.Lock()
	if last, ok := e.cooldowns[dataset]; ok && now.Sub(last) < alertCooldown {
		e.mu.Unlock()
		return
	}
	e.cooldowns[dataset] = now
	e.mu.Unlock()

	event := &core.AlertEvent{
		ID:        uuid.New().String(),
		CreatedAt: now,
		Severity:  severity,
		Title:     "Storage budget",
		Message:   message,
		Source:    core.AlertSourceApp,
	}
	if err := e.alerts.Append(ctx, event); err != nil {
		e.logger.Error().Err(err).Str("dataset", string(dataset)).Msg("Failed to raise retention alert")
		return
	}
	if e.metrics != nil {
		e.metrics.RecordAlert(string(core.AlertSourceApp), string(severity))
	}
}
