// Package alerting evaluates user-defined threshold rules against a
// rolling lookback window after every recorded operation.
package alerting

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

// ruleCooldown throttles one rule firing repeatedly for one connection.
const ruleCooldown = 60 * time.Second

// slowOperationThresholdMs classifies an operation as slow for the
// slowOperationCount metric.
const slowOperationThresholdMs = 500

// rangeQueryLimit caps how many records a metric computation reads.
const rangeQueryLimit = 5000

// cooldownKey identifies one (rule, connection) cooldown slot.
type cooldownKey struct {
	ruleID       string
	connectionID string
}

// Evaluator checks alert rules after each operation and raises throttled
// alerts when a metric exceeds its rule threshold.
type Evaluator struct {
	rules   core.AlertRuleRepository
	alerts  core.AlertRepository
	history core.HistoryRepository
	obs     core.ObservabilityRepository
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	cooldowns map[cooldownKey]time.Time
}

// NewEvaluator creates an alert rule evaluator. Cooldown state is owned
// by the instance.
func NewEvaluator(rules core.AlertRuleRepository, alerts core.AlertRepository, history core.HistoryRepository, obs core.ObservabilityRepository, metrics *telemetry.Metrics, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		rules:     rules,
		alerts:    alerts,
		history:   history,
		obs:       obs,
		metrics:   metrics,
		logger:    logger.With().Str("component", "alerting").Logger(),
		cooldowns: make(map[cooldownKey]time.Time),
	}
}

// Evaluate runs every applicable enabled rule against the lookback window
// ending at ts. Evaluation is side-effecting only; failures are logged.
func (e *Evaluator) Evaluate(ctx context.Context, profile *core.ConnectionProfile, ts time.Time) {
	rules, err := e.rules.List(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to list alert rules")
		return
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if rule.ConnectionID != "" && rule.ConnectionID != profile.ID {
			continue
		}
		if rule.Environment != "" && rule.Environment != profile.Environment {
			continue
		}
		if !e.cooldownElapsed(rule.ID, profile.ID, ts) {
			continue
		}

		value, ok := e.metricValue(ctx, rule, profile, ts)
		if !ok {
			continue
		}
		if value > rule.Threshold {
			e.fire(ctx, rule, profile, value, ts)
		}
	}
}

// metricValue computes the rule's metric over [ts - lookback, ts].
func (e *Evaluator) metricValue(ctx context.Context, rule *core.AlertRule, profile *core.ConnectionProfile, ts time.Time) (float64, bool) {
	from := ts.Add(-time.Duration(rule.LookbackMinutes) * time.Minute)

	switch rule.Metric {
	case core.MetricLatencyP95Ms:
		snapshots, err := e.obs.Range(ctx, profile.ID, from, ts, 1)
		if err != nil {
			e.logger.Error().Err(err).Str("rule", rule.ID).Msg("Failed to read snapshots")
			return 0, false
		}
		if len(snapshots) == 0 {
			return 0, false
		}
		// Range returns newest first.
		return snapshots[0].P95Ms, true

	case core.MetricErrorRate:
		events, ok := e.historyRange(ctx, rule, profile, from, ts)
		if !ok || len(events) == 0 {
			return 0, false
		}
		errors := 0
		for _, ev := range events {
			if ev.Status == core.HistoryStatusError {
				errors++
			}
		}
		return float64(errors) / float64(len(events)), true

	case core.MetricSlowOperationCount:
		events, ok := e.historyRange(ctx, rule, profile, from, ts)
		if !ok {
			return 0, false
		}
		count := 0
		for _, ev := range events {
			if ev.DurationMs >= slowOperationThresholdMs {
				count++
			}
		}
		return float64(count), true

	case core.MetricFailedOperationCount:
		events, ok := e.historyRange(ctx, rule, profile, from, ts)
		if !ok {
			return 0, false
		}
		count := 0
		for _, ev := range events {
			if ev.Status == core.HistoryStatusError {
				count++
			}
		}
		return float64(count), true
	}

	return 0, false
}

func (e *Evaluator) historyRange(ctx context.Context, rule *core.AlertRule, profile *core.ConnectionProfile, from, to time.Time) ([]*core.HistoryEvent, bool) {
	events, err := e.history.Range(ctx, profile.ID, from, to, rangeQueryLimit)
	if err != nil {
		e.logger.Error().Err(err).Str("rule", rule.ID).Msg("Failed to read history")
		return nil, false
	}
	return events, true
}

// cooldownElapsed reports whether the (rule, connection) slot may fire
// again at ts.
func (e *Evaluator) cooldownElapsed(ruleID, connectionID string, ts time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := cooldownKey{ruleID: ruleID, connectionID: connectionID}
	if last, ok := e.cooldowns[key]; ok && ts.Sub(last) < ruleCooldown {
		return false
	}
	return true
}

func (e *Evaluator) fire(ctx context.Context, rule *core.AlertRule, profile *core.ConnectionProfile, value float64, ts time.Time) {
	event := &core.AlertEvent{
		ID:           uuid.New().String(),
		CreatedAt:    ts,
		ConnectionID: profile.ID,
		Environment:  profile.Environment,
		Severity:     rule.Severity,
		Title:        fmt.Sprintf("Alert rule %s triggered", rule.Metric),
		Message: fmt.Sprintf("%s = %.3f exceeded threshold %.3f over the last %d minutes",
			rule.Metric, value, rule.Threshold, rule.LookbackMinutes),
		Source: core.AlertSourceObservability,
	}
	if err := e.alerts.Append(ctx, event); err != nil {
		e.logger.Error().Err(err).Str("rule", rule.ID).Msg("Failed to raise alert")
		return
	}

	e.mu.Lock()
	e.cooldowns[cooldownKey{ruleID: rule.ID, connectionID: profile.ID}] = ts
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordAlert(string(core.AlertSourceObservability), string(rule.Severity))
	}
}
