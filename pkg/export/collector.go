// Package export builds incident bundles: checksum-verified JSON
// artifacts of timeline, alert log, diagnostic, and metric records for a
// time range, produced by cancellable background jobs.
package export

import (
	"context"
	"sort"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

const (
	// sectionCap bounds each collected record section.
	sectionCap = 5000

	// diagnosticRelatedCap bounds the related events paired with one
	// error event.
	diagnosticRelatedCap = 10

	// diagnosticWindow is how far around an error event related events
	// are gathered.
	diagnosticWindow = 5 * time.Minute
)

// Diagnostic pairs an error event with its surrounding context: events
// on the same connection and key near in time, and the most recent
// observability snapshot preceding the error.
type Diagnostic struct {
	ID                string                  `json:"id"`
	Event             *core.HistoryEvent      `json:"event"`
	RelatedEvents     []*core.HistoryEvent    `json:"related_events,omitempty"`
	PrecedingSnapshot *core.OperationSnapshot `json:"preceding_snapshot,omitempty"`
}

// Collection is everything gathered for one export, before redaction.
type Collection struct {
	Timeline    []*core.HistoryEvent
	Logs        []*core.AlertEvent
	Diagnostics []Diagnostic
	Metrics     []*core.OperationSnapshot

	// Truncated reports that at least one section hit sectionCap.
	Truncated bool
}

// Collector gathers export records from the repositories.
type Collector struct {
	history core.HistoryRepository
	alerts  core.AlertRepository
	obs     core.ObservabilityRepository
	logger  *telemetry.Logger
}

// NewCollector creates an export record collector.
func NewCollector(history core.HistoryRepository, alerts core.AlertRepository, obs core.ObservabilityRepository, logger *telemetry.Logger) *Collector {
	return &Collector{
		history: history,
		alerts:  alerts,
		obs:     obs,
		logger:  logger.WithField("component", "export-collector"),
	}
}

// Collect gathers all four record sections for the request's time range
// and optional connection set.
func (c *Collector) Collect(ctx context.Context, req core.IncidentExportRequest) (*Collection, error) {
	collection := &Collection{}

	timeline, truncated, err := c.collectTimeline(ctx, req)
	if err != nil {
		return nil, err
	}
	collection.Timeline = timeline
	collection.Truncated = collection.Truncated || truncated

	logs, truncated, err := c.collectLogs(ctx, req)
	if err != nil {
		return nil, err
	}
	collection.Logs = logs
	collection.Truncated = collection.Truncated || truncated

	metrics, truncated, err := c.collectMetrics(ctx, req)
	if err != nil {
		return nil, err
	}
	collection.Metrics = metrics
	collection.Truncated = collection.Truncated || truncated

	collection.Diagnostics, truncated = buildDiagnostics(timeline, metrics)
	collection.Truncated = collection.Truncated || truncated

	return collection, nil
}

func (c *Collector) collectTimeline(ctx context.Context, req core.IncidentExportRequest) ([]*core.HistoryEvent, bool, error) {
	var events []*core.HistoryEvent
	for _, connectionID := range connectionScope(req) {
		page, err := c.history.Range(ctx, connectionID, req.From, req.To, sectionCap+1)
		if err != nil {
			return nil, false, err
		}
		events = append(events, page...)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > sectionCap {
		return events[:sectionCap], true, nil
	}
	return events, false, nil
}

func (c *Collector) collectLogs(ctx context.Context, req core.IncidentExportRequest) ([]*core.AlertEvent, bool, error) {
	all, err := c.alerts.List(ctx, 0)
	if err != nil {
		return nil, false, err
	}

	scope := map[string]bool{}
	for _, id := range req.ConnectionIDs {
		scope[id] = true
	}

	var logs []*core.AlertEvent
	truncated := false
	for _, event := range all {
		if event.CreatedAt.Before(req.From) || event.CreatedAt.After(req.To) {
			continue
		}
		// Alerts without a connection (storage budget and similar) are
		// always in scope.
		if len(scope) > 0 && event.ConnectionID != "" && !scope[event.ConnectionID] {
			continue
		}
		if len(logs) == sectionCap {
			truncated = true
			break
		}
		logs = append(logs, event)
	}
	return logs, truncated, nil
}

func (c *Collector) collectMetrics(ctx context.Context, req core.IncidentExportRequest) ([]*core.OperationSnapshot, bool, error) {
	var snapshots []*core.OperationSnapshot
	for _, connectionID := range connectionScope(req) {
		page, err := c.obs.Range(ctx, connectionID, req.From, req.To, sectionCap+1)
		if err != nil {
			return nil, false, err
		}
		snapshots = append(snapshots, page...)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	if len(snapshots) > sectionCap {
		return snapshots[:sectionCap], true, nil
	}
	return snapshots, false, nil
}

// buildDiagnostics derives diagnostics from the already-collected
// sections, avoiding further repository queries.
func buildDiagnostics(timeline []*core.HistoryEvent, metrics []*core.OperationSnapshot) ([]Diagnostic, bool) {
	var diagnostics []Diagnostic
	truncated := false

	for _, event := range timeline {
		if event.Status != core.HistoryStatusError {
			continue
		}
		if len(diagnostics) == sectionCap {
			truncated = true
			break
		}
		diagnostics = append(diagnostics, Diagnostic{
			ID:                "diag-" + event.ID,
			Event:             event,
			RelatedEvents:     relatedEvents(timeline, event),
			PrecedingSnapshot: precedingSnapshot(metrics, event),
		})
	}
	return diagnostics, truncated
}

func relatedEvents(timeline []*core.HistoryEvent, event *core.HistoryEvent) []*core.HistoryEvent {
	var related []*core.HistoryEvent
	for _, candidate := range timeline {
		if candidate.ID == event.ID {
			continue
		}
		if candidate.ConnectionID != event.ConnectionID || candidate.KeyOrPattern != event.KeyOrPattern {
			continue
		}
		delta := candidate.Timestamp.Sub(event.Timestamp)
		if delta < -diagnosticWindow || delta > diagnosticWindow {
			continue
		}
		related = append(related, candidate)
		if len(related) == diagnosticRelatedCap {
			break
		}
	}
	return related
}

// precedingSnapshot picks the most recent snapshot at or before the
// event, relying on metrics being sorted newest first.
func precedingSnapshot(metrics []*core.OperationSnapshot, event *core.HistoryEvent) *core.OperationSnapshot {
	for _, snapshot := range metrics {
		if snapshot.ConnectionID != event.ConnectionID {
			continue
		}
		if !snapshot.CreatedAt.After(event.Timestamp) {
			return snapshot
		}
	}
	return nil
}

// connectionScope expands the request's connection filter; an empty
// filter queries across all connections in one pass.
func connectionScope(req core.IncidentExportRequest) []string {
	if len(req.ConnectionIDs) == 0 {
		return []string{""}
	}
	return req.ConnectionIDs
}
