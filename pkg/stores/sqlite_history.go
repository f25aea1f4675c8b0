package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// defaultRangeLimit bounds range queries when the caller gives no limit.
const defaultRangeLimit = 1000

type sqliteHistory struct {
	store *SQLiteStore
}

func (r *sqliteHistory) Append(ctx context.Context, event *core.HistoryEvent) error {
	query := `
		INSERT INTO history_events (id, connection_id, action, key_or_pattern, status,
		                            attempts, duration_ms, message, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.store.db.ExecContext(ctx, query,
		event.ID,
		event.ConnectionID,
		event.Action,
		nullString(event.KeyOrPattern),
		string(event.Status),
		event.Attempts,
		event.DurationMs,
		nullString(event.Message),
		nullString(event.Detail),
		event.Timestamp,
	)
	if err != nil {
		return core.NewInternalFailure("failed to append history event", err)
	}
	return nil
}

func (r *sqliteHistory) Range(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*core.HistoryEvent, error) {
	if limit <= 0 {
		limit = defaultRangeLimit
	}
	query := `
		SELECT id, connection_id, action, key_or_pattern, status, attempts, duration_ms,
		       message, detail, timestamp
		FROM history_events
		WHERE (? = '' OR connection_id = ?)
		  AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.store.db.QueryContext(ctx, query, connectionID, connectionID, from, to, limit)
	if err != nil {
		return nil, core.NewInternalFailure("failed to query history", err)
	}
	defer rows.Close()

	var events []*core.HistoryEvent
	for rows.Next() {
		event := &core.HistoryEvent{}
		var keyOrPattern, message, detail sql.NullString
		var status string
		if err := rows.Scan(
			&event.ID,
			&event.ConnectionID,
			&event.Action,
			&keyOrPattern,
			&status,
			&event.Attempts,
			&event.DurationMs,
			&message,
			&detail,
			&event.Timestamp,
		); err != nil {
			return nil, core.NewInternalFailure("failed to scan history event", err)
		}
		event.KeyOrPattern = keyOrPattern.String
		event.Message = message.String
		event.Detail = detail.String
		event.Status = core.HistoryStatus(status)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to query history", err)
	}
	return events, nil
}

type sqliteObservability struct {
	store *SQLiteStore
}

func (r *sqliteObservability) Append(ctx context.Context, snapshot *core.OperationSnapshot) error {
	query := `
		INSERT INTO operation_snapshots (id, connection_id, window_start, window_end,
		                                 p50_ms, p95_ms, error_rate, ops_per_sec,
		                                 sample_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.store.db.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.ConnectionID,
		snapshot.WindowStart,
		snapshot.WindowEnd,
		snapshot.P50Ms,
		snapshot.P95Ms,
		snapshot.ErrorRate,
		snapshot.OpsPerSec,
		snapshot.SampleCount,
		snapshot.CreatedAt,
	)
	if err != nil {
		return core.NewInternalFailure("failed to append snapshot", err)
	}
	return nil
}

func (r *sqliteObservability) Range(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*core.OperationSnapshot, error) {
	if limit <= 0 {
		limit = defaultRangeLimit
	}
	query := `
		SELECT id, connection_id, window_start, window_end, p50_ms, p95_ms, error_rate,
		       ops_per_sec, sample_count, created_at
		FROM operation_snapshots
		WHERE (? = '' OR connection_id = ?)
		  AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.store.db.QueryContext(ctx, query, connectionID, connectionID, from, to, limit)
	if err != nil {
		return nil, core.NewInternalFailure("failed to query snapshots", err)
	}
	defer rows.Close()

	var snapshots []*core.OperationSnapshot
	for rows.Next() {
		snapshot := &core.OperationSnapshot{}
		if err := rows.Scan(
			&snapshot.ID,
			&snapshot.ConnectionID,
			&snapshot.WindowStart,
			&snapshot.WindowEnd,
			&snapshot.P50Ms,
			&snapshot.P95Ms,
			&snapshot.ErrorRate,
			&snapshot.OpsPerSec,
			&snapshot.SampleCount,
			&snapshot.CreatedAt,
		); err != nil {
			return nil, core.NewInternalFailure("failed to scan snapshot", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to query snapshots", err)
	}
	return snapshots, nil
}

type sqliteBundles struct {
	store *SQLiteStore
}

func (r *sqliteBundles) Save(ctx context.Context, bundle *core.IncidentBundle) error {
	query := `
		INSERT INTO incident_bundles (id, job_id, path, checksum, size_bytes, range_from,
		                              range_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.store.db.ExecContext(ctx, query,
		bundle.ID,
		bundle.JobID,
		bundle.Path,
		bundle.Checksum,
		bundle.SizeBytes,
		bundle.From,
		bundle.To,
		bundle.CreatedAt,
	)
	if err != nil {
		return core.NewInternalFailure("failed to save incident bundle", err)
	}
	return nil
}

func (r *sqliteBundles) List(ctx context.Context) ([]*core.IncidentBundle, error) {
	query := `
		SELECT id, job_id, path, checksum, size_bytes, range_from, range_to, created_at
		FROM incident_bundles
		ORDER BY created_at DESC
	`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list incident bundles", err)
	}
	defer rows.Close()

	var bundles []*core.IncidentBundle
	for rows.Next() {
		bundle := &core.IncidentBundle{}
		if err := rows.Scan(
			&bundle.ID,
			&bundle.JobID,
			&bundle.Path,
			&bundle.Checksum,
			&bundle.SizeBytes,
			&bundle.From,
			&bundle.To,
			&bundle.CreatedAt,
		); err != nil {
			return nil, core.NewInternalFailure("failed to scan incident bundle", err)
		}
		bundles = append(bundles, bundle)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list incident bundles", err)
	}
	return bundles, nil
}
