package stores

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// defaultAlertListLimit bounds alert list queries when the caller gives
// no limit.
const defaultAlertListLimit = 500

type sqliteAlerts struct {
	store *SQLiteStore
}

func (r *sqliteAlerts) Append(ctx context.Context, event *core.AlertEvent) error {
	query := `
		INSERT INTO alert_events (id, created_at, connection_id, environment, severity,
		                          title, message, source, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.store.db.ExecContext(ctx, query,
		event.ID,
		event.CreatedAt,
		nullString(event.ConnectionID),
		nullString(string(event.Environment)),
		string(event.Severity),
		event.Title,
		event.Message,
		string(event.Source),
		event.Read,
	)
	if err != nil {
		return core.NewInternalFailure("failed to append alert", err)
	}
	return nil
}

func (r *sqliteAlerts) List(ctx context.Context, limit int) ([]*core.AlertEvent, error) {
	if limit <= 0 {
		limit = defaultAlertListLimit
	}
	query := `
		SELECT id, created_at, connection_id, environment, severity, title, message, source, read
		FROM alert_events
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.store.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list alerts", err)
	}
	defer rows.Close()

	var events []*core.AlertEvent
	for rows.Next() {
		event := &core.AlertEvent{}
		var connectionID, environment sql.NullString
		var severity, source string
		if err := rows.Scan(
			&event.ID,
			&event.CreatedAt,
			&connectionID,
			&environment,
			&severity,
			&event.Title,
			&event.Message,
			&source,
			&event.Read,
		); err != nil {
			return nil, core.NewInternalFailure("failed to scan alert", err)
		}
		event.ConnectionID = connectionID.String
		event.Environment = core.Environment(environment.String)
		event.Severity = core.Severity(severity)
		event.Source = core.AlertSource(source)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list alerts", err)
	}
	return events, nil
}

func (r *sqliteAlerts) MarkRead(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, "UPDATE alert_events SET read = 1 WHERE id = ?", id)
	if err != nil {
		return core.NewInternalFailure("failed to mark alert read", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.NewInternalFailure("failed to mark alert read", err)
	}
	if affected == 0 {
		return core.NewValidationFailure(fmt.Sprintf("alert %s not found", id), nil)
	}
	return nil
}

func (r *sqliteAlerts) MarkAllRead(ctx context.Context) error {
	if _, err := r.store.db.ExecContext(ctx, "UPDATE alert_events SET read = 1 WHERE read = 0"); err != nil {
		return core.NewInternalFailure("failed to mark alerts read", err)
	}
	return nil
}

func (r *sqliteAlerts) CountUnread(ctx context.Context) (int, error) {
	var count int
	err := r.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alert_events WHERE read = 0").Scan(&count)
	if err != nil {
		return 0, core.NewInternalFailure("failed to count unread alerts", err)
	}
	return count, nil
}

type sqliteAlertRules struct {
	store *SQLiteStore
}

func (r *sqliteAlertRules) List(ctx context.Context) ([]*core.AlertRule, error) {
	query := `
		SELECT id, metric, threshold, lookback_minutes, severity, connection_id,
		       environment, enabled, created_at, updated_at
		FROM alert_rules
		ORDER BY created_at DESC
	`

	rows, err := r.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, core.NewInternalFailure("failed to list alert rules", err)
	}
	defer rows.Close()

	var rules []*core.AlertRule
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewInternalFailure("failed to list alert rules", err)
	}
	return rules, nil
}

func (r *sqliteAlertRules) FindByID(ctx context.Context, id string) (*core.AlertRule, error) {
	query := `
		SELECT id, metric, threshold, lookback_minutes, severity, connection_id,
		       environment, enabled, created_at, updated_at
		FROM alert_rules
		WHERE id = ?
	`

	rule, err := scanAlertRule(r.store.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, core.NewValidationFailure(fmt.Sprintf("alert rule %s not found", id), nil)
	}
	return rule, err
}

func (r *sqliteAlertRules) Save(ctx context.Context, rule *core.AlertRule) error {
	query := `
		INSERT INTO alert_rules (id, metric, threshold, lookback_minutes, severity,
		                         connection_id, environment, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			metric = excluded.metric,
			threshold = excluded.threshold,
			lookback_minutes = excluded.lookback_minutes,
			severity = excluded.severity,
			connection_id = excluded.connection_id,
			environment = excluded.environment,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.store.db.ExecContext(ctx, query,
		rule.ID,
		string(rule.Metric),
		rule.Threshold,
		rule.LookbackMinutes,
		string(rule.Severity),
		nullString(rule.ConnectionID),
		nullString(string(rule.Environment)),
		rule.Enabled,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return core.NewInternalFailure("failed to save alert rule", err)
	}
	return nil
}

func (r *sqliteAlertRules) Delete(ctx context.Context, id string) error {
	result, err := r.store.db.ExecContext(ctx, "DELETE FROM alert_rules WHERE id = ?", id)
	if err != nil {
		return core.NewInternalFailure("failed to delete alert rule", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.NewInternalFailure("failed to delete alert rule", err)
	}
	if affected == 0 {
		return core.NewValidationFailure(fmt.Sprintf("alert rule %s not found", id), nil)
	}
	return nil
}

func scanAlertRule(row rowScanner) (*core.AlertRule, error) {
	rule := &core.AlertRule{}
	var metric, severity string
	var connectionID, environment sql.NullString

	err := row.Scan(
		&rule.ID,
		&metric,
		&rule.Threshold,
		&rule.LookbackMinutes,
		&severity,
		&connectionID,
		&environment,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, core.NewInternalFailure("failed to scan alert rule", err)
	}

	rule.Metric = core.AlertMetric(metric)
	rule.Severity = core.Severity(severity)
	rule.ConnectionID = connectionID.String
	rule.Environment = core.Environment(environment.String)
	return rule, nil
}
