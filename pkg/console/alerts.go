package console

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// AlertRuleRequest carries the user-editable fields of an alert rule.
type AlertRuleRequest struct {
	Metric          core.AlertMetric `json:"metric"`
	Threshold       float64          `json:"threshold"`
	LookbackMinutes int              `json:"lookback_minutes"`
	Severity        core.Severity    `json:"severity"`
	ConnectionID    string           `json:"connection_id,omitempty"`
	Environment     core.Environment `json:"environment,omitempty"`
	Enabled         bool             `json:"enabled"`
}

func (r *AlertRuleRequest) validate() error {
	if !r.Metric.Valid() {
		return core.NewValidationFailure(fmt.Sprintf("unknown alert metric %q", r.Metric), nil)
	}
	if r.Threshold < 0 {
		return core.NewValidationFailure("alert threshold must not be negative", nil)
	}
	if r.LookbackMinutes < 1 {
		return core.NewValidationFailure("lookback must be at least one minute", nil)
	}
	switch r.Severity {
	case core.SeverityInfo, core.SeverityWarning, core.SeverityCritical:
	default:
		return core.NewValidationFailure(fmt.Sprintf("unknown severity %q", r.Severity), nil)
	}
	if r.Environment != "" && !r.Environment.Valid() {
		return core.NewValidationFailure(fmt.Sprintf("unknown environment %q", r.Environment), nil)
	}
	return nil
}

func (r *AlertRuleRequest) apply(rule *core.AlertRule) {
	rule.Metric = r.Metric
	rule.Threshold = r.Threshold
	rule.LookbackMinutes = r.LookbackMinutes
	rule.Severity = r.Severity
	rule.ConnectionID = r.ConnectionID
	rule.Environment = r.Environment
	rule.Enabled = r.Enabled
}

// ListAlertRules returns every alert rule.
func (s *Service) ListAlertRules(ctx context.Context) ([]*core.AlertRule, error) {
	return s.store.AlertRules().List(ctx)
}

// CreateAlertRule validates and persists a new alert rule.
func (s *Service) CreateAlertRule(ctx context.Context, req AlertRuleRequest) (*core.AlertRule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	rule := &core.AlertRule{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	req.apply(rule)
	if req.ConnectionID != "" {
		if _, err := s.store.Connections().FindByID(ctx, req.ConnectionID); err != nil {
			return nil, err
		}
	}
	if err := s.store.AlertRules().Save(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateAlertRule applies the request to a stored alert rule.
func (s *Service) UpdateAlertRule(ctx context.Context, id string, req AlertRuleRequest) (*core.AlertRule, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	rule, err := s.store.AlertRules().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(rule)
	rule.UpdatedAt = s.now()
	if err := s.store.AlertRules().Save(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteAlertRule removes an alert rule.
func (s *Service) DeleteAlertRule(ctx context.Context, id string) error {
	return s.store.AlertRules().Delete(ctx, id)
}

// ListAlerts returns raised alert events, newest first.
func (s *Service) ListAlerts(ctx context.Context, limit int) ([]*core.AlertEvent, error) {
	return s.store.Alerts().List(ctx, limit)
}

// MarkAlertRead marks one alert event as read.
func (s *Service) MarkAlertRead(ctx context.Context, id string) error {
	return s.store.Alerts().MarkRead(ctx, id)
}

// MarkAllAlertsRead marks every alert event as read.
func (s *Service) MarkAllAlertsRead(ctx context.Context) error {
	return s.store.Alerts().MarkAllRead(ctx)
}

// CountUnreadAlerts reports the unread alert count for inbox badges.
func (s *Service) CountUnreadAlerts(ctx context.Context) (int, error) {
	return s.store.Alerts().CountUnread(ctx)
}
