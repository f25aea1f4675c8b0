package console

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/executor"
)

// detailValueWidth bounds how much of a deleted or replaced value is
// recorded in the history event detail.
const detailValueWidth = 256

// KeyWriteOptions tune a single mutating key operation.
type KeyWriteOptions struct {
	// GuardrailConfirmed acknowledges the production approval guardrail.
	GuardrailConfirmed bool

	// RetryPolicy overrides the connection's retry defaults.
	RetryPolicy *core.RetryPolicy
}

// ListKeys returns a page of keys without filtering.
func (s *Service) ListKeys(ctx context.Context, connectionID, cursor string, limit int) (*core.KeySearchResult, error) {
	profile, secret, err := s.profileAndSecret(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	outcome, err := s.exec.Run(ctx, profile, "listKeys", "", func(ctx context.Context) (interface{}, error) {
		return s.gateway.ListKeys(ctx, profile, secret, cursor, limit)
	}, executor.Options{})
	if err != nil {
		return nil, err
	}
	return outcome.Result.(*core.KeySearchResult), nil
}

// SearchKeys returns a page of keys matching a pattern.
func (s *Service) SearchKeys(ctx context.Context, connectionID, pattern, cursor string, limit int) (*core.KeySearchResult, error) {
	if pattern == "" {
		return nil, core.NewValidationFailure("search pattern is required", nil)
	}
	profile, secret, err := s.profileAndSecret(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	outcome, err := s.exec.Run(ctx, profile, "searchKeys", pattern, func(ctx context.Context) (interface{}, error) {
		return s.gateway.SearchKeys(ctx, profile, secret, pattern, cursor, limit)
	}, executor.Options{})
	if err != nil {
		return nil, err
	}
	return outcome.Result.(*core.KeySearchResult), nil
}

// GetKey fetches a single key. A nil record means the key is absent.
func (s *Service) GetKey(ctx context.Context, connectionID, key string) (*core.ValueRecord, error) {
	if key == "" {
		return nil, core.NewValidationFailure("key is required", nil)
	}
	profile, secret, err := s.profileAndSecret(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	outcome, err := s.exec.Run(ctx, profile, "getValue", key, func(ctx context.Context) (interface{}, error) {
		return s.gateway.GetValue(ctx, profile, secret, key)
	}, executor.Options{})
	if err != nil {
		return nil, err
	}
	record, _ := outcome.Result.(*core.ValueRecord)
	return record, nil
}

// SetKey writes a key with an optional TTL. Zero ttlSeconds means no
// expiry. The write is gated on connection writability and, for prod
// connections, an explicit guardrail confirmation.
func (s *Service) SetKey(ctx context.Context, connectionID, key, value string, ttlSeconds int, opts KeyWriteOptions) error {
	if key == "" {
		return core.NewValidationFailure("key is required", nil)
	}
	if ttlSeconds < 0 {
		return core.NewValidationFailure("ttlSeconds must not be negative", nil)
	}
	profile, secret, err := s.profileAndSecret(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := s.gateWrite(ctx, profile, "setValue", key, opts.GuardrailConfirmed); err != nil {
		return err
	}

	detail := ""
	if prior, snapErr := s.gateway.GetValue(ctx, profile, secret, key); snapErr == nil && prior != nil {
		detail = fmt.Sprintf("previous value (ttl %ds): %s", prior.TTLSeconds, truncateValue(prior.Value))
	}

	_, err = s.exec.Run(ctx, profile, "setValue", key, func(ctx context.Context) (interface{}, error) {
		return nil, s.gateway.SetValue(ctx, profile, secret, key, value, ttlSeconds)
	}, executor.Options{RetryPolicy: opts.RetryPolicy, Detail: detail})
	return err
}

// DeleteKey removes a key, recording the pre-delete value in the
// timeline. Gated like SetKey.
func (s *Service) DeleteKey(ctx context.Context, connectionID, key string, opts KeyWriteOptions) error {
	if key == "" {
		return core.NewValidationFailure("key is required", nil)
	}
	profile, secret, err := s.profileAndSecret(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := s.gateWrite(ctx, profile, "deleteKey", key, opts.GuardrailConfirmed); err != nil {
		return err
	}

	detail := ""
	if prior, snapErr := s.gateway.GetValue(ctx, profile, secret, key); snapErr == nil && prior != nil {
		detail = fmt.Sprintf("deleted value (ttl %ds): %s", prior.TTLSeconds, truncateValue(prior.Value))
	}

	_, err = s.exec.Run(ctx, profile, "deleteKey", key, func(ctx context.Context) (interface{}, error) {
		return nil, s.gateway.DeleteKey(ctx, profile, secret, key)
	}, executor.Options{RetryPolicy: opts.RetryPolicy, Detail: detail})
	return err
}

// gateWrite enforces the writability and production guardrail gates. A
// denial records a blocked timeline event and raises a policy alert
// before the operation reaches the backend.
func (s *Service) gateWrite(ctx context.Context, profile *core.ConnectionProfile, action, keyOrPattern string, confirmed bool) error {
	if !profile.Writable() {
		return s.denyWrite(ctx, profile, action, keyOrPattern, "connection is read-only")
	}
	if profile.Environment == core.EnvironmentProd && !confirmed {
		return s.denyWrite(ctx, profile, action, keyOrPattern, "production guardrail requires explicit confirmation")
	}
	return nil
}

func (s *Service) denyWrite(ctx context.Context, profile *core.ConnectionProfile, action, keyOrPattern, reason string) error {
	now := s.now()
	event := &core.HistoryEvent{
		ID:           uuid.New().String(),
		ConnectionID: profile.ID,
		Action:       action,
		KeyOrPattern: keyOrPattern,
		Status:       core.HistoryStatusBlocked,
		Message:      reason,
		Timestamp:    now,
	}
	if err := s.store.History().Append(ctx, event); err != nil {
		s.logger.WithError(err).WithConnectionID(profile.ID).Error("Failed to record blocked operation")
	}
	alert := &core.AlertEvent{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		ConnectionID: profile.ID,
		Environment:  profile.Environment,
		Severity:     core.SeverityWarning,
		Title:        "Operation blocked",
		Message:      fmt.Sprintf("%s on %q blocked: %s", action, profile.Name, reason),
		Source:       core.AlertSourcePolicy,
	}
	if err := s.store.Alerts().Append(ctx, alert); err != nil {
		s.logger.WithError(err).WithConnectionID(profile.ID).Error("Failed to raise policy alert")
	}
	if s.metrics != nil {
		s.metrics.RecordAlert(string(alert.Source), string(alert.Severity))
		s.metrics.RecordGovernanceDenial("gate")
	}
	return core.NewUnauthorizedFailure(reason, nil).
		WithConnection(profile.ID).
		WithOperation(action)
}

func truncateValue(value string) string {
	runes := []rune(value)
	if len(runes) <= detailValueWidth {
		return value
	}
	return string(runes[:detailValueWidth]) + "..."
}

// Timeline returns history events for a connection within [from, to],
// newest first. An empty connectionID spans all connections.
func (s *Service) Timeline(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*core.HistoryEvent, error) {
	return s.store.History().Range(ctx, connectionID, from, to, limit)
}

// Snapshots returns persisted operation snapshots within [from, to],
// newest first.
func (s *Service) Snapshots(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*core.OperationSnapshot, error) {
	return s.store.Observability().Range(ctx, connectionID, from, to, limit)
}
