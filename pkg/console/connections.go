package console

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// ConnectionRequest carries the user-editable fields of a connection
// profile.
type ConnectionRequest struct {
	Name        string            `json:"name"`
	Engine      core.CacheEngine  `json:"engine"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Environment core.Environment  `json:"environment"`
	ReadOnly    bool              `json:"read_only"`
	TimeoutMs   int               `json:"timeout_ms"`
	RetryPolicy *core.RetryPolicy `json:"retry_policy,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`

	// Secret is stored separately from the profile; empty means no
	// secret (create) or keep the existing one (update).
	Secret string `json:"secret,omitempty"`
}

func (r *ConnectionRequest) validate() error {
	if r.Name == "" {
		return core.NewValidationFailure("connection name is required", nil)
	}
	if !r.Engine.Valid() {
		return core.NewValidationFailure(fmt.Sprintf("unknown cache engine %q", r.Engine), nil)
	}
	if r.Host == "" {
		return core.NewValidationFailure("connection host is required", nil)
	}
	if r.Port < 1 || r.Port > 65535 {
		return core.NewValidationFailure(fmt.Sprintf("port %d out of range", r.Port), nil)
	}
	if !r.Environment.Valid() {
		return core.NewValidationFailure(fmt.Sprintf("unknown environment %q", r.Environment), nil)
	}
	return nil
}

// ListConnections returns every connection profile, newest first.
func (s *Service) ListConnections(ctx context.Context) ([]*core.ConnectionProfile, error) {
	return s.store.Connections().List(ctx)
}

// GetConnection returns one connection profile by id.
func (s *Service) GetConnection(ctx context.Context, id string) (*core.ConnectionProfile, error) {
	return s.store.Connections().FindByID(ctx, id)
}

// CreateConnection validates and persists a new connection profile,
// storing its secret separately when one is provided.
func (s *Service) CreateConnection(ctx context.Context, req ConnectionRequest) (*core.ConnectionProfile, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	now := s.now()
	profile := &core.ConnectionProfile{
		ID:                 uuid.New().String(),
		Name:               req.Name,
		Engine:             req.Engine,
		Host:               req.Host,
		Port:               req.Port,
		Environment:        req.Environment,
		ReadOnly:           req.ReadOnly,
		TimeoutMs:          req.TimeoutMs,
		DefaultRetryPolicy: req.RetryPolicy,
		Labels:             req.Labels,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Connections().Save(ctx, profile); err != nil {
		return nil, err
	}
	if req.Secret != "" {
		if err := s.store.Secrets().SaveSecret(ctx, profile.ID, req.Secret); err != nil {
			return nil, err
		}
	}
	s.logger.WithConnectionID(profile.ID).WithField("engine", string(profile.Engine)).Info("Connection created")
	return profile, nil
}

// UpdateConnection applies the request to an existing profile. The
// force-read-only flag is policy-owned and survives updates; use
// SetForceReadOnly to change it.
func (s *Service) UpdateConnection(ctx context.Context, id string, req ConnectionRequest) (*core.ConnectionProfile, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	profile, err := s.store.Connections().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	profile.Name = req.Name
	profile.Engine = req.Engine
	profile.Host = req.Host
	profile.Port = req.Port
	profile.Environment = req.Environment
	profile.ReadOnly = req.ReadOnly
	profile.TimeoutMs = req.TimeoutMs
	profile.DefaultRetryPolicy = req.RetryPolicy
	profile.Labels = req.Labels
	profile.UpdatedAt = s.now()
	if err := s.store.Connections().Save(ctx, profile); err != nil {
		return nil, err
	}
	if req.Secret != "" {
		if err := s.store.Secrets().SaveSecret(ctx, profile.ID, req.Secret); err != nil {
			return nil, err
		}
	}
	return profile, nil
}

// SetForceReadOnly sets or clears the policy-level read-only flag.
func (s *Service) SetForceReadOnly(ctx context.Context, id string, forced bool) (*core.ConnectionProfile, error) {
	profile, err := s.store.Connections().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	profile.ForceReadOnly = forced
	profile.UpdatedAt = s.now()
	if err := s.store.Connections().Save(ctx, profile); err != nil {
		return nil, err
	}
	s.logger.WithConnectionID(id).WithField("force_read_only", forced).Info("Connection policy flag updated")
	return profile, nil
}

// DeleteConnection removes a profile along with its secret and
// governance assignment.
func (s *Service) DeleteConnection(ctx context.Context, id string) error {
	if _, err := s.store.Connections().FindByID(ctx, id); err != nil {
		return err
	}
	if err := s.store.Secrets().DeleteSecret(ctx, id); err != nil {
		return err
	}
	if err := s.store.Assignments().Unassign(ctx, id); err != nil {
		return err
	}
	if err := s.store.Connections().Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithConnectionID(id).Info("Connection deleted")
	return nil
}

// TestConnection verifies the backend is reachable with the stored
// secret.
func (s *Service) TestConnection(ctx context.Context, id string) error {
	profile, secret, err := s.profileAndSecret(ctx, id)
	if err != nil {
		return err
	}
	return s.gateway.TestConnection(ctx, profile, secret)
}

// GetCapabilities reports what the connection's backend supports.
func (s *Service) GetCapabilities(ctx context.Context, id string) (*core.Capabilities, error) {
	profile, secret, err := s.profileAndSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.gateway.GetCapabilities(ctx, profile, secret)
}
