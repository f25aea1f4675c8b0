package console

import (
	"context"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/executor"
	"github.com/cachedeck/cachedeck/pkg/export"
	"github.com/cachedeck/cachedeck/pkg/governance"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
	"github.com/cachedeck/cachedeck/pkg/workflow"
)

// Store aggregates every repository port the console consumes. Both the
// SQLite and the in-memory store satisfy it.
type Store interface {
	Connections() core.ConnectionRepository
	Secrets() core.SecretStore
	Templates() core.WorkflowTemplateRepository
	Executions() core.WorkflowExecutionRepository
	PolicyPacks() core.GovernancePolicyPackRepository
	Assignments() core.GovernanceAssignmentRepository
	Retention() core.RetentionRepository
	Alerts() core.AlertRepository
	AlertRules() core.AlertRuleRepository
	History() core.HistoryRepository
	Observability() core.ObservabilityRepository
	Bundles() core.IncidentBundleRepository
}

// Deps carries the collaborators a Service composes.
type Deps struct {
	Store       Store
	Gateway     core.CacheGateway
	Executor    *executor.Executor
	Coordinator *workflow.Coordinator
	Preview     *workflow.PreviewBuilder
	Resolver    *governance.Resolver
	Exports     *export.Manager
	Metrics     *telemetry.Metrics
	Logger      *telemetry.Logger
}

// Service is the console's application API.
type Service struct {
	store       Store
	gateway     core.CacheGateway
	exec        *executor.Executor
	coordinator *workflow.Coordinator
	preview     *workflow.PreviewBuilder
	resolver    *governance.Resolver
	exports     *export.Manager
	metrics     *telemetry.Metrics
	logger      *telemetry.Logger

	// now is swappable in tests.
	now func() time.Time
}

// New creates the console service.
func New(deps Deps) *Service {
	return &Service{
		store:       deps.Store,
		gateway:     deps.Gateway,
		exec:        deps.Executor,
		coordinator: deps.Coordinator,
		preview:     deps.Preview,
		resolver:    deps.Resolver,
		exports:     deps.Exports,
		metrics:     deps.Metrics,
		logger:      deps.Logger.WithField("component", "console"),
		now:         time.Now,
	}
}

// profileAndSecret loads a connection profile and its secret. A missing
// secret is not an error; engines without authentication store none.
func (s *Service) profileAndSecret(ctx context.Context, connectionID string) (*core.ConnectionProfile, string, error) {
	profile, err := s.store.Connections().FindByID(ctx, connectionID)
	if err != nil {
		return nil, "", err
	}
	secret, err := s.store.Secrets().GetSecret(ctx, connectionID)
	if err != nil {
		if core.IsCode(err, core.CodeValidation) {
			return profile, "", nil
		}
		return nil, "", err
	}
	return profile, secret, nil
}
