package console

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cachedeck/cachedeck/pkg/alerting"
	"github.com/cachedeck/cachedeck/pkg/config"
	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/executor"
	"github.com/cachedeck/cachedeck/pkg/export"
	"github.com/cachedeck/cachedeck/pkg/gateway"
	"github.com/cachedeck/cachedeck/pkg/governance"
	"github.com/cachedeck/cachedeck/pkg/retention"
	"github.com/cachedeck/cachedeck/pkg/stores"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
	"github.com/cachedeck/cachedeck/pkg/workflow"
)

// App is a fully wired console instance.
type App struct {
	Service   *Service
	Exports   *export.Manager
	Telemetry *telemetry.Telemetry

	cfg            atomic.Pointer[config.Config]
	store          Store
	closer         func() error
	stopBackground context.CancelFunc
}

// Config returns the currently active configuration.
func (a *App) Config() *config.Config {
	return a.cfg.Load()
}

// ApplyConfig swaps in freshly reloaded settings. Only settings read at
// request time (export defaults) take effect; the store, telemetry, and
// retention cadence are fixed at startup and need a restart.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.cfg.Store(cfg)
}

// Bootstrap assembles the console from configuration: store, gateway
// registry, executor, workflow coordinator, governance resolver,
// retention enforcer, alert evaluator, and export manager.
func Bootstrap(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*App, error) {
	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := gateway.NewRegistry()
	memGateway := gateway.NewMemoryGateway()
	for _, engine := range []core.CacheEngine{core.EngineRedis, core.EngineMemcached, core.EngineValkey} {
		if err := registry.Register(engine, memGateway); err != nil {
			closeStore(closer)
			return nil, err
		}
	}

	exec := executor.New(store.History(), store.Observability(), tel.Metrics, tel.Logger.Zerolog())
	resolver := governance.NewResolver(store.PolicyPacks(), store.Assignments(), tel.Logger.Zerolog())
	preview := workflow.NewPreviewBuilder(registry, tel.Logger)
	coordinator := workflow.NewCoordinator(
		store.Templates(),
		store.Executions(),
		registry,
		exec,
		resolver,
		preview,
		store.History(),
		store.Alerts(),
		tel.Metrics,
		tel.Tracer,
		tel.Logger,
	)

	enforcer := retention.NewEnforcer(store.Retention(), store.Alerts(), tel.Metrics, tel.Logger.Zerolog())
	evaluator := alerting.NewEvaluator(store.AlertRules(), store.Alerts(), store.History(), store.Observability(), tel.Metrics, tel.Logger.Zerolog())
	exec.OnCompletion(func(ctx context.Context, profile *core.ConnectionProfile, at time.Time) {
		evaluator.Evaluate(ctx, profile, at)
		enforcer.Enforce(ctx, core.AllDatasets()...)
	})

	// Budgets also drift while the console is idle, so the enforcer
	// additionally runs on the configured cadence.
	bgCtx, stopBackground := context.WithCancel(ctx)
	go enforcer.Run(bgCtx, cfg.Retention.CheckInterval)

	collector := export.NewCollector(store.History(), store.Alerts(), store.Observability(), tel.Logger)
	exports := export.NewManager(collector, store.Bundles(), tel.Metrics, tel.Tracer, tel.Logger)

	service := New(Deps{
		Store:       store,
		Gateway:     registry,
		Executor:    exec,
		Coordinator: coordinator,
		Preview:     preview,
		Resolver:    resolver,
		Exports:     exports,
		Metrics:     tel.Metrics,
		Logger:      tel.Logger,
	})

	app := &App{
		Service:        service,
		Exports:        exports,
		Telemetry:      tel,
		store:          store,
		closer:         closer,
		stopBackground: stopBackground,
	}
	app.cfg.Store(cfg)
	return app, nil
}

// Close stops background enforcement, waits for in-flight export jobs,
// and releases the store.
func (a *App) Close() error {
	a.stopBackground()
	a.Exports.Wait()
	return closeStore(a.closer)
}

func openStore(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		return stores.NewMemoryStore(), nil, nil
	case "sqlite":
		sqlite, err := stores.NewSQLiteStore(stores.Config{
			Path:            cfg.Store.Path,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.Init(ctx); err != nil {
			return nil, nil, err
		}
		if err := sqlite.Migrate(ctx); err != nil {
			_ = sqlite.Close()
			return nil, nil, err
		}
		return sqlite, sqlite.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func closeStore(closer func() error) error {
	if closer == nil {
		return nil
	}
	return closer()
}
