package console

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/executor"
	"github.com/cachedeck/cachedeck/pkg/export"
	"github.com/cachedeck/cachedeck/pkg/gateway"
	"github.com/cachedeck/cachedeck/pkg/governance"
	"github.com/cachedeck/cachedeck/pkg/stores"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
	"github.com/cachedeck/cachedeck/pkg/workflow"
)

// testEnv wires a full console service over the in-memory store and
// gateway, mirroring what Bootstrap assembles for production.
type testEnv struct {
	svc     *Service
	store   *stores.MemoryStore
	exports *export.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := stores.NewMemoryStore()
	nop := zerolog.New(nil).Level(zerolog.Disabled)

	registry := gateway.NewRegistry()
	memGW := gateway.NewMemoryGateway()
	for _, engine := range []core.CacheEngine{core.EngineRedis, core.EngineMemcached, core.EngineValkey} {
		if err := registry.Register(engine, memGW); err != nil {
			t.Fatalf("Register %s: %v", engine, err)
		}
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "test", "dev", "dev")
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}

	exec := executor.New(store.History(), store.Observability(), metrics, nop)
	resolver := governance.NewResolver(store.PolicyPacks(), store.Assignments(), nop)
	preview := workflow.NewPreviewBuilder(registry, telemetry.NewNopLogger())
	coordinator := workflow.NewCoordinator(
		store.Templates(), store.Executions(), registry, exec, resolver, preview,
		store.History(), store.Alerts(), metrics, tracer, telemetry.NewNopLogger())
	collector := export.NewCollector(store.History(), store.Alerts(), store.Observability(), telemetry.NewNopLogger())
	exports := export.NewManager(collector, store.Bundles(), metrics, tracer, telemetry.NewNopLogger())

	svc := New(Deps{
		Store:       store,
		Gateway:     registry,
		Executor:    exec,
		Coordinator: coordinator,
		Preview:     preview,
		Resolver:    resolver,
		Exports:     exports,
		Metrics:     metrics,
		Logger:      telemetry.NewNopLogger(),
	})
	return &testEnv{svc: svc, store: store, exports: exports}
}

func connectionRequest(env core.Environment) ConnectionRequest {
	return ConnectionRequest{
		Name:        "test-redis",
		Engine:      core.EngineRedis,
		Host:        "localhost",
		Port:        6379,
		Environment: env,
		TimeoutMs:   2000,
	}
}

func (e *testEnv) createConnection(t *testing.T, env core.Environment) *core.ConnectionProfile {
	t.Helper()
	profile, err := e.svc.CreateConnection(context.Background(), connectionRequest(env))
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	return profile
}

func TestCreateConnectionValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		mutate func(*ConnectionRequest)
	}{
		{"missing name", func(r *ConnectionRequest) { r.Name = "" }},
		{"unknown engine", func(r *ConnectionRequest) { r.Engine = "etcd" }},
		{"missing host", func(r *ConnectionRequest) { r.Host = "" }},
		{"port too low", func(r *ConnectionRequest) { r.Port = 0 }},
		{"port too high", func(r *ConnectionRequest) { r.Port = 70000 }},
		{"unknown environment", func(r *ConnectionRequest) { r.Environment = "qa" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := connectionRequest(core.EnvironmentDev)
			tc.mutate(&req)
			if _, err := env.svc.CreateConnection(context.Background(), req); !core.IsCode(err, core.CodeValidation) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestConnectionLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	req := connectionRequest(core.EnvironmentStaging)
	req.Secret = "hunter2"
	profile, err := env.svc.CreateConnection(ctx, req)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	secret, err := env.store.Secrets().GetSecret(ctx, profile.ID)
	if err != nil || secret != "hunter2" {
		t.Fatalf("secret = %q (err %v), want hunter2", secret, err)
	}

	// Force-read-only is policy-owned and survives a regular update.
	if _, err := env.svc.SetForceReadOnly(ctx, profile.ID, true); err != nil {
		t.Fatalf("SetForceReadOnly: %v", err)
	}
	req.Name = "renamed"
	updated, err := env.svc.UpdateConnection(ctx, profile.ID, req)
	if err != nil {
		t.Fatalf("UpdateConnection: %v", err)
	}
	if updated.Name != "renamed" {
		t.Errorf("name = %q, want renamed", updated.Name)
	}
	if !updated.ForceReadOnly {
		t.Error("update cleared the force-read-only flag")
	}

	if err := env.svc.DeleteConnection(ctx, profile.ID); err != nil {
		t.Fatalf("DeleteConnection: %v", err)
	}
	if _, err := env.svc.GetConnection(ctx, profile.ID); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR after delete, got %v", err)
	}
	if _, err := env.store.Secrets().GetSecret(ctx, profile.ID); !core.IsCode(err, core.CodeValidation) {
		t.Error("secret should be deleted with the connection")
	}
}

func TestConnectionWithoutSecretIsUsable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentDev)

	// Memcached-style connections store no secret; operations must not
	// fail on the missing entry.
	if err := env.svc.TestConnection(ctx, profile.ID); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	caps, err := env.svc.GetCapabilities(ctx, profile.ID)
	if err != nil || caps == nil {
		t.Fatalf("GetCapabilities = %+v (err %v)", caps, err)
	}
}

func TestKeyOperations(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentDev)

	if err := env.svc.SetKey(ctx, profile.ID, "session:1", "v1", 0, KeyWriteOptions{}); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	record, err := env.svc.GetKey(ctx, profile.ID, "session:1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if record == nil || record.Value != "v1" {
		t.Fatalf("record = %+v, want v1", record)
	}

	result, err := env.svc.SearchKeys(ctx, profile.ID, "session:*", "", 10)
	if err != nil {
		t.Fatalf("SearchKeys: %v", err)
	}
	if len(result.Keys) != 1 || result.Keys[0] != "session:1" {
		t.Errorf("search = %v, want [session:1]", result.Keys)
	}

	if err := env.svc.DeleteKey(ctx, profile.ID, "session:1", KeyWriteOptions{}); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	record, err = env.svc.GetKey(ctx, profile.ID, "session:1")
	if err != nil {
		t.Fatalf("GetKey after delete: %v", err)
	}
	if record != nil {
		t.Errorf("record = %+v, want nil after delete", record)
	}
}

func TestKeyWriteRecordsValueDiff(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentDev)

	if err := env.svc.SetKey(ctx, profile.ID, "k", "original", 0, KeyWriteOptions{}); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := env.svc.SetKey(ctx, profile.ID, "k", "replacement", 0, KeyWriteOptions{}); err != nil {
		t.Fatalf("SetKey overwrite: %v", err)
	}
	if err := env.svc.DeleteKey(ctx, profile.ID, "k", KeyWriteOptions{}); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}

	events, err := env.svc.Timeline(ctx, profile.ID, time.Time{}, time.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}

	var sawOverwrite, sawDelete bool
	for _, event := range events {
		if strings.Contains(event.Detail, "previous value (ttl 0s): original") {
			sawOverwrite = true
		}
		if strings.Contains(event.Detail, "deleted value (ttl 0s): replacement") {
			sawDelete = true
		}
	}
	if !sawOverwrite {
		t.Error("overwrite did not record the previous value")
	}
	if !sawDelete {
		t.Error("delete did not record the removed value")
	}
}

func TestKeyWriteValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentDev)

	if err := env.svc.SetKey(ctx, profile.ID, "", "v", 0, KeyWriteOptions{}); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("empty key: expected VALIDATION_ERROR, got %v", err)
	}
	if err := env.svc.SetKey(ctx, profile.ID, "k", "v", -5, KeyWriteOptions{}); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("negative ttl: expected VALIDATION_ERROR, got %v", err)
	}
	if _, err := env.svc.SearchKeys(ctx, profile.ID, "", "", 10); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("empty pattern: expected VALIDATION_ERROR, got %v", err)
	}
}

func TestProdGuardrailOnKeyWrites(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentProd)

	err := env.svc.SetKey(ctx, profile.ID, "k", "v", 0, KeyWriteOptions{})
	if !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	// The denial leaves exactly one blocked event and one policy alert.
	events, err := env.svc.Timeline(ctx, profile.ID, time.Time{}, time.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(events) != 1 || events[0].Status != core.HistoryStatusBlocked {
		t.Fatalf("events = %+v, want exactly one blocked event", events)
	}
	alerts, err := env.svc.ListAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Source != core.AlertSourcePolicy {
		t.Fatalf("alerts = %+v, want exactly one policy alert", alerts)
	}

	if err := env.svc.SetKey(ctx, profile.ID, "k", "v", 0, KeyWriteOptions{GuardrailConfirmed: true}); err != nil {
		t.Fatalf("confirmed prod write: %v", err)
	}
}

func TestReadOnlyConnectionBlocksWrites(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	req := connectionRequest(core.EnvironmentDev)
	req.ReadOnly = true
	profile, err := env.svc.CreateConnection(ctx, req)
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}

	if err := env.svc.DeleteKey(ctx, profile.ID, "k", KeyWriteOptions{}); !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestBuiltinTemplatesAreImmutable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	req := TemplateRequest{Name: "x", Kind: core.KindDeleteByPattern}
	if _, err := env.svc.UpdateTemplate(ctx, workflow.TemplateDeleteByPattern, req); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("update builtin: expected VALIDATION_ERROR, got %v", err)
	}
	if err := env.svc.DeleteTemplate(ctx, workflow.TemplateTTLNormalize); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("delete builtin: expected VALIDATION_ERROR, got %v", err)
	}
}

func TestTemplateCRUD(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	created, err := env.svc.CreateTemplate(ctx, TemplateRequest{
		Name:           "Purge sessions",
		Kind:           core.KindDeleteByPattern,
		Parameters:     map[string]interface{}{"pattern": "session:*"},
		SupportsDryRun: true,
	})
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	templates, err := env.svc.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("ListTemplates: %v", err)
	}
	builtins := len(workflow.BuiltinTemplates())
	if len(templates) != builtins+1 {
		t.Errorf("got %d templates, want %d builtins plus 1 stored", len(templates), builtins)
	}

	updated, err := env.svc.UpdateTemplate(ctx, created.ID, TemplateRequest{
		Name: "Purge user sessions",
		Kind: core.KindDeleteByPattern,
	})
	if err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	if updated.Name != "Purge user sessions" {
		t.Errorf("name = %q", updated.Name)
	}

	if err := env.svc.DeleteTemplate(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if _, err := env.svc.GetTemplate(ctx, created.ID); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR after delete, got %v", err)
	}
}

func TestWorkflowThroughService(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentDev)

	for _, key := range []string{"session:1", "session:2"} {
		if err := env.svc.SetKey(ctx, profile.ID, key, "v", 0, KeyWriteOptions{}); err != nil {
			t.Fatalf("SetKey %s: %v", key, err)
		}
	}

	req := workflow.ExecuteRequest{
		TemplateID:         workflow.TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	}

	preview, err := env.svc.PreviewWorkflow(ctx, profile.ID, req, workflow.PageRequest{})
	if err != nil {
		t.Fatalf("PreviewWorkflow: %v", err)
	}
	if preview.EstimatedCount != 2 {
		t.Fatalf("preview count = %d, want 2", preview.EstimatedCount)
	}

	record, err := env.svc.ExecuteWorkflow(ctx, profile.ID, req)
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if record.Status != core.ExecutionSuccess || len(record.StepResults) != 2 {
		t.Fatalf("record = %+v, want 2 successful steps", record)
	}

	fetched, err := env.svc.GetExecution(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if fetched.Status != core.ExecutionSuccess {
		t.Errorf("fetched status = %s", fetched.Status)
	}

	executions, err := env.svc.ListExecutions(ctx, core.ExecutionFilter{ConnectionID: profile.ID})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(executions) != 1 {
		t.Errorf("got %d executions, want 1", len(executions))
	}
}

func TestPolicyPackValidation(t *testing.T) {
	env := newTestEnv(t)

	valid := PolicyPackRequest{
		Name:         "standard",
		Environments: []core.Environment{core.EnvironmentStaging},
		Enabled:      true,
	}

	tests := []struct {
		name   string
		mutate func(*PolicyPackRequest)
	}{
		{"missing name", func(r *PolicyPackRequest) { r.Name = "" }},
		{"no environments", func(r *PolicyPackRequest) { r.Environments = nil }},
		{"unknown environment", func(r *PolicyPackRequest) {
			r.Environments = []core.Environment{"qa"}
		}},
		{"item cap above ceiling", func(r *PolicyPackRequest) { r.MaxWorkflowItems = 10000 }},
		{"scheduling without windows", func(r *PolicyPackRequest) { r.SchedulingEnabled = true }},
		{"malformed window", func(r *PolicyPackRequest) {
			r.SchedulingEnabled = true
			r.ExecutionWindows = []core.ExecutionWindow{{
				Weekdays: []time.Weekday{time.Monday}, StartTime: "25:99", EndTime: "06:00",
			}}
		}},
		{"broken guard rego", func(r *PolicyPackRequest) { r.GuardRego = "package guard\ndeny[" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			if _, err := env.svc.CreatePolicyPack(context.Background(), req); !core.IsCode(err, core.CodeValidation) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
}

func TestPolicyPackAssignment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentStaging)

	pack, err := env.svc.CreatePolicyPack(ctx, PolicyPackRequest{
		Name:              "maintenance",
		Environments:      []core.Environment{core.EnvironmentStaging},
		SchedulingEnabled: true,
		ExecutionWindows: []core.ExecutionWindow{{
			Weekdays:  []time.Weekday{time.Saturday, time.Sunday},
			StartTime: "22:00",
			EndTime:   "06:00",
		}},
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("CreatePolicyPack: %v", err)
	}
	if pack.ExecutionWindows[0].ID == "" {
		t.Error("execution window did not get an id")
	}

	if _, err := env.svc.AssignPolicyPack(ctx, "missing", pack.ID); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("unknown connection: expected VALIDATION_ERROR, got %v", err)
	}
	if _, err := env.svc.AssignPolicyPack(ctx, profile.ID, "missing"); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("unknown pack: expected VALIDATION_ERROR, got %v", err)
	}

	assignment, err := env.svc.AssignPolicyPack(ctx, profile.ID, pack.ID)
	if err != nil {
		t.Fatalf("AssignPolicyPack: %v", err)
	}
	if assignment.PolicyPackID != pack.ID {
		t.Errorf("assignment = %+v", assignment)
	}

	if err := env.svc.UnassignPolicyPack(ctx, profile.ID); err != nil {
		t.Fatalf("UnassignPolicyPack: %v", err)
	}
	assignments, err := env.svc.ListAssignments(ctx)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(assignments) != 0 {
		t.Errorf("assignments = %+v, want none", assignments)
	}
}

func TestAlertRuleValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	valid := AlertRuleRequest{
		Metric:          core.MetricErrorRate,
		Threshold:       0.25,
		LookbackMinutes: 10,
		Severity:        core.SeverityWarning,
		Enabled:         true,
	}

	tests := []struct {
		name   string
		mutate func(*AlertRuleRequest)
	}{
		{"unknown metric", func(r *AlertRuleRequest) { r.Metric = "throughput" }},
		{"negative threshold", func(r *AlertRuleRequest) { r.Threshold = -1 }},
		{"zero lookback", func(r *AlertRuleRequest) { r.LookbackMinutes = 0 }},
		{"unknown severity", func(r *AlertRuleRequest) { r.Severity = "panic" }},
		{"unknown environment", func(r *AlertRuleRequest) { r.Environment = "qa" }},
		{"unknown connection", func(r *AlertRuleRequest) { r.ConnectionID = "missing" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			if _, err := env.svc.CreateAlertRule(ctx, req); !core.IsCode(err, core.CodeValidation) {
				t.Fatalf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}

	rule, err := env.svc.CreateAlertRule(ctx, valid)
	if err != nil {
		t.Fatalf("CreateAlertRule: %v", err)
	}
	if rule.Metric != core.MetricErrorRate || !rule.Enabled {
		t.Errorf("rule = %+v", rule)
	}
}

func TestRetentionPolicyUpdates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.svc.UpdateRetentionPolicy(ctx, core.DatasetTimelineEvents, RetentionPolicyRequest{
		RetentionDays: 0, StorageBudgetMb: 10,
	}); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("zero days: expected VALIDATION_ERROR, got %v", err)
	}
	if _, err := env.svc.UpdateRetentionPolicy(ctx, core.DatasetTimelineEvents, RetentionPolicyRequest{
		RetentionDays: 7, StorageBudgetMb: 0,
	}); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("zero budget: expected VALIDATION_ERROR, got %v", err)
	}

	policy, err := env.svc.UpdateRetentionPolicy(ctx, core.DatasetTimelineEvents, RetentionPolicyRequest{
		RetentionDays:   7,
		StorageBudgetMb: 64,
		AutoPurgeOldest: true,
	})
	if err != nil {
		t.Fatalf("UpdateRetentionPolicy: %v", err)
	}
	if policy.RetentionDays != 7 || policy.StorageBudgetMb != 64 || !policy.AutoPurgeOldest {
		t.Errorf("policy = %+v", policy)
	}

	summaries, err := env.svc.StorageSummary(ctx)
	if err != nil {
		t.Fatalf("StorageSummary: %v", err)
	}
	if len(summaries) != len(core.AllDatasets()) {
		t.Errorf("got %d summaries, want one per dataset", len(summaries))
	}
}

func TestExportThroughService(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	profile := env.createConnection(t, core.EnvironmentDev)

	if err := env.svc.SetKey(ctx, profile.ID, "k", "v", 0, KeyWriteOptions{}); err != nil {
		t.Fatalf("SetKey: %v", err)
	}

	req := core.IncidentExportRequest{
		From:           time.Now().Add(-time.Hour),
		To:             time.Now().Add(time.Hour),
		ConnectionIDs:  []string{profile.ID},
		Redaction:      core.RedactionStrict,
		DestinationDir: t.TempDir(),
	}

	bad := req
	bad.ConnectionIDs = []string{"missing"}
	if _, err := env.svc.StartExport(ctx, bad); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("unknown connection: expected VALIDATION_ERROR, got %v", err)
	}

	preview, err := env.svc.PreviewExport(ctx, req)
	if err != nil {
		t.Fatalf("PreviewExport: %v", err)
	}
	if preview.TimelineCount < 1 {
		t.Errorf("preview timeline = %d, want at least the set event", preview.TimelineCount)
	}

	job, err := env.svc.StartExport(ctx, req)
	if err != nil {
		t.Fatalf("StartExport: %v", err)
	}
	env.exports.Wait()

	job, err = env.svc.GetExportJob(job.ID)
	if err != nil {
		t.Fatalf("GetExportJob: %v", err)
	}
	if job.Status != core.ExportSuccess {
		t.Fatalf("job = %s (error %q), want success", job.Status, job.ErrorMessage)
	}

	bundles, err := env.svc.ListBundles(ctx)
	if err != nil {
		t.Fatalf("ListBundles: %v", err)
	}
	if len(bundles) != 1 || bundles[0].JobID != job.ID {
		t.Errorf("bundles = %+v, want one for the job", bundles)
	}
}
