package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/executor"
	"github.com/cachedeck/cachedeck/pkg/gateway"
	"github.com/cachedeck/cachedeck/pkg/governance"
	"github.com/cachedeck/cachedeck/pkg/stores"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// failingGateway wraps the memory gateway and injects connection
// failures on DeleteKey for selected keys. A negative budget fails
// forever; a positive one decrements per failure.
type failingGateway struct {
	*gateway.MemoryGateway
	failures map[string]int
}

func (g *failingGateway) DeleteKey(ctx context.Context, profile *core.ConnectionProfile, secret, key string) error {
	if n, ok := g.failures[key]; ok && n != 0 {
		if n > 0 {
			g.failures[key] = n - 1
		}
		return core.NewConnectionFailure("backend unreachable", nil)
	}
	return g.MemoryGateway.DeleteKey(ctx, profile, secret, key)
}

// vanishingGateway hides selected keys from GetValue while still listing
// them in searches, mimicking a key expiring between preview and run.
type vanishingGateway struct {
	*gateway.MemoryGateway
	hidden map[string]bool
}

func (g *vanishingGateway) GetValue(ctx context.Context, profile *core.ConnectionProfile, secret, key string) (*core.ValueRecord, error) {
	if g.hidden[key] {
		return nil, nil
	}
	return g.MemoryGateway.GetValue(ctx, profile, secret, key)
}

func newTestCoordinator(t *testing.T, gw core.CacheGateway) (*Coordinator, *stores.MemoryStore) {
	t.Helper()
	store := stores.NewMemoryStore()
	nop := zerolog.New(nil).Level(zerolog.Disabled)

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
	preview := NewPreviewBuilder(gw, telemetry.NewNopLogger())

	coord := NewCoordinator(
		store.Templates(), store.Executions(), gw, exec, resolver, preview,
		store.History(), store.Alerts(), metrics, tracer, telemetry.NewNopLogger())
	return coord, store
}

func workflowProfile() *core.ConnectionProfile {
	return &core.ConnectionProfile{
		ID:          "conn-1",
		Name:        "staging-redis",
		Engine:      core.EngineRedis,
		Host:        "localhost",
		Port:        6379,
		Environment: core.EnvironmentStaging,
		TimeoutMs:   2000,
	}
}

func seedSessionKeys(t *testing.T, gw core.CacheGateway, profile *core.ConnectionProfile, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		key := "session:" + string(rune('0'+i))
		if err := gw.SetValue(context.Background(), profile, "", key, "v", 0); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
}

func TestExecuteDryRunDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemoryGateway()
	coord, store := newTestCoordinator(t, gw)
	profile := workflowProfile()
	seedSessionKeys(t, gw, profile, 2)

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
		DryRun:             true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if record.Status != core.ExecutionSuccess || !record.DryRun {
		t.Errorf("status=%s dryRun=%v, want success/true", record.Status, record.DryRun)
	}
	if len(record.StepResults) != 1 || record.StepResults[0].Step != "preview" {
		t.Fatalf("step results = %+v, want a single preview step", record.StepResults)
	}
	if record.StepResults[0].Message != "2 item(s) previewed" {
		t.Errorf("preview message = %q", record.StepResults[0].Message)
	}

	value, err := gw.GetValue(ctx, profile, "", "session:1")
	if err != nil || value == nil {
		t.Errorf("dry run must not delete keys (record=%v err=%v)", value, err)
	}
	if _, err := store.Executions().FindByID(ctx, record.ID); err != nil {
		t.Errorf("execution record not persisted: %v", err)
	}
}

func TestExecuteDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemoryGateway()
	coord, _ := newTestCoordinator(t, gw)
	profile := workflowProfile()
	seedSessionKeys(t, gw, profile, 3)

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if record.Status != core.ExecutionSuccess {
		t.Fatalf("status = %s, want success", record.Status)
	}
	if len(record.StepResults) != 3 {
		t.Fatalf("got %d steps, want 3", len(record.StepResults))
	}
	for _, step := range record.StepResults {
		if step.Status != core.StepSuccess {
			t.Errorf("step %s status = %s, want success", step.Step, step.Status)
		}
	}

	value, err := gw.GetValue(ctx, profile, "", "session:1")
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if value != nil {
		t.Error("session:1 should have been deleted")
	}
}

func TestExecuteReadOnlyConnectionBlocked(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemoryGateway()
	coord, store := newTestCoordinator(t, gw)
	profile := workflowProfile()
	profile.ReadOnly = true
	seedSessionKeys(t, gw, profile, 1)

	_, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	})
	if !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}

	events, err := store.History().Range(ctx, profile.ID, time.Time{}, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("history range: %v", err)
	}
	if len(events) != 1 || events[0].Status != core.HistoryStatusBlocked {
		t.Fatalf("history = %+v, want exactly one blocked event", events)
	}

	alerts, err := store.Alerts().List(ctx, 10)
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Source != core.AlertSourcePolicy {
		t.Fatalf("alerts = %+v, want exactly one policy alert", alerts)
	}

	value, err := gw.GetValue(ctx, profile, "", "session:1")
	if err != nil || value == nil {
		t.Error("blocked run must not delete keys")
	}
}

func TestExecuteProdGuardrail(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemoryGateway()
	coord, _ := newTestCoordinator(t, gw)
	profile := workflowProfile()
	profile.Environment = core.EnvironmentProd
	seedSessionKeys(t, gw, profile, 1)

	req := ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	}
	if _, err := coord.Execute(ctx, profile, "", req); !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("unconfirmed prod run: expected UNAUTHORIZED, got %v", err)
	}

	req.GuardrailConfirmed = true
	record, err := coord.Execute(ctx, profile, "", req)
	if err != nil {
		t.Fatalf("confirmed prod run: %v", err)
	}
	if record.Status != core.ExecutionSuccess {
		t.Errorf("status = %s, want success", record.Status)
	}
}

func TestExecuteAbortsAndResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	gw := &failingGateway{
		MemoryGateway: gateway.NewMemoryGateway(),
		failures:      map[string]int{"session:1": -1},
	}
	coord, store := newTestCoordinator(t, gw)
	profile := workflowProfile()
	profile.DefaultRetryPolicy = &core.RetryPolicy{
		MaxAttempts:      1,
		BackoffMs:        1,
		AbortOnErrorRate: 0.5,
	}
	seedSessionKeys(t, gw, profile, 4)

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if record.Status != core.ExecutionAborted {
		t.Fatalf("status = %s, want aborted", record.Status)
	}
	if record.CheckpointToken != "1" {
		t.Errorf("checkpoint = %q, want 1", record.CheckpointToken)
	}
	if len(record.StepResults) != 1 || record.StepResults[0].Status != core.StepError {
		t.Fatalf("step results = %+v, want one failed step", record.StepResults)
	}

	alerts, err := store.Alerts().List(ctx, 10)
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != core.SeverityCritical || alerts[0].Source != core.AlertSourceWorkflow {
		t.Fatalf("alerts = %+v, want one critical workflow alert", alerts)
	}

	// The backend recovers; resume picks up after the checkpoint.
	gw.failures = map[string]int{}
	resumed, err := coord.Resume(ctx, profile, "", record.ID, false)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != core.ExecutionSuccess {
		t.Fatalf("resumed status = %s, want success", resumed.Status)
	}
	if resumed.ResumedFromExecutionID != record.ID {
		t.Errorf("ResumedFromExecutionID = %q, want %q", resumed.ResumedFromExecutionID, record.ID)
	}
	if len(resumed.StepResults) != 3 {
		t.Errorf("resumed steps = %d, want 3", len(resumed.StepResults))
	}
}

func TestResumeRequiresCheckpoint(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemoryGateway()
	coord, _ := newTestCoordinator(t, gw)
	profile := workflowProfile()
	seedSessionKeys(t, gw, profile, 1)

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if _, err := coord.Resume(ctx, profile, "", record.ID, false); !core.IsCode(err, core.CodeConflict) {
		t.Fatalf("expected CONFLICT for a successful run, got %v", err)
	}
}

func TestExecuteCountsRetries(t *testing.T) {
	ctx := context.Background()
	gw := &failingGateway{
		MemoryGateway: gateway.NewMemoryGateway(),
		failures:      map[string]int{"session:1": 1},
	}
	coord, _ := newTestCoordinator(t, gw)
	profile := workflowProfile()
	profile.DefaultRetryPolicy = &core.RetryPolicy{
		MaxAttempts:      3,
		BackoffMs:        1,
		AbortOnErrorRate: 1.0,
	}
	seedSessionKeys(t, gw, profile, 1)

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if record.Status != core.ExecutionSuccess {
		t.Fatalf("status = %s, want success", record.Status)
	}
	if record.StepResults[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", record.StepResults[0].Attempts)
	}
	if record.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", record.RetryCount)
	}
}

func TestExecuteGovernanceItemCap(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemoryGateway()
	coord, store := newTestCoordinator(t, gw)
	profile := workflowProfile()
	seedSessionKeys(t, gw, profile, 4)

	now := time.Now()
	pack := &core.GovernancePolicyPack{
		ID:               "pack-1",
		Name:             "capped",
		Environments:     []core.Environment{core.EnvironmentStaging},
		MaxWorkflowItems: 2,
		Enabled:          true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.PolicyPacks().Save(ctx, pack); err != nil {
		t.Fatalf("saving pack: %v", err)
	}
	if err := store.Assignments().Assign(ctx, &core.GovernanceAssignment{
		ConnectionID: profile.ID,
		PolicyPackID: pack.ID,
		AssignedAt:   now,
	}); err != nil {
		t.Fatalf("assigning pack: %v", err)
	}

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateDeleteByPattern,
		ParameterOverrides: map[string]interface{}{"pattern": "session:*"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(record.StepResults) != 2 {
		t.Errorf("got %d steps, want the pack cap of 2", len(record.StepResults))
	}
	if record.PolicyPackID != pack.ID {
		t.Errorf("PolicyPackID = %q, want %q", record.PolicyPackID, pack.ID)
	}
}

func TestExecuteSkipsVanishedTTLTargets(t *testing.T) {
	ctx := context.Background()
	gw := &vanishingGateway{
		MemoryGateway: gateway.NewMemoryGateway(),
		hidden:        map[string]bool{"cache:ghost": true},
	}
	coord, _ := newTestCoordinator(t, gw)
	profile := workflowProfile()
	if err := gw.SetValue(ctx, profile, "", "cache:ghost", "v", 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		TemplateID:         TemplateTTLNormalize,
		ParameterOverrides: map[string]interface{}{"pattern": "cache:*", "ttlSeconds": 600},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if record.Status != core.ExecutionSuccess {
		t.Fatalf("status = %s, want success", record.Status)
	}
	step := record.StepResults[0]
	if step.Status != core.StepSkipped || step.Message != "key absent, skipped" {
		t.Errorf("step = %+v, want a skipped step", step)
	}
}

func TestRerunReconstructsInlineTemplate(t *testing.T) {
	ctx := context.Background()
	gw := gateway.NewMemoryGateway()
	coord, _ := newTestCoordinator(t, gw)
	profile := workflowProfile()

	record, err := coord.Execute(ctx, profile, "", ExecuteRequest{
		InlineTemplate: &core.WorkflowTemplate{
			Kind: core.KindWarmupSet,
			Parameters: map[string]interface{}{
				"entries": []interface{}{
					map[string]interface{}{"key": "warm:1", "value": "v1"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(record.TemplateID) < len("inline-") || record.TemplateID[:len("inline-")] != "inline-" {
		t.Fatalf("template id = %q, want inline- prefix", record.TemplateID)
	}

	rerun, err := coord.Rerun(ctx, profile, "", record.ID, false)
	if err != nil {
		t.Fatalf("Rerun: %v", err)
	}
	if rerun.Status != core.ExecutionSuccess || rerun.Kind != core.KindWarmupSet {
		t.Errorf("rerun status=%s kind=%s, want success/warmupSet", rerun.Status, rerun.Kind)
	}
	if rerun.ID == record.ID {
		t.Error("rerun must create a fresh execution record")
	}

	value, err := gw.GetValue(ctx, profile, "", "warm:1")
	if err != nil || value == nil || value.Value != "v1" {
		t.Errorf("warm:1 = %+v (err %v), want v1", value, err)
	}
}
