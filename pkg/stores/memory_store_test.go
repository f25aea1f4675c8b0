package stores

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

func TestMemoryConnectionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Connections()

	profile := &core.ConnectionProfile{
		ID:          "conn-1",
		Name:        "staging-redis",
		Engine:      core.EngineRedis,
		Host:        "localhost",
		Port:        6379,
		Environment: core.EnvironmentStaging,
		CreatedAt:   time.Now(),
	}
	if err := repo.Save(ctx, profile); err != nil {
		t.Fatalf("Save: %v", err)
	}

	found, err := repo.FindByID(ctx, "conn-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if found.Name != "staging-redis" || found.Engine != core.EngineRedis {
		t.Errorf("found = %+v", found)
	}

	// Repositories hand out copies, never shared pointers.
	found.Name = "mutated"
	again, err := repo.FindByID(ctx, "conn-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if again.Name != "staging-redis" {
		t.Error("mutating a returned profile must not affect the store")
	}

	if _, err := repo.FindByID(ctx, "missing"); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR for an unknown id, got %v", err)
	}
}

func TestMemoryConnectionDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Connections().Save(ctx, &core.ConnectionProfile{ID: "conn-1", Name: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Secrets().SaveSecret(ctx, "conn-1", "hunter2"); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	if err := store.Assignments().Assign(ctx, &core.GovernanceAssignment{
		ConnectionID: "conn-1", PolicyPackID: "pack-1", AssignedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if err := store.Connections().Delete(ctx, "conn-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := store.Secrets().GetSecret(ctx, "conn-1"); !core.IsCode(err, core.CodeValidation) {
		t.Errorf("secret should be gone, got %v", err)
	}
	assignment, err := store.Assignments().FindByConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("FindByConnection: %v", err)
	}
	if assignment != nil {
		t.Errorf("assignment should be gone, got %+v", assignment)
	}
}

func TestMemoryPolicyPackDeleteCascadesAssignments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.PolicyPacks().Save(ctx, &core.GovernancePolicyPack{ID: "pack-1", Name: "p"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, conn := range []string{"conn-1", "conn-2"} {
		if err := store.Assignments().Assign(ctx, &core.GovernanceAssignment{
			ConnectionID: conn, PolicyPackID: "pack-1", AssignedAt: time.Now(),
		}); err != nil {
			t.Fatalf("Assign %s: %v", conn, err)
		}
	}

	if err := store.PolicyPacks().Delete(ctx, "pack-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	assignments, err := store.Assignments().List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(assignments) != 0 {
		t.Errorf("assignments = %+v, want none after pack delete", assignments)
	}
}

func TestMemoryExecutionsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Executions()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		conn := "conn-1"
		if i == 2 {
			conn = "conn-2"
		}
		if err := repo.Save(ctx, &core.WorkflowExecutionRecord{
			ID:           fmt.Sprintf("exec-%d", i),
			TemplateID:   "tpl-1",
			ConnectionID: conn,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			Status:       core.ExecutionSuccess,
		}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	records, err := repo.List(ctx, core.ExecutionFilter{ConnectionID: "conn-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 for conn-1", len(records))
	}
	if records[0].ID != "exec-1" || records[1].ID != "exec-0" {
		t.Errorf("order = [%s %s], want newest first", records[0].ID, records[1].ID)
	}

	limited, err := repo.List(ctx, core.ExecutionFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "exec-2" {
		t.Errorf("limited = %+v, want only the newest record", limited)
	}
}

func TestMemoryHistoryRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.History()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		if err := repo.Append(ctx, &core.HistoryEvent{
			ID:           fmt.Sprintf("evt-%d", i),
			ConnectionID: "conn-1",
			Status:       core.HistoryStatusSuccess,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	events, err := repo.Range(ctx, "conn-1", base.Add(time.Minute), base.Add(3*time.Minute), 0)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3 in range", len(events))
	}
	if events[0].ID != "evt-3" || events[2].ID != "evt-1" {
		t.Errorf("order = [%s .. %s], want newest first", events[0].ID, events[2].ID)
	}

	capped, err := repo.Range(ctx, "conn-1", time.Time{}, base.Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("Range capped: %v", err)
	}
	if len(capped) != 2 || capped[0].ID != "evt-4" {
		t.Errorf("capped = %+v, want the 2 newest events", capped)
	}
}

func TestMemoryAlertsUnreadTracking(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	repo := store.Alerts()

	for i := 0; i < 3; i++ {
		if err := repo.Append(ctx, &core.AlertEvent{
			ID:        fmt.Sprintf("alert-%d", i),
			CreatedAt: time.Now(),
			Severity:  core.SeverityInfo,
			Source:    core.AlertSourceApp,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	count, err := repo.CountUnread(ctx)
	if err != nil || count != 3 {
		t.Fatalf("unread = %d (err %v), want 3", count, err)
	}

	if err := repo.MarkRead(ctx, "alert-1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	count, err = repo.CountUnread(ctx)
	if err != nil || count != 2 {
		t.Fatalf("unread after MarkRead = %d (err %v), want 2", count, err)
	}

	if err := repo.MarkAllRead(ctx); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	count, err = repo.CountUnread(ctx)
	if err != nil || count != 0 {
		t.Fatalf("unread after MarkAllRead = %d (err %v), want 0", count, err)
	}

	if err := repo.MarkRead(ctx, "missing"); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestMemoryRetentionDefaultsSeeded(t *testing.T) {
	store := NewMemoryStore()

	policies, err := store.Retention().ListPolicies(context.Background())
	if err != nil {
		t.Fatalf("ListPolicies: %v", err)
	}
	if len(policies) != len(core.AllDatasets()) {
		t.Fatalf("got %d policies, want one per dataset", len(policies))
	}
	for _, policy := range policies {
		if policy.RetentionDays != 30 || policy.StorageBudgetMb != 256 {
			t.Errorf("policy %s = %+v, want 30 days / 256 MB defaults", policy.Dataset, policy)
		}
	}
}

func TestMemoryRetentionRejectsUnknownDataset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Retention().SavePolicy(ctx, &core.RetentionPolicy{Dataset: "scratch"})
	if !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("SavePolicy: expected VALIDATION_ERROR, got %v", err)
	}

	if _, err := store.Retention().Purge(ctx, "scratch", time.Now(), false); !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("Purge: expected VALIDATION_ERROR, got %v", err)
	}
}

func TestMemoryPurgeTimelineEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		if err := store.History().Append(ctx, &core.HistoryEvent{
			ID:           fmt.Sprintf("evt-%d", i),
			ConnectionID: "conn-1",
			Status:       core.HistoryStatusSuccess,
			Timestamp:    base.Add(time.Duration(i) * 24 * time.Hour),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	cutoff := base.Add(2 * 24 * time.Hour)

	// Dry run counts but does not delete.
	result, err := store.Retention().Purge(ctx, core.DatasetTimelineEvents, cutoff, true)
	if err != nil {
		t.Fatalf("Purge dry run: %v", err)
	}
	if result.DeletedRows != 2 || !result.DryRun {
		t.Fatalf("dry run result = %+v, want 2 rows counted", result)
	}
	events, err := store.History().Range(ctx, "conn-1", time.Time{}, base.Add(time.Hour*24*10), 0)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("dry run deleted rows: %d left, want 4", len(events))
	}

	result, err = store.Retention().Purge(ctx, core.DatasetTimelineEvents, cutoff, false)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if result.DeletedRows != 2 || result.FreedBytes <= 0 {
		t.Fatalf("result = %+v, want 2 rows freed", result)
	}
	events, err = store.History().Range(ctx, "conn-1", time.Time{}, base.Add(time.Hour*24*10), 0)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("%d events left, want 2", len(events))
	}
}

func TestMemoryPurgeDefaultsCutoffToPolicy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, time.March, 31, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.History().Append(ctx, &core.HistoryEvent{
		ID: "evt-old", ConnectionID: "conn-1",
		Status:    core.HistoryStatusSuccess,
		Timestamp: now.AddDate(0, 0, -45),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.History().Append(ctx, &core.HistoryEvent{
		ID: "evt-new", ConnectionID: "conn-1",
		Status:    core.HistoryStatusSuccess,
		Timestamp: now.AddDate(0, 0, -5),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Zero cutoff falls back to the policy's 30-day retention.
	result, err := store.Retention().Purge(ctx, core.DatasetTimelineEvents, time.Time{}, false)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if result.DeletedRows != 1 {
		t.Errorf("deleted %d rows, want only the 45-day-old event", result.DeletedRows)
	}
}

func TestMemoryStorageSummaryOverBudget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Retention().SavePolicy(ctx, &core.RetentionPolicy{
		Dataset:         core.DatasetIncidentArtifacts,
		RetentionDays:   30,
		StorageBudgetMb: 1,
		UpdatedAt:       time.Now(),
	}); err != nil {
		t.Fatalf("SavePolicy: %v", err)
	}
	if err := store.Bundles().Save(ctx, &core.IncidentBundle{
		ID: "bundle-1", JobID: "job-1",
		SizeBytes: 2 * 1024 * 1024,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Save bundle: %v", err)
	}

	summaries, err := store.Retention().GetStorageSummary(ctx)
	if err != nil {
		t.Fatalf("GetStorageSummary: %v", err)
	}

	var artifacts *core.StorageDatasetSummary
	for _, summary := range summaries {
		if summary.Dataset == core.DatasetIncidentArtifacts {
			artifacts = summary
		}
	}
	if artifacts == nil {
		t.Fatal("no summary for incident artifacts")
	}
	if !artifacts.OverBudget {
		t.Errorf("summary = %+v, want over budget", artifacts)
	}
	if artifacts.UsageRatio < 1.9 || artifacts.UsageRatio > 2.1 {
		t.Errorf("usage ratio = %f, want ~2.0", artifacts.UsageRatio)
	}
	if artifacts.RowCount != 1 {
		t.Errorf("row count = %d, want 1", artifacts.RowCount)
	}
}
