package governance

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/stores"
)

func newTestResolver(t *testing.T) (*Resolver, *stores.MemoryStore) {
	t.Helper()
	store := stores.NewMemoryStore()
	resolver := NewResolver(store.PolicyPacks(), store.Assignments(), zerolog.New(nil).Level(zerolog.Disabled))
	return resolver, store
}

func governedProfile(env core.Environment) *core.ConnectionProfile {
	return &core.ConnectionProfile{ID: "conn-1", Name: "governed", Environment: env}
}

func savePack(t *testing.T, store *stores.MemoryStore, pack *core.GovernancePolicyPack) {
	t.Helper()
	ctx := context.Background()
	if err := store.PolicyPacks().Save(ctx, pack); err != nil {
		t.Fatalf("saving pack: %v", err)
	}
	if err := store.Assignments().Assign(ctx, &core.GovernanceAssignment{
		ConnectionID: "conn-1",
		PolicyPackID: pack.ID,
		AssignedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("assigning pack: %v", err)
	}
}

func TestResolveUnassignedIsUnrestricted(t *testing.T) {
	resolver, _ := newTestResolver(t)

	resolution, err := resolver.Resolve(context.Background(), governedProfile(core.EnvironmentProd), "deleteByPattern")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolution.Pack != nil {
		t.Error("unassigned connection should resolve without a pack")
	}
	if resolution.ItemLimit() != core.MaxWorkflowItems {
		t.Errorf("unrestricted limit = %d, want %d", resolution.ItemLimit(), core.MaxWorkflowItems)
	}
}

func TestResolveDeniesEnvironment(t *testing.T) {
	resolver, store := newTestResolver(t)
	savePack(t, store, &core.GovernancePolicyPack{
		ID:           "pack-1",
		Name:         "staging-only",
		Environments: []core.Environment{core.EnvironmentStaging},
		Enabled:      true,
	})

	_, err := resolver.Resolve(context.Background(), governedProfile(core.EnvironmentProd), "deleteByPattern")
	if !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED, got %v", err)
	}
}

func TestResolveDisabledPackIsUnrestricted(t *testing.T) {
	resolver, store := newTestResolver(t)
	savePack(t, store, &core.GovernancePolicyPack{
		ID:           "pack-1",
		Name:         "disabled",
		Environments: []core.Environment{core.EnvironmentStaging},
		Enabled:      false,
	})

	resolution, err := resolver.Resolve(context.Background(), governedProfile(core.EnvironmentProd), "deleteByPattern")
	if err != nil {
		t.Fatalf("disabled pack should not gate: %v", err)
	}
	if resolution.Pack != nil {
		t.Error("disabled pack should resolve as unrestricted")
	}
}

func TestResolveExecutionWindows(t *testing.T) {
	allDays := []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}

	tests := []struct {
		name    string
		window  core.ExecutionWindow
		now     time.Time
		allowed bool
	}{
		{
			name:    "inside daytime window",
			window:  core.ExecutionWindow{ID: "w1", Weekdays: allDays, StartTime: "09:00", EndTime: "17:00"},
			now:     time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
			allowed: true,
		},
		{
			name:    "outside daytime window",
			window:  core.ExecutionWindow{ID: "w1", Weekdays: allDays, StartTime: "09:00", EndTime: "17:00"},
			now:     time.Date(2026, 8, 31, 18, 30, 0, 0, time.UTC),
			allowed: false,
		},
		{
			name:    "overnight window before midnight",
			window:  core.ExecutionWindow{ID: "w1", Weekdays: allDays, StartTime: "22:00", EndTime: "02:00"},
			now:     time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC),
			allowed: true,
		},
		{
			name:    "overnight window after midnight",
			window:  core.ExecutionWindow{ID: "w1", Weekdays: allDays, StartTime: "22:00", EndTime: "02:00"},
			now:     time.Date(2026, 9, 1, 1, 0, 0, 0, time.UTC),
			allowed: true,
		},
		{
			name:    "overnight window midday",
			window:  core.ExecutionWindow{ID: "w1", Weekdays: allDays, StartTime: "22:00", EndTime: "02:00"},
			now:     time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
			allowed: false,
		},
		{
			name:    "wrong weekday",
			window:  core.ExecutionWindow{ID: "w1", Weekdays: []time.Weekday{time.Sunday}, StartTime: "09:00", EndTime: "17:00"},
			now:     time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC), // a Monday
			allowed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, store := newTestResolver(t)
			savePack(t, store, &core.GovernancePolicyPack{
				ID:                "pack-1",
				Name:              "scheduled",
				Environments:      []core.Environment{core.EnvironmentDev},
				SchedulingEnabled: true,
				ExecutionWindows:  []core.ExecutionWindow{tt.window},
				Enabled:           true,
			})
			resolver.now = func() time.Time { return tt.now }

			resolution, err := resolver.Resolve(context.Background(), governedProfile(core.EnvironmentDev), "deleteByPattern")
			if tt.allowed {
				if err != nil {
					t.Fatalf("expected window to match: %v", err)
				}
				if resolution.ActiveWindowID != "w1" {
					t.Errorf("ActiveWindowID = %q, want w1", resolution.ActiveWindowID)
				}
				return
			}
			if !core.IsCode(err, core.CodeUnauthorized) {
				t.Fatalf("expected UNAUTHORIZED outside window, got %v", err)
			}
		})
	}
}

func TestResolutionCaps(t *testing.T) {
	resolution := &Resolution{Pack: &core.GovernancePolicyPack{MaxWorkflowItems: 100, MaxRetryAttempts: 2}}

	if got := resolution.ItemLimit(); got != 100 {
		t.Errorf("ItemLimit = %d, want 100", got)
	}

	capped := resolution.CapRetryPolicy(core.RetryPolicy{MaxAttempts: 5})
	if capped.MaxAttempts != 2 {
		t.Errorf("capped MaxAttempts = %d, want 2", capped.MaxAttempts)
	}

	uncapped := resolution.CapRetryPolicy(core.RetryPolicy{MaxAttempts: 1})
	if uncapped.MaxAttempts != 1 {
		t.Errorf("policies under the cap must pass through, got %d", uncapped.MaxAttempts)
	}

	// Pack caps never raise the console-wide ceiling.
	huge := &Resolution{Pack: &core.GovernancePolicyPack{MaxWorkflowItems: 10000}}
	if got := huge.ItemLimit(); got != core.MaxWorkflowItems {
		t.Errorf("ItemLimit = %d, want %d", got, core.MaxWorkflowItems)
	}
}

func TestResolveRegoGuard(t *testing.T) {
	guard := `package cachedeck.guard

deny contains msg if {
	input.environment == "prod"
	input.item_count > 50
	msg := "bulk mutations this large need a change ticket on prod"
}
`

	resolver, store := newTestResolver(t)
	savePack(t, store, &core.GovernancePolicyPack{
		ID:           "pack-1",
		Name:         "guarded",
		Environments: []core.Environment{core.EnvironmentDev, core.EnvironmentProd},
		GuardRego:    guard,
		Enabled:      true,
	})

	ctx := context.Background()

	if _, err := resolver.ResolveWithItemCount(ctx, governedProfile(core.EnvironmentProd), "deleteByPattern", 10); err != nil {
		t.Fatalf("guard should allow small prod runs: %v", err)
	}
	if _, err := resolver.ResolveWithItemCount(ctx, governedProfile(core.EnvironmentDev), "deleteByPattern", 400); err != nil {
		t.Fatalf("guard should allow large dev runs: %v", err)
	}

	_, err := resolver.ResolveWithItemCount(ctx, governedProfile(core.EnvironmentProd), "deleteByPattern", 400)
	if !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("guard should deny large prod runs, got %v", err)
	}
}

func TestGuardReusesCompiledModule(t *testing.T) {
	guard := `package cachedeck.guard

deny contains msg if {
	input.item_count > 50
	msg := "too many items"
}
`

	resolver, store := newTestResolver(t)
	savePack(t, store, &core.GovernancePolicyPack{
		ID:           "pack-1",
		Name:         "guarded",
		Environments: []core.Environment{core.EnvironmentDev},
		GuardRego:    guard,
		Enabled:      true,
	})

	ctx := context.Background()
	if _, err := resolver.ResolveWithItemCount(ctx, governedProfile(core.EnvironmentDev), "deleteByPattern", 10); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	first := resolver.guards.guards["pack-1"]
	if first == nil || first.module == nil {
		t.Fatal("guard module was not cached after evaluation")
	}
	if want := "data.cachedeck.guard.deny"; first.query != want {
		t.Errorf("cached query = %q, want %q", first.query, want)
	}

	// A second evaluation under the same pack source evaluates the cached
	// module rather than reparsing it.
	_, err := resolver.ResolveWithItemCount(ctx, governedProfile(core.EnvironmentDev), "deleteByPattern", 400)
	if !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("cached guard should still deny, got %v", err)
	}
	if resolver.guards.guards["pack-1"] != first {
		t.Error("guard was recompiled despite unchanged source")
	}
}

func TestResolveBrokenGuardFailsClosed(t *testing.T) {
	resolver, store := newTestResolver(t)
	savePack(t, store, &core.GovernancePolicyPack{
		ID:           "pack-1",
		Name:         "broken",
		Environments: []core.Environment{core.EnvironmentDev},
		GuardRego:    "this is not rego",
		Enabled:      true,
	})

	_, err := resolver.Resolve(context.Background(), governedProfile(core.EnvironmentDev), "deleteByPattern")
	if !core.IsCode(err, core.CodeUnauthorized) {
		t.Fatalf("broken guards must fail closed, got %v", err)
	}
}

func TestValidateWindow(t *testing.T) {
	valid := core.ExecutionWindow{Weekdays: []time.Weekday{time.Monday}, StartTime: "09:00", EndTime: "17:00"}
	if err := ValidateWindow(valid); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}

	bad := []core.ExecutionWindow{
		{StartTime: "09:00", EndTime: "17:00"},
		{Weekdays: []time.Weekday{time.Monday}, StartTime: "25:00", EndTime: "17:00"},
		{Weekdays: []time.Weekday{time.Monday}, StartTime: "09:00", EndTime: "bad"},
		{Weekdays: []time.Weekday{time.Monday}, StartTime: "09:00", EndTime: "17:00", Timezone: "Not/AZone"},
	}
	for i, window := range bad {
		if err := ValidateWindow(window); !core.IsCode(err, core.CodeValidation) {
			t.Errorf("window %d should fail validation, got %v", i, err)
		}
	}
}
