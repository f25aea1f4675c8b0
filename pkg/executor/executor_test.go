package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachedeck/cachedeck/pkg/core"
)

type recordingHistory struct {
	events []*core.HistoryEvent
}

func (r *recordingHistory) Append(_ context.Context, event *core.HistoryEvent) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingHistory) Range(_ context.Context, _ string, _, _ time.Time, _ int) ([]*core.HistoryEvent, error) {
	return r.events, nil
}

type recordingObs struct {
	snapshots []*core.OperationSnapshot
}

func (r *recordingObs) Append(_ context.Context, snapshot *core.OperationSnapshot) error {
	r.snapshots = append(r.snapshots, snapshot)
	return nil
}

func (r *recordingObs) Range(_ context.Context, _ string, _, _ time.Time, _ int) ([]*core.OperationSnapshot, error) {
	return r.snapshots, nil
}

func newTestExecutor(t *testing.T) (*Executor, *recordingHistory, *recordingObs) {
	t.Helper()
	history := &recordingHistory{}
	obs := &recordingObs{}
	exec := New(history, obs, nil, zerolog.New(nil).Level(zerolog.Disabled))
	exec.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return exec, history, obs
}

func testProfile() *core.ConnectionProfile {
	return &core.ConnectionProfile{
		ID:          "conn-1",
		Name:        "test",
		Engine:      core.EngineRedis,
		Environment: core.EnvironmentDev,
		TimeoutMs:   2000,
	}
}

func TestRunSuccessFirstAttempt(t *testing.T) {
	exec, history, _ := newTestExecutor(t)

	outcome, err := exec.Run(context.Background(), testProfile(), "getValue", "k", func(_ context.Context) (interface{}, error) {
		return "value", nil
	}, Options{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", outcome.Attempts)
	}
	if outcome.Result != "value" {
		t.Errorf("Result = %v, want value", outcome.Result)
	}

	if len(history.events) != 1 {
		t.Fatalf("expected one history event, got %d", len(history.events))
	}
	event := history.events[0]
	if event.Status != core.HistoryStatusSuccess || event.Action != "getValue" || event.ConnectionID != "conn-1" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	calls := 0
	outcome, err := exec.Run(context.Background(), testProfile(), "setValue", "k", func(_ context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, core.NewConnectionFailure("transient", nil)
		}
		return nil, nil
	}, Options{RetryPolicy: &core.RetryPolicy{MaxAttempts: 5, AbortOnErrorRate: 1.0}})
	if err != nil {
		t.Fatalf("Run failed after retries: %v", err)
	}
	if outcome.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", outcome.Attempts)
	}
}

func TestRunStopsOnNonRetryableError(t *testing.T) {
	exec, history, _ := newTestExecutor(t)

	calls := 0
	_, err := exec.Run(context.Background(), testProfile(), "setValue", "k", func(_ context.Context) (interface{}, error) {
		calls++
		return nil, core.NewValidationFailure("bad key", nil)
	}, Options{RetryPolicy: &core.RetryPolicy{MaxAttempts: 5, AbortOnErrorRate: 1.0}})
	if !core.IsCode(err, core.CodeValidation) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error should not retry, got %d calls", calls)
	}
	if history.events[0].Status != core.HistoryStatusError {
		t.Errorf("failed run should record an error event")
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	calls := 0
	_, err := exec.Run(context.Background(), testProfile(), "setValue", "k", func(_ context.Context) (interface{}, error) {
		calls++
		return nil, core.NewConnectionFailure("down", nil)
	}, Options{RetryPolicy: &core.RetryPolicy{MaxAttempts: 3, AbortOnErrorRate: 1.0}})
	if err == nil {
		t.Fatal("expected failure")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRunAbortsOnErrorRate(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	calls := 0
	_, err := exec.Run(context.Background(), testProfile(), "setValue", "k", func(_ context.Context) (interface{}, error) {
		calls++
		return nil, core.NewConnectionFailure("down", nil)
	}, Options{RetryPolicy: &core.RetryPolicy{MaxAttempts: 10, AbortOnErrorRate: 0.5}})

	// First attempt fails: errorRate 1/1 = 1.0 > 0.5, abort immediately.
	if calls != 1 {
		t.Errorf("expected abort after first attempt, got %d", calls)
	}
	failure := core.AsFailure(err)
	if failure.Code != core.CodeConnectionFailed {
		t.Fatalf("expected CONNECTION_FAILED, got %s", failure.Code)
	}
	if failure.Retryable() {
		t.Error("policy aborts must not be retryable")
	}
}

func TestRunTimeout(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	profile := testProfile()
	profile.TimeoutMs = 100

	_, err := exec.Run(context.Background(), profile, "getValue", "k", func(ctx context.Context) (interface{}, error) {
		select {
		case <-time.After(5 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, Options{})
	if !core.IsCode(err, core.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestRunSuppressTelemetry(t *testing.T) {
	exec, history, obs := newTestExecutor(t)

	_, err := exec.Run(context.Background(), testProfile(), "getValue", "k", func(_ context.Context) (interface{}, error) {
		return nil, nil
	}, Options{SuppressTelemetry: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(history.events) != 0 || len(obs.snapshots) != 0 {
		t.Error("suppressed runs must not record telemetry")
	}
}

func TestRunRecordsDetail(t *testing.T) {
	exec, history, _ := newTestExecutor(t)

	_, err := exec.Run(context.Background(), testProfile(), "deleteKey", "k", func(_ context.Context) (interface{}, error) {
		return nil, nil
	}, Options{Detail: "deleted value (ttl 60s): hello"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if history.events[0].Detail != "deleted value (ttl 60s): hello" {
		t.Errorf("detail not recorded: %q", history.events[0].Detail)
	}
}

func TestRunNotifiesCompletionHooks(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	var hookProfile *core.ConnectionProfile
	exec.OnCompletion(func(_ context.Context, profile *core.ConnectionProfile, _ time.Time) {
		hookProfile = profile
	})

	if _, err := exec.Run(context.Background(), testProfile(), "getValue", "k", func(_ context.Context) (interface{}, error) {
		return nil, nil
	}, Options{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if hookProfile == nil || hookProfile.ID != "conn-1" {
		t.Error("completion hook did not fire with the profile")
	}
}

func TestRunHonorsCancelledContext(t *testing.T) {
	exec, _, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Run(ctx, testProfile(), "getValue", "k", func(ctx context.Context) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	fixed := core.RetryPolicy{BackoffMs: 100, BackoffStrategy: core.BackoffFixed}
	if d := backoffDelay(fixed, 3); d != 100*time.Millisecond {
		t.Errorf("fixed backoff = %v, want 100ms", d)
	}

	exp := core.RetryPolicy{BackoffMs: 100, BackoffStrategy: core.BackoffExponential}
	if d := backoffDelay(exp, 1); d != 100*time.Millisecond {
		t.Errorf("exponential attempt 1 = %v, want 100ms", d)
	}
	if d := backoffDelay(exp, 3); d != 400*time.Millisecond {
		t.Errorf("exponential attempt 3 = %v, want 400ms", d)
	}
}
