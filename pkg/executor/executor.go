// Package executor runs single units of cache work under a timeout, retry
// count, backoff strategy, and error-rate abort threshold, and records
// telemetry for every terminal outcome.
package executor

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// Work is one attemptable unit of cache work. It must honor ctx, which
// carries the per-attempt deadline.
type Work func(ctx context.Context) (interface{}, error)

// CompletionHook observes every recorded operation outcome. The retention
// enforcer and alert rule evaluator register here.
type CompletionHook func(ctx context.Context, profile *core.ConnectionProfile, at time.Time)

// Outcome reports a completed operation.
type Outcome struct {
	// Result is whatever the work function returned on success.
	Result interface{} `json:"-"`

	// Attempts is the number of attempts consumed, including the
	// successful one.
	Attempts int `json:"attempts"`

	// Duration is the total elapsed time across all attempts.
	Duration time.Duration `json:"duration"`
}

// Options tune a single Run call.
type Options struct {
	// RetryPolicy overrides the connection's stored retry defaults.
	RetryPolicy *core.RetryPolicy

	// SuppressTelemetry skips history, snapshot, and hook recording.
	// Used for internal best-effort reads such as pre-delete snapshots.
	SuppressTelemetry bool

	// Detail is free-text context recorded on the history event, such as
	// the pre-delete value snapshot of a destructive operation.
	Detail string
}

// Executor runs operations with retry, timeout, and abort semantics, and
// feeds a rolling per-connection sample window on every terminal outcome.
type Executor struct {
	history core.HistoryRepository
	obs     core.ObservabilityRepository
	windows *sampleWindows
	metrics *telemetry.Metrics
	logger  zerolog.Logger
	hooks   []CompletionHook

	// now is swappable in tests.
	now func() time.Time
	// sleep is swappable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an operation executor.
func New(history core.HistoryRepository, obs core.ObservabilityRepository, metrics *telemetry.Metrics, logger zerolog.Logger) *Executor {
	return &Executor{
		history: history,
		obs:     obs,
		windows: newSampleWindows(),
		metrics: metrics,
		logger:  logger.With().Str("component", "executor").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// OnCompletion registers a hook invoked after every recorded outcome.
func (e *Executor) OnCompletion(hook CompletionHook) {
	e.hooks = append(e.hooks, hook)
}

// Run executes work under the resolved retry policy. It makes at most
// MaxAttempts attempts, racing each against the profile timeout, and
// aborts early once errorCount/attempts exceeds AbortOnErrorRate.
func (e *Executor) Run(ctx context.Context, profile *core.ConnectionProfile, action, keyOrPattern string, work Work, opts Options) (*Outcome, error) {
	policy := core.ResolveRetryPolicy(opts.RetryPolicy, profile)
	timeout := profile.Timeout()
	started := e.now()

	var lastErr error
	errorCount := 0
	attempts := 0

	for attempts < policy.MaxAttempts {
		attempts++

		result, err := e.runAttempt(ctx, timeout, work)
		if err == nil {
			outcome := &Outcome{
				Result:   result,
				Attempts: attempts,
				Duration: e.now().Sub(started),
			}
			e.record(ctx, profile, action, keyOrPattern, outcome, nil, opts)
			return outcome, nil
		}

		errorCount++
		lastErr = err

		// Abort check uses total attempts as the denominator. This fires
		// even before MaxAttempts is exhausted.
		errorRate := float64(errorCount) / float64(attempts)
		if errorRate > policy.AbortOnErrorRate {
			lastErr = core.NewConnectionFailure("aborted by retry policy", err).
				WithConnection(profile.ID).
				WithOperation(action).
				WithDetail(core.DetailAbortedByPolicy, true).
				WithDetail("error_rate", errorRate).
				WithDetail("attempts", attempts)
			break
		}

		if !core.IsRetryable(err) {
			break
		}
		if attempts >= policy.MaxAttempts {
			break
		}

		if sleepErr := e.sleep(ctx, backoffDelay(policy, attempts)); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}

	outcome := &Outcome{
		Attempts: attempts,
		Duration: e.now().Sub(started),
	}
	e.record(ctx, profile, action, keyOrPattern, outcome, lastErr, opts)
	return outcome, lastErr
}

// runAttempt races a single work invocation against the timeout.
func (e *Executor) runAttempt(ctx context.Context, timeout time.Duration, work Work) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attemptResult struct {
		value interface{}
		err   error
	}
	done := make(chan attemptResult, 1)

	go func() {
		value, err := work(attemptCtx)
		done <- attemptResult{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.NewTimeoutFailure("operation timed out", attemptCtx.Err()).
			WithDetail("timeout_ms", timeout.Milliseconds())
	}
}

// record persists the history event and observability snapshot for a
// terminal outcome, then notifies completion hooks.
func (e *Executor) record(ctx context.Context, profile *core.ConnectionProfile, action, keyOrPattern string, outcome *Outcome, runErr error, opts Options) {
	if opts.SuppressTelemetry {
		return
	}

	now := e.now()
	status := core.HistoryStatusSuccess
	message := ""
	if runErr != nil {
		status = core.HistoryStatusError
		message = runErr.Error()
	}

	event := &core.HistoryEvent{
		ID:           uuid.New().String(),
		ConnectionID: profile.ID,
		Action:       action,
		KeyOrPattern: keyOrPattern,
		Status:       status,
		Attempts:     outcome.Attempts,
		DurationMs:   outcome.Duration.Milliseconds(),
		Message:      message,
		Detail:       opts.Detail,
		Timestamp:    now,
	}
	if err := e.history.Append(ctx, event); err != nil {
		e.logger.Error().Err(err).Str("connection", profile.ID).Msg("Failed to append history event")
	}

	e.windows.push(profile.ID, operationSample{
		at:       now,
		duration: outcome.Duration,
		failed:   runErr != nil,
	})

	if stats, ok := e.windows.stats(profile.ID, now); ok {
		snapshot := &core.OperationSnapshot{
			ID:           uuid.New().String(),
			ConnectionID: profile.ID,
			WindowStart:  stats.windowStart,
			WindowEnd:    stats.windowEnd,
			P50Ms:        stats.p50Ms,
			P95Ms:        stats.p95Ms,
			ErrorRate:    stats.errorRate,
			OpsPerSec:    stats.opsPerSec,
			SampleCount:  stats.count,
			CreatedAt:    now,
		}
		if err := e.obs.Append(ctx, snapshot); err != nil {
			e.logger.Error().Err(err).Str("connection", profile.ID).Msg("Failed to persist operation snapshot")
		}
	}

	if e.metrics != nil {
		e.metrics.RecordOperation(string(profile.Engine), action, string(status), outcome.Attempts, outcome.Duration)
	}

	for _, hook := range e.hooks {
		hook(ctx, profile, now)
	}
}

// backoffDelay computes the sleep before the next attempt. attempt is the
// 1-based number of the attempt that just failed.
func backoffDelay(policy core.RetryPolicy, attempt int) time.Duration {
	base := time.Duration(policy.BackoffMs) * time.Millisecond
	if policy.BackoffStrategy == core.BackoffExponential {
		return base * time.Duration(math.Pow(2, float64(attempt-1)))
	}
	return base
}

// sleepCtx waits for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
