package executor

import (
	"sort"
	"sync"
	"time"
)

// sampleWindowSpan is how far back the rolling per-connection operation
// sample window reaches.
const sampleWindowSpan = 60 * time.Second

// operationSample is one completed operation observation.
type operationSample struct {
	at       time.Time
	duration time.Duration
	failed   bool
}

// sampleWindows holds the rolling sample windows, one per connection.
// State is owned by the executor instance, not process-wide.
type sampleWindows struct {
	mu      sync.Mutex
	windows map[string][]operationSample
}

func newSampleWindows() *sampleWindows {
	return &sampleWindows{
		windows: make(map[string][]operationSample),
	}
}

// push records a sample and drops observations older than the window span.
func (w *sampleWindows) push(connectionID string, s operationSample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := s.at.Add(-sampleWindowSpan)
	kept := w.windows[connectionID][:0]
	for _, existing := range w.windows[connectionID] {
		if existing.at.After(cutoff) {
			kept = append(kept, existing)
		}
	}
	w.windows[connectionID] = append(kept, s)
}

// windowStats is the derived rollup of one connection's window.
type windowStats struct {
	windowStart time.Time
	windowEnd   time.Time
	p50Ms       float64
	p95Ms       float64
	errorRate   float64
	opsPerSec   float64
	count       int
}

// stats derives latency percentiles, error rate, and throughput for one
// connection's current window. Returns false when the window is empty.
func (w *sampleWindows) stats(connectionID string, now time.Time) (windowStats, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-sampleWindowSpan)
	samples := w.windows[connectionID]

	durations := make([]float64, 0, len(samples))
	errors := 0
	for _, s := range samples {
		if !s.at.After(cutoff) {
			continue
		}
		durations = append(durations, float64(s.duration.Milliseconds()))
		if s.failed {
			errors++
		}
	}
	if len(durations) == 0 {
		return windowStats{}, false
	}

	sort.Float64s(durations)
	return windowStats{
		windowStart: cutoff,
		windowEnd:   now,
		p50Ms:       percentile(durations, 0.50),
		p95Ms:       percentile(durations, 0.95),
		errorRate:   float64(errors) / float64(len(durations)),
		opsPerSec:   float64(len(durations)) / sampleWindowSpan.Seconds(),
		count:       len(durations),
	}, true
}

// percentile reads the nearest-rank percentile from sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p * float64(len(sorted)))
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
