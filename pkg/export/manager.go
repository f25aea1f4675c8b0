package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// PreviewResult reports what an export would include, plus the drift
// detection hash, without running a job.
type PreviewResult struct {
	ChecksumPreview string `json:"checksum_preview"`
	TimelineCount   int    `json:"timeline_count"`
	LogCount        int    `json:"log_count"`
	DiagnosticCount int    `json:"diagnostic_count"`
	MetricCount     int    `json:"metric_count"`
	Truncated       bool   `json:"truncated"`
}

type jobState struct {
	job *core.IncidentExportJob

	// cancelRequested is observed at stage boundaries only; in-flight
	// stage work always completes.
	cancelRequested bool

	// running guards against reentering a job's goroutine.
	running bool
}

// Manager owns the incident export job table. Each started job runs in
// its own goroutine; callers observe progress by polling Get.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*jobState

	collector *Collector
	bundles   core.IncidentBundleRepository
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	logger    *telemetry.Logger

	// now is swappable in tests.
	now func() time.Time

	// wg tracks job goroutines so tests and shutdown can drain them.
	wg sync.WaitGroup
}

// NewManager creates an export job manager.
func NewManager(collector *Collector, bundles core.IncidentBundleRepository, metrics *telemetry.Metrics, tracer *telemetry.Tracer, logger *telemetry.Logger) *Manager {
	return &Manager{
		jobs:      make(map[string]*jobState),
		collector: collector,
		bundles:   bundles,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.WithField("component", "export-manager"),
		now:       time.Now,
	}
}

// Preview collects counts for the request and computes the drift
// detection checksum, without creating a job.
func (m *Manager) Preview(ctx context.Context, req core.IncidentExportRequest) (*PreviewResult, error) {
	if err := validateRequest(req, false); err != nil {
		return nil, err
	}
	collection, err := m.collector.Collect(ctx, req)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{
		ChecksumPreview: PreviewChecksum(req, collection),
		TimelineCount:   len(collection.Timeline),
		LogCount:        len(collection.Logs),
		DiagnosticCount: len(collection.Diagnostics),
		MetricCount:     len(collection.Metrics),
		Truncated:       collection.Truncated,
	}, nil
}

// Start creates a job and schedules it in the background. Failures after
// this point are recorded on the job, never returned to the caller.
func (m *Manager) Start(req core.IncidentExportRequest) (*core.IncidentExportJob, error) {
	if err := validateRequest(req, true); err != nil {
		return nil, err
	}

	job := &core.IncidentExportJob{
		ID:        uuid.New().String(),
		Status:    core.ExportPending,
		Stage:     core.StageQueued,
		Request:   req,
		CreatedAt: m.now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = &jobState{job: job}
	m.mu.Unlock()

	m.metrics.RecordExportJobStarted()
	m.logger.WithJobID(job.ID).Info("Export job scheduled")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(job.ID)
	}()

	return m.snapshot(job.ID)
}

// Get returns a point-in-time copy of the job.
func (m *Manager) Get(id string) (*core.IncidentExportJob, error) {
	return m.snapshot(id)
}

// List returns copies of all known jobs, newest first.
func (m *Manager) List() []*core.IncidentExportJob {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]*core.IncidentExportJob, 0, len(m.jobs))
	for _, state := range m.jobs {
		clone := *state.job
		jobs = append(jobs, &clone)
	}
	sortJobs(jobs)
	return jobs
}

// Cancel requests cancellation. A pending job cancels immediately; a
// running job moves to cancelling and cancels at the next stage
// boundary. Cancelling a terminal job is a CONFLICT.
func (m *Manager) Cancel(id string) (*core.IncidentExportJob, error) {
	m.mu.Lock()
	state, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil, core.NewValidationFailure(fmt.Sprintf("export job %s not found", id), nil)
	}

	switch state.job.Status {
	case core.ExportPending:
		state.cancelRequested = true
		m.finishLocked(state, core.ExportCancelled, core.StageCancelled)
	case core.ExportRunning, core.ExportCancelling:
		state.cancelRequested = true
		state.job.Status = core.ExportCancelling
	default:
		status := state.job.Status
		m.mu.Unlock()
		return nil, core.NewConflictFailure(
			fmt.Sprintf("export job %s is already %s", id, status), nil)
	}
	m.mu.Unlock()

	m.logger.WithJobID(id).Info("Export job cancellation requested")
	return m.snapshot(id)
}

// Resume restarts a cancelled or failed job from scratch; there is no
// resume-from-stage.
func (m *Manager) Resume(id string) (*core.IncidentExportJob, error) {
	m.mu.Lock()
	state, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil, core.NewValidationFailure(fmt.Sprintf("export job %s not found", id), nil)
	}
	if state.job.Status != core.ExportCancelled && state.job.Status != core.ExportFailed {
		status := state.job.Status
		m.mu.Unlock()
		return nil, core.NewConflictFailure(
			fmt.Sprintf("export job %s cannot be resumed while %s", id, status), nil)
	}

	job := state.job
	job.Status = core.ExportPending
	job.Stage = core.StageQueued
	job.ProgressPercent = 0
	job.DestinationPath = ""
	job.ChecksumPreview = ""
	job.Manifest = nil
	job.Bundle = nil
	job.ErrorMessage = ""
	job.StartedAt = nil
	job.FinishedAt = nil
	state.cancelRequested = false
	m.mu.Unlock()

	m.metrics.RecordExportJobStarted()
	m.logger.WithJobID(id).Info("Export job restarted")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(id)
	}()

	return m.snapshot(id)
}

// Wait blocks until every scheduled job goroutine has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// run drives one job through the export pipeline. It never returns an
// error; failures land on the job record.
func (m *Manager) run(id string) {
	ctx := context.Background()
	log := m.logger.WithJobID(id)

	m.mu.Lock()
	state, ok := m.jobs[id]
	if !ok || state.running || state.job.Status != core.ExportPending {
		m.mu.Unlock()
		return
	}
	state.running = true
	started := m.now()
	state.job.Status = core.ExportRunning
	state.job.StartedAt = &started
	req := state.job.Request
	m.mu.Unlock()

	if !m.enterStage(ctx, id, core.StageCollecting) {
		return
	}
	collection, err := m.collector.Collect(ctx, req)
	if err != nil {
		m.fail(id, err)
		return
	}
	m.mu.Lock()
	state.job.ChecksumPreview = PreviewChecksum(req, collection)
	m.mu.Unlock()

	if !m.enterStage(ctx, id, core.StageSerializing) {
		return
	}
	artifact, err := BuildArtifact(req, collection, m.now())
	if err != nil {
		m.fail(id, err)
		return
	}
	payload, err := artifact.Encode()
	if err != nil {
		m.fail(id, err)
		return
	}
	m.mu.Lock()
	state.job.Manifest = artifact.Metadata.Manifest
	m.mu.Unlock()

	if !m.enterStage(ctx, id, core.StageWriting) {
		return
	}
	path := filepath.Join(req.DestinationDir, fmt.Sprintf("incident-%s.json", id))
	if err := os.MkdirAll(req.DestinationDir, 0o755); err != nil {
		m.fail(id, core.NewInternalFailure("failed to create export destination", err))
		return
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		m.fail(id, core.NewInternalFailure("failed to write incident bundle", err))
		return
	}
	m.mu.Lock()
	state.job.DestinationPath = path
	m.mu.Unlock()

	if !m.enterStage(ctx, id, core.StagePersisting) {
		return
	}
	bundle := &core.IncidentBundle{
		ID:        uuid.New().String(),
		JobID:     id,
		Path:      path,
		Checksum:  artifact.Metadata.Checksum,
		SizeBytes: int64(len(payload)),
		From:      req.From,
		To:        req.To,
		CreatedAt: m.now(),
	}
	if err := m.bundles.Save(ctx, bundle); err != nil {
		m.fail(id, err)
		return
	}

	m.mu.Lock()
	state.job.Bundle = bundle
	state.job.Stage = core.StageCompleted
	state.job.ProgressPercent = core.StageProgress(core.StageCompleted)
	m.finishLocked(state, core.ExportSuccess, core.StageCompleted)
	m.mu.Unlock()

	log.WithField("path", path).Info("Export job completed")
}

// enterStage moves the job into the next stage, honoring a pending
// cancellation at the boundary.
func (m *Manager) enterStage(ctx context.Context, id string, stage core.ExportStage) bool {
	m.mu.Lock()
	state, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if state.cancelRequested {
		m.finishLocked(state, core.ExportCancelled, core.StageCancelled)
		m.mu.Unlock()
		m.logger.WithJobID(id).Info("Export job cancelled at stage boundary")
		return false
	}
	state.job.Stage = stage
	state.job.ProgressPercent = core.StageProgress(stage)
	m.mu.Unlock()

	_, span := m.tracer.StartExportStageSpan(ctx, id, string(stage))
	span.End()
	return true
}

// fail records a background failure on the job.
func (m *Manager) fail(id string, err error) {
	m.mu.Lock()
	if state, ok := m.jobs[id]; ok {
		state.job.ErrorMessage = err.Error()
		m.finishLocked(state, core.ExportFailed, core.StageFailed)
	}
	m.mu.Unlock()
	m.logger.WithJobID(id).WithError(err).Error("Export job failed")
}

// finishLocked moves a job to a terminal status. Caller holds m.mu.
func (m *Manager) finishLocked(state *jobState, status core.ExportJobStatus, stage core.ExportStage) {
	finished := m.now()
	state.job.Status = status
	state.job.Stage = stage
	if status != core.ExportSuccess {
		state.job.ProgressPercent = core.StageProgress(stage)
	}
	state.job.FinishedAt = &finished
	state.running = false
	m.metrics.RecordExportJobFinished(string(status))
}

func (m *Manager) snapshot(id string) (*core.IncidentExportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.jobs[id]
	if !ok {
		return nil, core.NewValidationFailure(fmt.Sprintf("export job %s not found", id), nil)
	}
	clone := *state.job
	return &clone, nil
}

func sortJobs(jobs []*core.IncidentExportJob) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

func validateRequest(req core.IncidentExportRequest, needsDestination bool) error {
	if req.From.IsZero() || req.To.IsZero() {
		return core.NewValidationFailure("export range is required", nil)
	}
	if !req.To.After(req.From) {
		return core.NewValidationFailure("export range end must be after its start", nil)
	}
	switch req.Redaction {
	case "", core.RedactionNone, core.RedactionStrict:
	default:
		return core.NewValidationFailure(
			fmt.Sprintf("unknown redaction profile %q", req.Redaction), nil)
	}
	if needsDestination && req.DestinationDir == "" {
		return core.NewValidationFailure("destination directory is required", nil)
	}
	return nil
}
