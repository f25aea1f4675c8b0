package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// MemoryStore implements every repository port over mutex-guarded maps.
// It backs tests and ephemeral console sessions; nothing survives the
// process.
type MemoryStore struct {
	mu sync.RWMutex

	connections map[string]*core.ConnectionProfile
	secrets     map[string]string
	templates   map[string]*core.WorkflowTemplate
	executions  map[string]*core.WorkflowExecutionRecord
	packs       map[string]*core.GovernancePolicyPack
	assignments map[string]*core.GovernanceAssignment
	retention   map[core.Dataset]*core.RetentionPolicy
	alertRules  map[string]*core.AlertRule
	alerts      []*core.AlertEvent
	history     []*core.HistoryEvent
	snapshots   []*core.OperationSnapshot
	bundles     []*core.IncidentBundle

	// now is swappable in tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store with default retention
// policies in place.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		connections: make(map[string]*core.ConnectionProfile),
		secrets:     make(map[string]string),
		templates:   make(map[string]*core.WorkflowTemplate),
		executions:  make(map[string]*core.WorkflowExecutionRecord),
		packs:       make(map[string]*core.GovernancePolicyPack),
		assignments: make(map[string]*core.GovernanceAssignment),
		retention:   make(map[core.Dataset]*core.RetentionPolicy),
		alertRules:  make(map[string]*core.AlertRule),
		now:         time.Now,
	}
	for _, dataset := range core.AllDatasets() {
		s.retention[dataset] = &core.RetentionPolicy{
			Dataset:         dataset,
			RetentionDays:   30,
			StorageBudgetMb: 256,
			UpdatedAt:       s.now(),
		}
	}
	return s
}

func (s *MemoryStore) Connections() core.ConnectionRepository { return &memoryConnections{store: s} }

func (s *MemoryStore) Secrets() core.SecretStore { return &memorySecrets{store: s} }

func (s *MemoryStore) Templates() core.WorkflowTemplateRepository { return &memoryTemplates{store: s} }

func (s *MemoryStore) Executions() core.WorkflowExecutionRepository {
	return &memoryExecutions{store: s}
}

func (s *MemoryStore) PolicyPacks() core.GovernancePolicyPackRepository {
	return &memoryPolicyPacks{store: s}
}

func (s *MemoryStore) Assignments() core.GovernanceAssignmentRepository {
	return &memoryAssignments{store: s}
}

func (s *MemoryStore) Retention() core.RetentionRepository { return &memoryRetention{store: s} }

func (s *MemoryStore) Alerts() core.AlertRepository { return &memoryAlerts{store: s} }

func (s *MemoryStore) AlertRules() core.AlertRuleRepository { return &memoryAlertRules{store: s} }

func (s *MemoryStore) History() core.HistoryRepository { return &memoryHistory{store: s} }

func (s *MemoryStore) Observability() core.ObservabilityRepository {
	return &memoryObservability{store: s}
}

func (s *MemoryStore) Bundles() core.IncidentBundleRepository { return &memoryBundles{store: s} }

type memoryConnections struct {
	store *MemoryStore
}

func (r *memoryConnections) List(ctx context.Context) ([]*core.ConnectionProfile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	profiles := make([]*core.ConnectionProfile, 0, len(r.store.connections))
	for _, profile := range r.store.connections {
		clone := *profile
		profiles = append(profiles, &clone)
	}
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].CreatedAt.After(profiles[j].CreatedAt)
	})
	return profiles, nil
}

func (r *memoryConnections) FindByID(ctx context.Context, id string) (*core.ConnectionProfile, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	profile, ok := r.store.connections[id]
	if !ok {
		return nil, core.NewValidationFailure(fmt.Sprintf("connection %s not found", id), nil)
	}
	clone := *profile
	return &clone, nil
}

func (r *memoryConnections) Save(ctx context.Context, profile *core.ConnectionProfile) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *profile
	r.store.connections[profile.ID] = &clone
	return nil
}

func (r *memoryConnections) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.connections[id]; !ok {
		return core.NewValidationFailure(fmt.Sprintf("connection %s not found", id), nil)
	}
	delete(r.store.connections, id)
	delete(r.store.secrets, id)
	delete(r.store.assignments, id)
	return nil
}

type memorySecrets struct {
	store *MemoryStore
}

func (r *memorySecrets) SaveSecret(ctx context.Context, connectionID, secret string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.secrets[connectionID] = secret
	return nil
}

func (r *memorySecrets) GetSecret(ctx context.Context, connectionID string) (string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	secret, ok := r.store.secrets[connectionID]
	if !ok {
		return "", core.NewValidationFailure(
			fmt.Sprintf("no secret stored for connection %s", connectionID), nil)
	}
	return secret, nil
}

func (r *memorySecrets) DeleteSecret(ctx context.Context, connectionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.secrets, connectionID)
	return nil
}

type memoryTemplates struct {
	store *MemoryStore
}

func (r *memoryTemplates) List(ctx context.Context) ([]*core.WorkflowTemplate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	templates := make([]*core.WorkflowTemplate, 0, len(r.store.templates))
	for _, template := range r.store.templates {
		clone := *template
		templates = append(templates, &clone)
	}
	sort.Slice(templates, func(i, j int) bool {
		return templates[i].CreatedAt.After(templates[j].CreatedAt)
	})
	return templates, nil
}

func (r *memoryTemplates) FindByID(ctx context.Context, id string) (*core.WorkflowTemplate, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	template, ok := r.store.templates[id]
	if !ok {
		return nil, core.NewValidationFailure(fmt.Sprintf("workflow template %s not found", id), nil)
	}
	clone := *template
	return &clone, nil
}

func (r *memoryTemplates) Save(ctx context.Context, template *core.WorkflowTemplate) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *template
	r.store.templates[template.ID] = &clone
	return nil
}

func (r *memoryTemplates) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.templates[id]; !ok {
		return core.NewValidationFailure(fmt.Sprintf("workflow template %s not found", id), nil)
	}
	delete(r.store.templates, id)
	return nil
}

type memoryExecutions struct {
	store *MemoryStore
}

func (r *memoryExecutions) List(ctx context.Context, filter core.ExecutionFilter) ([]*core.WorkflowExecutionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var records []*core.WorkflowExecutionRecord
	for _, record := range r.store.executions {
		if filter.ConnectionID != "" && record.ConnectionID != filter.ConnectionID {
			continue
		}
		if filter.TemplateID != "" && record.TemplateID != filter.TemplateID {
			continue
		}
		clone := *record
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultExecutionListLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *memoryExecutions) FindByID(ctx context.Context, id string) (*core.WorkflowExecutionRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	record, ok := r.store.executions[id]
	if !ok {
		return nil, core.NewValidationFailure(fmt.Sprintf("workflow execution %s not found", id), nil)
	}
	clone := *record
	return &clone, nil
}

func (r *memoryExecutions) Save(ctx context.Context, record *core.WorkflowExecutionRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *record
	r.store.executions[record.ID] = &clone
	return nil
}

type memoryPolicyPacks struct {
	store *MemoryStore
}

func (r *memoryPolicyPacks) List(ctx context.Context) ([]*core.GovernancePolicyPack, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	packs := make([]*core.GovernancePolicyPack, 0, len(r.store.packs))
	for _, pack := range r.store.packs {
		clone := *pack
		packs = append(packs, &clone)
	}
	sort.Slice(packs, func(i, j int) bool {
		return packs[i].CreatedAt.After(packs[j].CreatedAt)
	})
	return packs, nil
}

func (r *memoryPolicyPacks) FindByID(ctx context.Context, id string) (*core.GovernancePolicyPack, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	pack, ok := r.store.packs[id]
	if !ok {
		return nil, core.NewValidationFailure(fmt.Sprintf("policy pack %s not found", id), nil)
	}
	clone := *pack
	return &clone, nil
}

func (r *memoryPolicyPacks) Save(ctx context.Context, pack *core.GovernancePolicyPack) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *pack
	r.store.packs[pack.ID] = &clone
	return nil
}

func (r *memoryPolicyPacks) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.packs[id]; !ok {
		return core.NewValidationFailure(fmt.Sprintf("policy pack %s not found", id), nil)
	}
	delete(r.store.packs, id)
	for connectionID, assignment := range r.store.assignments {
		if assignment.PolicyPackID == id {
			delete(r.store.assignments, connectionID)
		}
	}
	return nil
}

type memoryAssignments struct {
	store *MemoryStore
}

func (r *memoryAssignments) List(ctx context.Context) ([]*core.GovernanceAssignment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	assignments := make([]*core.GovernanceAssignment, 0, len(r.store.assignments))
	for _, assignment := range r.store.assignments {
		clone := *assignment
		assignments = append(assignments, &clone)
	}
	sort.Slice(assignments, func(i, j int) bool {
		return assignments[i].AssignedAt.After(assignments[j].AssignedAt)
	})
	return assignments, nil
}

func (r *memoryAssignments) FindByConnection(ctx context.Context, connectionID string) (*core.GovernanceAssignment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	assignment, ok := r.store.assignments[connectionID]
	if !ok {
		return nil, nil
	}
	clone := *assignment
	return &clone, nil
}

func (r *memoryAssignments) Assign(ctx context.Context, assignment *core.GovernanceAssignment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *assignment
	r.store.assignments[assignment.ConnectionID] = &clone
	return nil
}

func (r *memoryAssignments) Unassign(ctx context.Context, connectionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.assignments, connectionID)
	return nil
}

type memoryRetention struct {
	store *MemoryStore
}

func (r *memoryRetention) ListPolicies(ctx context.Context) ([]*core.RetentionPolicy, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	policies := make([]*core.RetentionPolicy, 0, len(r.store.retention))
	for _, policy := range r.store.retention {
		clone := *policy
		policies = append(policies, &clone)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Dataset < policies[j].Dataset
	})
	return policies, nil
}

func (r *memoryRetention) FindPolicy(ctx context.Context, dataset core.Dataset) (*core.RetentionPolicy, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	policy, ok := r.store.retention[dataset]
	if !ok {
		return nil, core.NewValidationFailure(
			fmt.Sprintf("no retention policy for dataset %s", dataset), nil)
	}
	clone := *policy
	return &clone, nil
}

func (r *memoryRetention) SavePolicy(ctx context.Context, policy *core.RetentionPolicy) error {
	if _, ok := datasetTables[policy.Dataset]; !ok {
		return core.NewValidationFailure(fmt.Sprintf("unknown dataset %q", policy.Dataset), nil)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *policy
	r.store.retention[policy.Dataset] = &clone
	return nil
}

func (r *memoryRetention) Purge(ctx context.Context, dataset core.Dataset, olderThan time.Time, dryRun bool) (*core.PurgeResult, error) {
	cutoff := olderThan
	if cutoff.IsZero() {
		policy, err := r.FindPolicy(ctx, dataset)
		if err != nil {
			return nil, err
		}
		cutoff = r.store.now().AddDate(0, 0, -policy.RetentionDays)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	result := &core.PurgeResult{Dataset: dataset, Cutoff: cutoff, DryRun: dryRun}
	switch dataset {
	case core.DatasetTimelineEvents:
		var kept []*core.HistoryEvent
		for _, event := range r.store.history {
			if event.Timestamp.Before(cutoff) {
				result.DeletedRows++
				result.FreedBytes += historyEventBytes(event)
				continue
			}
			kept = append(kept, event)
		}
		if !dryRun {
			r.store.history = kept
		}
	case core.DatasetObservabilitySnapshots:
		var kept []*core.OperationSnapshot
		for _, snapshot := range r.store.snapshots {
			if snapshot.CreatedAt.Before(cutoff) {
				result.DeletedRows++
				result.FreedBytes += snapshotBytes
				continue
			}
			kept = append(kept, snapshot)
		}
		if !dryRun {
			r.store.snapshots = kept
		}
	case core.DatasetWorkflowHistory:
		for id, record := range r.store.executions {
			if record.StartedAt.Before(cutoff) {
				result.DeletedRows++
				result.FreedBytes += executionBytes(record)
				if !dryRun {
					delete(r.store.executions, id)
				}
			}
		}
	case core.DatasetIncidentArtifacts:
		var kept []*core.IncidentBundle
		for _, bundle := range r.store.bundles {
			if bundle.CreatedAt.Before(cutoff) {
				result.DeletedRows++
				result.FreedBytes += bundle.SizeBytes
				continue
			}
			kept = append(kept, bundle)
		}
		if !dryRun {
			r.store.bundles = kept
		}
	default:
		return nil, core.NewValidationFailure(fmt.Sprintf("unknown dataset %q", dataset), nil)
	}
	return result, nil
}

func (r *memoryRetention) GetStorageSummary(ctx context.Context) ([]*core.StorageDatasetSummary, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var summaries []*core.StorageDatasetSummary
	for _, dataset := range core.AllDatasets() {
		summary := &core.StorageDatasetSummary{Dataset: dataset}
		switch dataset {
		case core.DatasetTimelineEvents:
			summary.RowCount = int64(len(r.store.history))
			for _, event := range r.store.history {
				summary.TotalBytes += historyEventBytes(event)
			}
		case core.DatasetObservabilitySnapshots:
			summary.RowCount = int64(len(r.store.snapshots))
			summary.TotalBytes = summary.RowCount * snapshotBytes
		case core.DatasetWorkflowHistory:
			summary.RowCount = int64(len(r.store.executions))
			for _, record := range r.store.executions {
				summary.TotalBytes += executionBytes(record)
			}
		case core.DatasetIncidentArtifacts:
			summary.RowCount = int64(len(r.store.bundles))
			for _, bundle := range r.store.bundles {
				summary.TotalBytes += bundle.SizeBytes
			}
		}
		if policy, ok := r.store.retention[dataset]; ok {
			summary.BudgetBytes = int64(policy.StorageBudgetMb) * 1024 * 1024
			if summary.BudgetBytes > 0 {
				summary.UsageRatio = float64(summary.TotalBytes) / float64(summary.BudgetBytes)
				summary.OverBudget = summary.TotalBytes > summary.BudgetBytes
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

type memoryAlerts struct {
	store *MemoryStore
}

func (r *memoryAlerts) Append(ctx context.Context, event *core.AlertEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *event
	r.store.alerts = append(r.store.alerts, &clone)
	return nil
}

func (r *memoryAlerts) List(ctx context.Context, limit int) ([]*core.AlertEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if limit <= 0 {
		limit = defaultAlertListLimit
	}
	events := make([]*core.AlertEvent, 0, len(r.store.alerts))
	for _, event := range r.store.alerts {
		clone := *event
		events = append(events, &clone)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (r *memoryAlerts) MarkRead(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, event := range r.store.alerts {
		if event.ID == id {
			event.Read = true
			return nil
		}
	}
	return core.NewValidationFailure(fmt.Sprintf("alert %s not found", id), nil)
}

func (r *memoryAlerts) MarkAllRead(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, event := range r.store.alerts {
		event.Read = true
	}
	return nil
}

func (r *memoryAlerts) CountUnread(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for _, event := range r.store.alerts {
		if !event.Read {
			count++
		}
	}
	return count, nil
}

type memoryAlertRules struct {
	store *MemoryStore
}

func (r *memoryAlertRules) List(ctx context.Context) ([]*core.AlertRule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rules := make([]*core.AlertRule, 0, len(r.store.alertRules))
	for _, rule := range r.store.alertRules {
		clone := *rule
		rules = append(rules, &clone)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.After(rules[j].CreatedAt)
	})
	return rules, nil
}

func (r *memoryAlertRules) FindByID(ctx context.Context, id string) (*core.AlertRule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rule, ok := r.store.alertRules[id]
	if !ok {
		return nil, core.NewValidationFailure(fmt.Sprintf("alert rule %s not found", id), nil)
	}
	clone := *rule
	return &clone, nil
}

func (r *memoryAlertRules) Save(ctx context.Context, rule *core.AlertRule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *rule
	r.store.alertRules[rule.ID] = &clone
	return nil
}

func (r *memoryAlertRules) Delete(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.alertRules[id]; !ok {
		return core.NewValidationFailure(fmt.Sprintf("alert rule %s not found", id), nil)
	}
	delete(r.store.alertRules, id)
	return nil
}

type memoryHistory struct {
	store *MemoryStore
}

func (r *memoryHistory) Append(ctx context.Context, event *core.HistoryEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *event
	r.store.history = append(r.store.history, &clone)
	return nil
}

func (r *memoryHistory) Range(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*core.HistoryEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if limit <= 0 {
		limit = defaultRangeLimit
	}
	var events []*core.HistoryEvent
	for _, event := range r.store.history {
		if connectionID != "" && event.ConnectionID != connectionID {
			continue
		}
		if event.Timestamp.Before(from) || event.Timestamp.After(to) {
			continue
		}
		clone := *event
		events = append(events, &clone)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

type memoryObservability struct {
	store *MemoryStore
}

func (r *memoryObservability) Append(ctx context.Context, snapshot *core.OperationSnapshot) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *snapshot
	r.store.snapshots = append(r.store.snapshots, &clone)
	return nil
}

func (r *memoryObservability) Range(ctx context.Context, connectionID string, from, to time.Time, limit int) ([]*core.OperationSnapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	if limit <= 0 {
		limit = defaultRangeLimit
	}
	var snapshots []*core.OperationSnapshot
	for _, snapshot := range r.store.snapshots {
		if connectionID != "" && snapshot.ConnectionID != connectionID {
			continue
		}
		if snapshot.CreatedAt.Before(from) || snapshot.CreatedAt.After(to) {
			continue
		}
		clone := *snapshot
		snapshots = append(snapshots, &clone)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	if len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots, nil
}

type memoryBundles struct {
	store *MemoryStore
}

func (r *memoryBundles) Save(ctx context.Context, bundle *core.IncidentBundle) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	clone := *bundle
	r.store.bundles = append(r.store.bundles, &clone)
	return nil
}

func (r *memoryBundles) List(ctx context.Context) ([]*core.IncidentBundle, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	bundles := make([]*core.IncidentBundle, 0, len(r.store.bundles))
	for _, bundle := range r.store.bundles {
		clone := *bundle
		bundles = append(bundles, &clone)
	}
	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].CreatedAt.After(bundles[j].CreatedAt)
	})
	return bundles, nil
}

// snapshotBytes is the nominal stored size of one operation snapshot.
const snapshotBytes = 160

func historyEventBytes(event *core.HistoryEvent) int64 {
	return int64(len(event.ID) + len(event.ConnectionID) + len(event.Action) +
		len(event.KeyOrPattern) + len(event.Message) + len(event.Detail) + 64)
}

func executionBytes(record *core.WorkflowExecutionRecord) int64 {
	size := int64(len(record.ID) + 128)
	for _, step := range record.StepResults {
		size += int64(len(step.Step) + len(step.Message) + 32)
	}
	return size
}
