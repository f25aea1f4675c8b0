// Package workflow previews and executes bulk key mutations against cache
// backends: building bounded target lists, driving items through the
// operation executor under governance caps, and supporting checkpointed
// resume of partially failed runs.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// Built-in template ids. Built-ins are immutable and never stored in the
// template repository.
const (
	TemplateDeleteByPattern = "builtin-delete-by-pattern"
	TemplateTTLNormalize    = "builtin-ttl-normalize"
	TemplateWarmupSet       = "builtin-warmup-set"
)

// BuiltinTemplates returns the fixed set of built-in workflow templates.
func BuiltinTemplates() []*core.WorkflowTemplate {
	return []*core.WorkflowTemplate{
		{
			ID:   TemplateDeleteByPattern,
			Name: "Delete keys by pattern",
			Kind: core.KindDeleteByPattern,
			Parameters: map[string]interface{}{
				"pattern": "",
				"limit":   100,
			},
			RequiresApprovalOnProd: true,
			SupportsDryRun:         true,
		},
		{
			ID:   TemplateTTLNormalize,
			Name: "Normalize TTLs",
			Kind: core.KindTTLNormalize,
			Parameters: map[string]interface{}{
				"pattern":    "",
				"ttlSeconds": 3600,
				"limit":      100,
			},
			RequiresApprovalOnProd: true,
			SupportsDryRun:         true,
		},
		{
			ID:   TemplateWarmupSet,
			Name: "Warm up key set",
			Kind: core.KindWarmupSet,
			Parameters: map[string]interface{}{
				"entries": []interface{}{},
			},
			RequiresApprovalOnProd: false,
			SupportsDryRun:         true,
		},
	}
}

// FindBuiltinTemplate returns the built-in template with the given id, or
// nil when the id is not a built-in.
func FindBuiltinTemplate(id string) *core.WorkflowTemplate {
	for _, t := range BuiltinTemplates() {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// ResolveTemplate resolves a run's template: an inline draft wins, then
// built-ins, then the template repository. Inline drafts get a synthetic
// id and are never persisted as templates.
func ResolveTemplate(ctx context.Context, repo core.WorkflowTemplateRepository, templateID string, inline *core.WorkflowTemplate) (*core.WorkflowTemplate, error) {
	if inline != nil {
		if !inline.Kind.Valid() {
			return nil, core.NewValidationFailure(
				fmt.Sprintf("unknown workflow kind %q", inline.Kind), nil)
		}
		draft := *inline
		if draft.ID == "" {
			draft.ID = "inline-" + uuid.New().String()
		}
		if draft.Name == "" {
			draft.Name = fmt.Sprintf("Inline %s", draft.Kind)
		}
		draft.CreatedAt = time.Now()
		draft.UpdatedAt = draft.CreatedAt
		return &draft, nil
	}

	if templateID == "" {
		return nil, core.NewValidationFailure("template id or inline template required", nil)
	}
	if builtin := FindBuiltinTemplate(templateID); builtin != nil {
		return builtin, nil
	}

	template, err := repo.FindByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	return template, nil
}

// MergeParameters overlays per-run overrides onto template defaults.
func MergeParameters(defaults, overrides map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
