package workflow

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cachedeck/cachedeck/pkg/core"
	"github.com/cachedeck/cachedeck/pkg/telemetry"
)

// PageRequest asks for one page of a workflow preview.
type PageRequest struct {
	// Cursor continues a prior page; empty starts from the beginning.
	Cursor string

	// Limit is the requested page size. The effective limit is
	// min(MaxWorkflowItems, max(parameter limit, Limit)).
	Limit int
}

// PreviewBuilder materializes the concrete item list a workflow run would
// touch, without mutating anything.
type PreviewBuilder struct {
	gateway core.CacheGateway
	logger  *telemetry.Logger
}

// NewPreviewBuilder creates a PreviewBuilder over a cache gateway.
func NewPreviewBuilder(gateway core.CacheGateway, logger *telemetry.Logger) *PreviewBuilder {
	return &PreviewBuilder{
		gateway: gateway,
		logger:  logger.WithField("component", "workflow-preview"),
	}
}

// Build returns one page of preview items for the given kind and
// parameters. It never mutates the backend.
func (b *PreviewBuilder) Build(ctx context.Context, profile *core.ConnectionProfile, secret string, kind core.WorkflowKind, params map[string]interface{}, page PageRequest) (*core.WorkflowPreview, error) {
	limit := effectiveLimit(params, page.Limit)

	switch kind {
	case core.KindDeleteByPattern:
		return b.buildDeleteByPattern(ctx, profile, secret, params, page.Cursor, limit)
	case core.KindTTLNormalize:
		return b.buildTTLNormalize(ctx, profile, secret, params, page.Cursor, limit)
	case core.KindWarmupSet:
		return b.buildWarmupSet(params, page.Cursor, limit)
	default:
		return nil, core.NewValidationFailure(fmt.Sprintf("unknown workflow kind %q", kind), nil)
	}
}

func (b *PreviewBuilder) buildDeleteByPattern(ctx context.Context, profile *core.ConnectionProfile, secret string, params map[string]interface{}, cursor string, limit int) (*core.WorkflowPreview, error) {
	pattern, err := stringParam(params, "pattern")
	if err != nil {
		return nil, err
	}

	result, err := b.gateway.SearchKeys(ctx, profile, secret, pattern, cursor, limit)
	if err != nil {
		return nil, err
	}

	items := make([]core.PreviewItem, 0, len(result.Keys))
	for _, key := range result.Keys {
		items = append(items, core.PreviewItem{
			Key:    key,
			Action: core.ActionDelete,
		})
	}
	return &core.WorkflowPreview{
		Kind:           core.KindDeleteByPattern,
		EstimatedCount: len(items),
		Truncated:      result.Truncated,
		NextCursor:     result.NextCursor,
		Items:          items,
	}, nil
}

func (b *PreviewBuilder) buildTTLNormalize(ctx context.Context, profile *core.ConnectionProfile, secret string, params map[string]interface{}, cursor string, limit int) (*core.WorkflowPreview, error) {
	pattern, err := stringParam(params, "pattern")
	if err != nil {
		return nil, err
	}
	ttlSeconds, err := intParam(params, "ttlSeconds")
	if err != nil {
		return nil, err
	}
	if ttlSeconds <= 0 {
		return nil, core.NewValidationFailure("ttlSeconds must be positive", nil)
	}

	result, err := b.gateway.SearchKeys(ctx, profile, secret, pattern, cursor, limit)
	if err != nil {
		return nil, err
	}

	items := make([]core.PreviewItem, 0, len(result.Keys))
	for _, key := range result.Keys {
		item := core.PreviewItem{
			Key:        key,
			Action:     core.ActionSetTTL,
			TTLSeconds: ttlSeconds,
		}
		// Current TTL is informational; a key vanishing between preview
		// and execution becomes a skipped step, not an error.
		record, err := b.gateway.GetValue(ctx, profile, secret, key)
		if err != nil {
			b.logger.WithError(err).WithField("key", key).Debug("Preview TTL lookup failed")
		} else if record != nil {
			item.CurrentTTLSeconds = record.TTLSeconds
		}
		items = append(items, item)
	}
	return &core.WorkflowPreview{
		Kind:           core.KindTTLNormalize,
		EstimatedCount: len(items),
		Truncated:      result.Truncated,
		NextCursor:     result.NextCursor,
		Items:          items,
	}, nil
}

func (b *PreviewBuilder) buildWarmupSet(params map[string]interface{}, cursor string, limit int) (*core.WorkflowPreview, error) {
	entries, err := warmupEntries(params)
	if err != nil {
		return nil, err
	}

	offset := 0
	if cursor != "" {
		offset, err = strconv.Atoi(cursor)
		if err != nil || offset < 0 {
			return nil, core.NewValidationFailure(fmt.Sprintf("invalid cursor %q", cursor), err)
		}
	}
	if offset > len(entries) {
		offset = len(entries)
	}

	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}

	items := make([]core.PreviewItem, 0, end-offset)
	for _, entry := range entries[offset:end] {
		items = append(items, core.PreviewItem{
			Key:        entry.Key,
			Action:     core.ActionSetValue,
			Value:      entry.Value,
			TTLSeconds: entry.TTLSeconds,
		})
	}

	preview := &core.WorkflowPreview{
		Kind:           core.KindWarmupSet,
		EstimatedCount: len(items),
		Truncated:      end < len(entries),
		Items:          items,
	}
	if preview.Truncated {
		preview.NextCursor = strconv.Itoa(end)
	}
	return preview, nil
}

// effectiveLimit computes the page size: the larger of the template's
// limit parameter and the requested limit, capped at MaxWorkflowItems.
func effectiveLimit(params map[string]interface{}, requested int) int {
	limit := 0
	if v, err := intParam(params, "limit"); err == nil {
		limit = v
	}
	if requested > limit {
		limit = requested
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > core.MaxWorkflowItems {
		limit = core.MaxWorkflowItems
	}
	return limit
}

type warmupEntry struct {
	Key        string
	Value      string
	TTLSeconds int
}

func warmupEntries(params map[string]interface{}) ([]warmupEntry, error) {
	raw, ok := params["entries"]
	if !ok {
		return nil, core.NewValidationFailure("parameter \"entries\" is required", nil)
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, core.NewValidationFailure("parameter \"entries\" must be a list", nil)
	}

	entries := make([]warmupEntry, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, core.NewValidationFailure(fmt.Sprintf("entry %d must be an object", i), nil)
		}
		key, _ := m["key"].(string)
		if key == "" {
			return nil, core.NewValidationFailure(fmt.Sprintf("entry %d is missing a key", i), nil)
		}
		value, _ := m["value"].(string)
		entry := warmupEntry{Key: key, Value: value}
		if ttl, ok := m["ttlSeconds"]; ok {
			n, err := asInt(ttl)
			if err != nil {
				return nil, core.NewValidationFailure(fmt.Sprintf("entry %d has a non-numeric ttlSeconds", i), err)
			}
			entry.TTLSeconds = n
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func stringParam(params map[string]interface{}, name string) (string, error) {
	raw, ok := params[name]
	if !ok {
		return "", core.NewValidationFailure(fmt.Sprintf("parameter %q is required", name), nil)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", core.NewValidationFailure(fmt.Sprintf("parameter %q must be a non-empty string", name), nil)
	}
	return s, nil
}

func intParam(params map[string]interface{}, name string) (int, error) {
	raw, ok := params[name]
	if !ok {
		return 0, core.NewValidationFailure(fmt.Sprintf("parameter %q is required", name), nil)
	}
	n, err := asInt(raw)
	if err != nil {
		return 0, core.NewValidationFailure(fmt.Sprintf("parameter %q must be a number", name), err)
	}
	return n, nil
}

// asInt accepts the numeric shapes JSON and YAML decoding produce.
func asInt(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", raw)
	}
}
