package governance

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// guardInput is the document a pack's Rego guard evaluates against.
type guardInput struct {
	Environment string `json:"environment"`
	Action      string `json:"action"`
	ItemCount   int    `json:"item_count"`
	ReadOnly    bool   `json:"read_only"`
}

// compiledGuard caches a parsed guard module keyed by its source text, so
// repeated executions under the same pack skip recompilation.
type compiledGuard struct {
	module *ast.Module
	query  string
	source string
}

type guardCache struct {
	mu     sync.Mutex
	guards map[string]*compiledGuard
}

func newGuardCache() *guardCache {
	return &guardCache{guards: make(map[string]*compiledGuard)}
}

// evaluate runs the pack's Rego guard against the execution request. Any
// result in the guard's deny set blocks the run with UNAUTHORIZED. A guard
// that fails to parse blocks the run as well: a broken guard must fail
// closed.
func (c *guardCache) evaluate(ctx context.Context, pack *core.GovernancePolicyPack, profile *core.ConnectionProfile, action string, itemCount int) error {
	guard, err := c.compile(pack)
	if err != nil {
		return core.NewUnauthorizedFailure("policy pack guard is invalid", err).
			WithConnection(profile.ID).
			WithOperation(action).
			WithDetail("policy_pack_id", pack.ID)
	}

	r := rego.New(
		rego.ParsedModule(guard.module),
		rego.Query(guard.query),
		rego.Input(&guardInput{
			Environment: string(profile.Environment),
			Action:      action,
			ItemCount:   itemCount,
			ReadOnly:    !profile.Writable(),
		}),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return core.NewUnauthorizedFailure("policy pack guard evaluation failed", err).
			WithConnection(profile.ID).
			WithOperation(action).
			WithDetail("policy_pack_id", pack.ID)
	}

	for _, result := range results {
		for _, expr := range result.Expressions {
			denies, ok := expr.Value.([]interface{})
			if !ok || len(denies) == 0 {
				continue
			}
			return core.NewUnauthorizedFailure(
				fmt.Sprintf("denied by policy pack guard: %s", denyMessage(denies[0])), nil).
				WithConnection(profile.ID).
				WithOperation(action).
				WithDetail("policy_pack_id", pack.ID).
				WithDetail("deny_count", len(denies))
		}
	}

	return nil
}

// compile parses and caches the guard module for a pack.
func (c *guardCache) compile(pack *core.GovernancePolicyPack) (*compiledGuard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.guards[pack.ID]; ok && cached.source == pack.GuardRego {
		return cached, nil
	}

	module, err := ast.ParseModule(pack.ID, pack.GuardRego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse guard: %w", err)
	}

	guard := &compiledGuard{
		module: module,
		query:  module.Package.Path.String() + ".deny",
		source: pack.GuardRego,
	}
	c.guards[pack.ID] = guard
	return guard, nil
}

// denyMessage extracts a readable message from a deny result.
func denyMessage(result interface{}) string {
	switch v := result.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", result)
}
