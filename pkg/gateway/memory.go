package gateway

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cachedeck/cachedeck/pkg/core"
)

// memoryEntry is one stored value; a zero expiresAt means no expiry.
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryGateway is a map-backed, TTL-aware cache gateway. It keeps a
// separate keyspace per connection profile and serves the dev CLI and
// tests; it supports every capability.
type MemoryGateway struct {
	mu   sync.RWMutex
	data map[string]map[string]memoryEntry

	// now is swappable in tests to exercise expiry.
	now func() time.Time
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		data: make(map[string]map[string]memoryEntry),
		now:  time.Now,
	}
}

func (g *MemoryGateway) TestConnection(ctx context.Context, profile *core.ConnectionProfile, secret string) error {
	return nil
}

func (g *MemoryGateway) GetCapabilities(ctx context.Context, profile *core.ConnectionProfile, secret string) (*core.Capabilities, error) {
	return &core.Capabilities{
		SupportsTTL:           true,
		SupportsPatternSearch: true,
		ServerVersion:         "memory",
	}, nil
}

func (g *MemoryGateway) ListKeys(ctx context.Context, profile *core.ConnectionProfile, secret string, cursor string, limit int) (*core.KeySearchResult, error) {
	return g.scan(profile, "", cursor, limit)
}

func (g *MemoryGateway) SearchKeys(ctx context.Context, profile *core.ConnectionProfile, secret string, pattern string, cursor string, limit int) (*core.KeySearchResult, error) {
	return g.scan(profile, pattern, cursor, limit)
}

func (g *MemoryGateway) GetValue(ctx context.Context, profile *core.ConnectionProfile, secret string, key string) (*core.ValueRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.keyspace(profile)[key]
	if !ok {
		return nil, nil
	}
	now := g.now()
	if g.expired(entry, now) {
		delete(g.keyspace(profile), key)
		return nil, nil
	}

	record := &core.ValueRecord{
		Key:       key,
		Value:     entry.value,
		SizeBytes: int64(len(entry.value)),
	}
	if !entry.expiresAt.IsZero() {
		record.TTLSeconds = int(entry.expiresAt.Sub(now).Seconds())
	}
	return record, nil
}

func (g *MemoryGateway) SetValue(ctx context.Context, profile *core.ConnectionProfile, secret string, key, value string, ttlSeconds int) error {
	if key == "" {
		return core.NewValidationFailure("key must not be empty", nil)
	}

	entry := memoryEntry{value: value}
	if ttlSeconds > 0 {
		entry.expiresAt = g.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.keyspace(profile)[key] = entry
	return nil
}

func (g *MemoryGateway) DeleteKey(ctx context.Context, profile *core.ConnectionProfile, secret string, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keyspace(profile), key)
	return nil
}

// scan pages over the profile's sorted, unexpired keys. The cursor is a
// decimal offset into that ordering.
func (g *MemoryGateway) scan(profile *core.ConnectionProfile, pattern, cursor string, limit int) (*core.KeySearchResult, error) {
	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if cursor != "" {
		var err error
		offset, err = strconv.Atoi(cursor)
		if err != nil || offset < 0 {
			return nil, core.NewValidationFailure(fmt.Sprintf("invalid cursor %q", cursor), err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	keyspace := g.keyspace(profile)
	keys := make([]string, 0, len(keyspace))
	for key, entry := range keyspace {
		if g.expired(entry, now) {
			delete(keyspace, key)
			continue
		}
		if pattern != "" && !matchPattern(pattern, key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if offset > len(keys) {
		offset = len(keys)
	}
	end := offset + limit
	if end > len(keys) {
		end = len(keys)
	}

	result := &core.KeySearchResult{
		Keys:      keys[offset:end],
		Truncated: end < len(keys),
	}
	if result.Truncated {
		result.NextCursor = strconv.Itoa(end)
	}
	return result, nil
}

func (g *MemoryGateway) keyspace(profile *core.ConnectionProfile) map[string]memoryEntry {
	keyspace, ok := g.data[profile.ID]
	if !ok {
		keyspace = make(map[string]memoryEntry)
		g.data[profile.ID] = keyspace
	}
	return keyspace
}

func (g *MemoryGateway) expired(entry memoryEntry, now time.Time) bool {
	return !entry.expiresAt.IsZero() && !entry.expiresAt.After(now)
}

// matchPattern matches glob-style key patterns ("job:*", "user:?").
// A malformed pattern degrades to a substring match.
func matchPattern(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	if err != nil {
		return strings.Contains(key, strings.Trim(pattern, "*"))
	}
	return ok
}
