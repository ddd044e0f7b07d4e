package registry

import (
	"time"

	"pimsg/pkg/protocol"
)

// cacheKey identifies one List result shape. The cwd is part of the key so a
// scoped and an unscoped coordinator over the same base dir never share
// entries.
type cacheKey struct {
	self        string
	excludeSelf bool
	scoped      bool
	cwd         string
}

type cacheEntry struct {
	agents  []protocol.Registration
	fetched time.Time
}

// listCache absorbs burst traffic from UI redraws. Invalidation is total:
// any registry mutation clears every entry, never a partial update.
type listCache struct {
	ttl     time.Duration
	entries map[cacheKey]cacheEntry
}

func newListCache(ttl time.Duration) *listCache {
	return &listCache{ttl: ttl, entries: make(map[cacheKey]cacheEntry)}
}

// get returns a fresh cached result. Callers hold the registry mutex.
func (c *listCache) get(key cacheKey, now time.Time) ([]protocol.Registration, bool) {
	entry, ok := c.entries[key]
	if !ok || now.Sub(entry.fetched) > c.ttl {
		return nil, false
	}
	out := make([]protocol.Registration, len(entry.agents))
	copy(out, entry.agents)
	return out, true
}

// put stores a result. Callers hold the registry mutex.
func (c *listCache) put(key cacheKey, agents []protocol.Registration, now time.Time) {
	stored := make([]protocol.Registration, len(agents))
	copy(stored, agents)
	c.entries[key] = cacheEntry{agents: stored, fetched: now}
}

// invalidate drops everything. Callers hold the registry mutex.
func (c *listCache) invalidate() {
	clear(c.entries)
}
