package authz

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCacheTTL bounds how long a resolved override set may be served
// without consulting the store.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	overrides map[Permission]bool
	expiresAt time.Time
}

// OverrideCache is an in-process, time-bounded cache of resolved override maps
// keyed by "tenantID:userID". Entries carry an absolute expiry stamped at
// write time and every read re-checks it; eviction timing is never load
// bearing. Writers only ever store or delete whole entries, so concurrent
// readers on a cold key racing to populate it converge on the same value.
//
// Each key also carries a generation counter bumped by Invalidate. A fetch
// that observed generation g may only publish its result through SetIfCurrent
// while the generation is still g, so a store read that was in flight when a
// mutation invalidated the key cannot re-install the pre-mutation snapshot.
type OverrideCache struct {
	entries sync.Map
	gens    sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// NewOverrideCache constructs a cache with the given TTL. A non-positive TTL
// falls back to DefaultCacheTTL.
func NewOverrideCache(ttl time.Duration) *OverrideCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &OverrideCache{ttl: ttl, now: time.Now}
}

func cacheKey(tenantID, userID int64) string {
	return fmt.Sprintf("%d:%d", tenantID, userID)
}

// Get returns the cached override map for the key when a live entry exists.
// Expired entries are removed and reported as a miss.
func (c *OverrideCache) Get(tenantID, userID int64) (map[Permission]bool, bool) {
	key := cacheKey(tenantID, userID)
	value, ok := c.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry, ok := value.(cacheEntry)
	if !ok || entry.overrides == nil {
		// Corrupt entry: treat as a miss, the resolver re-fetches.
		c.entries.Delete(key)
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.entries.Delete(key)
		return nil, false
	}
	return entry.overrides, true
}

// Set stores the override map with a fresh absolute expiry.
func (c *OverrideCache) Set(tenantID, userID int64, overrides map[Permission]bool) {
	c.entries.Store(cacheKey(tenantID, userID), cacheEntry{
		overrides: overrides,
		expiresAt: c.now().Add(c.ttl),
	})
}

func (c *OverrideCache) generation(key string) *atomic.Uint64 {
	if value, ok := c.gens.Load(key); ok {
		return value.(*atomic.Uint64)
	}
	value, _ := c.gens.LoadOrStore(key, new(atomic.Uint64))
	return value.(*atomic.Uint64)
}

// Generation returns the invalidation counter for a key. Capture it before a
// store read and pass it to SetIfCurrent when publishing the result.
func (c *OverrideCache) Generation(tenantID, userID int64) uint64 {
	return c.generation(cacheKey(tenantID, userID)).Load()
}

// SetIfCurrent stores the override map only if no invalidation for the key
// happened since gen was observed. It reports whether the entry was kept.
func (c *OverrideCache) SetIfCurrent(tenantID, userID int64, overrides map[Permission]bool, gen uint64) bool {
	key := cacheKey(tenantID, userID)
	if c.generation(key).Load() != gen {
		return false
	}
	c.entries.Store(key, cacheEntry{
		overrides: overrides,
		expiresAt: c.now().Add(c.ttl),
	})
	// An invalidation may have raced the store above; its Delete can land
	// before our Store does. Re-check and undo so the entry never outlives
	// the invalidation that should have removed it.
	if c.generation(key).Load() != gen {
		c.entries.Delete(key)
		return false
	}
	return true
}

// Invalidate removes the entry for a user entirely and bumps the key's
// generation so in-flight fetches cannot re-install pre-invalidation state.
func (c *OverrideCache) Invalidate(tenantID, userID int64) {
	key := cacheKey(tenantID, userID)
	c.generation(key).Add(1)
	c.entries.Delete(key)
}

// Clear removes every entry. Intended for administrative and test use.
func (c *OverrideCache) Clear() {
	c.gens.Range(func(_, value any) bool {
		value.(*atomic.Uint64).Add(1)
		return true
	})
	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
}

// TTL reports the configured entry lifetime.
func (c *OverrideCache) TTL() time.Duration {
	return c.ttl
}
