package cache

import (
	"sync"
	"time"
)

// tierState bundles one tier's config, backing store, and byte
// accounting behind its own lock so tiers never contend with each
// other.
type tierState[K comparable, V any] struct {
	mu     sync.RWMutex
	cfg    TierConfig
	s      store[K, V]
	bytes  int
	hits   uint64
	misses uint64
	evicts uint64
}

// Cache is the generic hierarchical cache (spec module D) over the
// four fixed tiers. Inclusive/exclusive policy and the promotion
// threshold are global, changed rarely relative to get/put traffic, so
// they live behind a dedicated mutex rather than per-tier locks.
type Cache[K comparable, V any] struct {
	tiers map[Tier]*tierState[K, V]

	polMu              sync.RWMutex
	inclusive          bool
	promotionThreshold int
}

// New builds a cache with the §4.4 default tier configuration,
// exclusive policy, and a promotion threshold of 10 accesses.
func New[K comparable, V any]() *Cache[K, V] {
	return NewWithConfig[K, V](DefaultTierConfigs())
}

// NewWithConfig builds a cache from caller-supplied per-tier configs,
// falling back to the defaults for any tier left unspecified.
func NewWithConfig[K comparable, V any](configs map[Tier]TierConfig) *Cache[K, V] {
	defaults := DefaultTierConfigs()
	c := &Cache[K, V]{
		tiers:              make(map[Tier]*tierState[K, V]),
		inclusive:          false,
		promotionThreshold: 10,
	}
	for _, t := range tierOrder {
		cfg, ok := configs[t]
		if !ok {
			cfg = defaults[t]
		}
		c.tiers[t] = &tierState[K, V]{cfg: cfg, s: newStoreForPolicy[K, V](cfg.Policy)}
	}
	return c
}

// SetInclusive toggles inclusive (duplicate into lower tiers on put,
// and on promotion) versus exclusive (single copy, moved not
// duplicated) policy.
func (c *Cache[K, V]) SetInclusive(inclusive bool) {
	c.polMu.Lock()
	defer c.polMu.Unlock()
	c.inclusive = inclusive
}

// SetPromotionThreshold overrides the access-count threshold (default
// 10) at which a non-top-tier hit triggers promotion.
func (c *Cache[K, V]) SetPromotionThreshold(n int) {
	c.polMu.Lock()
	defer c.polMu.Unlock()
	c.promotionThreshold = n
}

func (c *Cache[K, V]) isInclusive() bool {
	c.polMu.RLock()
	defer c.polMu.RUnlock()
	return c.inclusive
}

func (c *Cache[K, V]) threshold() int {
	c.polMu.RLock()
	defer c.polMu.RUnlock()
	return c.promotionThreshold
}

// Get searches the tiers top-down. On a hit it updates recency/access
// count and, once access_count reaches the promotion threshold on a
// non-top tier, promotes the entry to the next higher tier.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	for i, tier := range tierOrder {
		ts := c.tiers[tier]
		ts.mu.Lock()
		e, ok := ts.s.get(key)
		if !ok {
			ts.misses++
			ts.mu.Unlock()
			continue
		}
		e.accessCount++
		e.lastAccess = time.Now()
		ts.hits++
		value := e.value
		size := e.size
		shouldPromote := i > 0 && e.accessCount >= c.threshold()
		ts.mu.Unlock()

		if shouldPromote {
			c.promote(tierOrder[i], key, e, size)
		}
		return value, true
	}
	var zero V
	return zero, false
}

func (c *Cache[K, V]) promote(from Tier, key K, e *entry[V], size int) {
	idx := tierIndex(from)
	if idx <= 0 {
		return
	}
	target := tierOrder[idx-1]

	promoted := &entry[V]{value: e.value, size: size, accessCount: e.accessCount, lastAccess: time.Now()}
	c.insertInto(target, key, promoted)

	if !c.isInclusive() {
		c.removeFrom(from, key)
	}
}

// Put inserts into the top tier. Under an inclusive policy the value
// is also duplicated (state Shared) into every lower tier.
func (c *Cache[K, V]) Put(key K, value V, size int) {
	e := &entry[V]{value: value, size: size, accessCount: 0, lastAccess: time.Now(), state: StateExclusiveOwner}
	c.insertInto(tierOrder[0], key, e)

	if c.isInclusive() {
		for _, t := range tierOrder[1:] {
			shared := &entry[V]{value: value, size: size, accessCount: 0, lastAccess: time.Now(), state: StateShared}
			c.insertInto(t, key, shared)
		}
	}
}

func (c *Cache[K, V]) insertInto(tier Tier, key K, e *entry[V]) {
	ts := c.tiers[tier]
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if old, ok := ts.s.get(key); ok {
		ts.bytes -= old.size
	}
	ts.s.put(key, e)
	ts.bytes += e.size

	for ts.bytes > ts.cfg.Capacity && ts.s.len() > 0 {
		_, victim, ok := ts.s.evictOne()
		if !ok {
			break
		}
		ts.bytes -= victim.size
		ts.evicts++
	}
}

func (c *Cache[K, V]) removeFrom(tier Tier, key K) {
	ts := c.tiers[tier]
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if e, ok := ts.s.get(key); ok {
		ts.bytes -= e.size
		ts.s.remove(key)
	}
}

// Remove erases key from every tier.
func (c *Cache[K, V]) Remove(key K) {
	for _, t := range tierOrder {
		c.removeFrom(t, key)
	}
}

// Clear empties every tier.
func (c *Cache[K, V]) Clear() {
	for _, t := range tierOrder {
		ts := c.tiers[t]
		ts.mu.Lock()
		ts.s = newStoreForPolicy[K, V](ts.cfg.Policy)
		ts.bytes = 0
		ts.mu.Unlock()
	}
}

// GetSize reports the bytes currently resident in tier.
func (c *Cache[K, V]) GetSize(tier Tier) int {
	ts := c.tiers[tier]
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.bytes
}

// GetEntryCount reports the number of entries currently in tier.
func (c *Cache[K, V]) GetEntryCount(tier Tier) int {
	ts := c.tiers[tier]
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.s.len()
}

// GetEntryInfo reports which tier currently holds key and its access
// bookkeeping, or ok=false if key is absent from every tier.
func (c *Cache[K, V]) GetEntryInfo(key K) (EntryInfo, bool) {
	for _, t := range tierOrder {
		ts := c.tiers[t]
		ts.mu.RLock()
		e, ok := ts.s.get(key)
		if ok {
			info := EntryInfo{Tier: t, AccessCount: e.accessCount, State: e.state, LastAccess: e.lastAccess, Size: e.size}
			ts.mu.RUnlock()
			return info, true
		}
		ts.mu.RUnlock()
	}
	return EntryInfo{}, false
}

// Stats returns a point-in-time hit/miss/eviction snapshot for tier.
func (c *Cache[K, V]) Stats(tier Tier) Stats {
	ts := c.tiers[tier]
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return Stats{Entries: ts.s.len(), Bytes: ts.bytes, Hits: ts.hits, Misses: ts.misses, Evictions: ts.evicts}
}

func tierIndex(t Tier) int {
	for i, x := range tierOrder {
		if x == t {
			return i
		}
	}
	return -1
}
