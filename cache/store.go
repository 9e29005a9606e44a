package cache

import (
	"container/list"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is the per-key payload stored at every tier, independent of
// which eviction policy the tier uses.
type entry[V any] struct {
	value       V
	size        int
	accessCount int
	state       EntryState
	lastAccess  time.Time
}

// store is the minimal interface each tier's backing structure must
// satisfy; Cache drives eviction itself by bytes, calling evictOne
// until a tier's byte budget is back under its configured capacity.
type store[K comparable, V any] interface {
	get(k K) (*entry[V], bool)
	put(k K, e *entry[V])
	remove(k K) bool
	evictOne() (K, *entry[V], bool)
	len() int
}

// lruStore wraps hashicorp/golang-lru for L1/L2: Get already refreshes
// recency, and RemoveOldest gives exact LRU eviction order.
type lruStore[K comparable, V any] struct {
	c *lru.Cache[K, *entry[V]]
}

func newLRUStore[K comparable, V any]() *lruStore[K, V] {
	// A generously large item cap: real eviction is byte-budget driven
	// by Cache, not item-count driven by the LRU structure itself.
	c, _ := lru.New[K, *entry[V]](1 << 20)
	return &lruStore[K, V]{c: c}
}

func (s *lruStore[K, V]) get(k K) (*entry[V], bool)     { return s.c.Get(k) }
func (s *lruStore[K, V]) put(k K, e *entry[V])          { s.c.Add(k, e) }
func (s *lruStore[K, V]) remove(k K) bool                { return s.c.Remove(k) }
func (s *lruStore[K, V]) len() int                       { return s.c.Len() }
func (s *lruStore[K, V]) evictOne() (K, *entry[V], bool) { return s.c.RemoveOldest() }

// fifoStore is a hand-rolled FIFO queue for the Disk tier: no pack
// dependency implements generic FIFO eviction, so this is built
// directly on container/list.
type fifoStore[K comparable, V any] struct {
	order *list.List
	elems map[K]*list.Element
	vals  map[K]*entry[V]
}

func newFIFOStore[K comparable, V any]() *fifoStore[K, V] {
	return &fifoStore[K, V]{order: list.New(), elems: make(map[K]*list.Element), vals: make(map[K]*entry[V])}
}

func (s *fifoStore[K, V]) get(k K) (*entry[V], bool) {
	e, ok := s.vals[k]
	return e, ok
}

func (s *fifoStore[K, V]) put(k K, e *entry[V]) {
	if _, exists := s.elems[k]; !exists {
		s.elems[k] = s.order.PushBack(k)
	}
	s.vals[k] = e
}

func (s *fifoStore[K, V]) remove(k K) bool {
	el, ok := s.elems[k]
	if !ok {
		return false
	}
	s.order.Remove(el)
	delete(s.elems, k)
	delete(s.vals, k)
	return true
}

func (s *fifoStore[K, V]) len() int { return len(s.vals) }

func (s *fifoStore[K, V]) evictOne() (K, *entry[V], bool) {
	front := s.order.Front()
	if front == nil {
		var zero K
		return zero, nil, false
	}
	k := front.Value.(K)
	e := s.vals[k]
	s.remove(k)
	return k, e, true
}

// lfuStore is a hand-rolled least-frequently-used store for L3: no
// pack dependency implements a generic LFU, so eviction scans for the
// minimum access count directly (tier sizes here are small enough
// that a linear scan is the pragmatic choice over a frequency-bucket
// structure).
type lfuStore[K comparable, V any] struct {
	vals map[K]*entry[V]
}

func newLFUStore[K comparable, V any]() *lfuStore[K, V] {
	return &lfuStore[K, V]{vals: make(map[K]*entry[V])}
}

func (s *lfuStore[K, V]) get(k K) (*entry[V], bool) {
	e, ok := s.vals[k]
	return e, ok
}

func (s *lfuStore[K, V]) put(k K, e *entry[V]) { s.vals[k] = e }

func (s *lfuStore[K, V]) remove(k K) bool {
	if _, ok := s.vals[k]; !ok {
		return false
	}
	delete(s.vals, k)
	return true
}

func (s *lfuStore[K, V]) len() int { return len(s.vals) }

func (s *lfuStore[K, V]) evictOne() (K, *entry[V], bool) {
	var (
		victimKey   K
		victim      *entry[V]
		minCount    = -1
		found       bool
	)
	for k, e := range s.vals {
		if !found || e.accessCount < minCount {
			victimKey, victim, minCount, found = k, e, e.accessCount, true
		}
	}
	if !found {
		var zero K
		return zero, nil, false
	}
	delete(s.vals, victimKey)
	return victimKey, victim, true
}

func newStoreForPolicy[K comparable, V any](policy ReplacementPolicy) store[K, V] {
	switch policy {
	case PolicyLRU:
		return newLRUStore[K, V]()
	case PolicyLFU:
		return newLFUStore[K, V]()
	case PolicyFIFO:
		return newFIFOStore[K, V]()
	default:
		return newLRUStore[K, V]()
	}
}
