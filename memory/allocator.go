package memory

import (
	"sync"
	"time"

	"aether.dev/kernel/kerrors"
	arc "github.com/hashicorp/golang-lru/arc/v2"
)

// Allocator is the adaptive memory allocator (spec module C). The
// block map is guarded by a single RWMutex since blocks are looked up
// far more often than they are created or destroyed. The free lists of
// all size classes share one exclusive lock, freeMu, separate from the
// block map's lock, so allocators of different sizes still contend on
// it.
type Allocator struct {
	mu     sync.RWMutex
	blocks map[VirtualAddress]*MemoryBlock
	nextAddr VirtualAddress

	freeMu    sync.Mutex
	freeLists map[int][]VirtualAddress

	tracker *AccessTracker
	hot     *arc.ARCCache[VirtualAddress, struct{}]

	compressionEnabled bool
	rebalanceInterval  time.Duration
	rebalanceCount     uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewAllocator builds an allocator with the documented defaults:
// 60-second rebalance interval, compression enabled, access tracking
// via a 64-byte-stride AccessTracker (§6.4).
func NewAllocator() (*Allocator, error) {
	hot, err := arc.NewARC[VirtualAddress, struct{}](1024)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.Fatal, "memory.NewAllocator", err)
	}
	return &Allocator{
		blocks:             make(map[VirtualAddress]*MemoryBlock),
		nextAddr:           4096,
		freeLists:          make(map[int][]VirtualAddress),
		tracker:            NewAccessTracker(),
		hot:                hot,
		compressionEnabled: true,
		rebalanceInterval:  60 * time.Second,
	}, nil
}

// Allocate reserves size bytes under placement, preferring a free-list
// hit for the rounded size class before minting a new address.
func (a *Allocator) Allocate(size int, placement PlacementOptions) (VirtualAddress, error) {
	if size < 0 {
		return 0, kerrors.New(kerrors.InvalidArgument, "memory.Allocator.Allocate", "size must not be negative")
	}
	if size < 8 {
		size = 8
	}
	rounded := roundSize(size, placement.CacheOptimization)

	a.freeMu.Lock()
	addr, remaining := pickFreeAddr(a.freeLists[rounded], a.hot)
	if addr != 0 {
		a.freeLists[rounded] = remaining
	}
	a.freeMu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if addr == 0 {
		addr = a.nextAddr
		a.nextAddr += VirtualAddress(rounded)
	}
	a.blocks[addr] = &MemoryBlock{
		Address:   addr,
		Size:      rounded,
		Placement: placement,
		Allocated: true,
		LastSeen:  time.Now(),
	}
	return addr, nil
}

// Deallocate returns a block to its size class's free list, zeroing
// its logical contents (there is no physical memory here to zero, so
// this clears the tracked placement state instead) before reuse.
func (a *Allocator) Deallocate(addr VirtualAddress) error {
	a.mu.Lock()
	block, ok := a.blocks[addr]
	if !ok || !block.Allocated {
		a.mu.Unlock()
		return kerrors.New(kerrors.InvalidArgument, "memory.Allocator.Deallocate", "address is not a known block start")
	}
	block.Allocated = false
	block.Placement = PlacementOptions{}
	block.CompressedSize = 0
	size := block.Size
	a.mu.Unlock()

	a.freeMu.Lock()
	a.freeLists[size] = append(a.freeLists[size], addr)
	a.freeMu.Unlock()
	return nil
}

// RecordAccess forwards an observed access to the tracker, for the
// page-fault/perf-counter sampling hook to call.
func (a *Allocator) RecordAccess(addr VirtualAddress) {
	a.tracker.RecordAccess(addr, time.Now())
}

// pickFreeAddr chooses which freed address to hand back to a new
// allocate call. A freed address that rebalance tagged Hotspot (it is
// a member of the ARC hot set) is skipped in favor of a colder one in
// the same size class, since handing a just-vacated hot range straight
// back out defeats the point of classifying it hot in the first place;
// it stays on the free list for a later, cold-biased reuse. Only when
// every candidate is hot does the most recently freed one get reused.
func pickFreeAddr(list []VirtualAddress, hot *arc.ARCCache[VirtualAddress, struct{}]) (VirtualAddress, []VirtualAddress) {
	if len(list) == 0 {
		return 0, list
	}
	for i := len(list) - 1; i >= 0; i-- {
		if !hot.Contains(list[i]) {
			addr := list[i]
			remaining := append(list[:i:i], list[i+1:]...)
			return addr, remaining
		}
	}
	return list[len(list)-1], list[:len(list)-1]
}

// SetCompressionEnabled toggles whether Rebalance computes a
// CompressedSize for Rare blocks. Rebalance sets AllowCompression on
// Rare blocks either way.
func (a *Allocator) SetCompressionEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.compressionEnabled = enabled
}

// SetRebalanceInterval overrides the default 60-second cadence used by
// Run's background ticker.
func (a *Allocator) SetRebalanceInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rebalanceInterval = d
}

// GetMemoryStats snapshots current allocator state.
func (a *Allocator) GetMemoryStats() MemoryStatistics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	stats := MemoryStatistics{CompressionOn: a.compressionEnabled, RebalanceCount: a.rebalanceCount}
	for _, b := range a.blocks {
		stats.TotalBytes += b.Size
		stats.BlockCount++
		stats.CompressedBytes += b.CompressedSize
		if b.Allocated {
			stats.UsedBytes += b.Size
			stats.AllocatedCount++
		} else {
			stats.FreeBytes += b.Size
		}
	}
	return stats
}
