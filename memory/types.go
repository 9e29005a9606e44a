// Package memory implements the adaptive allocator (spec module C): a
// virtual-memory allocator that classifies blocks by observed access
// pattern and re-optimizes placement on a periodic rebalance pass.
package memory

import "time"

// VirtualAddress is an opaque handle to an allocated block. It carries
// no real mapping since this core does not own an MMU; it is the
// stable identity callers use for deallocate/prefetch lookups.
type VirtualAddress uint64

// AccessPattern classifies how a block is actually being touched, as
// derived by the access tracker during rebalance.
type AccessPattern int

const (
	PatternSequential AccessPattern = iota
	PatternRandom
	PatternStrided
	PatternClustered
	PatternRare
	PatternHotspot
)

func (p AccessPattern) String() string {
	switch p {
	case PatternSequential:
		return "Sequential"
	case PatternRandom:
		return "Random"
	case PatternStrided:
		return "Strided"
	case PatternClustered:
		return "Clustered"
	case PatternRare:
		return "Rare"
	case PatternHotspot:
		return "Hotspot"
	default:
		return "Unknown"
	}
}

// UsagePrediction is the caller's declared horizon for a block, used
// at allocation time to bias placement before any telemetry exists.
type UsagePrediction int

const (
	ShortTerm UsagePrediction = iota
	MediumTerm
	LongTerm
	Permanent
)

func (u UsagePrediction) String() string {
	switch u {
	case ShortTerm:
		return "ShortTerm"
	case MediumTerm:
		return "MediumTerm"
	case LongTerm:
		return "LongTerm"
	case Permanent:
		return "Permanent"
	default:
		return "Unknown"
	}
}

// PlacementOptions carries the allocation-time hints and the flags
// rebalance may later flip in response to observed pattern changes.
type PlacementOptions struct {
	Alignment         int
	Priority          int
	Prediction        UsagePrediction
	Pattern           AccessPattern
	CacheOptimization bool
	AllowCompression  bool
	AllowSwap         bool
	HugePage          bool
	NUMANode          int
	Stride            int
}

// DefaultPlacementOptions mirrors the original allocator's defaults:
// 8-byte alignment, mid priority, cache-aware sizing on, compression
// and swap both permitted until the access tracker says otherwise.
func DefaultPlacementOptions() PlacementOptions {
	return PlacementOptions{
		Alignment:         8,
		Priority:          50,
		Prediction:        ShortTerm,
		Pattern:           PatternSequential,
		CacheOptimization: true,
		AllowCompression:  true,
		AllowSwap:         true,
		NUMANode:          -1,
	}
}

// MemoryBlock is one allocated or free region tracked by the allocator.
type MemoryBlock struct {
	Address        VirtualAddress
	Size           int
	Placement      PlacementOptions
	Allocated      bool
	LastSeen       time.Time
	COW            bool
	CompressedSize int // zstd-compressed size once demoted to Rare with AllowCompression, 0 until then
}

// MemoryStatistics is a point-in-time snapshot (original_source's
// get_memory_stats), exposed for monitoring and tests.
type MemoryStatistics struct {
	TotalBytes      int
	UsedBytes       int
	FreeBytes       int
	BlockCount      int
	AllocatedCount  int
	RebalanceCount  uint64
	CompressionOn   bool
	CompressedBytes int // sum of MemoryBlock.CompressedSize across Rare, compressed blocks
}

const (
	cacheLineSize = 64
	pageSize      = 4096
	hugePageSize  = 2 * 1024 * 1024
)

// roundSize applies §4.3's size calibration: sizes at or below one
// cache line round up to a cache line; sizes at or below 4 KiB round
// up to a cache-line multiple; larger sizes round up to a page.
func roundSize(size int, cacheOptimization bool) int {
	if !cacheOptimization {
		return size
	}
	switch {
	case size <= cacheLineSize:
		return cacheLineSize
	case size <= 4096:
		return roundUp(size, cacheLineSize)
	default:
		return roundUp(size, pageSize)
	}
}

func roundUp(size, multiple int) int {
	if size%multiple == 0 {
		return size
	}
	return (size/multiple + 1) * multiple
}
