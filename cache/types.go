// Package cache implements the generic hierarchical cache (spec
// module D): a bounded multi-tier cache over key type K and value type
// V, with per-tier capacity, line size, associativity, replacement
// policy, and write-back/write-through semantics.
package cache

import "time"

// Tier identifies one level of the hierarchy, fastest first.
type Tier int

const (
	L1 Tier = iota
	L2
	L3
	Disk
)

func (t Tier) String() string {
	switch t {
	case L1:
		return "L1"
	case L2:
		return "L2"
	case L3:
		return "L3"
	case Disk:
		return "Disk"
	default:
		return "Unknown"
	}
}

// ReplacementPolicy selects the eviction strategy for a tier.
type ReplacementPolicy int

const (
	PolicyLRU ReplacementPolicy = iota
	PolicyLFU
	PolicyFIFO
)

// EntryState distinguishes an entry that is the sole copy from one
// duplicated into a lower tier under an inclusive policy.
type EntryState int

const (
	StateExclusiveOwner EntryState = iota
	StateShared
)

// TierConfig is the per-tier capacity/line/associativity/policy
// configuration. Capacity and Line are in bytes.
type TierConfig struct {
	Capacity     int
	Line         int
	Ways         int
	Policy       ReplacementPolicy
	WriteBack    bool
	PrefetchSize int
}

// DefaultTierConfigs returns the §4.4 tier-defaults table: L1 64KiB/64B
// lines/8-way LRU write-back; L2 256KiB/128B/16-way LRU write-back; L3
// 8MiB/256B/32-way LFU write-back; Disk 256MiB/4KiB/64-way FIFO
// write-through.
func DefaultTierConfigs() map[Tier]TierConfig {
	return map[Tier]TierConfig{
		L1:   {Capacity: 64 * 1024, Line: 64, Ways: 8, Policy: PolicyLRU, WriteBack: true, PrefetchSize: 2},
		L2:   {Capacity: 256 * 1024, Line: 128, Ways: 16, Policy: PolicyLRU, WriteBack: true, PrefetchSize: 4},
		L3:   {Capacity: 8 * 1024 * 1024, Line: 256, Ways: 32, Policy: PolicyLFU, WriteBack: true, PrefetchSize: 0},
		Disk: {Capacity: 256 * 1024 * 1024, Line: 4096, Ways: 64, Policy: PolicyFIFO, WriteBack: false, PrefetchSize: 0},
	}
}

// tierOrder is the fixed highest-to-lowest walk order used by Get/Put.
var tierOrder = []Tier{L1, L2, L3, Disk}

// EntryInfo is a caller-facing snapshot of one entry's cache state,
// returned by GetEntryInfo.
type EntryInfo struct {
	Tier        Tier
	AccessCount int
	State       EntryState
	LastAccess  time.Time
	Size        int
}

// Stats is a per-tier occupancy/hit-rate snapshot.
type Stats struct {
	Entries   int
	Bytes     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}
