// Package jit implements the universal binary JIT translator (spec
// module F): it translates a foreign-ISA/format code section to the
// host ISA, caches the result keyed by a content hash, and executes
// it through a write-then-execute memory pool under W^X discipline.
package jit

import "time"

// SourceFormat is the container format the input code section came
// from. AetherNative bypasses translation entirely (§6.5).
type SourceFormat int

const (
	FormatELF SourceFormat = iota
	FormatPE
	FormatMachO
	FormatAetherNative
)

// ISA identifies an instruction set, either as the source of a
// translation or the host target.
type ISA int

const (
	ISAx86_64 ISA = iota
	ISAAArch64
	ISARISCV64
)

func (i ISA) String() string {
	switch i {
	case ISAx86_64:
		return "x86_64"
	case ISAAArch64:
		return "aarch64"
	case ISARISCV64:
		return "riscv64"
	default:
		return "unknown"
	}
}

// OptimizationLevel controls how aggressively the translator rewrites
// code beyond straight instruction-class mapping.
type OptimizationLevel int

const (
	OptNone OptimizationLevel = iota
	OptBasic
	OptAggressive
	OptFull
)

// Strategy is the caller-selectable translation approach (§4.6).
type Strategy int

const (
	StrategyInterpreter Strategy = iota
	StrategyBasicBlock
	StrategyTrace
	StrategyMethod
)

func (s Strategy) String() string {
	switch s {
	case StrategyInterpreter:
		return "Interpreter"
	case StrategyBasicBlock:
		return "BasicBlock"
	case StrategyTrace:
		return "Trace"
	case StrategyMethod:
		return "Method"
	default:
		return "Unknown"
	}
}

// CacheEntry is the translated-binary cache record (§3.8), keyed
// externally by the FNV-1a64 hash of the source section.
type CacheEntry struct {
	SourceHash      uint64
	SourceSize      int
	TargetAddress   uintptr
	TargetSize      int
	UsageCount      uint64
	LastUsed        time.Time
	SourceFormat    SourceFormat
	code            []byte // the published, RX-protected machine code
}

// Config carries the translator's default strategy/optimization level
// (§6.1) and the hotspot promotion threshold (§4.6: blocks above 500
// estimated frequency are reported to the hotspot list).
type Config struct {
	DefaultStrategy     Strategy
	DefaultOptimization OptimizationLevel
	HotspotThreshold    int
	PoolSize            int
	MaxCacheEntries     int // translation cache capacity; 0 means unbounded
}

// DefaultConfig returns BasicBlock/None defaults, a 16 MiB executable
// pool, and a 4096-entry translation cache (§3.8's LRU-plus-frequency
// eviction).
func DefaultConfig() Config {
	return Config{
		DefaultStrategy:     StrategyBasicBlock,
		DefaultOptimization: OptNone,
		HotspotThreshold:    500,
		PoolSize:            16 * 1024 * 1024,
		MaxCacheEntries:     4096,
	}
}

// PerformanceMetrics mirrors original_source's JitPerformanceMetrics /
// get_statistics(): cache hit/miss counters and an average translation
// latency.
type PerformanceMetrics struct {
	CacheHits          uint64
	CacheMisses        uint64
	TotalTranslations  uint64
	AvgTranslationNS    float64
}
