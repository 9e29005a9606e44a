// Package jit implements the universal binary JIT translator (spec
// module F): it translates a foreign-ISA/format code section to the
// host ISA, caches the result keyed by a content hash, and executes
// it through a write-then-execute memory pool under W^X discipline.
package jit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"aether.dev/kernel/kerrors"
	"golang.org/x/sync/errgroup"
)

// Section is one code region of a parsed binary (§6.5).
type Section struct {
	VirtualAddress uintptr
	Size           int
	Data           []byte
}

// Binary is the minimal view of a parsed foreign binary the translator
// needs: its format/ISA and the section table. Format-specific parsing
// (ELF/PE/Mach-O) is an external collaborator per spec.md §1's scope —
// callers hand the translator an already-parsed Binary.
type Binary struct {
	Format     SourceFormat
	SourceISA  ISA
	EntryPoint uintptr
	Sections   []Section
}

// Process is the external process subsystem collaborator that
// actually branches to translated code (§4.6's execution contract).
type Process interface {
	ExecuteAt(addr uintptr) (int, error)
}

// Translator is the JIT binary translator (spec module F).
type Translator struct {
	cfg      Config
	hostISA  ISA
	logger   *slog.Logger
	cache    *translationCache
	pool     *pool
	poolSize int

	hotMu    sync.Mutex
	hotspots []BasicBlock

	hits, misses, totalNS, translations atomic.Uint64
}

// NewTranslator wires a translator for the given host ISA with a
// pool-size-initial executable pool (§4.6: "16 MiB initial").
func NewTranslator(cfg Config, hostISA ISA, logger *slog.Logger) (*Translator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PoolSize <= 0 {
		cfg = DefaultConfig()
	}
	p, err := newPool(cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	return &Translator{
		cfg:      cfg,
		hostISA:  hostISA,
		logger:   logger,
		cache:    newTranslationCache(cfg.MaxCacheEntries),
		pool:     p,
		poolSize: cfg.PoolSize,
	}, nil
}

// Close releases the executable pool's backing memory.
func (t *Translator) Close() error {
	return t.pool.close()
}

// Translate runs the cache-or-compile path for one source section.
// On a cache hit it increments usage_count/last_used and returns the
// cached entry without re-translating (§4.6 cache key contract). On a
// miss it dispatches to the strategy-specific compiler, writes the
// result into the executable pool, flips the pool to RX (the W^X
// publication barrier from §9), and publishes the cache entry.
func (t *Translator) Translate(ctx context.Context, code []byte, format SourceFormat, srcISA ISA, strategy Strategy) (*CacheEntry, error) {
	if format == FormatAetherNative {
		// §6.5: AetherNative bypasses translation entirely.
		addr, size, err := t.pool.write(code)
		if err != nil {
			return nil, err
		}
		if err := t.pool.publish(); err != nil {
			return nil, err
		}
		entry := &CacheEntry{
			SourceHash:    hashSource(code),
			SourceSize:    len(code),
			TargetAddress: addr,
			TargetSize:    size,
			LastUsed:      time.Now(),
			SourceFormat:  format,
			code:          code,
		}
		t.cache.publish(entry)
		return entry, nil
	}

	hash := hashSource(code)
	if entry, ok := t.cache.lookup(hash); ok {
		t.hits.Add(1)
		return entry, nil
	}
	t.misses.Add(1)

	start := time.Now()
	native, err := t.compile(ctx, code, srcISA, strategy)
	if err != nil {
		return nil, err
	}

	addr, size, err := t.pool.write(native)
	if err != nil {
		return nil, err
	}
	if err := t.pool.publish(); err != nil {
		return nil, err
	}

	entry := &CacheEntry{
		SourceHash:    hash,
		SourceSize:    len(code),
		TargetAddress: addr,
		TargetSize:    size,
		UsageCount:    1,
		LastUsed:      time.Now(),
		SourceFormat:  format,
		code:          native,
	}
	t.cache.publish(entry)

	t.totalNS.Add(uint64(time.Since(start).Nanoseconds()))
	t.translations.Add(1)
	t.recordHotspots(code)
	return entry, nil
}

// compile dispatches to the selected translation strategy. Interpreter
// and Trace/Method fall back to the same instruction-class emitter as
// BasicBlock for a core with no real tracing infrastructure or
// function-boundary inference; BasicBlock is the only strategy that
// exercises errgroup-parallel per-block translation.
func (t *Translator) compile(ctx context.Context, code []byte, srcISA ISA, strategy Strategy) ([]byte, error) {
	if srcISA == t.hostISA {
		return emitSameISA(code, t.cfg.DefaultOptimization), nil
	}
	if strategy != StrategyBasicBlock || srcISA != ISAx86_64 {
		return emitCrossISA(code, t.hostISA), nil
	}
	return t.compileBasicBlocks(ctx, code)
}

// compileBasicBlocks identifies leader-delimited blocks and translates
// them concurrently via errgroup, then concatenates the results in
// source order. There is no inter-block jump-patching pass: branch
// displacements are not adjusted to the translated block layout.
func (t *Translator) compileBasicBlocks(ctx context.Context, code []byte) ([]byte, error) {
	blocks := identifyBasicBlocks(code)
	results := make([][]byte, len(blocks))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range blocks {
		i, b := i, b
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return kerrors.Wrap(kerrors.Cancelled, "jit.Translator.compileBasicBlocks", gctx.Err())
			default:
			}
			results[i] = emitCrossISA(code[b.StartOffset:b.StartOffset+b.Size], t.hostISA)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []byte
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// recordHotspots classifies the section's basic blocks and appends
// any above HotspotThreshold to the hotspot list (§4.6).
func (t *Translator) recordHotspots(code []byte) {
	blocks := identifyBasicBlocks(code)
	t.hotMu.Lock()
	defer t.hotMu.Unlock()
	for _, b := range blocks {
		b.EstimatedFrequency = classifyFrequency(b, code)
		if int(b.EstimatedFrequency) > t.cfg.HotspotThreshold {
			t.hotspots = append(t.hotspots, b)
		}
	}
}

// Hotspots returns a defensive copy of the blocks reported above
// threshold, sorted by descending estimated frequency.
func (t *Translator) Hotspots() []BasicBlock {
	t.hotMu.Lock()
	defer t.hotMu.Unlock()
	out := make([]BasicBlock, len(t.hotspots))
	copy(out, t.hotspots)
	sort.Slice(out, func(i, j int) bool { return out[i].EstimatedFrequency > out[j].EstimatedFrequency })
	return out
}

// sectionFor finds the section containing a virtual address (§4.6's
// execution contract: "finds the section containing the entry point").
func sectionFor(b *Binary, addr uintptr) (Section, bool) {
	for _, s := range b.Sections {
		if addr >= s.VirtualAddress && addr < s.VirtualAddress+uintptr(s.Size) {
			return s, true
		}
	}
	return Section{}, false
}

// ExecuteJIT implements §4.6's execution contract: locate the section
// containing the entry point, translate it (or bypass for
// AetherNative), compute the translated entry address as
// translated_base + (source_entry - section_base), and ask the process
// subsystem to branch there.
func (t *Translator) ExecuteJIT(ctx context.Context, binary *Binary, process Process) (int, error) {
	if binary.Format == FormatAetherNative {
		return process.ExecuteAt(binary.EntryPoint)
	}

	section, ok := sectionFor(binary, binary.EntryPoint)
	if !ok {
		return 0, kerrors.New(kerrors.NotFound, "jit.Translator.ExecuteJIT", "no section contains the entry point")
	}

	entry, err := t.Translate(ctx, section.Data, binary.Format, binary.SourceISA, t.cfg.DefaultStrategy)
	if err != nil {
		return 0, err
	}

	offset := binary.EntryPoint - section.VirtualAddress
	return process.ExecuteAt(entry.TargetAddress + offset)
}

// Stats returns the cache-hit/miss and translation-latency counters
// (original_source's get_statistics / JitPerformanceMetrics).
func (t *Translator) Stats() PerformanceMetrics {
	hits := t.hits.Load()
	misses := t.misses.Load()
	translations := t.translations.Load()
	var avg float64
	if translations > 0 {
		avg = float64(t.totalNS.Load()) / float64(translations)
	}
	return PerformanceMetrics{
		CacheHits:         hits,
		CacheMisses:       misses,
		TotalTranslations: translations,
		AvgTranslationNS:  avg,
	}
}

// CacheLen reports the number of distinct translated sections cached.
func (t *Translator) CacheLen() int {
	return t.cache.len()
}

// FlushCache clears every cached translation and resets the
// bump-pointer pool's fragmentation, per §4.3's "compaction pass is
// deferred to a cache flush."
func (t *Translator) FlushCache() {
	t.cache.clear()
	t.pool.reset()
	t.hotMu.Lock()
	t.hotspots = nil
	t.hotMu.Unlock()
}

