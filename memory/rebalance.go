package memory

import (
	"context"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Rebalance re-classifies every allocated block by its observed access
// pattern and re-applies the placement reactions from §4.3: huge-page
// promotion for large hot blocks, NUMA/affinity pinning for Hotspot,
// and compression/swap demotion flags for Rare blocks.
func (a *Allocator) Rebalance() {
	a.mu.Lock()
	blocks := make([]*MemoryBlock, 0, len(a.blocks))
	for _, b := range a.blocks {
		if b.Allocated {
			blocks = append(blocks, b)
		}
	}
	a.rebalanceCount++
	a.mu.Unlock()

	now := time.Now()
	for _, b := range blocks {
		pattern, stride := a.tracker.AnalyzePattern(b.Address, b.Size, now)
		a.applyPlacementReaction(b, pattern, stride)
	}
}

func (a *Allocator) applyPlacementReaction(b *MemoryBlock, pattern AccessPattern, stride int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b.Placement.Pattern = pattern
	b.Placement.Stride = stride

	switch pattern {
	case PatternHotspot:
		b.Placement.NUMANode = 0
		_ = a.hot.Add(b.Address, struct{}{})
		if b.Size >= hugePageSize {
			b.Placement.HugePage = true
		}
	case PatternRare:
		b.Placement.AllowCompression = true
		b.Placement.AllowSwap = true
		a.hot.Remove(b.Address)
		if a.compressionEnabled {
			b.CompressedSize = compressSize(b.Size)
		}
	default:
		b.Placement.HugePage = false
	}
}

// compressSize runs the block's zero-filled contents (there is no
// physical backing store in this core to read real bytes from) through
// the same zstd encoder a page-out path would apply before swapping a
// Rare block to disk, and returns the compressed size. Rebalance stores
// the result on the block so GetMemoryStats can report the space a real
// swap-out would actually reclaim, rather than discarding the encoder's
// output.
func compressSize(size int) int {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return size
	}
	defer enc.Close()
	return len(enc.EncodeAll(make([]byte, size), nil))
}

// Run starts a background goroutine that calls Rebalance on the
// configured interval until ctx is canceled.
func (a *Allocator) Run(ctx context.Context) {
	a.mu.RLock()
	interval := a.rebalanceInterval
	a.mu.RUnlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Rebalance()
		}
	}
}
