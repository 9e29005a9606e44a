package memory

import (
	"testing"
	"time"

	"aether.dev/kernel/kerrors"
)

func TestAllocateRoundsToPageSize(t *testing.T) {
	a, err := NewAllocator()
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	addr, err := a.Allocate(4097, DefaultPlacementOptions())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	stats := a.GetMemoryStats()
	if stats.TotalBytes != pageSize*2 {
		t.Fatalf("expected rounding to 2 pages, got %d total bytes", stats.TotalBytes)
	}
	if addr == 0 {
		t.Fatalf("expected non-zero address")
	}
}

func TestAllocateZeroBytesRoundsUpToEight(t *testing.T) {
	a, _ := NewAllocator()
	addr, err := a.Allocate(0, PlacementOptions{})
	if err != nil {
		t.Fatalf("Allocate(0): %v", err)
	}
	a.mu.RLock()
	block := a.blocks[addr]
	a.mu.RUnlock()
	if block.Size != 8 {
		t.Fatalf("expected 0-byte request to round up to the 8-byte floor, got size %d", block.Size)
	}
}

func TestAllocateNegativeSizeFails(t *testing.T) {
	a, _ := NewAllocator()
	_, err := a.Allocate(-1, DefaultPlacementOptions())
	if kerrors.CodeOf(err) != kerrors.InvalidArgument {
		t.Fatalf("expected InvalidArgument for negative size, got %v", err)
	}
}

func TestDeallocateReturnsBlockToFreeList(t *testing.T) {
	a, _ := NewAllocator()
	addr, _ := a.Allocate(64, DefaultPlacementOptions())
	if err := a.Deallocate(addr); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	second, err := a.Allocate(64, DefaultPlacementOptions())
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	if second != addr {
		t.Fatalf("expected free-list reuse to return same address, got %d want %d", second, addr)
	}
}

func TestDeallocateUnknownAddressFails(t *testing.T) {
	a, _ := NewAllocator()
	err := a.Deallocate(999999)
	if kerrors.CodeOf(err) != kerrors.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestRebalanceDetectsHotspot(t *testing.T) {
	a, _ := NewAllocator()
	addr, _ := a.Allocate(4096, DefaultPlacementOptions())

	now := time.Now()
	for i := 0; i < 50; i++ {
		a.tracker.RecordAccess(addr, now)
	}
	for i := 1; i <= 19; i++ {
		a.tracker.RecordAccess(addr+VirtualAddress(i*64), now)
	}

	a.Rebalance()

	a.mu.RLock()
	block := a.blocks[addr]
	a.mu.RUnlock()
	if block.Placement.Pattern != PatternHotspot {
		t.Fatalf("expected Hotspot pattern, got %v", block.Placement.Pattern)
	}
}

func TestPrefetchSequential(t *testing.T) {
	a, _ := NewAllocator()
	addr, _ := a.Allocate(pageSize*4, DefaultPlacementOptions())
	a.mu.Lock()
	a.blocks[addr].Placement.Pattern = PatternSequential
	a.mu.Unlock()

	hint, err := a.Prefetch(addr)
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if len(hint.Addresses) != 8 {
		t.Fatalf("expected 8 prefetch addresses for Sequential, got %d", len(hint.Addresses))
	}
}
