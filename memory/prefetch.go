package memory

import (
	"aether.dev/kernel/kerrors"
)

// PrefetchHint is a list of addresses, at page-sized or stride-sized
// offsets from the faulting address or the block start (not rounded to
// page boundaries), that the caller should warm before the next
// access, produced by dispatching on the
// faulting block's current pattern (§4.3).
type PrefetchHint struct {
	Addresses []VirtualAddress
}

// Prefetch looks up the block containing addr and returns its
// pattern-dispatched prefetch hint.
func (a *Allocator) Prefetch(addr VirtualAddress) (PrefetchHint, error) {
	a.mu.RLock()
	block, ok := a.blockContaining(addr)
	a.mu.RUnlock()
	if !ok {
		return PrefetchHint{}, kerrors.New(kerrors.NotFound, "memory.Allocator.Prefetch", "no block contains address")
	}

	switch block.Placement.Pattern {
	case PatternSequential:
		return PrefetchHint{Addresses: pageRun(block.Address, 1, 8)}, nil
	case PatternStrided:
		stride := block.Placement.Stride
		if stride <= 0 {
			stride = pageSize
		}
		return PrefetchHint{Addresses: strideRun(addr, stride, 4)}, nil
	case PatternClustered:
		before := pageRun(addr, -3, 3)
		after := pageRun(addr, 1, 3)
		return PrefetchHint{Addresses: append(before, after...)}, nil
	default:
		return PrefetchHint{}, nil
	}
}

func (a *Allocator) blockContaining(addr VirtualAddress) (*MemoryBlock, bool) {
	for _, b := range a.blocks {
		if b.Allocated && addr >= b.Address && addr < b.Address+VirtualAddress(b.Size) {
			return b, true
		}
	}
	return nil, false
}

func pageRun(base VirtualAddress, startPage, count int) []VirtualAddress {
	out := make([]VirtualAddress, 0, count)
	for i := 0; i < count; i++ {
		offset := (startPage + i) * pageSize
		out = append(out, base+VirtualAddress(offset)) // #nosec G115 -- offset bounded by small page counts.
	}
	return out
}

func strideRun(base VirtualAddress, stride, count int) []VirtualAddress {
	out := make([]VirtualAddress, 0, count)
	for i := 1; i <= count; i++ {
		out = append(out, base+VirtualAddress(stride*i)) // #nosec G115 -- stride*i bounded by small prefetch windows.
	}
	return out
}

// HandleCOWFault implements the copy-on-write path (§4.3): it allocates
// a new block with the old block's size and placement, clears its COW
// flag, and returns the new block's address. It does not copy contents
// into the new block and does not remap the faulting address; both are
// left to the caller's page-table code.
func (a *Allocator) HandleCOWFault(addr VirtualAddress, contents []byte) (VirtualAddress, error) {
	a.mu.RLock()
	old, ok := a.blocks[addr]
	a.mu.RUnlock()
	if !ok || !old.COW {
		return 0, kerrors.New(kerrors.InvalidArgument, "memory.Allocator.HandleCOWFault", "address is not a COW mapping")
	}

	placement := old.Placement
	newAddr, err := a.Allocate(old.Size, placement)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	newBlock := a.blocks[newAddr]
	newBlock.COW = false
	a.mu.Unlock()

	_ = contents // copied by the caller's page-table remap; this core has no physical pages to copy into.
	return newAddr, nil
}
