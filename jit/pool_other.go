//go:build !linux

package jit

import (
	"sync"
	"unsafe"

	"aether.dev/kernel/kerrors"
)

// pool is the portable fallback executable-memory pool for hosts where
// golang.org/x/sys/unix's mmap/mprotect are not wired (§2 of
// SPEC_FULL.md: "portable fallback elsewhere"). It keeps the identical
// bump-pointer/flip-to-RX contract as the linux implementation but
// backs storage with a plain Go byte slice; no real page-permission
// change is possible without a platform syscall, so rx only tracks the
// logical W^X state for callers and tests.
type pool struct {
	mu     sync.Mutex
	region []byte
	offset int
	rx     bool
}

func newPool(size int) (*pool, error) {
	if size <= 0 {
		return nil, kerrors.New(kerrors.InvalidArgument, "jit.newPool", "pool size must be positive")
	}
	return &pool{region: make([]byte, size)}, nil
}

func (p *pool) write(code []byte) (uintptr, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = false
	if p.offset+len(code) > len(p.region) {
		return 0, 0, kerrors.New(kerrors.OutOfMemory, "jit.pool.write", "executable pool exhausted")
	}
	copy(p.region[p.offset:], code)
	base := uintptr(unsafe.Pointer(&p.region[0])) + uintptr(p.offset) // #nosec G103 -- base address of a pool we own.
	p.offset += len(code)
	return base, len(code), nil
}

func (p *pool) publish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = true
	return nil
}

func (p *pool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.region = nil
	return nil
}

// reset rewinds the bump pointer to the start of the pool, discarding
// every address handed out so far.
func (p *pool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offset = 0
}
