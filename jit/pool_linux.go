//go:build linux

package jit

import (
	"sync"
	"unsafe"

	"aether.dev/kernel/kerrors"
	"golang.org/x/sys/unix"
)

// pool is a bump-pointer executable memory pool backed by a single
// anonymous mmap region. write() copies into RW pages; publish() flips
// the whole region to RX before any reader can observe the returned
// address, enforcing the W^X discipline in §9.
type pool struct {
	mu     sync.Mutex
	region []byte
	offset int
	rx     bool
}

func newPool(size int) (*pool, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.Fatal, "jit.newPool", err)
	}
	return &pool{region: region}, nil
}

// write copies code into the pool at the current bump offset and
// returns its base address and length. If the region is currently RX,
// it is flipped back to RW first.
func (p *pool) write(code []byte) (uintptr, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rx {
		if err := p.flipLocked(unix.PROT_READ | unix.PROT_WRITE); err != nil {
			return 0, 0, err
		}
	}
	if p.offset+len(code) > len(p.region) {
		return 0, 0, kerrors.New(kerrors.OutOfMemory, "jit.pool.write", "executable pool exhausted")
	}
	copy(p.region[p.offset:], code)
	base := uintptr(unsafe.Pointer(&p.region[0])) + uintptr(p.offset) // #nosec G103 -- base address of an mmap'd region we own.
	p.offset += len(code)
	return base, len(code), nil
}

// publish flips the whole pool RX, the barrier after which a
// concurrent reader observing a cache entry's address also observes
// executable permission on it.
func (p *pool) publish() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flipLocked(unix.PROT_READ | unix.PROT_EXEC)
}

func (p *pool) flipLocked(prot int) error {
	if err := unix.Mprotect(p.region, prot); err != nil {
		return kerrors.Wrap(kerrors.Fatal, "jit.pool.flip", err)
	}
	p.rx = prot == unix.PROT_READ|unix.PROT_EXEC
	return nil
}

func (p *pool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return unix.Munmap(p.region)
}

// reset rewinds the bump pointer to the start of the pool, discarding
// every address handed out so far. Callers must only do this once no
// cached entry still points into the pool (jit.Translator.FlushCache
// clears the translation cache in the same call).
func (p *pool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offset = 0
}
