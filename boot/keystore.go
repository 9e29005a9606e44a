package boot

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"aether.dev/kernel/kerrors"
)

// KeyStore is the registry of trusted public keys (spec §3.2, §3.9).
// Readers take a shared lock during verification; writers (key import)
// take an exclusive lock — infrequent by comparison, per §5.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[KeyID]TrustedKey
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[KeyID]TrustedKey)}
}

// Import registers a new trusted key. Duplicate key_id is rejected —
// §3.2's uniqueness invariant.
func (s *KeyStore) Import(k TrustedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[k.KeyID]; exists {
		return kerrors.New(kerrors.AlreadyExists, "boot.KeyStore.Import", "key_id already registered")
	}
	s.keys[k.KeyID] = k
	return nil
}

// Remove deletes a key by id. Returns NotFound if absent.
func (s *KeyStore) Remove(id KeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[id]; !exists {
		return kerrors.New(kerrors.NotFound, "boot.KeyStore.Remove", "key_id not registered")
	}
	delete(s.keys, id)
	return nil
}

// Get returns the key for id, if present.
func (s *KeyStore) Get(id KeyID) (TrustedKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	return k, ok
}

// Candidates returns every non-expired key whose usage matches, in
// stable (insertion-independent, ascending key_id) order, for the verifier to try in
// turn. Expired keys are skipped rather than rejecting the image
// outright — a boundary behavior called out in spec.md §8.
func (s *KeyStore) Candidates(usage string, now time.Time) []TrustedKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TrustedKey, 0, len(s.keys))
	for _, k := range s.keys {
		if k.Expired(now) {
			continue
		}
		if usage != "" && k.Usage != usage {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].KeyID[:], out[j].KeyID[:]) < 0 })
	return out
}

// Len reports the number of registered keys.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// TrustedHashDB is the fallback image-hash registry (spec §3.3).
type TrustedHashDB struct {
	mu     sync.RWMutex
	hashes map[string]TrustedHash
}

// NewTrustedHashDB creates an empty trusted-hash database.
func NewTrustedHashDB() *TrustedHashDB {
	return &TrustedHashDB{hashes: make(map[string]TrustedHash)}
}

// Put registers (or overwrites) the trusted hash for an image name —
// §3.3: "same image_name overwrites prior entry."
func (d *TrustedHashDB) Put(h TrustedHash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashes[h.ImageName] = h
}

// Get returns the trusted hash registered for name, if any.
func (d *TrustedHashDB) Get(name string) (TrustedHash, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.hashes[name]
	return h, ok
}
