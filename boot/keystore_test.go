package boot

import (
	"testing"
	"time"

	"aether.dev/kernel/kerrors"
)

func mustKeyID(b byte) KeyID {
	var id KeyID
	id[0] = b
	return id
}

func TestKeyStoreImportRejectsDuplicate(t *testing.T) {
	ks := NewKeyStore()
	k := TrustedKey{KeyID: mustKeyID(1), Type: KeyTypeEd25519, Usage: "KernelSigning"}
	if err := ks.Import(k); err != nil {
		t.Fatalf("first import: %v", err)
	}
	err := ks.Import(k)
	if kerrors.CodeOf(err) != kerrors.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestKeyStoreRemoveMissing(t *testing.T) {
	ks := NewKeyStore()
	err := ks.Remove(mustKeyID(9))
	if kerrors.CodeOf(err) != kerrors.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestKeyStoreCandidatesSkipsExpiredAndWrongUsage(t *testing.T) {
	ks := NewKeyStore()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	_ = ks.Import(TrustedKey{KeyID: mustKeyID(1), Usage: "KernelSigning", ExpiresAt: &past})
	_ = ks.Import(TrustedKey{KeyID: mustKeyID(2), Usage: "KernelSigning", ExpiresAt: &future})
	_ = ks.Import(TrustedKey{KeyID: mustKeyID(3), Usage: "PlatformKey", ExpiresAt: &future})

	cands := ks.Candidates("KernelSigning", time.Now())
	if len(cands) != 1 || cands[0].KeyID != mustKeyID(2) {
		t.Fatalf("expected exactly key 2, got %+v", cands)
	}
}

func TestTrustedHashDBOverwrite(t *testing.T) {
	db := NewTrustedHashDB()
	db.Put(TrustedHash{ImageName: "kernel.img", Algorithm: HashSHA256, HashValue: []byte{1}})
	db.Put(TrustedHash{ImageName: "kernel.img", Algorithm: HashSHA256, HashValue: []byte{2}})

	h, ok := db.Get("kernel.img")
	if !ok || h.HashValue[0] != 2 {
		t.Fatalf("expected overwritten hash value 2, got %+v ok=%v", h, ok)
	}
}
