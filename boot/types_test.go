package boot

import "testing"

func TestNewRandomKeyIDIsUnique(t *testing.T) {
	a := NewRandomKeyID()
	b := NewRandomKeyID()
	if a == b {
		t.Fatalf("expected two random key ids to differ")
	}
}

func TestNewKeyIDFromHashIsDeterministic(t *testing.T) {
	keyBytes := []byte("a canonical-encoded public key")
	a := NewKeyIDFromHash(keyBytes)
	b := NewKeyIDFromHash(keyBytes)
	if a != b {
		t.Fatalf("expected identical key bytes to derive identical key ids")
	}
	other := NewKeyIDFromHash([]byte("different key"))
	if a == other {
		t.Fatalf("expected distinct key bytes to derive distinct key ids")
	}
}
