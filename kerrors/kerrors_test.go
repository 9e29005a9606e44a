package kerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfUnwraps(t *testing.T) {
	base := New(NotFound, "boot.KeyStore.Find", "key_id unknown")
	wrapped := fmt.Errorf("context: %w", base)
	if CodeOf(wrapped) != NotFound {
		t.Fatalf("expected NotFound, got %q", CodeOf(wrapped))
	}
}

func TestErrorIsComparesCode(t *testing.T) {
	a := New(OutOfMemory, "memory.Allocator.Allocate", "pool exhausted")
	b := New(OutOfMemory, "memory.Allocator.Allocate", "different message")
	if !errors.Is(a, b) {
		t.Fatalf("expected errors.Is to match on Code")
	}
	c := New(NotFound, "x", "y")
	if errors.Is(a, c) {
		t.Fatalf("did not expect match across different codes")
	}
}
