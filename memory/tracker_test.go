package memory

import (
	"testing"
	"time"
)

func TestAnalyzePatternRareWhenNoSamples(t *testing.T) {
	tr := NewAccessTracker()
	pattern, _ := tr.AnalyzePattern(0, 4096, time.Now())
	if pattern != PatternRare {
		t.Fatalf("expected Rare, got %v", pattern)
	}
}

func TestAnalyzePatternSequential(t *testing.T) {
	tr := NewAccessTracker()
	now := time.Now()
	base := VirtualAddress(0)
	for i := 0; i < 20; i++ {
		tr.RecordAccess(base+VirtualAddress(i*64), now.Add(-time.Hour))
	}
	pattern, _ := tr.AnalyzePattern(base, 64*20, now)
	if pattern != PatternSequential {
		t.Fatalf("expected Sequential, got %v", pattern)
	}
}

func TestAnalyzePatternClustered(t *testing.T) {
	tr := NewAccessTracker()
	now := time.Now()
	base := VirtualAddress(0)
	// Scattered addresses (not adjacent), all touched "recently".
	offsets := []int{0, 640, 1280, 1920, 2560}
	for _, off := range offsets {
		tr.RecordAccess(base+VirtualAddress(off), now)
	}
	pattern, _ := tr.AnalyzePattern(base, 4096, now)
	if pattern != PatternClustered {
		t.Fatalf("expected Clustered, got %v", pattern)
	}
}

func TestAnalyzePatternStrided(t *testing.T) {
	tr := NewAccessTracker()
	old := time.Now().Add(-time.Hour)
	base := VirtualAddress(0)
	// Scattered but old (not clustered) with a dominant stride of 256.
	offsets := []int{0, 256, 512, 768, 1024, 1280}
	for _, off := range offsets {
		tr.RecordAccess(base+VirtualAddress(off), old)
	}
	pattern, stride := tr.AnalyzePattern(base, 4096, time.Now())
	if pattern != PatternStrided {
		t.Fatalf("expected Strided, got %v", pattern)
	}
	if stride != 256 {
		t.Fatalf("expected stride 256, got %d", stride)
	}
}
