package cache

import "testing"

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New[int, string]()
	if _, ok := c.Get(42); ok {
		t.Fatalf("expected miss on empty cache")
	}
}

func TestPutThenGetHits(t *testing.T) {
	c := New[int, []byte]()
	c.Put(42, []byte{0xAA, 0xAA}, 2)
	v, ok := c.Get(42)
	if !ok || len(v) != 2 {
		t.Fatalf("expected hit with value of length 2, got %v ok=%v", v, ok)
	}
}

func TestPromotionAfterThresholdAccesses(t *testing.T) {
	c := New[int, []byte]()
	c.SetPromotionThreshold(10)

	// Force the entry to start below L1 by inserting directly into L2.
	c.insertInto(L2, 42, &entry[[]byte]{value: []byte{0xAA}, size: 1})

	for i := 0; i < 10; i++ {
		if _, ok := c.Get(42); !ok {
			t.Fatalf("expected hit on access %d", i)
		}
	}

	info, ok := c.GetEntryInfo(42)
	if !ok {
		t.Fatalf("expected entry to be found after promotion")
	}
	if info.Tier != L1 {
		t.Fatalf("expected entry promoted to L1, got %v", info.Tier)
	}
	if info.AccessCount != 10 {
		t.Fatalf("expected access_count 10, got %d", info.AccessCount)
	}
}

func TestRemoveErasesFromEveryTier(t *testing.T) {
	c := New[int, []byte]()
	c.SetInclusive(true)
	c.Put(7, []byte{1}, 1)

	if _, ok := c.GetEntryInfo(7); !ok {
		t.Fatalf("expected entry present after inclusive put")
	}
	c.Remove(7)
	for _, tier := range []Tier{L1, L2, L3, Disk} {
		if c.GetEntryCount(tier) != 0 {
			t.Fatalf("expected tier %v empty after Remove, got %d entries", tier, c.GetEntryCount(tier))
		}
	}
}

func TestInclusivePutDuplicatesToLowerTiers(t *testing.T) {
	c := New[int, []byte]()
	c.SetInclusive(true)
	c.Put(1, []byte{9}, 1)

	for _, tier := range []Tier{L1, L2, L3, Disk} {
		if c.GetEntryCount(tier) != 1 {
			t.Fatalf("expected tier %v to hold a duplicate under inclusive policy, got %d entries", tier, c.GetEntryCount(tier))
		}
	}
}

func TestEvictionRespectsCapacity(t *testing.T) {
	configs := DefaultTierConfigs()
	l1 := configs[L1]
	l1.Capacity = 16
	configs[L1] = l1
	c := NewWithConfig[int, []byte](configs)

	for i := 0; i < 4; i++ {
		c.Put(i, make([]byte, 8), 8)
	}
	if c.GetSize(L1) > 16 {
		t.Fatalf("expected L1 bytes to stay within capacity, got %d", c.GetSize(L1))
	}
}
