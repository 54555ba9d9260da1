package grammar

import "testing"

func TestLRUCache_GetPutRoundTrip(t *testing.T) {
	c := newLRUCache(3)
	c.put("a", result{text: "A", changed: true})

	got, ok := c.get("a")
	if !ok {
		t.Fatalf("expected hit for key a")
	}
	if got.text != "A" || !got.changed {
		t.Fatalf("unexpected value: %+v", got)
	}
}

func TestLRUCache_MissingKey(t *testing.T) {
	c := newLRUCache(3)
	if _, ok := c.get("missing"); ok {
		t.Fatalf("expected miss for unset key")
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", result{text: "A"})
	c.put("b", result{text: "B"})
	c.put("c", result{text: "C"}) // evicts "a", the least recently touched

	if _, ok := c.get("a"); ok {
		t.Fatalf("expected a to have been evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Fatalf("expected b to still be cached")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatalf("expected c to still be cached")
	}
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", result{text: "A"})
	c.put("b", result{text: "B"})
	c.get("a") // touch a, making b the least recently used
	c.put("c", result{text: "C"})

	if _, ok := c.get("b"); ok {
		t.Fatalf("expected b to have been evicted after a was refreshed")
	}
	if _, ok := c.get("a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
}

func TestLRUCache_PutOverwritesExisting(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", result{text: "A", changed: false})
	c.put("a", result{text: "A2", changed: true})

	got, ok := c.get("a")
	if !ok || got.text != "A2" || !got.changed {
		t.Fatalf("expected updated value, got %+v ok=%v", got, ok)
	}
}

func TestLRUCache_DefaultCapacity(t *testing.T) {
	c := newLRUCache(0)
	if c.capacity != cacheCapacity {
		t.Fatalf("expected default capacity %d, got %d", cacheCapacity, c.capacity)
	}
}
