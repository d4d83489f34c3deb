// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func key(container string) Key {
	return Key{ContainerID: container}
}

func TestCache_BasicOperations(t *testing.T) {
	c := New(3, time.Minute)

	c.Put(key("a"), "page-a", 0)
	c.Put(key("b"), "page-b", 0)

	v, ok := c.Get(key("a"))
	if !ok {
		t.Fatal("expected to find key a")
	}
	if v.(string) != "page-a" {
		t.Errorf("expected page-a, got %v", v)
	}

	if _, ok := c.Get(key("missing")); ok {
		t.Error("expected miss for absent key")
	}

	if c.Len() != 2 {
		t.Errorf("expected len 2, got %d", c.Len())
	}
}

func TestCache_PutOverwrites(t *testing.T) {
	c := New(3, time.Minute)

	c.Put(key("a"), "v1", 0)
	c.Put(key("a"), "v2", 0)

	if c.Len() != 1 {
		t.Errorf("expected len 1, got %d", c.Len())
	}
	v, _ := c.Get(key("a"))
	if v.(string) != "v2" {
		t.Errorf("expected overwrite to v2, got %v", v)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(3, time.Minute)

	c.Put(key("a"), 1, 0)
	c.Put(key("b"), 2, 0)
	c.Put(key("c"), 3, 0)

	// Touch a so b becomes the LRU entry.
	c.Get(key("a"))

	c.Put(key("d"), 4, 0)

	if _, ok := c.Get(key("b")); ok {
		t.Error("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key(k)); !ok {
			t.Errorf("expected %s to be present", k)
		}
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10, time.Minute)

	c.Put(key("a"), 1, 30*time.Millisecond)

	if _, ok := c.Get(key("a")); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get(key("a")); ok {
		t.Error("expected miss after TTL expiry without explicit invalidation")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be purged on access, len %d", c.Len())
	}
}

func TestCache_CleanupExpired(t *testing.T) {
	c := New(10, time.Minute)

	c.Put(key("old"), 1, 20*time.Millisecond)
	c.Put(key("fresh"), 2, time.Minute)

	time.Sleep(40 * time.Millisecond)

	if removed := c.CleanupExpired(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, ok := c.Get(key("fresh")); !ok {
		t.Error("expected fresh entry to survive sweep")
	}
}

func TestCache_InvalidateAll(t *testing.T) {
	c := New(10, time.Minute)

	c.Put(key("a"), 1, 0)
	c.Put(key("b"), 2, 0)

	if n := c.InvalidateAll(); n != 2 {
		t.Errorf("expected 2 invalidated, got %d", n)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, len %d", c.Len())
	}

	// Cache stays usable after a full clear.
	c.Put(key("c"), 3, 0)
	if _, ok := c.Get(key("c")); !ok {
		t.Error("expected cache to accept entries after InvalidateAll")
	}
}

func TestCache_InvalidateContainer(t *testing.T) {
	c := New(10, time.Minute)

	c.Put(Key{ContainerID: "lib1", Cursor: ""}, 1, 0)
	c.Put(Key{ContainerID: "lib1", Cursor: "20"}, 2, 0)
	c.Put(Key{ContainerID: "lib2", Cursor: ""}, 3, 0)

	if n := c.InvalidateContainer("lib1"); n != 2 {
		t.Errorf("expected 2 pages invalidated, got %d", n)
	}
	if _, ok := c.Get(Key{ContainerID: "lib2"}); !ok {
		t.Error("expected lib2 page to survive targeted invalidation")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(50, time.Minute)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := key(fmt.Sprintf("c%d", i%60))
				c.Put(k, i, 0)
				c.Get(k)
				if i%50 == 0 {
					c.InvalidateContainer(fmt.Sprintf("c%d", g))
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 50 {
		t.Errorf("capacity bound violated, len %d", c.Len())
	}
}
