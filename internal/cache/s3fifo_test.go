package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestS3FIFO(capacity int) *s3fifo {
	return NewS3FIFO(NewMemoryStore(), capacity, nil).(*s3fifo)
}

func TestS3FIFOContract(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(10)
	defer c.Close() //nolint:errcheck
	checkStoreContract(t, c)
}

func TestS3FIFOCapacityEnforced(t *testing.T) {
	t.Parallel()
	capacity := 10
	backing := NewMemoryStore().(*memoryStore)
	c := NewS3FIFO(backing, capacity, nil).(*s3fifo)

	for i := 0; i < capacity+5; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []byte("v"))
	}

	c.mu.Lock()
	total := c.small.Len() + c.main.Len()
	c.mu.Unlock()
	if total > capacity {
		t.Errorf("in-memory entries %d exceed capacity %d", total, capacity)
	}

	backing.mu.RLock()
	onDisk := len(backing.m)
	backing.mu.RUnlock()
	if onDisk > capacity {
		t.Errorf("backing entries %d exceed capacity %d", onDisk, capacity)
	}
}

// capacity=2: sTarget=1, mTarget=1. A key read before it reaches the head
// of S is promoted to M instead of being dropped.
func TestS3FIFOPromotionToMain(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(2)

	c.Set("hot", []byte("1"))
	c.Get("hot")
	c.Set("cold", []byte("2"))
	c.Set("extra", []byte("3"))

	c.mu.Lock()
	e, ok := c.entries["hot"]
	c.mu.Unlock()
	if !ok {
		t.Fatal("expected 'hot' to stay resident")
	}
	if !e.main {
		t.Error("expected 'hot' to be promoted to M")
	}
	if e.freq != 0 {
		t.Errorf("promotion must reset freq, got %d", e.freq)
	}
}

func TestS3FIFOGhostBypassesSmall(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(2)

	c.Set("victim", []byte("1"))
	c.Set("displacer", []byte("2"))
	c.Set("trigger", []byte("3"))

	c.mu.Lock()
	_, resident := c.entries["victim"]
	inGhost := c.ghost.contains("victim")
	c.mu.Unlock()
	if resident {
		t.Error("expected 'victim' to be dropped from memory")
	}
	if !inGhost {
		t.Error("expected 'victim' in ghost after S eviction")
	}
	if _, ok := c.backing.Get("victim"); ok {
		t.Error("expected 'victim' deleted from backing store")
	}

	c.Set("victim", []byte("4"))
	c.mu.Lock()
	e, ok := c.entries["victim"]
	c.mu.Unlock()
	if !ok || !e.main {
		t.Error("expected ghost hit to insert straight into M")
	}
}

func TestGhostRingBounded(t *testing.T) {
	t.Parallel()
	g := newGhostRing(4)
	for i := 0; i < 10; i++ {
		g.add(fmt.Sprintf("k%d", i))
	}
	if g.count != 4 || len(g.set) != 4 {
		t.Errorf("ghost should hold 4 keys, count=%d set=%d", g.count, len(g.set))
	}
	if g.contains("k5") || !g.contains("k6") || !g.contains("k9") {
		t.Error("ghost should keep only the newest keys")
	}
	g.add("k9")
	if g.count != 4 {
		t.Errorf("duplicate add changed count to %d", g.count)
	}
}

func TestS3FIFOColdReadRewarms(t *testing.T) {
	t.Parallel()
	backing := NewMemoryStore()
	backing.Set("cold", []byte("v"))
	c := NewS3FIFO(backing, 10, nil).(*s3fifo)

	v, ok := c.Get("cold")
	if !ok || string(v) != "v" {
		t.Fatalf("expected hit from backing, got ok=%v v=%q", ok, v)
	}
	c.mu.Lock()
	_, resident := c.entries["cold"]
	c.mu.Unlock()
	if !resident {
		t.Error("expected cold read to re-warm memory")
	}
}

func TestS3FIFOFrequencySaturation(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(10)
	c.Set("k", []byte("v"))
	for i := 0; i < 100; i++ {
		c.Get("k")
	}
	c.mu.Lock()
	freq := c.entries["k"].freq
	c.mu.Unlock()
	if freq != maxFreq {
		t.Errorf("expected freq=%d, got %d", maxFreq, freq)
	}
}

func TestS3FIFOConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := newTestS3FIFO(100)

	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i%50)
				c.Set(key, []byte("v"))
				c.Get(key)
				if i%10 == 0 {
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.small.Len() + c.main.Len()
	if total > c.capacity {
		t.Errorf("%d entries exceed capacity %d", total, c.capacity)
	}
	if len(c.entries) != total {
		t.Errorf("entries map (%d) out of sync with queues (%d)", len(c.entries), total)
	}
}

// Keys written by earlier processes count against capacity: repeated runs
// over one bbolt file never leave more than capacity entries on disk.
func TestS3FIFOBoundedAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart.db")
	capacity := 2

	for run := 0; run < 3; run++ {
		b, err := OpenBolt(path, quietLogger())
		if err != nil {
			t.Fatalf("run %d: open: %v", run, err)
		}
		c := NewS3FIFO(b, capacity, quietLogger())
		for i := 0; i < 5; i++ {
			c.Set(fmt.Sprintf("run%d-key%d", run, i), []byte("v"))
		}
		if err := c.Close(); err != nil {
			t.Fatalf("run %d: close: %v", run, err)
		}
	}

	b, err := OpenBolt(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close() //nolint:errcheck
	if keys := b.(keyLister).Keys(); len(keys) > capacity {
		t.Errorf("%d keys on disk after restarts, want at most %d: %v", len(keys), capacity, keys)
	}
}

func TestS3FIFOSeedsFromBacking(t *testing.T) {
	t.Parallel()
	backing := NewMemoryStore().(*memoryStore)
	for i := 0; i < 8; i++ {
		backing.Set(fmt.Sprintf("old-%d", i), []byte("v"))
	}

	c := NewS3FIFO(backing, 4, nil).(*s3fifo)

	c.mu.Lock()
	resident := len(c.entries)
	inGhost := c.ghost.count
	c.mu.Unlock()
	if resident != 4 {
		t.Errorf("resident after seeding: got %d, want 4", resident)
	}
	if inGhost != 0 {
		t.Errorf("seeding should not populate the ghost, got %d", inGhost)
	}
	if n := len(backing.Keys()); n != 4 {
		t.Errorf("backing after seeding: got %d keys, want 4", n)
	}
	for _, k := range backing.Keys() {
		if _, ok := c.entries[k]; !ok {
			t.Errorf("backing key %s is not tracked in memory", k)
		}
	}
}

// Memory and backing must agree on membership whatever the interleaving of
// writers, readers and evictions.
func TestS3FIFOBackingMatchesMemory(t *testing.T) {
	t.Parallel()
	backing := NewMemoryStore().(*memoryStore)
	c := NewS3FIFO(backing, 8, nil).(*s3fifo)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("key-%d", (g+i)%12)
				switch i % 5 {
				case 0:
					c.Delete(key)
				case 1, 2:
					c.Get(key)
				default:
					c.Set(key, []byte("v"))
				}
			}
		}(g)
	}
	wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	disk := backing.Keys()
	if len(disk) != len(c.entries) {
		t.Errorf("backing has %d keys, memory has %d", len(disk), len(c.entries))
	}
	for _, k := range disk {
		if _, ok := c.entries[k]; !ok {
			t.Errorf("key %s on disk but not resident", k)
		}
	}
}
