package cache

import (
	"container/list"
	"sync"

	"transcript-pii-redactor/internal/logger"
)

// S3-FIFO eviction (Yang et al., 2023) in front of a backing Store.
//
// New keys enter the small probationary queue S. When S is over budget its
// oldest key is either promoted to the main queue M (it was read at least
// once) or dropped and remembered in a bounded ghost ring. A dropped key
// that is inserted again skips S and goes straight to M. M evicts in plain
// FIFO order. Every key dropped from memory is also deleted from the backing
// store so the on-disk size stays bounded.
//
// Keys already in a backing store that can list them are replayed through
// S when the cache is built, so entries left by earlier processes count
// against capacity and the excess is deleted before first use.
//
// writeMu orders every change to key membership together with the matching
// backing write or delete, so memory and backing never disagree about which
// keys exist. mu alone guards the queues and serves memory hits.
//
//	sTarget  = max(1, capacity/10)
//	mTarget  = capacity - sTarget
//	ghostCap = max(4, 2*sTarget)

const maxFreq = 3

type fifoEntry struct {
	value []byte
	freq  uint8
	elem  *list.Element
	main  bool
}

// ghostRing is a fixed-size FIFO set of recently dropped keys.
type ghostRing struct {
	buf   []string
	set   map[string]struct{}
	head  int
	count int
}

func newGhostRing(capacity int) *ghostRing {
	return &ghostRing{buf: make([]string, capacity), set: make(map[string]struct{}, capacity)}
}

func (g *ghostRing) contains(key string) bool {
	_, ok := g.set[key]
	return ok
}

func (g *ghostRing) add(key string) {
	if g.contains(key) {
		return
	}
	if g.count == len(g.buf) {
		delete(g.set, g.buf[g.head])
		g.head = (g.head + 1) % len(g.buf)
		g.count--
	}
	g.buf[(g.head+g.count)%len(g.buf)] = key
	g.set[key] = struct{}{}
	g.count++
}

// keyLister is implemented by backing stores that can enumerate their keys.
type keyLister interface {
	Keys() []string
}

type s3fifo struct {
	writeMu sync.Mutex
	mu      sync.Mutex

	capacity int
	sTarget  int

	entries map[string]*fifoEntry
	small   *list.List
	main    *list.List
	ghost   *ghostRing

	backing Store
}

// NewS3FIFO bounds backing to capacity keys. Capacities below 2 are raised
// to 2. Existing backing keys are loaded and trimmed to capacity.
func NewS3FIFO(backing Store, capacity int, log *logger.Logger) Store {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := max(1, capacity/10)
	ghostCap := max(4, 2*sTarget)
	c := &s3fifo{
		capacity: capacity,
		sTarget:  sTarget,
		entries:  make(map[string]*fifoEntry, capacity),
		small:    list.New(),
		main:     list.New(),
		ghost:    newGhostRing(ghostCap),
		backing:  backing,
	}
	resident, dropped := c.seed()
	if log != nil {
		log.Debugf("cache_init", "s3fifo capacity=%d sTarget=%d ghostCap=%d resident=%d dropped=%d",
			capacity, sTarget, ghostCap, resident, dropped)
	}
	return c
}

// seed replays the backing store's existing keys through S. Their previous
// access order is unknown, so all of them start cold.
func (c *s3fifo) seed() (resident, dropped int) {
	kl, ok := c.backing.(keyLister)
	if !ok {
		return 0, 0
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, k := range kl.Keys() {
		v, ok := c.backing.Get(k)
		if !ok {
			continue
		}
		resident++
		evicted := c.insert(k, v)
		dropped += len(evicted)
		c.drop(evicted)
	}
	// Keys dropped while seeding were never used by this process.
	c.mu.Lock()
	c.ghost = newGhostRing(len(c.ghost.buf))
	c.mu.Unlock()
	return resident - dropped, dropped
}

// Get serves resident keys from memory and bumps their frequency. Misses
// fall through to the backing store; hits there are re-warmed.
func (c *s3fifo) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.freq < maxFreq {
			e.freq++
		}
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	v, ok := c.backing.Get(key)
	if !ok {
		return nil, false
	}
	c.drop(c.insert(key, v))
	return v, true
}

// Set writes through to the backing store, then updates memory.
func (c *s3fifo) Set(key string, value []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.backing.Set(key, value)
	c.drop(c.insert(key, value))
}

func (c *s3fifo) Delete(key string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.queue(e).Remove(e.elem)
		delete(c.entries, key)
	}
	c.mu.Unlock()
	c.backing.Delete(key)
}

func (c *s3fifo) Close() error { return c.backing.Close() }

// drop deletes evicted keys from the backing store. Callers hold writeMu but
// not mu, so backing I/O never blocks memory hits.
func (c *s3fifo) drop(keys []string) {
	for _, k := range keys {
		c.backing.Delete(k)
	}
}

func (c *s3fifo) queue(e *fifoEntry) *list.List {
	if e.main {
		return c.main
	}
	return c.small
}

// insert adds or updates key in memory and returns the keys evicted to make
// room. An existing key keeps its queue position.
func (c *s3fifo) insert(key string, value []byte) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return nil
	}

	e := &fifoEntry{value: value, main: c.ghost.contains(key)}
	e.elem = c.queue(e).PushBack(key)
	c.entries[key] = e

	var evicted []string
	for c.small.Len()+c.main.Len() > c.capacity {
		if c.small.Len() > 0 {
			evicted = c.evictSmall(evicted)
		} else {
			evicted = c.evictMain(evicted)
		}
	}
	return evicted
}

func (c *s3fifo) evictSmall(evicted []string) []string {
	front := c.small.Front()
	key := c.small.Remove(front).(string)
	e := c.entries[key]

	if e.freq == 0 {
		delete(c.entries, key)
		c.ghost.add(key)
		return append(evicted, key)
	}

	e.freq = 0
	e.main = true
	e.elem = c.main.PushBack(key)
	if c.main.Len() > c.capacity-c.sTarget {
		evicted = c.evictMain(evicted)
	}
	return evicted
}

func (c *s3fifo) evictMain(evicted []string) []string {
	front := c.main.Front()
	if front == nil {
		return evicted
	}
	key := c.main.Remove(front).(string)
	delete(c.entries, key)
	return append(evicted, key)
}
