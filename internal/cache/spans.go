package cache

import (
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"

	"transcript-pii-redactor/internal/logger"
	"transcript-pii-redactor/internal/pii"
)

// keyVersion is bumped whenever the stored encoding or detector semantics
// change, so stale entries are simply never read again.
const keyVersion = "v2"

// SpanCache stores detector output keyed by a hash of the detector
// fingerprint, the language, the enabled entity set and the document text.
// It implements pii.DetectionCache.
//
// The fingerprint names the backend and every setting that changes what it
// reports. Entries written under one fingerprint are never replayed under
// another, so switching detectors over a persistent cache cannot resurface
// spans the new configuration would not produce.
type SpanCache struct {
	store       Store
	fingerprint string
	log         *logger.Logger
}

var _ pii.DetectionCache = (*SpanCache)(nil)

// NewSpanCache wraps store. Lookups only see entries stored under the same
// fingerprint.
func NewSpanCache(store Store, fingerprint string, log *logger.Logger) *SpanCache {
	if log == nil {
		log = logger.New("CACHE", "info")
	}
	return &SpanCache{store: store, fingerprint: fingerprint, log: log}
}

// Open builds the configured cache: bbolt at path, or memory when path is
// empty, bounded by S3-FIFO when capacity is positive.
func Open(path string, capacity int, fingerprint string, log *logger.Logger) (*SpanCache, error) {
	if log == nil {
		log = logger.New("CACHE", "info")
	}
	var store Store = NewMemoryStore()
	if path != "" {
		s, err := OpenBolt(path, log)
		if err != nil {
			return nil, err
		}
		store = s
	}
	if capacity > 0 {
		store = NewS3FIFO(store, capacity, log)
	}
	return NewSpanCache(store, fingerprint, log), nil
}

// Fingerprint joins the parts identifying a detector configuration.
func Fingerprint(parts ...string) string {
	return strings.Join(parts, "\x1f")
}

// Key returns the cache key for one detection request. The entity list is
// order-insensitive.
func Key(fingerprint, text, language string, entities []string) string {
	sorted := slices.Clone(entities)
	slices.Sort(sorted)

	d := xxhash.New()
	_, _ = d.WriteString(keyVersion + "\x00" + fingerprint + "\x00" + language)
	for _, e := range sorted {
		_, _ = d.WriteString("\x00" + e)
	}
	_, _ = d.WriteString("\x01")
	_, _ = d.WriteString(text)

	var sum [8]byte
	return hex.EncodeToString(d.Sum(sum[:0]))
}

// Lookup implements pii.DetectionCache.
func (c *SpanCache) Lookup(text, language string, entities []string) ([]pii.Span, bool) {
	raw, ok := c.store.Get(Key(c.fingerprint, text, language, entities))
	if !ok {
		return nil, false
	}
	var spans []pii.Span
	if err := json.Unmarshal(raw, &spans); err != nil {
		c.log.Warnf("cache_decode", "discarding corrupt entry: %v", err)
		return nil, false
	}
	return spans, true
}

// Store implements pii.DetectionCache.
func (c *SpanCache) Store(text, language string, entities []string, spans []pii.Span) {
	if spans == nil {
		spans = []pii.Span{}
	}
	raw, err := json.Marshal(spans)
	if err != nil {
		c.log.Errorf("cache_encode", "%v", err)
		return
	}
	c.store.Set(Key(c.fingerprint, text, language, entities), raw)
}

// Close closes the underlying store.
func (c *SpanCache) Close() error { return c.store.Close() }
