// Package cache persists detector output across documents and restarts.
//
// A Store is a byte-oriented key-value store. Two backends are provided:
//   - memoryStore: in-memory only, used in tests and when no path is configured.
//   - boltStore: embedded bbolt database, used for the CLI and server.
//
// NewS3FIFO bounds any Store with an S3-FIFO eviction layer, counting keys
// left by earlier processes in stores that can list them. SpanCache
// adapts a Store to pii.DetectionCache. Keys are content hashes, values are
// span offsets; no document text is ever written.
package cache

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"transcript-pii-redactor/internal/logger"
)

// Store is a concurrency-safe key-value store.
type Store interface {
	// Get returns the value stored under key, if present.
	Get(key string) ([]byte, bool)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte)

	// Delete removes key. Missing keys are ignored.
	Delete(key string)

	// Close releases file handles. The store must not be used afterwards.
	Close() error
}

// --- memoryStore ---------------------------------------------------------

type memoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{m: make(map[string][]byte)}
}

func (s *memoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

func (s *memoryStore) Set(key string, value []byte) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

func (s *memoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Keys implements keyLister.
func (s *memoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (s *memoryStore) Close() error { return nil }

// --- boltStore -----------------------------------------------------------

const detectionsBucket = "detections"

type boltStore struct {
	db  *bolt.DB
	log *logger.Logger
}

// OpenBolt opens (or creates) the bbolt database at path.
func OpenBolt(path string, log *logger.Logger) (Store, error) {
	if log == nil {
		log = logger.New("CACHE", "info")
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(detectionsBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}
	log.Infof("cache_open", "persistent detection cache at %s", path)
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Get(key string) ([]byte, bool) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(detectionsBucket))
		if b == nil {
			return nil
		}
		// Values returned by bbolt are only valid inside the transaction.
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		s.log.Errorf("cache_get", "bbolt get: %v", err)
		return nil, false
	}
	return out, out != nil
}

func (s *boltStore) Set(key string, value []byte) {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(detectionsBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", detectionsBucket)
		}
		return b.Put([]byte(key), value)
	}); err != nil {
		s.log.Errorf("cache_set", "bbolt set: %v", err)
	}
}

func (s *boltStore) Delete(key string) {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(detectionsBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	}); err != nil {
		s.log.Errorf("cache_delete", "bbolt delete: %v", err)
	}
}

// Keys implements keyLister, in bbolt's byte order.
func (s *boltStore) Keys() []string {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(detectionsBucket))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		s.log.Errorf("cache_keys", "bbolt scan: %v", err)
		return nil
	}
	return keys
}

func (s *boltStore) Close() error { return s.db.Close() }
