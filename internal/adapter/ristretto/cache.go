// Package ristretto provides the in-process snapshot cache. Pane captures
// are cheap but not free, and every tab polls them; a short TTL keeps the
// capture rate bounded without clients noticing stale output.
package ristretto

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// SnapshotCache caches rendered pane snapshots keyed by session and
// geometry. Geometries seen per session are tracked so teardown can drop
// every entry before the TTL runs out.
type SnapshotCache struct {
	c   *ristretto.Cache[string, string]
	ttl time.Duration

	mu   sync.Mutex
	keys map[string]map[string]struct{}
}

// New creates a snapshot cache holding up to maxEntries captures, each
// valid for ttl.
func New(maxEntries int64, ttl time.Duration) (*SnapshotCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxEntries * 10, // ~10x expected items
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &SnapshotCache{c: c, ttl: ttl, keys: make(map[string]map[string]struct{})}, nil
}

func snapshotKey(name string, rows, cols uint16) string {
	return fmt.Sprintf("%s/%dx%d", name, rows, cols)
}

// Get retrieves a cached snapshot.
func (s *SnapshotCache) Get(name string, rows, cols uint16) (string, bool) {
	return s.c.Get(snapshotKey(name, rows, cols))
}

// Set stores a snapshot. Every entry costs 1 regardless of size; the cache
// bounds entry count, not bytes.
func (s *SnapshotCache) Set(name string, rows, cols uint16, content string) {
	key := snapshotKey(name, rows, cols)
	s.mu.Lock()
	geoms, ok := s.keys[name]
	if !ok {
		geoms = make(map[string]struct{})
		s.keys[name] = geoms
	}
	geoms[key] = struct{}{}
	s.mu.Unlock()
	s.c.SetWithTTL(key, content, 1, s.ttl)
}

// Invalidate drops every cached snapshot of the named session. Called when
// the pane is killed or renamed so dead sessions stop serving their last
// capture until the TTL expires.
func (s *SnapshotCache) Invalidate(name string) {
	s.mu.Lock()
	geoms := s.keys[name]
	delete(s.keys, name)
	s.mu.Unlock()
	for key := range geoms {
		s.c.Del(key)
	}
}

// Wait blocks until buffered writes are applied. Tests need it; the
// polling path tolerates a missed set.
func (s *SnapshotCache) Wait() {
	s.c.Wait()
}

// Close shuts down the cache and releases resources.
func (s *SnapshotCache) Close() {
	s.c.Close()
}
