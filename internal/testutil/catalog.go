package testutil

import (
	"context"
	"sync"

	"github.com/sharedcode/cowchain/volcache"
)

// FakeCatalogStore is an in-memory volcache.Store, standing in for
// catalog.Store in tests that exercise volcache's cache-miss path without a
// Cassandra cluster.
type FakeCatalogStore struct {
	mu      sync.Mutex
	entries map[volcache.UUID]volcache.Entry
}

// NewFakeCatalogStore returns an empty FakeCatalogStore.
func NewFakeCatalogStore() *FakeCatalogStore {
	return &FakeCatalogStore{entries: make(map[volcache.UUID]volcache.Entry)}
}

// Put registers e for LookupVolume to find, simulating a prior catalog write.
func (s *FakeCatalogStore) Put(e volcache.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.UUID] = e
}

func (s *FakeCatalogStore) LookupVolume(ctx context.Context, uuid volcache.UUID) (volcache.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[uuid]
	return e, ok, nil
}
