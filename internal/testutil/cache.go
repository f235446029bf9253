// Package testutil provides in-memory fakes for the collaborator surfaces
// other packages' tests need to stand in for: the sector-aligned file I/O
// layer, the distributed cache/locking layer, and the volume catalog store.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sharedcode/cowchain"
)

// FakeCache is an in-memory sop.Cache: struct values round-trip through a
// map of JSON bytes instead of Redis, and locking grants any key not
// already held.
type FakeCache struct {
	mu     sync.Mutex
	values map[string][]byte
	locks  map[string]sop.UUID
}

// NewFakeCache returns an empty FakeCache.
func NewFakeCache() *FakeCache {
	return &FakeCache{
		values: make(map[string][]byte),
		locks:  make(map[string]sop.UUID),
	}
}

func (c *FakeCache) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = buf
	return nil
}

func (c *FakeCache) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	c.mu.Lock()
	buf, ok := c.values[key]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(buf, target); err != nil {
		return false, err
	}
	return true, nil
}

func (c *FakeCache) GetStructEx(ctx context.Context, key string, target any, expiration time.Duration) (bool, error) {
	return c.GetStruct(ctx, key, target)
}

func (c *FakeCache) Delete(ctx context.Context, keys []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := false
	for _, k := range keys {
		if _, ok := c.values[k]; ok {
			found = true
			delete(c.values, k)
		}
	}
	return found, nil
}

func (c *FakeCache) CreateLockKeys(keys []string) []*sop.LockKey {
	lockKeys := make([]*sop.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &sop.LockKey{Key: keys[i], LockID: sop.NewUUID()}
	}
	return lockKeys
}

func (c *FakeCache) CreateLockKeysForIDs(keys []sop.Tuple[string, sop.UUID]) []*sop.LockKey {
	lockKeys := make([]*sop.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &sop.LockKey{Key: keys[i].First, LockID: keys[i].Second}
	}
	return lockKeys
}

func (c *FakeCache) FormatLockKey(k string) string { return k }

func (c *FakeCache) Lock(ctx context.Context, duration time.Duration, lockKeys []*sop.LockKey) (bool, sop.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, lk := range lockKeys {
		if owner, held := c.locks[lk.Key]; held && owner != lk.LockID {
			return false, lk.LockID, nil
		}
	}
	for _, lk := range lockKeys {
		c.locks[lk.Key] = lk.LockID
		lk.IsLockOwner = true
	}
	return true, sop.NilUUID, nil
}

func (c *FakeCache) DualLock(ctx context.Context, duration time.Duration, lockKeys []*sop.LockKey) (bool, sop.UUID, error) {
	return c.Lock(ctx, duration, lockKeys)
}

func (c *FakeCache) IsLocked(ctx context.Context, lockKeys []*sop.LockKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, lk := range lockKeys {
		if owner, held := c.locks[lk.Key]; !held || owner != lk.LockID {
			return false, nil
		}
	}
	return true, nil
}

func (c *FakeCache) Unlock(ctx context.Context, lockKeys []*sop.LockKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, lk := range lockKeys {
		if owner, held := c.locks[lk.Key]; held && owner == lk.LockID {
			delete(c.locks, lk.Key)
		}
	}
	return nil
}

func (c *FakeCache) Ping(ctx context.Context) error       { return nil }
func (c *FakeCache) IsRestarted(ctx context.Context) bool { return false }
