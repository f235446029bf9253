// Package volcache implements the volume cache (spec §4.7, C7): a small
// table of mounted-volume metadata, kept warm across calls and invalidated
// in bulk by a rescan that quiesces lookups while it runs.
package volcache

import (
	"context"
	"sync"

	"github.com/sharedcode/cowchain"
)

// UUID aliases the root package's identifier type so callers don't need two
// imports for the common case of keying a volume by its on-disk UUID.
type UUID = sop.UUID

// Entry is one mounted volume's cached metadata (spec §4.7).
type Entry struct {
	VolumeName string
	Label      string
	UUID       UUID
	DriverType string
	RootDirOID any
}

// Store is the backing catalog consulted on a cache miss or after a rescan
// invalidates an entry (catalog.Store satisfies this; kept as an interface
// here so volcache has no import-time dependency on the Cassandra driver).
type Store interface {
	LookupVolume(ctx context.Context, uuid UUID) (Entry, bool, error)
}

// Cache holds mounted-volume metadata keyed by UUID and volume name.
type Cache struct {
	mu        sync.Mutex
	cond      *sync.Cond
	byUUID    map[UUID]Entry
	byName    map[string]UUID
	rescaning bool
	store     Store
}

// New returns an empty Cache backed by store for cold-start and
// rescan-miss lookups.
func New(store Store) *Cache {
	c := &Cache{
		byUUID: make(map[UUID]Entry),
		byName: make(map[string]UUID),
		store:  store,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// BeginRescan blocks new lookups from observing a half-updated cache while a
// rescan is in progress; callers must pair it with EndRescan.
func (c *Cache) BeginRescan() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.rescaning {
		c.cond.Wait()
	}
	c.rescaning = true
}

// EndRescan installs entries as the new, complete set of mounted volumes and
// wakes any lookups blocked in BeginRescan or waitForRescan.
func (c *Cache) EndRescan(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUUID = make(map[UUID]Entry, len(entries))
	c.byName = make(map[string]UUID, len(entries))
	for _, e := range entries {
		c.byUUID[e.UUID] = e
		c.byName[e.VolumeName] = e.UUID
	}
	c.rescaning = false
	c.cond.Broadcast()
}

// waitForRescan blocks the caller while a rescan is in flight, so a lookup
// racing a rescan observes either the pre- or post-rescan state, never a mix.
func (c *Cache) waitForRescan() {
	for c.rescaning {
		c.cond.Wait()
	}
}

// ByUUID returns the cached entry for uuid, consulting the backing store on
// a miss (spec §4.7's cold-start/rescan-miss path).
func (c *Cache) ByUUID(ctx context.Context, uuid UUID) (Entry, error) {
	c.mu.Lock()
	c.waitForRescan()
	if e, ok := c.byUUID[uuid]; ok {
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	e, found, err := c.store.LookupVolume(ctx, uuid)
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, sop.Error{Code: sop.NotFound}
	}

	c.mu.Lock()
	c.waitForRescan()
	c.byUUID[uuid] = e
	c.byName[e.VolumeName] = e.UUID
	c.mu.Unlock()
	return e, nil
}

// ByName returns the cached entry for volumeName, or sop.NotFound if it is
// not currently mounted. Unlike ByUUID, a name miss is not resolved against
// the store, since names are not guaranteed unique across historical
// catalog entries the way UUIDs are.
func (c *Cache) ByName(volumeName string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitForRescan()
	uuid, ok := c.byName[volumeName]
	if !ok {
		return Entry{}, sop.Error{Code: sop.NotFound}
	}
	return c.byUUID[uuid], nil
}

// Len reports the number of currently mounted volumes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byUUID)
}
