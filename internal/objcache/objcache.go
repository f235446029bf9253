// Package objcache implements the object descriptor cache (spec §4.5, C5):
// reference-counted descriptors reserved by object identifier, populated by
// a caller-supplied miss handler under the descriptor's own lock so two
// callers racing to reserve the same object never run the handler twice.
package objcache

import (
	"context"
	"sync"
)

// State is a descriptor's lifecycle stage.
type State uint8

const (
	// Uninit marks a descriptor freshly reserved but not yet populated by a
	// miss handler; readers must wait for it to leave this state.
	Uninit State = iota
	Ready
	Failed
)

// Descriptor is a reference-counted cache entry for one object identifier.
// Payload is opaque to the cache; callers type-assert it to their own type.
type Descriptor struct {
	mu    sync.Mutex
	cond  *sync.Cond
	OID   any
	state State
	err   error
	refs  int

	Payload any
}

func newDescriptor(oid any) *Descriptor {
	d := &Descriptor{OID: oid, state: Uninit, refs: 1}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// State reports the descriptor's current lifecycle stage.
func (d *Descriptor) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// waitReady blocks until the descriptor leaves Uninit, returning its
// terminal error if the miss handler failed.
func (d *Descriptor) waitReady() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.state == Uninit {
		d.cond.Wait()
	}
	return d.err
}

// MissFunc populates a freshly reserved descriptor. It runs under the
// descriptor's own lock (spec §4.5: "the miss handler runs under the
// descriptor lock so concurrent reservers block rather than race"), so it
// must not itself call back into the Cache for the same object.
type MissFunc func(ctx context.Context, d *Descriptor) error

// Cache is the process-wide table of reference-counted object descriptors.
// Volume metadata is not held here: volcache keeps its own table.
type Cache struct {
	mu      sync.Mutex
	table   map[any]*Descriptor
	onEvict func(d *Descriptor)
}

// New returns an empty Cache. onEvict, if non-nil, is invoked synchronously
// (outside the cache's own lock) the moment a descriptor's refcount reaches
// zero, letting callers flush dirty state or unregister volumes.
func New(onEvict func(d *Descriptor)) *Cache {
	return &Cache{table: make(map[any]*Descriptor), onEvict: onEvict}
}

// Reserve returns the descriptor for oid, creating and running miss on it if
// this is the first reservation, or incrementing its refcount and waiting
// for any in-flight miss handler to finish otherwise.
func (c *Cache) Reserve(ctx context.Context, oid any, miss MissFunc) (*Descriptor, error) {
	c.mu.Lock()
	d, found := c.table[oid]
	if found {
		d.mu.Lock()
		d.refs++
		d.mu.Unlock()
	} else {
		d = newDescriptor(oid)
		c.table[oid] = d
	}
	c.mu.Unlock()

	if !found {
		d.mu.Lock()
		err := miss(ctx, d)
		if err != nil {
			d.state = Failed
			d.err = err
		} else {
			d.state = Ready
		}
		d.cond.Broadcast()
		d.mu.Unlock()
		if err != nil {
			c.Release(d)
			return nil, err
		}
		return d, nil
	}

	if err := d.waitReady(); err != nil {
		c.Release(d)
		return nil, err
	}
	return d, nil
}

// Lookup returns the descriptor for oid if already cached, optionally
// reserving (bumping its refcount) as a side effect. It never invokes a miss
// handler; callers that want population-on-miss should use Reserve.
func (c *Cache) Lookup(oid any, reserveIfFound bool) (*Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.table[oid]
	if !ok {
		return nil, false
	}
	if reserveIfFound {
		d.mu.Lock()
		d.refs++
		d.mu.Unlock()
	}
	return d, true
}

// Release drops one reference on d. At refcount zero the descriptor is
// removed from the table and onEvict (if set) runs.
func (c *Cache) Release(d *Descriptor) {
	d.mu.Lock()
	d.refs--
	last := d.refs == 0
	d.mu.Unlock()
	if !last {
		return
	}

	c.mu.Lock()
	if cur, ok := c.table[d.OID]; ok && cur == d {
		delete(c.table, d.OID)
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		c.onEvict(d)
	}
}

// Len reports the number of distinct objects currently reserved. Intended
// for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}
