// Package cluster extends the chain engine's topology lock (taken by
// chain.Handle's Commit and Splice) to a distributed backing cache (via the
// sop.Cache/L2Cache contract) for deployments where the same volume is
// accessed concurrently by multiple hosts. It is optional: a nil-backed Locker degrades to a no-op so
// single-process callers pay nothing.
package cluster

import (
	"context"
	"time"

	"github.com/sharedcode/cowchain"
)

// Options configures a cluster-backed Locker.
type Options struct {
	// TTL bounds how long a lock is held before it is considered abandoned,
	// mirroring the teacher's lockFileRegionTimeout discipline.
	TTL time.Duration
}

// DefaultTTL matches the teacher's lockFileRegionTimeout for registry-region
// locks (fs/hashmap.go).
const DefaultTTL = 5 * time.Minute

// Locker acquires short-TTL distributed locks keyed by a caller-chosen
// string. chain.Handle takes one, keyed by Config.ClusterKey, after its own
// in-process lock and holds it for the length of Commit and Splice.
type Locker struct {
	cache sop.L2Cache
	opts  Options
}

// New returns a Locker backed by cache. A nil cache yields a Locker whose
// Acquire/Release are no-ops, for single-host deployments.
func New(cache sop.L2Cache, opts Options) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Locker{cache: cache, opts: opts}
}

// Handle represents one acquired (or, for a nil-backed Locker, vacuous)
// distributed lock; Release must be called exactly once.
type Handle struct {
	locker *Locker
	keys   []*sop.LockKey
}

// Acquire claims key without waiting: it returns a Busy error when another
// holder has the key.
func (l *Locker) Acquire(ctx context.Context, key string) (*Handle, error) {
	if l.cache == nil {
		return &Handle{locker: l}, nil
	}
	keys := l.cache.CreateLockKeys([]string{key})
	ok, _, err := l.cache.Lock(ctx, l.opts.TTL, keys)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sop.Error{Code: sop.Busy, UserData: key}
	}
	return &Handle{locker: l, keys: keys}, nil
}

// Release drops h's distributed lock, if any.
func (h *Handle) Release(ctx context.Context) error {
	if h.locker.cache == nil || len(h.keys) == 0 {
		return nil
	}
	return h.locker.cache.Unlock(ctx, h.keys)
}
