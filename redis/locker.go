package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/cowchain"
)

// FormatLockKey prefixes the key so it occupies a distinct namespace from value keys.
func (c client) FormatLockKey(k string) string {
	return fmt.Sprintf("L%s", k)
}

// CreateLockKeys builds a set of lock keys, each assigned a fresh lock ID owned by this call.
func (c client) CreateLockKeys(keys []string) []*sop.LockKey {
	lockKeys := make([]*sop.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &sop.LockKey{
			Key:    c.FormatLockKey(keys[i]),
			LockID: sop.NewUUID(),
		}
	}
	return lockKeys
}

// CreateLockKeysForIDs builds lock keys from (name, ID) pairs, using the given ID as the lock
// token instead of generating a new one, so the caller can recognize its own lock across retries.
func (c client) CreateLockKeysForIDs(keys []sop.Tuple[string, sop.UUID]) []*sop.LockKey {
	lockKeys := make([]*sop.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &sop.LockKey{
			Key:    c.FormatLockKey(keys[i].First),
			LockID: keys[i].Second,
		}
	}
	return lockKeys
}

// Lock attempts to claim every key in lockKeys, failing the whole batch if any key is already
// held by a different lock ID. Keys already owned by this lock ID are treated as re-entrant.
func (c client) Lock(ctx context.Context, duration time.Duration, lockKeys []*sop.LockKey) (bool, sop.UUID, error) {
	for _, lk := range lockKeys {
		found, readItem, err := c.Get(ctx, lk.Key)
		if err != nil {
			return false, lk.LockID, err
		}
		if !found {
			if err := c.Set(ctx, lk.Key, lk.LockID.String(), duration); err != nil {
				return false, lk.LockID, err
			}
			// A second read confirms we actually won the race to set the key.
			if _, readItem2, err := c.Get(ctx, lk.Key); err != nil {
				return false, lk.LockID, err
			} else if readItem2 != lk.LockID.String() {
				return false, lk.LockID, nil
			}
			lk.IsLockOwner = true
			continue
		}
		if readItem != lk.LockID.String() {
			return false, lk.LockID, nil
		}
		lk.IsLockOwner = true
	}
	return true, sop.NilUUID, nil
}

// DualLock behaves like Lock but is used where callers need to distinguish a fresh acquisition
// from re-confirming an already-owned lock; the underlying key-value semantics are identical.
func (c client) DualLock(ctx context.Context, duration time.Duration, lockKeys []*sop.LockKey) (bool, sop.UUID, error) {
	return c.Lock(ctx, duration, lockKeys)
}

// IsLocked reports whether every key in lockKeys is currently held by its recorded lock ID.
func (c client) IsLocked(ctx context.Context, lockKeys []*sop.LockKey) (bool, error) {
	for _, lk := range lockKeys {
		found, readItem, err := c.Get(ctx, lk.Key)
		if err != nil {
			return false, err
		}
		if !found || readItem != lk.LockID.String() {
			return false, nil
		}
	}
	return true, nil
}

// IsLockedByOthers reports whether every one of the named keys is currently held, by any lock ID;
// it returns false as soon as one key is free.
func (c client) IsLockedByOthers(ctx context.Context, lockKeyNames []string) (bool, error) {
	for _, lkn := range lockKeyNames {
		found, _, err := c.Get(ctx, c.FormatLockKey(lkn))
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// Unlock releases every key this call owns, leaving keys it doesn't own untouched.
func (c client) Unlock(ctx context.Context, lockKeys []*sop.LockKey) error {
	keys := make([]string, 0, len(lockKeys))
	for _, lk := range lockKeys {
		if lk.IsLockOwner {
			keys = append(keys, lk.Key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	_, err := c.Delete(ctx, keys)
	return err
}
