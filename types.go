package sop

import (
	"context"
	"io"
	"time"
)

// HandleSizeInBytes is the fixed on-disk/wire size of a marshaled Handle.
const HandleSizeInBytes = 16 + 16 + 16 + 1 + 4 + 8 + 1

// Handle is a lightweight, fixed-size record mapping a logical ID to one or two physical
// sector locations. Two physical IDs support copy-on-write: writers stage a new version at
// the inactive physical slot, and a successful commit flips IsActiveIDB to publish it.
type Handle struct {
	LogicalID               UUID
	PhysicalIDA             UUID
	PhysicalIDB             UUID
	IsActiveIDB             bool
	Version                 int32
	WorkInProgressTimestamp int64
	IsDeleted               bool
}

// NewHandle creates a Handle for a new logical ID with PhysicalIDA as its (only) active slot.
func NewHandle(logicalID UUID) Handle {
	return Handle{
		LogicalID:   logicalID,
		PhysicalIDA: NewUUID(),
	}
}

// IsEmpty reports whether this Handle has never been assigned a logical ID, i.e. the on-disk
// slot it occupies is unused.
func (h Handle) IsEmpty() bool {
	return h.LogicalID.IsNil()
}

// GetActiveID returns whichever physical ID is currently published as active.
func (h Handle) GetActiveID() UUID {
	if h.IsActiveIDB {
		return h.PhysicalIDB
	}
	return h.PhysicalIDA
}

// GetInActiveID returns the currently inactive physical ID, the slot a writer should stage
// its new version into.
func (h Handle) GetInActiveID() UUID {
	if h.IsActiveIDB {
		return h.PhysicalIDA
	}
	return h.PhysicalIDB
}

// Tuple is a generic pair of heterogeneous values.
type Tuple[T1, T2 any] struct {
	First  T1
	Second T2
}

// KeyValuePair is a generic key/value pair.
type KeyValuePair[K, V any] struct {
	Key   K
	Value V
}

// RegistryPayload groups a batch of IDs (or Handles) destined for a given registry/blob table
// pair, along with the cache duration that should be applied when caching them.
type RegistryPayload[T any] struct {
	RegistryTable string
	BlobTable     string
	CacheDuration time.Duration
	IsCacheTTL    bool
	IDs           []T
}

// BlobsPayload groups a batch of blob values destined for a given blob table.
type BlobsPayload[T any] struct {
	BlobTable string
	Blobs     []T
}

// LockKey identifies a distributed lock slot. LockID is the owner token returned by Lock;
// IsLockOwner records whether this process currently holds it.
type LockKey struct {
	Key         string
	LockID      UUID
	IsLockOwner bool
}

// Cache is the distributed (L2) cache and locking surface used across the file-system switch,
// object cache and volume catalog. Implementations (see the redis package) back this with a
// shared cache so multiple processes can coordinate.
type Cache interface {
	// Struct value caching.
	SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error
	GetStruct(ctx context.Context, key string, target any) (bool, error)
	GetStructEx(ctx context.Context, key string, target any, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, keys []string) (bool, error)

	// Distributed locking.
	CreateLockKeys(keys []string) []*LockKey
	CreateLockKeysForIDs(keys []Tuple[string, UUID]) []*LockKey
	FormatLockKey(k string) string
	Lock(ctx context.Context, duration time.Duration, lockKeys []*LockKey) (bool, UUID, error)
	DualLock(ctx context.Context, duration time.Duration, lockKeys []*LockKey) (bool, UUID, error)
	IsLocked(ctx context.Context, lockKeys []*LockKey) (bool, error)
	Unlock(ctx context.Context, lockKeys []*LockKey) error

	// Ping checks connectivity to the backing cache cluster.
	Ping(ctx context.Context) error
	// IsRestarted reports whether the backing cache process appears to have restarted, which
	// signals that any locks or ephemeral state it held are gone.
	IsRestarted(ctx context.Context) bool
}

// L2Cache is an alias for Cache; the two names are used interchangeably across the codebase
// depending on whether the call site is emphasizing the locking or the caching role.
type L2Cache = Cache

// CloseableCache is a Cache whose underlying connection can be explicitly released.
type CloseableCache interface {
	Cache
	io.Closer
}

// StoreCacheConfig controls how long a store's metadata and registry entries are cached, and
// whether those durations are sliding (TTL refreshed on each access) or fixed.
type StoreCacheConfig struct {
	StoreInfoCacheDuration time.Duration
	IsStoreInfoCacheTTL    bool
	RegistryCacheDuration  time.Duration
	IsRegistryCacheTTL     bool
	NodeCacheDuration      time.Duration
	IsNodeCacheTTL         bool
}

// NewStoreCacheConfig returns a StoreCacheConfig using duration for every cache class.
func NewStoreCacheConfig(duration time.Duration, isCacheTTL bool) *StoreCacheConfig {
	return &StoreCacheConfig{
		StoreInfoCacheDuration: duration,
		IsStoreInfoCacheTTL:    isCacheTTL,
		RegistryCacheDuration:  duration,
		IsRegistryCacheTTL:     isCacheTTL,
		NodeCacheDuration:      duration,
		IsNodeCacheTTL:         isCacheTTL,
	}
}

// StoreInfo is the persisted metadata record for a store (a registry/blob table pair backing
// one chain or object namespace): its name, cache policy, and running item count.
type StoreInfo struct {
	Name          string
	RegistryTable string
	BlobTable     string
	CacheConfig   StoreCacheConfig
	Count         int64
	CountDelta    int64
	Timestamp     int64
}

// NewStoreInfo returns a StoreInfo for a newly created store with the given cache policy.
func NewStoreInfo(name string, cacheConfig StoreCacheConfig) StoreInfo {
	return StoreInfo{
		Name:          name,
		RegistryTable: name + "_r",
		BlobTable:     name + "_b",
		CacheConfig:   cacheConfig,
	}
}

// FormatRegistryTable derives the registry table name backing blobTable's store.
func FormatRegistryTable(blobTable string) string {
	return blobTable + "_r"
}

// ExtractLogicalIDs projects a batch of RegistryPayload[Handle] down to their logical UUIDs,
// preserving the registry/blob table grouping.
func ExtractLogicalIDs(handles []RegistryPayload[Handle]) []RegistryPayload[UUID] {
	result := make([]RegistryPayload[UUID], len(handles))
	for i, h := range handles {
		ids := make([]UUID, len(h.IDs))
		for j, id := range h.IDs {
			ids[j] = id.LogicalID
		}
		result[i] = RegistryPayload[UUID]{
			RegistryTable: h.RegistryTable,
			BlobTable:     h.BlobTable,
			CacheDuration: h.CacheDuration,
			IsCacheTTL:    h.IsCacheTTL,
			IDs:           ids,
		}
	}
	return result
}

// Registry is the durable logical-ID-to-physical-location mapping: add new handles, update or
// remove existing ones, and replicate the change set to a passive copy.
type Registry interface {
	Add(ctx context.Context, storesHandles []RegistryPayload[Handle]) error
	Update(ctx context.Context, storesHandles []RegistryPayload[Handle]) error
	UpdateNoLocks(ctx context.Context, allOrNothing bool, storesHandles []RegistryPayload[Handle]) error
	Get(ctx context.Context, storesLids []RegistryPayload[UUID]) ([]RegistryPayload[Handle], error)
	Remove(ctx context.Context, storesLids []RegistryPayload[UUID]) error
	Replicate(ctx context.Context, newRootNodesHandles, addedNodesHandles, updatedNodesHandles, removedNodesHandles []RegistryPayload[Handle]) error
}

// ManageStore creates and removes the on-disk folder backing a store.
type ManageStore interface {
	CreateStore(ctx context.Context, path string) error
	RemoveStore(ctx context.Context, path string) error
}

// BlobStore persists and retrieves opaque blob payloads (node and value content) addressed by
// UUID, grouped by blob table.
type BlobStore interface {
	GetOne(ctx context.Context, blobFilePath string, blobID UUID) ([]byte, error)
	Add(ctx context.Context, storesblobs []BlobsPayload[KeyValuePair[UUID, []byte]]) error
	Update(ctx context.Context, storesblobs []BlobsPayload[KeyValuePair[UUID, []byte]]) error
	Remove(ctx context.Context, storesBlobsIDs []BlobsPayload[UUID]) error
}

// ErasureCodingConfig describes how a blob table's content is striped into data and parity
// shards across independent base folders (typically one per physical drive), for tolerance of
// a bounded number of drive failures without a full mirror.
type ErasureCodingConfig struct {
	DataShardsCount             int
	ParityShardsCount           int
	BaseFolderPathsAcrossDrives []string
	RepairCorruptedShards       bool
}

// TransactionPriorityLog records the registry changes a commit intends to make before it makes
// them, so a crashed commit can be detected and its intended changes replayed or rolled back.
type TransactionPriorityLog interface {
	IsEnabled() bool
	Add(ctx context.Context, tid UUID, payload []byte) error
	LogCommitChanges(ctx context.Context, stores []StoreInfo, newRootNodesHandles, addedNodesHandles, updatedNodesHandles, removedNodesHandles []RegistryPayload[Handle]) error
	Get(ctx context.Context, tid UUID) ([]RegistryPayload[Handle], error)
	GetBatch(ctx context.Context, batchSize int) ([]KeyValuePair[UUID, []RegistryPayload[Handle]], error)
	Remove(ctx context.Context, tid UUID) error
	WriteBackup(ctx context.Context, tid UUID, payload []byte) error
	RemoveBackup(ctx context.Context, tid UUID) error
}
