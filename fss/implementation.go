package fss

import (
	"context"
	"sync"

	"github.com/sharedcode/cowchain"
)

// ObjectID is an opaque identifier plus a type tag used to route operations
// to the file-system implementation registered for that type (spec §4.5,
// §4.6). TypeTag namespaces Bytes so different implementations can reuse the
// same raw identifier shape.
type ObjectID struct {
	TypeTag string
	Bytes   [16]byte
}

// Attrs mirrors the collaborator's fs.getAttrs result (spec §6).
type Attrs struct {
	Length     int64
	Generation uint32
	SectorSize int
}

// Implementation is the capability set a registered file system exposes
// (spec §9 "Dynamic dispatch": model polymorphism as a capability set rather
// than an interface hierarchy per object kind).
type Implementation interface {
	Open(ctx context.Context, oid ObjectID, mode OpenMode) (any, error)
	Close(ctx context.Context, handle any) error
	ReadAt(ctx context.Context, handle any, p []byte, offset int64) (int, error)
	WriteAt(ctx context.Context, handle any, p []byte, offset int64) (int, error)
	Stat(ctx context.Context, handle any) (Attrs, error)
	Truncate(ctx context.Context, handle any, length int64) error
	Reset(ctx context.Context, handle any) error
	Abort(ctx context.Context, handle any) error
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]Implementation)
)

// Register binds an Implementation to the given type tag, mirroring the
// teacher's sop.RegisterCacheFactory registrar pattern. Call at
// package-init time for every file-system type the process supports.
func Register(typeTag string, impl Implementation) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typeTag] = impl
}

// lookupImplementation returns the Implementation registered for typeTag.
func lookupImplementation(typeTag string) (Implementation, error) {
	registryMu.Lock()
	impl, ok := registry[typeTag]
	registryMu.Unlock()
	if !ok {
		return nil, sop.Error{Code: sop.NotFound, UserData: typeTag}
	}
	return impl, nil
}
