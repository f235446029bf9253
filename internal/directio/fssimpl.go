package directio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sharedcode/cowchain/fss"
)

// TypeTag is the fss.ObjectID type tag an Implementation registers under.
const TypeTag = "directio-file"

// Implementation adapts File to fss.Implementation: every object opened
// through the file-system switch under TypeTag is backed by an O_DIRECT file
// named by the object's identifier bytes, rooted at Dir. This is the
// production collaborator behind fss/chain (spec §6's fs.* surface); tests
// use an in-memory fss.Implementation instead.
type Implementation struct {
	Dir string
}

// Register binds an Implementation rooted at dir to TypeTag. Callers do this
// once at startup for whichever volume directory they are serving, mirroring
// the teacher's explicit sop.SetCacheFactory wiring rather than an
// init()-time self-registration no caller can parameterise.
func Register(dir string) {
	fss.Register(TypeTag, Implementation{Dir: dir})
}

func (im Implementation) path(oid fss.ObjectID) string {
	return filepath.Join(im.Dir, fmt.Sprintf("%x", oid.Bytes))
}

// Open implements fss.Implementation.
func (im Implementation) Open(ctx context.Context, oid fss.ObjectID, mode fss.OpenMode) (any, error) {
	flag := os.O_RDWR | os.O_CREATE
	if mode == fss.Read || mode == fss.SharedReadOnly {
		flag = os.O_RDONLY | os.O_CREATE
	}
	return Open(ctx, im.path(oid), flag, 0o600)
}

// Close implements fss.Implementation.
func (im Implementation) Close(ctx context.Context, handle any) error {
	return handle.(*File).Close()
}

// ReadAt implements fss.Implementation.
func (im Implementation) ReadAt(ctx context.Context, handle any, p []byte, offset int64) (int, error) {
	return handle.(*File).ReadAt(ctx, p, offset)
}

// WriteAt implements fss.Implementation.
func (im Implementation) WriteAt(ctx context.Context, handle any, p []byte, offset int64) (int, error) {
	return handle.(*File).WriteAt(ctx, p, offset)
}

// Stat implements fss.Implementation.
func (im Implementation) Stat(ctx context.Context, handle any) (fss.Attrs, error) {
	a, err := handle.(*File).Stat()
	if err != nil {
		return fss.Attrs{}, err
	}
	return fss.Attrs{Length: a.Length, Generation: a.Generation, SectorSize: a.SectorSize}, nil
}

// Truncate implements fss.Implementation.
func (im Implementation) Truncate(ctx context.Context, handle any, length int64) error {
	return handle.(*File).Truncate(length)
}

// Reset implements fss.Implementation. O_DIRECT writes bypass the page
// cache, so there is nothing buffered to discard.
func (im Implementation) Reset(ctx context.Context, handle any) error {
	return nil
}

// Abort implements fss.Implementation.
func (im Implementation) Abort(ctx context.Context, handle any) error {
	return nil
}
