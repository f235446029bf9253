// Package directio wraps github.com/ncw/directio to provide the
// sector-aligned, unbuffered file I/O primitive the chain engine's
// collaborator I/O layer is specified against (spec §6: fs.read, fs.asyncIo,
// fs.getAttrs, fs.setAttrs).
package directio

import (
	"context"
	"os"
	"time"

	"github.com/ncw/directio"
	retry "github.com/sethvargo/go-retry"

	"github.com/sharedcode/cowchain"
)

// BlockSize is the alignment required for direct I/O buffers and offsets.
const BlockSize = directio.BlockSize

// AlignedBlock returns a zeroed, alignment-satisfying buffer of size bytes.
func AlignedBlock(size int) []byte {
	return directio.AlignedBlock(size)
}

// Attrs mirrors the collaborator's fs.getAttrs/setAttrs surface.
type Attrs struct {
	Length     int64
	Generation uint32
	SectorSize int
}

// File is an opened COW-file handle offering synchronous and asynchronous
// sector-aligned I/O plus attribute queries, grounded on fs.DirectIO /
// fs.fileDirectIO.
type File struct {
	f          *os.File
	name       string
	errorCode  sop.ErrorCode
	generation uint32
}

// Open opens filename with flag/perm using O_DIRECT where supported, retrying
// transient errors the same way fs.directIO.Open does.
func Open(ctx context.Context, filename string, flag int, perm os.FileMode) (*File, error) {
	var f *os.File
	err := retryIO(ctx, func(context.Context) error {
		var e error
		f, e = directio.OpenFile(filename, flag, perm)
		return e
	})
	if err != nil {
		return nil, err
	}
	return &File{f: f, name: filename}, nil
}

// ReadAt synchronously reads an aligned block at offset, retrying transient
// errors per sop.ShouldRetry.
func (fl *File) ReadAt(ctx context.Context, block []byte, offset int64) (int, error) {
	var n int
	err := retryIO(ctx, func(context.Context) error {
		var e error
		n, e = fl.f.ReadAt(block, offset)
		return e
	})
	return n, err
}

// WriteAt synchronously writes an aligned block at offset, retrying transient
// errors per sop.ShouldRetry.
func (fl *File) WriteAt(ctx context.Context, block []byte, offset int64) (int, error) {
	var n int
	err := retryIO(ctx, func(context.Context) error {
		var e error
		n, e = fl.f.WriteAt(block, offset)
		return e
	})
	return n, err
}

// SubmitAsync issues a read or write on its own goroutine and invokes done
// with its result when complete. This stands in for the collaborator's
// interrupt-driven fs.asyncIo: Go has no native io_uring binding in the
// teacher's dependency set, so the async contract is realized with a
// goroutine plus callback instead of a completion queue.
func (fl *File) SubmitAsync(ctx context.Context, write bool, block []byte, offset int64, done func(n int, err error)) {
	go func() {
		var n int
		var err error
		if write {
			n, err = fl.WriteAt(ctx, block, offset)
		} else {
			n, err = fl.ReadAt(ctx, block, offset)
		}
		done(n, err)
	}()
}

// Stat returns the file's current length, sector size and last-set
// generation marker.
func (fl *File) Stat() (Attrs, error) {
	st, err := fl.f.Stat()
	if err != nil {
		return Attrs{}, sop.Error{Code: sop.ReadError, Err: err}
	}
	return Attrs{Length: st.Size(), Generation: fl.generation, SectorSize: BlockSize}, nil
}

// Truncate extends or shrinks the file to length bytes (the set-length half
// of fs.setAttrs, used by Growth in spec §4.2).
func (fl *File) Truncate(length int64) error {
	if err := fl.f.Truncate(length); err != nil {
		return sop.Error{Code: sop.WriteError, Err: err}
	}
	return nil
}

// SetGeneration records the generation marker to report via Stat (the other
// half of fs.setAttrs).
func (fl *File) SetGeneration(gen uint32) {
	fl.generation = gen
}

// Close releases the underlying OS file handle.
func (fl *File) Close() error {
	return fl.f.Close()
}

// Name returns the path this handle was opened with.
func (fl *File) Name() string {
	return fl.name
}

// retryIO retries transient errors and classifies permanent ones: an error
// that looks like device/media/filesystem failure is tagged
// FileIOErrorFailoverQualified so a caller wrapping this file in a
// replicated fss.Implementation can switch to its passive drive; anything
// else permanent is tagged plain FileIOError.
func retryIO(ctx context.Context, task func(ctx context.Context) error) error {
	b := retry.NewFibonacci(50 * time.Millisecond)
	err := retry.Do(ctx, retry.WithMaxRetries(5, b), func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			if sop.ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			code := sop.FileIOError
			if sop.IsFailoverQualifiedIOError(err) {
				code = sop.FileIOErrorFailoverQualified
			}
			return sop.Error{Code: code, Err: err}
		}
		return nil
	})
	return err
}
