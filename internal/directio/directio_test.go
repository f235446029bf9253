package directio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	fn := filepath.Join(t.TempDir(), "chain.dat")

	f, err := Open(ctx, fn, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	blk := AlignedBlock(BlockSize)
	for i := range blk {
		blk[i] = byte(i % 251)
	}
	if n, err := f.WriteAt(ctx, blk, 0); err != nil || n != len(blk) {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}

	got := AlignedBlock(BlockSize)
	if n, err := f.ReadAt(ctx, got, 0); err != nil || n != len(got) {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	for i := range got {
		if got[i] != blk[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], blk[i])
		}
	}
}

func TestStatReflectsWriteAndSetGeneration(t *testing.T) {
	ctx := context.Background()
	fn := filepath.Join(t.TempDir(), "chain.dat")

	f, err := Open(ctx, fn, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	blk := AlignedBlock(BlockSize)
	if _, err := f.WriteAt(ctx, blk, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.SetGeneration(7)

	attrs, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attrs.Length != int64(BlockSize) {
		t.Fatalf("Length = %d, want %d", attrs.Length, BlockSize)
	}
	if attrs.Generation != 7 {
		t.Fatalf("Generation = %d, want 7", attrs.Generation)
	}
}

func TestTruncateShrinksFile(t *testing.T) {
	ctx := context.Background()
	fn := filepath.Join(t.TempDir(), "chain.dat")

	f, err := Open(ctx, fn, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	blk := AlignedBlock(2 * BlockSize)
	if _, err := f.WriteAt(ctx, blk, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := f.Truncate(int64(BlockSize)); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	attrs, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if attrs.Length != int64(BlockSize) {
		t.Fatalf("Length after truncate = %d, want %d", attrs.Length, BlockSize)
	}
}

func TestSubmitAsync_DeliversResultViaCallback(t *testing.T) {
	ctx := context.Background()
	fn := filepath.Join(t.TempDir(), "chain.dat")

	f, err := Open(ctx, fn, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	blk := AlignedBlock(BlockSize)
	for i := range blk {
		blk[i] = 0xAB
	}

	done := make(chan error, 1)
	f.SubmitAsync(ctx, true, blk, 0, func(n int, err error) {
		if n != len(blk) {
			err = os.ErrClosed
		}
		done <- err
	})
	if err := <-done; err != nil {
		t.Fatalf("SubmitAsync write: %v", err)
	}

	got := AlignedBlock(BlockSize)
	if _, err := f.ReadAt(ctx, got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if got[0] != 0xAB {
		t.Fatalf("got[0] = %x, want 0xAB", got[0])
	}
}
