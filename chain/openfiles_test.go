package chain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sharedcode/cowchain/internal/directio"
	"github.com/sharedcode/cowchain/internal/encoding"
)

// formatDirectIOLevel writes a freshly-formatted header and empty root table
// directly through directio, bypassing the chain engine (mirrors
// formatCOWLevel's role for the in-memory tests).
func formatDirectIOLevel(t *testing.T, path string, sectorSize, granularity, numRootEntries uint32) {
	t.Helper()
	ctx := context.Background()
	f, err := directio.Open(ctx, path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("formatting level: %v", err)
	}
	defer f.Close()

	hdr := encoding.Header{
		Magic:          encoding.MagicNumber,
		Version:        encoding.Version,
		Granularity:    granularity,
		RootOffset:     1,
		NumRootEntries: numRootEntries,
		FreeSector:     2,
	}
	hdrBlock := directio.AlignedBlock(int(sectorSize))
	copy(hdrBlock, hdr.Marshal())
	if _, err := f.WriteAt(ctx, hdrBlock, 0); err != nil {
		t.Fatalf("writing header: %v", err)
	}

	rootSectors := encoding.RootTableSectorCount(numRootEntries, sectorSize)
	rootBlock := directio.AlignedBlock(int(rootSectors) * int(sectorSize))
	copy(rootBlock, encoding.MarshalRootTable(make([]uint32, numRootEntries)))
	if _, err := f.WriteAt(ctx, rootBlock, int64(sectorSize)); err != nil {
		t.Fatalf("writing root table: %v", err)
	}
}

func TestOpenDirectIO_WriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	sectorSize := uint32(directio.BlockSize)
	const granularity, leafFanout, numRootEntries = 1, 64, 4

	formatDirectIOLevel(t, filepath.Join(dir, "top"), sectorSize, granularity, numRootEntries)

	cfg := Config{
		SectorSize:                  sectorSize,
		Granularity:                 granularity,
		LeafFanout:                  leafFanout,
		NumRootEntries:              numRootEntries,
		CacheSize:                   8,
		TrustHeaderIfGenerationZero: true,
	}

	h, err := OpenDirectIO(ctx, dir, []string{"base", "top"}, cfg)
	if err != nil {
		t.Fatalf("OpenDirectIO: %v", err)
	}
	defer h.Close(ctx)

	if !h.levels[0].raw {
		t.Fatalf("freshly-created base should be treated as raw")
	}

	payload := directio.AlignedBlock(int(sectorSize))
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := h.Write(ctx, []SGEntry{{VSector: 0, Buf: payload}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	readBuf := make([]byte, sectorSize)
	if err := h.Read(ctx, []SGEntry{{VSector: 0, Buf: readBuf}}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range payload {
		if readBuf[i] != payload[i] {
			t.Fatalf("byte %d: got %d want %d", i, readBuf[i], payload[i])
		}
	}
}
