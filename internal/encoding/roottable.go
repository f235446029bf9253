package encoding

import (
	"bytes"
	"encoding/binary"
)

// RootEntrySize is the on-disk size, in bytes, of one root table entry.
const RootEntrySize = 4

// MarshalRootTable encodes entries (each a sector offset, 0 = absent) as a
// contiguous little-endian u32 array.
func MarshalRootTable(entries []uint32) []byte {
	buf := make([]byte, len(entries)*RootEntrySize)
	for i, e := range entries {
		binary.LittleEndian.PutUint32(buf[i*RootEntrySize:], e)
	}
	return buf
}

// UnmarshalRootTable decodes a byte buffer into numEntries root entries.
func UnmarshalRootTable(data []byte, numEntries uint32) []uint32 {
	entries := make([]uint32, numEntries)
	r := bytes.NewReader(data)
	for i := range entries {
		var b [4]byte
		r.Read(b[:])
		entries[i] = binary.LittleEndian.Uint32(b[:])
	}
	return entries
}

// RootTableSectorCount returns the number of sectors a root table of
// numRootEntries entries occupies, rounding up to a whole sector.
func RootTableSectorCount(numRootEntries uint32, sectorSize uint32) uint32 {
	bytesNeeded := numRootEntries * RootEntrySize
	return ceilDiv(bytesNeeded, sectorSize)
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
