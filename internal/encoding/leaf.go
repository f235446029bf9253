package encoding

import (
	"encoding/binary"
)

// LeafEntrySize is the on-disk size, in bytes, of one leaf offset entry.
const LeafEntrySize = 4

// LeafSectorCount returns the number of sectors one leaf of fanout entries
// occupies, rounding up to a whole sector.
func LeafSectorCount(fanout uint32, sectorSize uint32) uint32 {
	return ceilDiv(fanout*LeafEntrySize, sectorSize)
}

// MarshalLeaf encodes a leaf's offsets (each a physical sector offset within
// the owning COW file, 0 = grain not allocated here) padded to occupy a whole
// number of sectors.
func MarshalLeaf(offsets []uint32, sectorSize uint32) []byte {
	sectors := LeafSectorCount(uint32(len(offsets)), sectorSize)
	buf := make([]byte, sectors*sectorSize)
	for i, o := range offsets {
		binary.LittleEndian.PutUint32(buf[i*LeafEntrySize:], o)
	}
	return buf
}

// UnmarshalLeaf decodes fanout offsets from data.
func UnmarshalLeaf(data []byte, fanout uint32) []uint32 {
	offsets := make([]uint32, fanout)
	for i := range offsets {
		off := i * LeafEntrySize
		if off+4 > len(data) {
			break
		}
		offsets[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}
	return offsets
}
