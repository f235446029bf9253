// Package encoding marshals the on-disk COW structures (header, root table,
// leaf) to and from their fixed little-endian byte layouts.
package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sharedcode/cowchain"
)

// MagicNumber identifies a sector-0 header as belonging to this format.
const MagicNumber uint32 = 0x434f5731 // "COW1"

// Version is the only on-disk format version this package understands.
const Version uint32 = 1

// ParentFileNameSize is the fixed width of the header's parentFileName field.
const ParentFileNameSize = 236

// HeaderSizeInBytes is the fixed on-disk size of a Header (272 bytes). It is
// not padded to a whole sector: a header occupies the start of sector 0, so
// callers must verify their sector size is >= this.
const HeaderSizeInBytes = 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + ParentFileNameSize

// Header is the decoded contents of sector 0 of a COW file.
type Header struct {
	Magic           uint32
	Version         uint32
	Flags           uint32
	NumSectors      uint32
	Granularity     uint32
	RootOffset      uint32
	NumRootEntries  uint32
	FreeSector      uint32
	SavedGeneration uint32
	ParentFileName  string
}

// Marshal encodes h into a HeaderSizeInBytes-length buffer.
func (h Header) Marshal() []byte {
	w := bytes.NewBuffer(make([]byte, 0, HeaderSizeInBytes))
	putU32(w, h.Magic)
	putU32(w, h.Version)
	putU32(w, h.Flags)
	putU32(w, h.NumSectors)
	putU32(w, h.Granularity)
	putU32(w, h.RootOffset)
	putU32(w, h.NumRootEntries)
	putU32(w, h.FreeSector)
	putU32(w, h.SavedGeneration)

	name := make([]byte, ParentFileNameSize)
	copy(name, h.ParentFileName)
	w.Write(name)
	return w.Bytes()
}

// UnmarshalHeader decodes a Header from data, validating magic and version.
func UnmarshalHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSizeInBytes {
		return h, sop.Error{Code: sop.MetadataCorruption, Err: fmt.Errorf("header too short: %d bytes", len(data))}
	}
	r := bytes.NewBuffer(data)
	h.Magic = getU32(r)
	h.Version = getU32(r)
	h.Flags = getU32(r)
	h.NumSectors = getU32(r)
	h.Granularity = getU32(r)
	h.RootOffset = getU32(r)
	h.NumRootEntries = getU32(r)
	h.FreeSector = getU32(r)
	h.SavedGeneration = getU32(r)
	name := r.Next(ParentFileNameSize)
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	h.ParentFileName = string(name)

	if h.Magic != MagicNumber {
		return h, sop.Error{Code: sop.MetadataCorruption, Err: fmt.Errorf("bad magic: %#x", h.Magic)}
	}
	if h.Version != Version {
		return h, sop.Error{Code: sop.NotSupported, Err: fmt.Errorf("unsupported version: %d", h.Version)}
	}
	return h, nil
}

func putU32(w *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func getU32(r *bytes.Buffer) uint32 {
	return binary.LittleEndian.Uint32(r.Next(4))
}
