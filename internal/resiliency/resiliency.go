// Package resiliency adds optional erasure-coded redundancy for metadata
// sectors (header, root table, leaves). It never changes the single-extent
// on-disk layout of a chain file: instead, when enabled, the same metadata
// block is additionally encoded into data+parity shards and mirrored across
// a set of configured extents, so a single damaged or unavailable extent can
// be reconstructed from the others.
package resiliency

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sharedcode/cowchain"
	"github.com/sharedcode/cowchain/fs/erasure"
	"github.com/sharedcode/cowchain/internal/translate"
)

// Extent is one redundant copy target: typically a small auxiliary file or
// device region dedicated to holding one shard of every protected metadata
// block.
type Extent = translate.FileHandle

// Coder erasure-codes one fixed-size metadata block across a set of
// extents. DataShards+ParityShards must equal len(extents) for every call.
type Coder struct {
	dataShards   int
	parityShards int
	erasure      *erasure.Erasure
}

// New builds a Coder for dataShards data shards and parityShards parity
// shards, tolerating up to parityShards extent losses.
func New(dataShards, parityShards int) (*Coder, error) {
	e, err := erasure.NewErasure(dataShards, parityShards)
	if err != nil {
		return nil, sop.Error{Code: sop.InvalidArgument, Err: err}
	}
	return &Coder{dataShards: dataShards, parityShards: parityShards, erasure: e}, nil
}

// NumExtents is the number of extents a Coder requires (data + parity).
func (c *Coder) NumExtents() int {
	return c.dataShards + c.parityShards
}

// EncodeAndWrite splits data into shards, computes parity, and writes one
// shard per extent at offset. len(extents) must equal c.NumExtents().
func (c *Coder) EncodeAndWrite(ctx context.Context, extents []Extent, offset int64, data []byte) error {
	if len(extents) != c.NumExtents() {
		return sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("resiliency: need %d extents, got %d", c.NumExtents(), len(extents))}
	}
	shards, err := c.erasure.Encode(data)
	if err != nil {
		return sop.Error{Code: sop.WriteError, Err: err}
	}
	for i, shard := range shards {
		meta := c.erasure.ComputeShardMetadata(len(data), shards, i)
		buf := append(append([]byte(nil), meta...), shard...)
		if _, err := extents[i].WriteAt(ctx, buf, offset); err != nil {
			return sop.Error{Code: sop.WriteError, Err: err}
		}
	}
	return nil
}

// ReadAndRepair reads every extent's shard, reconstructs any that are
// missing or fail their checksum, and returns the decoded dataSize bytes
// plus the indices of extents that were repaired (callers may choose to
// rewrite those extents to heal them).
func (c *Coder) ReadAndRepair(ctx context.Context, extents []Extent, offset int64, shardSize, dataSize int) ([]byte, []int, error) {
	if len(extents) != c.NumExtents() {
		return nil, nil, sop.Error{Code: sop.InvalidArgument, Err: fmt.Errorf("resiliency: need %d extents, got %d", c.NumExtents(), len(extents))}
	}

	shards := make([][]byte, len(extents))
	metas := make([][]byte, len(extents))
	total := erasure.MetaDataSize + shardSize
	for i, ext := range extents {
		buf := make([]byte, total)
		if _, err := ext.ReadAt(ctx, buf, offset); err != nil {
			continue // leave shards[i] nil: treated as missing, reconstructed below
		}
		metas[i] = buf[:erasure.MetaDataSize]
		shards[i] = buf[erasure.MetaDataSize:]
	}
	for i := range shards {
		if metas[i] == nil {
			metas[i] = make([]byte, erasure.MetaDataSize)
		}
	}

	result := c.erasure.Decode(shards, metas)
	if result.Error != nil {
		return nil, nil, sop.Error{Code: sop.MetadataCorruption, Err: result.Error}
	}
	if len(result.DecodedData) < dataSize {
		return nil, nil, sop.Error{Code: sop.MetadataCorruption, Err: fmt.Errorf("resiliency: decoded %d bytes, want at least %d", len(result.DecodedData), dataSize)}
	}
	return bytes.Clone(result.DecodedData[:dataSize]), result.ReconstructedShardsIndeces, nil
}
