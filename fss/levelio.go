package fss

import "context"

// TableLevelIO adapts one open FileHandle, plus the Table that owns it, into
// a plain read/write/stat/control surface (spec §4.4's chain.LevelIO): the
// chain engine drives one level of a chain without knowing whether that
// level is backed by a raw file, a replicated pair, or a test fake — only
// that opening, reading, writing and closing it go through this Table's
// compatibility matrix and object cache (C5).
type TableLevelIO struct {
	Table *Table
	H     *FileHandle
}

// ReadAt satisfies translate.FileHandle.
func (t TableLevelIO) ReadAt(ctx context.Context, p []byte, offset int64) (int, error) {
	return t.Table.ReadAt(ctx, t.H, p, offset)
}

// WriteAt satisfies translate.FileHandle.
func (t TableLevelIO) WriteAt(ctx context.Context, p []byte, offset int64) (int, error) {
	return t.Table.WriteAt(ctx, t.H, p, offset)
}

// Stat routes to the underlying Implementation via the Table.
func (t TableLevelIO) Stat(ctx context.Context) (Attrs, error) {
	return t.Table.Stat(ctx, t.H)
}

// Truncate routes to the underlying Implementation via the Table.
func (t TableLevelIO) Truncate(ctx context.Context, length int64) error {
	return t.Table.Truncate(ctx, t.H, length)
}

// Reset routes to the underlying Implementation via the Table.
func (t TableLevelIO) Reset(ctx context.Context) error {
	return t.Table.Reset(ctx, t.H)
}

// Abort routes to the underlying Implementation via the Table.
func (t TableLevelIO) Abort(ctx context.Context) error {
	return t.Table.Abort(ctx, t.H)
}

// Close releases the file handle, dropping its reference on the object
// cache's descriptor (spec §4.5).
func (t TableLevelIO) Close(ctx context.Context) error {
	return t.Table.Close(ctx, t.H)
}
