// Package sop defines the core value types, error taxonomy, and shared helpers used across
// the copy-on-write redo-log chain engine: UUIDs, typed errors, retry/backoff, task fan-out,
// cache-factory registration, and logging bootstrap. Concrete subsystems live in sibling and
// internal packages: chain (the redo-log chain engine), fss (file-system switch), volcache
// (volume cache), and internal/leafcache, internal/translate, internal/metaqueue,
// internal/objcache, internal/encoding, internal/directio, internal/cluster,
// internal/resiliency, and catalog.
//
// This package is foundational: other packages build on its types rather than redefine them.
package sop

// Timeout model
//
// Operations are bounded by the caller-provided context; the chain engine adds no deadline of
// its own. Close, Commit and Splice do not wait for metadata queues to drain: they check once
// and return a Busy error while ops are in flight. Distributed topology locks
// (internal/cluster) carry a fixed TTL (cluster.Options.TTL), so they expire even if the
// holder never releases them. TimedOut checks a context together with an operation-specific
// maximum duration.
