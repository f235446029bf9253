package chain

import (
	"context"

	"github.com/sharedcode/cowchain/fss"
	"github.com/sharedcode/cowchain/internal/cluster"
	"github.com/sharedcode/cowchain/internal/directio"

	"github.com/sharedcode/cowchain"
)

// OpenDirectIO opens a chain whose levels are the files named names[0]
// (base) through names[len(names)-1] (top) under dir, each routed through a
// shared fss.Table (C6) to an internal/directio-backed Implementation: this
// is the production assembly of the chain engine's "Open hierarchy" (spec
// §4.4), as opposed to the in-memory fakes the package's tests use. The base
// level opens Read (allowing concurrent readers of the same directio file
// from outside this chain); every redo level opens Write, since only the
// chain engine itself ever writes a redo log.
//
// If cfg.ClusterLocker is nil and a process-wide cache factory has been
// registered via sop.SetCacheFactory, dir is used as the cluster lock key so
// every host opening the same volume path shares this chain's topology lock
// through that cache instead of relying on in-process locking alone.
func OpenDirectIO(ctx context.Context, dir string, names []string, cfg Config) (*Handle, error) {
	directio.Register(dir)
	table := fss.NewTable()

	if cfg.ClusterLocker == nil {
		if c := sop.NewCacheClient(); c != nil {
			cfg.ClusterLocker = cluster.New(c, cluster.Options{})
			cfg.ClusterKey = dir
		}
	}

	levels := make([]LevelIO, len(names))
	for i, name := range names {
		var oid fss.ObjectID
		oid.TypeTag = directio.TypeTag
		copy(oid.Bytes[:], name) // truncated beyond 16 bytes; callers keep names short

		mode := fss.Write
		if i == 0 {
			mode = fss.Read
		}
		h, err := table.Open(ctx, oid, mode, fss.DefaultOpenOptions())
		if err != nil {
			return nil, err
		}
		levels[i] = fss.TableLevelIO{Table: table, H: h}
	}

	return Open(ctx, levels, cfg)
}
