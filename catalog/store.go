package catalog

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/sharedcode/cowchain"
	"github.com/sharedcode/cowchain/volcache"
)

// Store is the Cassandra-backed implementation of volcache.Store, plus the
// write-side operations volcache's rescan needs a source of truth for.
type Store struct{}

// NewStore returns a Store bound to the already-open global Connection.
func NewStore() *Store {
	return &Store{}
}

// LookupVolume satisfies volcache.Store by querying the volumes table for a
// single row by UUID.
func (s *Store) LookupVolume(ctx context.Context, id volcache.UUID) (volcache.Entry, bool, error) {
	if connection == nil {
		return volcache.Entry{}, false, sop.Error{Code: sop.NotSupported, Err: fmt.Errorf("catalog: connection is closed; call OpenConnection first")}
	}
	qry := connection.Session.Query(
		fmt.Sprintf("SELECT volume_name, label, uuid, driver_type, root_dir_oid FROM %s.volumes WHERE uuid = ? ALLOW FILTERING;", connection.Keyspace),
		gocql.UUID(id),
	).WithContext(ctx)

	var volumeName, label, driverType, rootDirOID string
	var gid gocql.UUID
	if err := qry.Scan(&volumeName, &label, &gid, &driverType, &rootDirOID); err != nil {
		if err == gocql.ErrNotFound {
			return volcache.Entry{}, false, nil
		}
		return volcache.Entry{}, false, sop.Error{Code: sop.ReadError, Err: err}
	}

	return volcache.Entry{
		VolumeName: volumeName,
		Label:      label,
		UUID:       volcache.UUID(gid),
		DriverType: driverType,
		RootDirOID: rootDirOID,
	}, true, nil
}

// List returns every registered volume, the source Cache.EndRescan feeds on
// a periodic rescan.
func (s *Store) List(ctx context.Context) ([]volcache.Entry, error) {
	if connection == nil {
		return nil, sop.Error{Code: sop.NotSupported, Err: fmt.Errorf("catalog: connection is closed; call OpenConnection first")}
	}
	iter := connection.Session.Query(
		fmt.Sprintf("SELECT volume_name, label, uuid, driver_type, root_dir_oid FROM %s.volumes;", connection.Keyspace),
	).WithContext(ctx).Iter()

	var entries []volcache.Entry
	var volumeName, label, driverType, rootDirOID string
	var gid gocql.UUID
	for iter.Scan(&volumeName, &label, &gid, &driverType, &rootDirOID) {
		entries = append(entries, volcache.Entry{
			VolumeName: volumeName,
			Label:      label,
			UUID:       volcache.UUID(gid),
			DriverType: driverType,
			RootDirOID: rootDirOID,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, sop.Error{Code: sop.ReadError, Err: err}
	}
	return entries, nil
}

// Register inserts or overwrites one volume's catalog row.
func (s *Store) Register(ctx context.Context, e volcache.Entry) error {
	if connection == nil {
		return sop.Error{Code: sop.NotSupported, Err: fmt.Errorf("catalog: connection is closed; call OpenConnection first")}
	}
	rootDirOID, _ := e.RootDirOID.(string)
	qry := connection.Session.Query(
		fmt.Sprintf("INSERT INTO %s.volumes (volume_name, label, uuid, driver_type, root_dir_oid) VALUES (?, ?, ?, ?, ?);", connection.Keyspace),
		e.VolumeName, e.Label, gocql.UUID(e.UUID), e.DriverType, rootDirOID,
	).WithContext(ctx)
	if err := qry.Exec(); err != nil {
		return sop.Error{Code: sop.WriteError, Err: err}
	}
	return nil
}

// Unregister removes a volume's catalog row by name.
func (s *Store) Unregister(ctx context.Context, volumeName string) error {
	if connection == nil {
		return sop.Error{Code: sop.NotSupported, Err: fmt.Errorf("catalog: connection is closed; call OpenConnection first")}
	}
	qry := connection.Session.Query(
		fmt.Sprintf("DELETE FROM %s.volumes WHERE volume_name = ?;", connection.Keyspace), volumeName,
	).WithContext(ctx)
	if err := qry.Exec(); err != nil {
		return sop.Error{Code: sop.WriteError, Err: err}
	}
	return nil
}
