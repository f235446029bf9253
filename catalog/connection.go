// Package catalog persists the volume directory (name, label, UUID, driver
// type, root directory object id) that volcache consults on rescan, backed
// by Cassandra via gocql.
package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
)

// Config configures the Cassandra cluster and keyspace holding the volume
// catalog table.
type Config struct {
	ClusterHosts      []string
	Keyspace          string
	Consistency       gocql.Consistency
	ConnectionTimeout time.Duration
	Authenticator     gocql.Authenticator
	ReplicationClause string
}

// Connection wraps a Cassandra session and the config used to open it.
type Connection struct {
	Session *gocql.Session
	Config
}

var (
	connection *Connection
	mux        sync.Mutex
)

// IsConnectionInstantiated reports whether a global Connection has been created.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// OpenConnection returns the existing global Connection or opens a new one,
// creating the keyspace and volumes table if they do not already exist.
func OpenConnection(config Config) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()
	if connection != nil {
		return connection, nil
	}

	if config.Keyspace == "" {
		config.Keyspace = "cowchain"
	}
	if config.Consistency == gocql.Any {
		config.Consistency = gocql.LocalQuorum
	}
	if config.ReplicationClause == "" {
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}

	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = config.Consistency
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		config.Authenticator = nil
	}

	s, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	if err := s.Query(fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", config.Keyspace, config.ReplicationClause,
	)).Exec(); err != nil {
		return nil, err
	}
	if err := s.Query(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s.volumes (volume_name text PRIMARY KEY, label text, uuid UUID, driver_type text, root_dir_oid text);",
		config.Keyspace,
	)).Exec(); err != nil {
		return nil, err
	}

	c := &Connection{Session: s, Config: config}
	connection = c
	return connection, nil
}

// CloseConnection closes and clears the global connection, if any.
func CloseConnection() {
	if connection == nil {
		return
	}
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return
	}
	connection.Session.Close()
	connection = nil
}
