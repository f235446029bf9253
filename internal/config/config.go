// Package config loads the small set of knobs that vary between
// deployments: leaf cache sizing, the translation hash modulus, whether
// resiliency and clustered locking are enabled, and catalog/Cassandra hosts.
package config

import (
	"encoding/json"
	"os"

	"github.com/sharedcode/cowchain/internal/cluster"
)

// Config holds the knobs Load reads from a JSON file. No package in this
// module takes a Config; its fields are plain values for chain.Config,
// leafcache.New, and the cluster/catalog constructors.
type Config struct {
	LeafCacheSize int
	HashModValue  int
	Resiliency    bool
	ClusterCache  cluster.Options
	CatalogHosts  []string
}

// Load reads filename as JSON into a Config.
func Load(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
