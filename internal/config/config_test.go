package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_RoundTripsJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"LeafCacheSize": 256,
		"HashModValue": 97,
		"Resiliency": true,
		"ClusterCache": {"TTL": 60000000000},
		"CatalogHosts": ["10.0.0.1", "10.0.0.2"]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.LeafCacheSize != 256 || c.HashModValue != 97 || !c.Resiliency {
		t.Fatalf("unexpected scalar fields: %+v", c)
	}
	if len(c.CatalogHosts) != 2 || c.CatalogHosts[0] != "10.0.0.1" {
		t.Fatalf("CatalogHosts = %v", c.CatalogHosts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatalf("expected an error loading a missing file")
	}
}
