package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/gezibash/tdcache/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		DataDir: "/var/lib/tdcache",
		Index: config.IndexConfig{
			BranchingFactor:  16,
			MaxIdentifierLen: 32,
			MaxValue:         1 << 40,
			ReverseIndex:     true,
		},
		Cache: config.CacheConfig{
			LockTimeout:       2 * time.Second,
			EvictTimeout:      3 * time.Second,
			EvictQueue:        128,
			RebuildBelowFill:  0.25,
			RebuildMinEntries: 10,
			GCDiscardRatio:    0.6,
		},
		Storage: config.BackendConfig{Backend: "memory"},
		Observability: config.ObservabilityConfig{
			LogLevel:    "warn",
			LogFormat:   "json",
			ServiceName: "tdcache",
			SampleRatio: 0.5,
		},
	}
}

func TestCacheOptions(t *testing.T) {
	opts := cacheOptions(testConfig())
	if opts.Index.BranchingFactor != 16 || opts.Index.MaxIdentifierLen != 32 || !opts.Index.ReverseIndex {
		t.Errorf("index options = %+v", opts.Index)
	}
	if opts.LockTimeout != 2*time.Second || opts.EvictQueue != 128 || opts.RebuildBelowFill != 0.25 || opts.GCDiscardRatio != 0.6 {
		t.Errorf("cache options = %+v", opts)
	}
}

func TestObsConfig(t *testing.T) {
	obs := obsConfig(testConfig())
	if obs.LogLevel != "warn" || obs.ServiceName != "tdcache" || obs.SampleRatio != 0.5 {
		t.Errorf("obs config = %+v", obs)
	}
}

func TestStorageConfig(t *testing.T) {
	tests := []struct {
		backend string
		config  map[string]string
		want    string
	}{
		{"sqlite", nil, filepath.Join("/var/lib/tdcache", "objects.db")},
		{"badger", nil, filepath.Join("/var/lib/tdcache", "objects")},
		{"badger", map[string]string{"path": "/data/badger"}, "/data/badger"},
		{"memory", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := testConfig()
			cfg.Storage = config.BackendConfig{Backend: tt.backend, Config: tt.config}
			got := storageConfig(cfg)
			if got["path"] != tt.want {
				t.Errorf("path = %q, want %q", got["path"], tt.want)
			}
		})
	}
}

func TestStorageConfigDoesNotMutate(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.BackendConfig{Backend: "sqlite", Config: map[string]string{"busy_timeout": "100"}}
	_ = storageConfig(cfg)
	if _, ok := cfg.Storage.Config["path"]; ok {
		t.Error("storageConfig wrote into the configured map")
	}
}
