// Package config loads tdcache configuration from defaults, files,
// environment variables and flags.
package config

import (
	"math"
	"os"
	"path/filepath"
	"time"
)

// EnvPrefix prefixes every environment override, e.g. TDCACHE_CACHE_LOCK_TIMEOUT.
const EnvPrefix = "TDCACHE"

// Common contains defaults shared by every command.
var Common = struct {
	LogLevel  string
	LogFormat string
	DataDir   string
}{
	LogLevel:  "info",
	LogFormat: "auto",
	DataDir:   DefaultDataDir(),
}

// IndexDefaults contains default values for the temporal index.
var IndexDefaults = struct {
	BranchingFactor  int
	MaxIdentifierLen int
	MaxValue         int64
	ReverseIndex     bool
}{
	BranchingFactor:  64,
	MaxIdentifierLen: 64,
	MaxValue:         math.MaxInt64 - 1,
	ReverseIndex:     false,
}

// CacheDefaults contains default values for the fact cache.
var CacheDefaults = struct {
	LockTimeout       time.Duration
	CleanupInterval   time.Duration
	EvictTimeout      time.Duration
	EvictQueue        int
	RebuildBelowFill  float64
	RebuildMinEntries int
	GCDiscardRatio    float64
	Backend           string
}{
	LockTimeout:       5 * time.Second,
	CleanupInterval:   time.Minute,
	EvictTimeout:      10 * time.Second,
	EvictQueue:        4096,
	RebuildBelowFill:  0.3,
	RebuildMinEntries: 1024,
	GCDiscardRatio:    0.5,
	Backend:           "memory",
}

// ServeDefaults contains default values for the serve command.
var ServeDefaults = struct {
	MetricsAddr    string
	OTLPProtocol   string
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}{
	MetricsAddr:    ":9090",
	OTLPProtocol:   "http",
	ServiceName:    "tdcache",
	ServiceVersion: "dev",
	SampleRatio:    1,
}

// DefaultDataDir returns the default data directory (~/.tdcache).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tdcache"
	}
	return filepath.Join(home, ".tdcache")
}
