package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full tdcache configuration.
type Config struct {
	DataDir       string              `mapstructure:"data_dir"`
	Index         IndexConfig         `mapstructure:"index"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Storage       BackendConfig       `mapstructure:"storage"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// IndexConfig fixes the shape of the temporal index.
type IndexConfig struct {
	BranchingFactor  int   `mapstructure:"branching_factor"`
	MaxIdentifierLen int   `mapstructure:"max_identifier_len"`
	MaxValue         int64 `mapstructure:"max_value"`
	ReverseIndex     bool  `mapstructure:"reverse_index"`
}

// CacheConfig holds locking, eviction and maintenance settings.
type CacheConfig struct {
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	EvictTimeout      time.Duration `mapstructure:"evict_timeout"`
	EvictQueue        int           `mapstructure:"evict_queue"`
	RebuildBelowFill  float64       `mapstructure:"rebuild_below_fill"`
	RebuildMinEntries int           `mapstructure:"rebuild_min_entries"`
	GCDiscardRatio    float64       `mapstructure:"gc_discard_ratio"`
}

// BackendConfig selects an object store and passes it a string map.
type BackendConfig struct {
	Backend string            `mapstructure:"backend"`
	Config  map[string]string `mapstructure:"config"`
}

// ObservabilityConfig holds logging, metrics and tracing settings.
type ObservabilityConfig struct {
	LogLevel       string  `mapstructure:"log_level"`
	LogFormat      string  `mapstructure:"log_format"`
	MetricsAddr    string  `mapstructure:"metrics_addr"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string  `mapstructure:"otlp_protocol"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	SetCommonDefaults(v)

	v.SetDefault("index.branching_factor", IndexDefaults.BranchingFactor)
	v.SetDefault("index.max_identifier_len", IndexDefaults.MaxIdentifierLen)
	v.SetDefault("index.max_value", IndexDefaults.MaxValue)
	v.SetDefault("index.reverse_index", IndexDefaults.ReverseIndex)

	v.SetDefault("cache.lock_timeout", CacheDefaults.LockTimeout)
	v.SetDefault("cache.cleanup_interval", CacheDefaults.CleanupInterval)
	v.SetDefault("cache.evict_timeout", CacheDefaults.EvictTimeout)
	v.SetDefault("cache.evict_queue", CacheDefaults.EvictQueue)
	v.SetDefault("cache.rebuild_below_fill", CacheDefaults.RebuildBelowFill)
	v.SetDefault("cache.rebuild_min_entries", CacheDefaults.RebuildMinEntries)
	v.SetDefault("cache.gc_discard_ratio", CacheDefaults.GCDiscardRatio)

	v.SetDefault("storage.backend", CacheDefaults.Backend)

	v.SetDefault("observability.metrics_addr", ServeDefaults.MetricsAddr)
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", ServeDefaults.OTLPProtocol)
	v.SetDefault("observability.service_name", ServeDefaults.ServiceName)
	v.SetDefault("observability.service_version", ServeDefaults.ServiceVersion)
	v.SetDefault("observability.sample_ratio", ServeDefaults.SampleRatio)
}

// BindIndexFlags binds flags that shape the index and choose the backend.
func BindIndexFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("config", "", "config file path")
	f.Int("branching-factor", 0, "maximum entries per index node")
	f.Bool("reverse-index", false, "keep a value to key index for eviction")
	f.String("backend", "", "object store backend (memory, badger, redis, sqlite)")

	_ = v.BindPFlag("index.branching_factor", f.Lookup("branching-factor"))
	_ = v.BindPFlag("index.reverse_index", f.Lookup("reverse-index"))
	_ = v.BindPFlag("storage.backend", f.Lookup("backend"))
}

// BindServeFlags binds the flags of the serve command.
func BindServeFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("metrics-addr", "", "metrics HTTP listen address")
	f.Duration("cleanup-interval", 0, "interval between expired object sweeps")
	f.String("otlp-endpoint", "", "OTLP trace collector endpoint")

	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("cache.cleanup_interval", f.Lookup("cleanup-interval"))
	_ = v.BindPFlag("observability.otlp_endpoint", f.Lookup("otlp-endpoint"))
}

// LoadConfig reads the full configuration. Without an explicit file it
// searches ., $HOME/.tdcache and /etc/tdcache for tdcache.{hcl,yaml,...}.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)
	if err := Load(v, EnvPrefix, configFile, "$HOME/.tdcache", "/etc/tdcache"); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	switch {
	case c.Index.BranchingFactor < 4:
		return fmt.Errorf("index.branching_factor: %d is below 4", c.Index.BranchingFactor)
	case c.Index.MaxIdentifierLen < 1:
		return fmt.Errorf("index.max_identifier_len: must be positive")
	case c.Index.MaxValue < 1:
		return fmt.Errorf("index.max_value: must be positive")
	case c.Cache.RebuildBelowFill < 0 || c.Cache.RebuildBelowFill > 1:
		return fmt.Errorf("cache.rebuild_below_fill: %v not in [0, 1]", c.Cache.RebuildBelowFill)
	case c.Cache.GCDiscardRatio < 0 || c.Cache.GCDiscardRatio >= 1:
		return fmt.Errorf("cache.gc_discard_ratio: %v not in [0, 1)", c.Cache.GCDiscardRatio)
	case c.Cache.LockTimeout < 0:
		return fmt.Errorf("cache.lock_timeout: must not be negative")
	case c.Storage.Backend == "":
		return fmt.Errorf("storage.backend: cannot be empty")
	case c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1:
		return fmt.Errorf("observability.sample_ratio: %v not in [0, 1]", c.Observability.SampleRatio)
	}
	return nil
}
