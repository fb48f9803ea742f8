package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gezibash/tdcache/internal/config"
	"github.com/gezibash/tdcache/internal/factcache"
	"github.com/gezibash/tdcache/internal/factcache/physical"
	"github.com/gezibash/tdcache/internal/observability"
	"github.com/gezibash/tdcache/internal/tdtree"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Register object store backends.
	_ "github.com/gezibash/tdcache/internal/factcache/physical/badger"
	_ "github.com/gezibash/tdcache/internal/factcache/physical/memory"
	_ "github.com/gezibash/tdcache/internal/factcache/physical/redis"
	_ "github.com/gezibash/tdcache/internal/factcache/physical/sqlite"
)

func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(v, configFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if !physical.IsRegistered(cfg.Storage.Backend) {
		return config.Config{}, fmt.Errorf("load config: storage.backend: unknown object store %q (available: %s)",
			cfg.Storage.Backend, strings.Join(physical.ListBackends(), ", "))
	}
	return cfg, nil
}

func cacheOptions(cfg config.Config) factcache.Options {
	return factcache.Options{
		Index: tdtree.Options{
			BranchingFactor:  cfg.Index.BranchingFactor,
			MaxIdentifierLen: cfg.Index.MaxIdentifierLen,
			MaxValue:         cfg.Index.MaxValue,
			ReverseIndex:     cfg.Index.ReverseIndex,
		},
		LockTimeout:       cfg.Cache.LockTimeout,
		EvictTimeout:      cfg.Cache.EvictTimeout,
		EvictQueue:        cfg.Cache.EvictQueue,
		RebuildBelowFill:  cfg.Cache.RebuildBelowFill,
		RebuildMinEntries: cfg.Cache.RebuildMinEntries,
		GCDiscardRatio:    cfg.Cache.GCDiscardRatio,
	}
}

func obsConfig(cfg config.Config) observability.ObsConfig {
	return observability.ObsConfig{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SampleRatio:    cfg.Observability.SampleRatio,
	}
}

// storageConfig places file-backed stores under the data directory unless
// the configuration names a path.
func storageConfig(cfg config.Config) map[string]string {
	out := physical.MergeConfig(nil, cfg.Storage.Config)
	if out["path"] != "" || cfg.DataDir == "" {
		return out
	}
	switch cfg.Storage.Backend {
	case "badger":
		out["path"] = filepath.Join(cfg.DataDir, "objects")
	case "sqlite":
		out["path"] = filepath.Join(cfg.DataDir, "objects.db")
	}
	return out
}

func openCache(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*factcache.Cache, error) {
	backend, err := physical.New(ctx, cfg.Storage.Backend, storageConfig(cfg), metrics)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	cache, err := factcache.New(cacheOptions(cfg), backend, metrics)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return cache, nil
}

// bindCacheFlags registers the flags of every command that builds a cache.
func bindCacheFlags(cmd *cobra.Command, v *viper.Viper) {
	config.BindCommonFlags(cmd, v)
	config.BindIndexFlags(cmd, v)
}

// setupCommand loads configuration and routes logs to stderr, leaving
// stdout to command output.
func setupCommand(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return config.Config{}, err
	}
	observability.SetupLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, cmd.ErrOrStderr())
	return cfg, nil
}
