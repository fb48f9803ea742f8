package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gezibash/tdcache/internal/config"
	"github.com/gezibash/tdcache/internal/observability"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	v := viper.New()
	var factsFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache with cleanup and metrics",
		Long: `Run a fact cache until interrupted.

Expired objects are swept every --cleanup-interval and their intervals
purged from the index. Prometheus metrics are served on /metrics and a
health check on /health.

Examples:
  tdcache serve
  tdcache serve --backend badger --data-dir /var/lib/tdcache
  tdcache serve --facts seed.jsonl --metrics-addr :9100
  tdcache serve --config /etc/tdcache/tdcache.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			obs, err := observability.New(ctx, obsConfig(cfg), cmd.ErrOrStderr())
			if err != nil {
				return fmt.Errorf("init observability: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := obs.Close(shutdownCtx); err != nil {
					slog.Error("shutdown failed", "error", err)
				}
			}()

			cache, err := openCache(ctx, cfg, obs.Metrics)
			if err != nil {
				return err
			}
			obs.Shutdown.Register("cache", func(context.Context) error { return cache.Close() })

			if factsFile != "" {
				records, err := readFactFile(factsFile)
				if err != nil {
					return err
				}
				if err := loadFacts(ctx, cache, records); err != nil {
					return err
				}
				slog.InfoContext(ctx, "facts loaded", "file", factsFile, "count", len(records))
			}

			cache.StartCleanup(ctx, cfg.Cache.CleanupInterval)

			if addr := cfg.Observability.MetricsAddr; addr != "" {
				obs.ServeMetrics(ctx, addr, func(ctx context.Context) error {
					_, err := cache.Stats(ctx)
					return err
				})
			}

			slog.InfoContext(ctx, "tdcache serving",
				"cache", cache.ID(),
				"backend", cfg.Storage.Backend,
				"cleanup_interval", cfg.Cache.CleanupInterval,
				"metrics_addr", cfg.Observability.MetricsAddr,
			)

			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}

	bindCacheFlags(cmd, v)
	config.BindServeFlags(cmd, v)
	cmd.Flags().StringVar(&factsFile, "facts", "", "JSON-lines fact file to load at startup")

	return cmd
}
