package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gezibash/tdcache/internal/cli"
	"github.com/gezibash/tdcache/internal/factcache"
	"github.com/gezibash/tdcache/internal/observability"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCheckCmd(root *viper.Viper) *cobra.Command {
	v := viper.New()
	var noRebuild bool

	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Load a fact file and verify the index",
		Long: `Load a JSON-lines fact file into a fresh cache, verify the index
invariants, rebuild the index and verify again.

Each line holds one fact; later lines win where intervals overlap:
  {"id": "road/17", "start": 0, "end": 1499, "data": "open"}
  {"id": "road/17", "start": 1500, "data": "closed", "labels": {"kind": "road"}}

Examples:
  tdcache check facts.jsonl
  tdcache check facts.jsonl --branching-factor 16 -o json
  tdcache check facts.jsonl --backend sqlite --data-dir /tmp/tdcache`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setupCommand(cmd, v)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			records, err := readFactFile(args[0])
			if err != nil {
				return err
			}

			cache, err := openCache(ctx, cfg, observability.NewMetrics())
			if err != nil {
				return err
			}
			defer cache.Close()

			start := time.Now()
			if err := loadFacts(ctx, cache, records); err != nil {
				return err
			}
			elapsed := time.Since(start)

			out := cli.NewOutputFromViper(root, cmd.OutOrStdout())
			report := &checkReport{facts: len(records), elapsed: elapsed}
			if err := report.run(ctx, cache, !noRebuild); err != nil {
				return err
			}
			if out.Format() == cli.FormatText {
				report.printVerdicts(cmd.OutOrStdout())
			}
			if err := report.kv(out).Render(); err != nil {
				return err
			}
			if !report.ok() {
				return fmt.Errorf("index invariants violated")
			}
			return nil
		},
	}

	bindCacheFlags(cmd, v)
	cmd.Flags().BoolVar(&noRebuild, "no-rebuild", false, "skip the rebuild pass")

	return cmd
}

type checkReport struct {
	facts   int
	elapsed time.Duration

	loaded, rebuilt     *factcache.Stats
	loadErr, rebuildErr error
	rebuildRan          bool
	rebuildTook         time.Duration
}

func (r *checkReport) run(ctx context.Context, cache *factcache.Cache, rebuild bool) error {
	var err error
	r.loadErr = cache.Verify(ctx)
	if r.loaded, err = cache.Stats(ctx); err != nil {
		return err
	}
	if !rebuild {
		return nil
	}

	r.rebuildRan = true
	start := time.Now()
	if err := cache.Rebuild(ctx); err != nil {
		return err
	}
	r.rebuildTook = time.Since(start)
	r.rebuildErr = cache.Verify(ctx)
	if r.rebuilt, err = cache.Stats(ctx); err != nil {
		return err
	}
	return nil
}

func (r *checkReport) ok() bool {
	return r.loadErr == nil && r.rebuildErr == nil
}

func (r *checkReport) printVerdicts(w io.Writer) {
	fmt.Fprintln(w, titleStyle.Render("tdcache check"))
	fmt.Fprintln(w, verdict(r.loadErr == nil, "invariants after load", r.loadErr))
	if r.rebuildRan {
		fmt.Fprintln(w, verdict(r.rebuildErr == nil, "invariants after rebuild", r.rebuildErr))
	}
	fmt.Fprintln(w)
}

func (r *checkReport) kv(out *cli.Output) *cli.KV {
	kv := out.KV("check").
		Set("Facts", cli.Count(r.facts)).
		Set("Load Rate", cli.Rate(r.facts, r.elapsed)).
		Set("Intervals", cli.Count(r.loaded.Intervals)).
		Set("Height", r.loaded.Height).
		Set("Leaves", cli.Count(r.loaded.Leaves)).
		Set("Nodes", cli.Count(r.loaded.Nodes)).
		Set("Fill", cli.Percent(r.loaded.Fill)).
		Set("Valid", r.loadErr == nil)
	if r.rebuildRan {
		kv.Set("Rebuild Time", r.rebuildTook.Round(time.Microsecond).String()).
			Set("Rebuilt Height", r.rebuilt.Height).
			Set("Rebuilt Leaves", cli.Count(r.rebuilt.Leaves)).
			Set("Rebuilt Fill", cli.Percent(r.rebuilt.Fill)).
			Set("Rebuilt Valid", r.rebuildErr == nil)
	}
	if b := r.loaded.Backend; b != nil {
		kv.Set("Backend", b.BackendType).
			Set("Objects", cli.Count(int(b.Objects))).
			Set("Size", cli.Bytes(b.SizeBytes))
	}
	return kv
}
