package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gezibash/tdcache/internal/cli"
	"github.com/gezibash/tdcache/internal/factcache"
	"github.com/gezibash/tdcache/internal/factcache/physical"
	"github.com/gezibash/tdcache/internal/observability"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type benchParams struct {
	Facts     int
	IDs       int
	Lookups   int
	Evict     float64
	ValueSize int
	Horizon   int64
	Seed      uint64
	Labels    map[string]string
	Filter    string
}

type benchPhase struct {
	name    string
	ops     int
	elapsed time.Duration
	detail  string
}

func newBenchCmd(root *viper.Viper) *cobra.Command {
	v := viper.New()
	var (
		p      benchParams
		labels []string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a random workload against the cache",
		Long: `Insert random facts for random identifiers, look them up at random
times, take a snapshot at the middle of the horizon, evict a share of
the stored objects and rebuild the index.

Examples:
  tdcache bench
  tdcache bench --facts 100000 --ids 5000 --branching-factor 128
  tdcache bench --backend badger --value-size 1024 -o json
  tdcache bench --label kind=road --filter 'labels.kind == "road" && end > start'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setupCommand(cmd, v)
			if err != nil {
				return err
			}
			if p.IDs <= 0 || p.Facts <= 0 || p.Horizon <= 0 {
				return errors.New("--facts, --ids and --horizon must be positive")
			}
			if p.Evict < 0 || p.Evict > 1 {
				return fmt.Errorf("--evict %v not in [0, 1]", p.Evict)
			}
			if p.Labels, err = cli.ParseLabels(labels); err != nil {
				return err
			}
			if p.Horizon > cfg.Index.MaxValue/2 {
				return fmt.Errorf("--horizon %d exceeds half of index.max_value", p.Horizon)
			}

			cache, err := openCache(cmd.Context(), cfg, observability.NewMetrics())
			if err != nil {
				return err
			}
			defer cache.Close()

			phases, err := runBench(cmd.Context(), cache, p)
			if err != nil {
				return err
			}

			table := cli.NewOutputFromViper(root, cmd.OutOrStdout()).
				Table("bench", "Phase", "Ops", "Elapsed", "Rate", "Detail").
				AlignRight("Ops", "Elapsed", "Rate")
			for _, ph := range phases {
				table.AddRow(ph.name, cli.Count(ph.ops), ph.elapsed.Round(time.Microsecond).String(),
					cli.Rate(ph.ops, ph.elapsed), ph.detail)
			}
			return table.Render()
		},
	}

	bindCacheFlags(cmd, v)
	f := cmd.Flags()
	f.IntVar(&p.Facts, "facts", 10000, "facts to insert")
	f.IntVar(&p.IDs, "ids", 1000, "distinct identifiers")
	f.IntVar(&p.Lookups, "lookups", 10000, "point lookups to run")
	f.Float64Var(&p.Evict, "evict", 0.1, "share of stored objects to evict")
	f.IntVar(&p.ValueSize, "value-size", 64, "object payload size in bytes")
	f.Int64Var(&p.Horizon, "horizon", 1_000_000, "largest start time")
	f.Uint64Var(&p.Seed, "seed", 1, "random seed")
	f.StringArrayVar(&labels, "label", nil, "label attached to every object (key=value, repeatable)")
	f.StringVar(&p.Filter, "filter", "", "CEL filter for the snapshot phase")

	return cmd
}

func runBench(ctx context.Context, cache *factcache.Cache, p benchParams) ([]benchPhase, error) {
	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))

	ids := make([]string, p.IDs)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	payload := make([]byte, p.ValueSize)
	for i := range payload {
		payload[i] = byte('a' + rng.IntN(26))
	}

	var phases []benchPhase
	keys := make([]string, 0, p.Facts)

	start := time.Now()
	for range p.Facts {
		id := ids[rng.IntN(len(ids))]
		from := rng.Int64N(p.Horizon)
		to := from + rng.Int64N(p.Horizon/10+1)
		obj := &physical.Object{Data: payload, Labels: p.Labels}
		if err := cache.Put(ctx, id, from, to, obj); err != nil {
			return nil, fmt.Errorf("put %s: %w", id, err)
		}
		keys = append(keys, obj.Key)
	}
	phases = append(phases, benchPhase{
		name: "insert", ops: p.Facts, elapsed: time.Since(start),
		detail: cli.Bytes(int64(p.Facts*p.ValueSize)) + " written",
	})

	hits := 0
	start = time.Now()
	for range p.Lookups {
		_, err := cache.Lookup(ctx, ids[rng.IntN(len(ids))], rng.Int64N(p.Horizon))
		switch {
		case err == nil:
			hits++
		case !errors.Is(err, factcache.ErrNotFound):
			return nil, err
		}
	}
	detail := "no lookups"
	if p.Lookups > 0 {
		detail = cli.Percent(float64(hits)/float64(p.Lookups)) + " hits"
	}
	phases = append(phases, benchPhase{name: "lookup", ops: p.Lookups, elapsed: time.Since(start), detail: detail})

	start = time.Now()
	facts, err := cache.Snapshot(ctx, p.Horizon/2, p.Filter)
	if err != nil {
		return nil, err
	}
	phases = append(phases, benchPhase{
		name: "snapshot", ops: 1, elapsed: time.Since(start),
		detail: cli.Count(len(facts)) + " facts valid",
	})

	evictions := int(float64(len(keys)) * p.Evict)
	purged := 0
	start = time.Now()
	for _, i := range rng.Perm(len(keys))[:evictions] {
		n, err := cache.Evict(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		purged += n
	}
	phases = append(phases, benchPhase{
		name: "evict", ops: evictions, elapsed: time.Since(start),
		detail: cli.Count(purged) + " intervals purged",
	})

	before, err := cache.Stats(ctx)
	if err != nil {
		return nil, err
	}
	start = time.Now()
	if err := cache.Rebuild(ctx); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	after, err := cache.Stats(ctx)
	if err != nil {
		return nil, err
	}
	phases = append(phases, benchPhase{
		name: "rebuild", ops: 1, elapsed: elapsed,
		detail: fmt.Sprintf("fill %s -> %s, %d intervals", cli.Percent(before.Fill), cli.Percent(after.Fill), after.Intervals),
	})

	return phases, nil
}
