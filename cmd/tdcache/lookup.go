package main

import (
	"errors"
	"strconv"

	"github.com/gezibash/tdcache/internal/cli"
	"github.com/gezibash/tdcache/internal/factcache"
	"github.com/gezibash/tdcache/internal/observability"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newLookupCmd(root *viper.Viper) *cobra.Command {
	v := viper.New()
	var (
		history string
		at      int64
		filter  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "lookup <file> [id@time...]",
		Short: "Query a fact file at points in time",
		Long: `Load a JSON-lines fact file and answer queries against it.

Each id@time argument returns the fact valid for id at that time.
--history lists every interval of one identifier in time order.
--at lists all facts valid at one instant, optionally narrowed by a
CEL filter over id, start, end, key and labels.

Examples:
  tdcache lookup facts.jsonl road/17@1500 road/18@0
  tdcache lookup facts.jsonl --history road/17
  tdcache lookup facts.jsonl --at 1500 --filter 'labels.kind == "road"'`,
		Args: cobra.MinimumNArgs(1),
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
			if err := loadFacts(ctx, cache, records); err != nil {
				return err
			}

			out := cli.NewOutputFromViper(root, cmd.OutOrStdout())

			switch {
			case history != "":
				intervals, err := cache.History(ctx, history)
				if err != nil {
					return err
				}
				table := out.Table("history", "ID", "Start", "End", "Key").AlignRight("Start", "End")
				for i, iv := range intervals {
					if limit > 0 && i == limit {
						table.WithTruncated(len(intervals) - limit)
						break
					}
					table.AddRow(iv.ID, cli.Bound(iv.Start), cli.Bound(iv.End), iv.Value)
				}
				return table.Render()

			case cmd.Flags().Changed("at"):
				facts, err := cache.Snapshot(ctx, at, filter)
				if err != nil {
					return err
				}
				table := factTable(out, "snapshot")
				for i, f := range facts {
					if limit > 0 && i == limit {
						table.WithTruncated(len(facts) - limit)
						break
					}
					addFactRow(table, strconv.FormatInt(at, 10), f)
				}
				return table.Render()
			}

			if len(args) < 2 {
				return errors.New("nothing to look up: pass id@time arguments, --history or --at")
			}
			table := factTable(out, "lookup")
			for _, arg := range args[1:] {
				ref, err := factcache.ParseRef(arg)
				if err != nil {
					return err
				}
				fact, err := cache.LookupRef(ctx, ref)
				switch {
				case errors.Is(err, factcache.ErrNotFound):
					table.AddRow(ref.ID, strconv.FormatInt(ref.Version, 10), "-", "-", "-", "-", "")
				case err != nil:
					return err
				default:
					addFactRow(table, strconv.FormatInt(ref.Version, 10), fact)
				}
			}
			return table.Render()
		},
	}

	bindCacheFlags(cmd, v)
	cmd.Flags().StringVar(&history, "history", "", "list every interval of this identifier")
	cmd.Flags().Int64Var(&at, "at", 0, "list all facts valid at this time")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL filter for --at")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to print (0 for all)")

	return cmd
}

func factTable(out *cli.Output, resultType string) *cli.Table {
	return out.Table(resultType, "ID", "At", "Start", "End", "Key", "Labels", "Data").
		AlignRight("At", "Start", "End")
}

func addFactRow(t *cli.Table, at string, f *factcache.Fact) {
	t.AddRow(f.ID, at, cli.Bound(f.Start), cli.Bound(f.End), f.Value, cli.FormatLabels(f.Object.Labels), string(f.Object.Data))
}
