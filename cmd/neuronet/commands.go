package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/neuronet/pkg/config"
	"github.com/orneryd/neuronet/pkg/engine"
	"github.com/orneryd/neuronet/pkg/watch"
)

// DefaultSubgraphLimit caps the nodes printed by subgraph.
const DefaultSubgraphLimit = 500

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "NeuroNet v%s (%s)\n", version, commit)
		},
	}
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default " + config.DefaultFileName,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}

			path := filepath.Join(dir, config.DefaultFileName)
			if fileExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			data, err := config.Default().YAML()
			if err != nil {
				return fmt.Errorf("rendering config: %w", err)
			}
			header := "# NeuroNet configuration\n# Every key can be overridden with a NEURONET_* environment variable.\n\n"
			if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Config written to %s\n", path)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Next steps:")
			fmt.Fprintln(out, "  1. Inspect a dataset:  neuronet stats web-Google.txt.gz")
			fmt.Fprintln(out, "  2. Explore from a hub: neuronet bfs web-Google.txt.gz --start 0 --depth 2")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <file>",
		Short: "Load a dataset and print its size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, stats, err := a.openEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(eng.Stats())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dataset:     %s\n", stats.Path)
			fmt.Fprintf(out, "Nodes:       %s\n", humanize.Comma(int64(stats.Nodes)))
			fmt.Fprintf(out, "Edges:       %s\n", humanize.Comma(stats.Edges))
			fmt.Fprintf(out, "Self-loops:  %s\n", humanize.Comma(stats.SelfLoops))
			fmt.Fprintf(out, "Duplicates:  %s dropped\n", humanize.Comma(stats.DuplicatesDropped))
			fmt.Fprintf(out, "Lines:       %s (%s skipped, %s comments)\n",
				humanize.Comma(stats.Lines), humanize.Comma(stats.Skipped), humanize.Comma(stats.Comments))
			fmt.Fprintf(out, "Read:        %s\n", humanize.Bytes(uint64(stats.Bytes)))
			fmt.Fprintf(out, "Memory:      %s\n", humanize.Bytes(uint64(eng.Stats().MemoryBytes)))
			source := "parsed"
			if stats.FromSnapshot {
				source = "snapshot"
			}
			fmt.Fprintf(out, "Loaded in:   %v (%s)\n", stats.Duration.Round(time.Millisecond), source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print engine stats as JSON")
	return cmd
}

func newDegreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "degree <file> <node>",
		Short: "Print the degree of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNode(args[1])
			if err != nil {
				return err
			}
			eng, _, err := a.openEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			deg, err := eng.Degree(id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", deg)
			return nil
		},
	}
}

func newNeighborsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "neighbors <file> <node>",
		Short: "Print the neighbors of a node, one per line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNode(args[1])
			if err != nil {
				return err
			}
			eng, _, err := a.openEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			nbrs, err := eng.Neighbors(id)
			if err != nil {
				return err
			}
			writeNodes(cmd.OutOrStdout(), nbrs)
			return nil
		},
	}
}

func newMaxDegreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "max-degree <file>",
		Short: "Print the node with the greatest degree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := a.openEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			hub, err := eng.MaxDegreeNode()
			if err != nil {
				return err
			}
			deg, err := eng.Degree(hub)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "node %d (degree %s)\n", hub, humanize.Comma(int64(deg)))
			return nil
		},
	}
}

func newBFSCmd(a *app) *cobra.Command {
	var (
		start  string
		depth  int
		levels bool
	)
	cmd := &cobra.Command{
		Use:   "bfs <file>",
		Short: "Print the nodes reachable within --depth hops",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNode(start)
			if err != nil {
				return err
			}
			eng, _, err := a.openEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			out := cmd.OutOrStdout()
			began := time.Now()
			if levels {
				lv, err := eng.Levels(cmd.Context(), id, depth)
				if err != nil {
					return err
				}
				for d, nodes := range lv {
					fmt.Fprintf(out, "%d: %s\n", d, joinNodes(nodes))
				}
				return nil
			}

			nodes, err := eng.BFS(cmd.Context(), id, depth)
			if err != nil {
				return err
			}
			a.logger.Info("bfs finished",
				zap.Uint64("start", uint64(id)),
				zap.Int("depth", depth),
				zap.Int("found", len(nodes)),
				zap.Duration("took", time.Since(began)),
			)
			writeNodes(out, nodes)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "0", "Start node id")
	cmd.Flags().IntVar(&depth, "depth", 2, "Maximum number of hops")
	cmd.Flags().BoolVar(&levels, "levels", false, "Group nodes by distance")
	return cmd
}

func newAtHopCmd(a *app) *cobra.Command {
	var (
		start string
		hops  int
	)
	cmd := &cobra.Command{
		Use:   "at-hop <file>",
		Short: "Print the nodes exactly --hops hops from --start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNode(start)
			if err != nil {
				return err
			}
			eng, _, err := a.openEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			nodes, err := eng.AtHop(cmd.Context(), id, hops)
			if err != nil {
				return err
			}
			writeNodes(cmd.OutOrStdout(), nodes)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "0", "Start node id")
	cmd.Flags().IntVar(&hops, "hops", 1, "Exact distance from the start node")
	return cmd
}

func newSubgraphCmd(a *app) *cobra.Command {
	var (
		start string
		depth int
		limit int
	)
	cmd := &cobra.Command{
		Use:   "subgraph <file>",
		Short: "Print the edges among the nodes reached by BFS",
		Long: `Runs a bounded BFS and prints the edges between the visited nodes as an
edge list, ready to be loaded by a plotting tool. Only the first --limit
visited nodes are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseNode(start)
			if err != nil {
				return err
			}
			if limit <= 0 {
				return fmt.Errorf("%w: --limit must be positive", engine.ErrInvalidArgument)
			}
			eng, _, err := a.openEngine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			nodes, err := eng.BFS(cmd.Context(), id, depth)
			if err != nil {
				return err
			}
			if len(nodes) > limit {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  Subgraph too large (%s nodes). Keeping the first %d.\n",
					humanize.Comma(int64(len(nodes))), limit)
				nodes = nodes[:limit]
			}

			edges, err := eng.InducedEdges(nodes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %d nodes, %d edges around %d\n", len(nodes), len(edges), id)
			for _, e := range edges {
				fmt.Fprintf(out, "%d %d\n", e.U, e.V)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "0", "Start node id")
	cmd.Flags().IntVar(&depth, "depth", 2, "Maximum number of hops")
	cmd.Flags().IntVar(&limit, "limit", DefaultSubgraphLimit, "Maximum number of nodes to keep")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Reload a dataset whenever it changes, until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, stats, err := a.openEngine(ctx, args[0])
			if err != nil {
				return err
			}
			defer eng.Close()

			out := cmd.OutOrStdout()
			printLoad(out, stats)

			w, err := watch.New(args[0], func(ctx context.Context, path string) {
				stats, err := eng.LoadDataset(ctx, path)
				if err != nil {
					// the previous graph stays loaded
					fmt.Fprintf(cmd.ErrOrStderr(), "⚠️  Reload failed: %s\n", describe(err))
					return
				}
				printLoad(out, stats)
			}, watch.Options{Debounce: debounce, Logger: a.logger})
			if err != nil {
				return err
			}
			defer w.Stop()
			if err := w.Start(ctx); err != nil {
				return err
			}

			fmt.Fprintln(out, "Watching for changes. Press Ctrl+C to stop")
			<-ctx.Done()
			fmt.Fprintln(out, "🛑 Stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before reloading")
	return cmd
}

func printLoad(out io.Writer, stats *engine.LoadStats) {
	fmt.Fprintf(out, "📥 %s: %s nodes, %s edges, %s skipped lines in %v\n",
		stats.Path,
		humanize.Comma(int64(stats.Nodes)),
		humanize.Comma(stats.Edges),
		humanize.Comma(stats.Skipped),
		stats.Duration.Round(time.Millisecond),
	)
}

func writeNodes(out io.Writer, nodes []engine.NodeID) {
	for _, n := range nodes {
		fmt.Fprintf(out, "%d\n", n)
	}
}

func joinNodes(nodes []engine.NodeID) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = fmt.Sprint(uint64(n))
	}
	return strings.Join(parts, " ")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
