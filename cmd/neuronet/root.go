package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orneryd/neuronet/pkg/config"
	"github.com/orneryd/neuronet/pkg/engine"
	"github.com/orneryd/neuronet/pkg/pool"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	verbose    bool
	cacheDir   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "neuronet",
		Short: "NeuroNet - sparse graph engine for large edge lists",
		Long: `NeuroNet loads very large sparse graphs from edge-list files
(one "u v" pair per line, SNAP style) into a compact adjacency store and
answers structural queries against them.

Features:
  • Streaming loader with malformed-line accounting
  • gzip and zstd compressed datasets
  • Degree, neighbor and max-degree queries in O(1)
  • Depth-bounded breadth-first search
  • Snapshots that skip re-parsing unchanged datasets`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default: ./"+config.DefaultFileName+" if present)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&a.cacheDir, "cache-dir", "", "Enable snapshots stored in this directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newStatsCmd(a),
		newDegreeCmd(a),
		newNeighborsCmd(a),
		newMaxDegreeCmd(a),
		newBFSCmd(a),
		newAtHopCmd(a),
		newSubgraphCmd(a),
		newWatchCmd(a),
	)
	return rootCmd
}

// setup resolves configuration and logging before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	path := a.configPath
	if path == "" && fileExists(config.DefaultFileName) {
		path = config.DefaultFileName
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.cacheDir != "" {
		cfg.Snapshot.Enabled = true
		cfg.Snapshot.Dir = a.cacheDir
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	cfg.Runtime.ApplyRuntimeMemory()
	pool.Configure(pool.PoolConfig{Enabled: cfg.Pool.Enabled, MaxSize: cfg.Pool.MaxSize})

	logger.Debug("configuration resolved", zap.String("config", cfg.String()), zap.String("file", path))
	return nil
}

func newLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = lc.Format
	if lc.Format == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		zc.DisableStacktrace = true
	}
	zc.DisableCaller = true
	return zc.Build()
}

// openEngine creates an engine and loads path into it.
func (a *app) openEngine(ctx context.Context, path string) (*engine.Engine, *engine.LoadStats, error) {
	eng, err := engine.New(engine.ConfigFrom(a.cfg, a.logger))
	if err != nil {
		return nil, nil, err
	}
	stats, err := eng.LoadDataset(ctx, path)
	if err != nil {
		eng.Close()
		return nil, nil, err
	}
	return eng, stats, nil
}

// parseNode parses a node id argument.
func parseNode(s string) (engine.NodeID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: node id %q must be a non-negative integer", engine.ErrInvalidArgument, s)
	}
	return engine.NodeID(id), nil
}
