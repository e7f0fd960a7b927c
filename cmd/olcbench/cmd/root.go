/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/olctree/pkg/bench"
	"github.com/ssargent/olctree/pkg/bptree"
	"github.com/ssargent/olctree/pkg/config"
	"github.com/ssargent/olctree/pkg/metrics"
	"github.com/ssargent/olctree/pkg/stage"
	"github.com/ssargent/olctree/pkg/workload"
)

// rootCmd represents the base command: the workload driver itself, taking a
// single positional workload-file argument. Utility subcommands (config)
// hang off it.
var rootCmd = &cobra.Command{
	Use:   "olcbench <workload-file>",
	Short: "Drive the concurrent optimistic B+-tree index engine against a workload file",
	Long: `olcbench reads a text workload file of INSERT/READ lines, dispatches it
across a worker pool against one of the index engine's front ends, and
reports measured throughput as a single JSON object on stdout.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return workload.ErrBadUsage
		}
		return nil
	},
	RunE: runBench,
}

func init() {
	rootCmd.Flags().String("algo", string(config.AlgorithmBaseline), "front end to drive: baseline, bulkleaf, or ring")
	rootCmd.Flags().Int("threads", 0, "worker pool size (default: GOMAXPROCS)")
	rootCmd.Flags().String("config", "", "optional YAML tuning file")
	rootCmd.Flags().String("metrics-addr", "", "if set, serve Prometheus metrics at this address for the run's duration")
}

// Execute runs the root command. Exit codes: 0 success, 1 bad usage,
// nonzero on any other fatal error.
func Execute() {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if err == workload.ErrBadUsage {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	workloadPath := args[0]

	algo, _ := cmd.Flags().GetString("algo")
	threads, _ := cmd.Flags().GetInt("threads")
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("algo") {
		cfg.Algorithm = config.Algorithm(algo)
	}
	if threads > 0 {
		cfg.Threads = threads
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	fmt.Fprintf(os.Stderr, "loading workload %s\n", workloadPath)
	ops, err := workload.Load(workloadPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "number of ops in workload: %d\n", len(ops))

	var mx *metrics.Metrics
	var metricsSrv interface{ Shutdown(context.Context) error }
	if cfg.Metrics.Addr != "" {
		mx = metrics.New()
		srv := metrics.Serve(cfg.Metrics.Addr)
		metricsSrv = srv
		fmt.Fprintf(os.Stderr, "serving metrics on %s/metrics\n", cfg.Metrics.Addr)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}()
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "running %s with %d threads\n", cfg.Algorithm, cfg.Threads)
	result := bench.Run(context.Background(), engine, ops, cfg.Threads, mx, string(cfg.Algorithm))
	result.Workload = workloadPath

	reportEngineStats(engine)

	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(result)
}

// reportEngineStats prints the run's internal counters to stderr so a
// benchmark log captures contention and split behavior alongside the
// throughput number on stdout.
func reportEngineStats(engine bench.Engine) {
	s := engine.Stats()
	fmt.Fprintf(os.Stderr, "tree height: %d\n", s.TreeHeight)
	fmt.Fprintf(os.Stderr, "restarts: lookup=%d insert=%d install=%d\n",
		s.Tree.LookupRestarts, s.Tree.InsertRestarts, s.Tree.InstallRestarts)
	fmt.Fprintf(os.Stderr, "splits: leaf=%d inner=%d\n", s.Tree.LeafSplits, s.Tree.InnerSplits)
	if s.Tree.LeavesInstalled > 0 || s.Drains > 0 {
		fmt.Fprintf(os.Stderr, "staging: leaves installed=%d buffers drained=%d\n",
			s.Tree.LeavesInstalled, s.Drains)
	}
}

// buildEngine constructs the front end named by cfg.Algorithm. Every
// staging variant owns (or fronts) a baseline tree, since keys outside the
// buffer's admission window fall back to it.
func buildEngine(cfg *config.Config) (bench.Engine, error) {
	switch cfg.Algorithm {
	case config.AlgorithmBaseline:
		return bench.TreeEngine{Tree: bptree.NewTree[int64, string]()}, nil
	case config.AlgorithmBulkLeaf:
		tree := bptree.NewTree[int64, string]()
		buf := stage.NewBulkLeafBufferLoadFactor(tree, math.MinInt64, cfg.BulkLeaf.LoadFactor)
		return bench.BulkLeafEngine{Tree: tree, Buffer: buf}, nil
	case config.AlgorithmRing:
		buf := stage.NewRingBufferSized[int64, string](cfg.Ring.BufferCount, cfg.Ring.SlotCapacity)
		return bench.RingEngine{Buffer: buf}, nil
	default:
		return nil, fmt.Errorf("unknown algorithm %q (want baseline, bulkleaf, or ring)", cfg.Algorithm)
	}
}
