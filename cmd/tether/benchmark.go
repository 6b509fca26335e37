package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/tether/internal/bridge"
	"github.com/samcharles93/tether/internal/handle"
	"github.com/samcharles93/tether/internal/logger"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns  int64
		benchRuns   int64
		idsFlag     string
		batchSize   int64
		concurrency int64
	)

	flags := append([]cli.Flag{}, modelFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       5,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "ids",
			Usage:       "token ids of one sequence",
			Value:       "1,2,3,4,5,6,7,8",
			Destination: &idsFlag,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Usage:       "sequences per forward pass",
			Value:       1,
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "concurrency",
			Usage:       "forward passes in flight on the same model handle",
			Value:       1,
			Destination: &concurrency,
		},
	)

	return &cli.Command{
		Name:    "benchmark",
		Aliases: []string{"bench"},
		Usage:   "Measure load time and forward-pass latency",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, LoadConfig())

			dir, err := resolveModelDir(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}
			seqs, err := parseSequences(idsFlag)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: --ids: %v", err), 1)
			}
			batch, err := buildBatch(slices.Repeat(seqs[:1], int(max(batchSize, 1))), nil, 0)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			rt := newRuntime(ctx)
			dtype, dev, err := placement(rt.Features())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			log.Info("loading model for benchmark", "path", dir)
			loadStart := time.Now()
			m, err := rt.LoadModel(dir, int32(dtype), dev.Kind, dev.ID)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			defer func() { _ = rt.DeleteModel(m) }()
			loadDuration := time.Since(loadStart)

			inputs, err := addInputs(rt, batch)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			loaded, err := rt.Model(m)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Println("=== tether benchmark ===")
			fmt.Printf("Model:       %s (%s)\n", dir, loaded.Variant())
			fmt.Printf("Placement:   %s on %s\n", dtype, dev)
			fmt.Printf("CPUs:        %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS:  %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Threads:     %d\n", threads)
			fmt.Printf("Load:        %s\n", loadDuration.Round(time.Millisecond))
			fmt.Printf("Batch:       %d x %d tokens\n", batch.n, batch.seq)
			fmt.Printf("Concurrency: %d\n", concurrency)
			fmt.Println()

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := timedRound(ctx, rt, m, inputs, int(concurrency)); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %12s %12s\n", "Run", "Duration", "tokens/s")
			var total time.Duration
			tokens := float64(batch.n * batch.seq * int(max(concurrency, 1)))
			for i := range int(benchRuns) {
				log.Debug("benchmark run", "run", i+1)
				d, err := timedRound(ctx, rt, m, inputs, int(concurrency))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				total += d
				fmt.Printf("%-6d %12s %12.1f\n", i+1, d.Round(time.Microsecond), tokens/d.Seconds())
			}
			if benchRuns > 0 {
				avg := total / time.Duration(benchRuns)
				fmt.Printf("\n%-6s %12s %12.1f\n", "Avg", avg.Round(time.Microsecond), tokens/avg.Seconds())
			}

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))
			return nil
		},
	}
}

// timedRound runs n concurrent passes over the same inputs and frees every
// output handle.
func timedRound(ctx context.Context, rt *bridge.Runtime, m handle.Handle, inputs []handle.Handle, n int) (time.Duration, error) {
	start := time.Now()
	g, _ := errgroup.WithContext(ctx)
	for range max(n, 1) {
		g.Go(func() error {
			out, err := rt.RunInference(m, inputs)
			if err != nil {
				return err
			}
			return rt.DeleteTensor(out)
		})
	}
	err := g.Wait()
	return time.Since(start), err
}
