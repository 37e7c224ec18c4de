// Command bench_hashtable compares the RMA and RPC
// strategies of the distributed hash table on simulated
// networks and prints a markdown table of results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
	"github.com/pkg/errors"
	"github.com/unixpickle/dist-hashmap/fabric"
	"github.com/unixpickle/dist-hashmap/hashtable"
	"github.com/unixpickle/dist-hashmap/kmer"
	"github.com/unixpickle/dist-hashmap/simulator"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := &cli.Command{
		Name:  "bench_hashtable",
		Usage: "Benchmark distributed hash table strategies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML or JSON file describing the runs",
				Sources: cli.EnvVars(envPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "debug, info, warn, or error",
			},
			&cli.IntFlag{
				Name:  "parallel",
				Value: int64(runtime.NumCPU()),
				Usage: "maximum number of simulations to run at once",
			},
			&cli.IntFlag{
				Name:  "seed",
				Value: 1337,
				Usage: "random seed for keys and network tie-breaking",
			},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return errors.Wrap(err, "parse log level")
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "[15:04:05.000]",
	}))

	config, err := LoadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	strategies, err := config.StrategyList()
	if err != nil {
		return err
	}

	results := make([][]*Result, len(config.Runs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(int(cmd.Int("parallel")))
	for i, runInfo := range config.Runs {
		i, runInfo := i, runInfo
		results[i] = make([]*Result, len(strategies))
		for j, strategy := range strategies {
			j, strategy := j, strategy
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				b := &Benchmark{
					Config:   config,
					Run:      runInfo,
					Strategy: strategy,
					Seed:     int64(cmd.Int("seed")),
					Logger:   logger.With("nodes", runInfo.NumNodes, "strategy", strategy),
				}
				res, err := b.Execute()
				if err != nil {
					return errors.Wrapf(err, "run %d (%s)", i, strategy)
				}
				results[i][j] = res
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Markdown table header.
	fmt.Print("| Nodes | Latency | NIC rate | Capacity ")
	for _, strategy := range strategies {
		fmt.Printf("| %s time | %s msgs ", strategy, strategy)
	}
	fmt.Println("|")
	for i := 0; i < 4+2*len(strategies); i++ {
		fmt.Print("|:--")
	}
	fmt.Println("|")

	// Markdown table body.
	for i, runInfo := range config.Runs {
		fmt.Printf(
			"| %d | %s | %s | %d ",
			runInfo.NumNodes,
			strconv.FormatFloat(runInfo.Latency, 'f', -1, 64),
			strconv.FormatFloat(runInfo.Rate, 'E', -1, 64),
			config.Capacity(runInfo),
		)
		for _, res := range results[i] {
			fmt.Printf("| %f | %d ", res.Time, res.Messages)
		}
		fmt.Println("|")
	}
	return nil
}

// A Benchmark is one simulation: every node inserts its
// own random k-mers and then finds them all again.
type Benchmark struct {
	Config   *Config
	Run      RunInfo
	Strategy hashtable.Strategy
	Seed     int64
	Logger   *slog.Logger
}

// A Result summarizes a Benchmark.
type Result struct {
	// Time is the virtual time at which the last node
	// finished.
	Time float64

	Messages int64
	Stats    hashtable.LocalStats
}

// Execute runs the simulation.
func (b *Benchmark) Execute() (*Result, error) {
	policy, err := b.Config.PartitionPolicy()
	if err != nil {
		return nil, err
	}
	start := time.Now()

	loop := simulator.NewEventLoopSeed(b.Seed)
	nodes := make([]*simulator.Node, b.Run.NumNodes)
	for i := range nodes {
		nodes[i] = simulator.NewNode()
	}
	switcher := simulator.NewGreedyDropSwitcher(b.Run.NumNodes, b.Run.Rate)
	network := simulator.NewCountingNetwork(simulator.NewSwitcherNetwork(switcher, nodes, b.Run.Latency))

	capacity := b.Config.Capacity(b.Run)
	var stats hashtable.LocalStats
	missing := make([]int, b.Run.NumNodes)
	cluster := &fabric.Cluster{Loop: loop, Network: network, Nodes: nodes, Logger: b.Logger}
	cluster.Spawn(func(ep *fabric.Endpoint) {
		table := hashtable.New[kmer.Kmer, kmer.Pair](ep, capacity, &hashtable.Options{
			Strategy:  b.Strategy,
			Partition: policy,
			Logger:    b.Logger,
		})
		pairs := b.pairs(ep.Rank())
		for _, p := range pairs {
			if !table.Insert(p) {
				ep.Logger().Warn("insert failed", "kmer", p.Kmer)
			}
		}
		table.Barrier()
		for _, p := range pairs {
			if _, ok := table.Find(p.Kmer); !ok {
				missing[ep.Rank()]++
			}
		}
		s := table.Stats()
		if ep.Rank() == 0 {
			stats = s
		}
	})
	if err := loop.Run(); err != nil {
		return nil, errors.Wrap(err, "simulation")
	}
	for rank, count := range missing {
		if count > 0 {
			return nil, errors.Errorf("rank %d: %d k-mers not found", rank, count)
		}
	}
	b.Logger.Info("finished run", "virtual_time", loop.Time(), "elapsed", time.Since(start),
		"lost_claims", stats.LostClaims, "stale_reads", stats.StaleReads)
	return &Result{
		Time:     loop.Time(),
		Messages: network.Messages(),
		Stats:    stats,
	}, nil
}

// pairs creates the k-mers a node inserts.
//
// Each node gets its own random stream, so runs are
// reproducible for a fixed seed.
func (b *Benchmark) pairs(rank int) []kmer.Pair {
	rng := rand.New(rand.NewSource(b.Seed + int64(rank)*7919))
	res := make([]kmer.Pair, b.Config.KeysPerNode)
	for i := range res {
		res[i] = kmer.Pair{
			Kmer:     kmer.Random(rng, b.Config.KmerLength).Canonical(),
			Backward: "ACGTF"[rng.Intn(5)],
			Forward:  "ACGTF"[rng.Intn(5)],
		}
	}
	return res
}
