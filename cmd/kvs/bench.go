package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/intellect4all/kvs/common/workload"
	"github.com/intellect4all/kvs/engine"
)

type benchOptions struct {
	workload     string
	distribution string
	ops          int
	keys         int
	keySize      int
	valueSize    int
	concurrency  int
	seed         int64
	compare      bool
}

func newBenchCmd(opts *options) *cobra.Command {
	defaults := workload.DefaultConfig()
	bo := benchOptions{
		workload:     string(defaults.Mix),
		distribution: string(defaults.KeyDistribution),
		ops:          defaults.Ops,
		keys:         defaults.NumKeys,
		keySize:      defaults.KeySize,
		valueSize:    defaults.ValueSize,
		concurrency:  defaults.Concurrency,
		seed:         defaults.Seed,
	}

	c := &cobra.Command{
		Use:   "bench",
		Short: "Run a workload against the store and report throughput and latency",
		Example: "kvs bench --workload read-heavy --distribution zipfian --ops 200000\n" +
			"kvs bench --compare --workload churn",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bo.config()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if bo.compare {
				return runComparison(ctx, cmd, opts, cfg)
			}

			e, kind, log, err := opts.open()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer e.Close()

			result, err := workload.NewRunner(e, cfg, log).Run(ctx)
			if err != nil {
				return err
			}
			workload.PrintResult(cmd.OutOrStdout(), string(kind), result)
			return nil
		},
	}

	f := c.Flags()
	f.StringVar(&bo.workload, "workload", bo.workload, "operation mix: write-heavy, read-heavy, balanced, read-only, write-only, churn")
	f.StringVar(&bo.distribution, "distribution", bo.distribution, "key distribution: uniform, zipfian, sequential, latest")
	f.IntVar(&bo.ops, "ops", bo.ops, "number of measured operations")
	f.IntVar(&bo.keys, "keys", bo.keys, "size of the key space, all preloaded before measuring")
	f.IntVar(&bo.keySize, "key-size", bo.keySize, "key size in bytes")
	f.IntVar(&bo.valueSize, "value-size", bo.valueSize, "value size in bytes")
	f.IntVar(&bo.concurrency, "concurrency", bo.concurrency, "number of concurrent workers")
	f.Int64Var(&bo.seed, "seed", bo.seed, "random seed")
	f.BoolVar(&bo.compare, "compare", false, "run the workload on every engine in scratch directories and compare")
	return c
}

func (bo benchOptions) config() (workload.Config, error) {
	mix, err := workload.ParseMix(bo.workload)
	if err != nil {
		return workload.Config{}, err
	}
	dist, err := workload.ParseDistribution(bo.distribution)
	if err != nil {
		return workload.Config{}, err
	}
	if bo.ops <= 0 || bo.keys <= 0 || bo.concurrency <= 0 {
		return workload.Config{}, errors.New("ops, keys and concurrency must be positive")
	}

	return workload.Config{
		Name:            string(mix) + "-" + string(dist),
		Mix:             mix,
		KeyDistribution: dist,
		NumKeys:         bo.keys,
		KeySize:         bo.keySize,
		ValueSize:       bo.valueSize,
		Ops:             bo.ops,
		Concurrency:     bo.concurrency,
		PreloadKeys:     bo.keys,
		Seed:            bo.seed,
	}, nil
}

// runComparison runs cfg on each engine in its own scratch directory.
func runComparison(ctx context.Context, cmd *cobra.Command, opts *options, cfg workload.Config) error {
	base, err := opts.load()
	if err != nil {
		return err
	}
	log, err := newLogger(base)
	if err != nil {
		return err
	}
	defer log.Sync()

	kinds := []engine.Kind{engine.KindKvs, engine.KindLevelDB}
	names := make([]string, 0, len(kinds))
	results := make(map[string]*workload.Result, len(kinds))

	for _, kind := range kinds {
		dir, err := os.MkdirTemp("", "kvs-bench-"+string(kind)+"-*")
		if err != nil {
			return errors.Wrap(err, "create scratch directory")
		}
		defer os.RemoveAll(dir)

		c := base
		c.RootDirectory = dir
		c.Engine = string(kind)

		e, _, err := engine.Open(c, log.With(zap.String("engine", string(kind))))
		if err != nil {
			return err
		}
		result, err := workload.NewRunner(e, cfg, log).Run(ctx)
		cerr := e.Close()
		if err != nil {
			return errors.Wrapf(err, "%s", kind)
		}
		if cerr != nil {
			return cerr
		}

		workload.PrintResult(cmd.OutOrStdout(), string(kind), result)
		names = append(names, string(kind))
		results[string(kind)] = result
	}

	return workload.PrintComparison(cmd.OutOrStdout(), names, results)
}
