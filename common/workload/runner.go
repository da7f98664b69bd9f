// Package workload generates key-value workloads, replays them against any
// common.Engine and measures throughput and latency.
package workload

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/intellect4all/kvs/common"
)

// Mix defines the share of reads, writes and removes.
type Mix string

const (
	MixWriteHeavy Mix = "write-heavy" // 95% writes
	MixReadHeavy  Mix = "read-heavy"  // 95% reads
	MixBalanced   Mix = "balanced"    // 50/50
	MixReadOnly   Mix = "read-only"
	MixWriteOnly  Mix = "write-only"
	MixChurn      Mix = "churn" // 60% writes, 20% removes
)

// shares returns the write and remove fractions; the rest are reads.
func (m Mix) shares() (write, remove float64) {
	switch m {
	case MixWriteOnly:
		return 1, 0
	case MixReadOnly:
		return 0, 0
	case MixWriteHeavy:
		return 0.95, 0
	case MixReadHeavy:
		return 0.05, 0
	case MixChurn:
		return 0.6, 0.2
	default:
		return 0.5, 0
	}
}

func ParseMix(s string) (Mix, error) {
	switch m := Mix(s); m {
	case MixWriteHeavy, MixReadHeavy, MixBalanced, MixReadOnly, MixWriteOnly, MixChurn:
		return m, nil
	}
	return "", errors.Errorf("unknown workload %q", s)
}

// Config defines a benchmark scenario
type Config struct {
	Name string

	Mix             Mix
	KeyDistribution KeyDistribution

	NumKeys   int // Total unique keys in dataset
	KeySize   int // Bytes
	ValueSize int // Bytes

	Ops         int // Measured operations, split across workers
	Concurrency int
	PreloadKeys int // Keys written before measuring

	Seed int64
}

func DefaultConfig() Config {
	return Config{
		Name:            "balanced-uniform",
		Mix:             MixBalanced,
		KeyDistribution: DistUniform,
		NumKeys:         10000,
		KeySize:         16,
		ValueSize:       100,
		Ops:             100000,
		Concurrency:     4,
		PreloadKeys:     10000,
		Seed:            12345,
	}
}

type Result struct {
	Config Config

	TotalOps  int64
	WriteOps  int64
	ReadOps   int64
	RemoveOps int64
	Misses    int64 // Gets and removes of absent keys
	Errors    int64
	Duration  time.Duration
	OpsPerSec float64

	WriteLatency LatencyStats
	ReadLatency  LatencyStats

	EngineStats common.Stats // Zero unless the engine reports stats
}

type Runner struct {
	engine common.Engine
	config Config
	log    *zap.Logger

	writeLatencies *LatencyHistogram
	readLatencies  *LatencyHistogram

	writeCount  atomic.Int64
	readCount   atomic.Int64
	removeCount atomic.Int64
	missCount   atomic.Int64
	errorCount  atomic.Int64
}

func NewRunner(engine common.Engine, config Config, log *zap.Logger) *Runner {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		engine:         engine,
		config:         config,
		log:            log,
		writeLatencies: NewLatencyHistogram(config.Ops),
		readLatencies:  NewLatencyHistogram(config.Ops),
	}
}

// Run preloads the key space and then runs the measured operations. An
// engine error stops every worker and is returned.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.config.PreloadKeys > 0 {
		r.log.Info("preloading keys", zap.Int("keys", r.config.PreloadKeys))
		if err := r.preload(); err != nil {
			return nil, errors.Wrap(err, "preload")
		}
	}

	r.log.Info("running workload",
		zap.String("name", r.config.Name),
		zap.Int("ops", r.config.Ops),
		zap.Int("concurrency", r.config.Concurrency))

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < r.config.Concurrency; w++ {
		n := r.config.Ops / r.config.Concurrency
		if w < r.config.Ops%r.config.Concurrency {
			n++
		}
		cfg := r.config
		cfg.Seed += int64(w) + 1
		ops := Sequence(cfg, n)

		g.Go(func() error {
			return r.worker(ctx, ops)
		})
	}
	err := g.Wait()
	duration := time.Since(start)
	if err != nil {
		return nil, err
	}

	return r.result(duration), nil
}

func (r *Runner) preload() error {
	kg := NewKeyGenerator(r.config.NumKeys, r.config.KeySize, DistSequential, r.config.Seed)
	value := kg.Value(r.config.ValueSize)
	for i := 0; i < r.config.PreloadKeys; i++ {
		if err := r.engine.Set(kg.Key(i%r.config.NumKeys), value); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) worker(ctx context.Context, ops []Op) error {
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		switch op.Kind {
		case OpSet:
			if err := r.engine.Set(op.Key, op.Value); err != nil {
				r.errorCount.Add(1)
				return errors.Wrapf(err, "set %q", op.Key)
			}
			r.writeLatencies.Record(time.Since(start))
			r.writeCount.Add(1)

		case OpGet:
			_, found, err := r.engine.Get(op.Key)
			if err != nil {
				r.errorCount.Add(1)
				return errors.Wrapf(err, "get %q", op.Key)
			}
			r.readLatencies.Record(time.Since(start))
			r.readCount.Add(1)
			if !found {
				r.missCount.Add(1)
			}

		case OpRemove:
			err := r.engine.Remove(op.Key)
			if errors.Is(err, common.ErrKeyNotFound) {
				r.missCount.Add(1)
			} else if err != nil {
				r.errorCount.Add(1)
				return errors.Wrapf(err, "remove %q", op.Key)
			}
			r.writeLatencies.Record(time.Since(start))
			r.removeCount.Add(1)
		}
	}
	return nil
}

func (r *Runner) result(duration time.Duration) *Result {
	writes := r.writeCount.Load()
	reads := r.readCount.Load()
	removes := r.removeCount.Load()
	total := writes + reads + removes

	result := &Result{
		Config:       r.config,
		TotalOps:     total,
		WriteOps:     writes,
		ReadOps:      reads,
		RemoveOps:    removes,
		Misses:       r.missCount.Load(),
		Errors:       r.errorCount.Load(),
		Duration:     duration,
		WriteLatency: r.writeLatencies.Stats(),
		ReadLatency:  r.readLatencies.Stats(),
	}
	if duration > 0 {
		result.OpsPerSec = float64(total) / duration.Seconds()
	}
	if sr, ok := r.engine.(common.StatsReporter); ok {
		result.EngineStats = sr.Stats()
	}
	return result
}
