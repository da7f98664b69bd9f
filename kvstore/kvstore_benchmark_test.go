package kvstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/intellect4all/kvs/common/testutil"
	"github.com/intellect4all/kvs/common/workload"
)

func openBenchStore(b *testing.B) *KvStore {
	b.Helper()
	config := DefaultConfig(testutil.TempDir(b))
	config.SegmentSize = 64 * 1024 * 1024
	config.SyncOnWrite = false

	kv, err := Open(config)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { kv.Close() })
	return kv
}

func BenchmarkSet(b *testing.B) {
	kv := openBenchStore(b)
	value := string(make([]byte, 100))

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := kv.Set(fmt.Sprintf("key%010d", i%100000), value); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	kv := openBenchStore(b)
	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		if err := kv.Set(fmt.Sprintf("key%010d", i), fmt.Sprintf("value%010d", i)); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, found, err := kv.Get(fmt.Sprintf("key%010d", i%numKeys)); err != nil || !found {
				b.Errorf("get: found=%v err=%v", found, err)
				return
			}
			i++
		}
	})
}

// BenchmarkWorkload runs the balanced workload through the workload runner.
func BenchmarkWorkload(b *testing.B) {
	kv := openBenchStore(b)
	cfg := workload.DefaultConfig()
	cfg.Ops = b.N
	cfg.Concurrency = 8

	b.ResetTimer()
	result, err := workload.NewRunner(kv, cfg, nil).Run(context.Background())
	if err != nil {
		b.Fatal(err)
	}
	b.ReportMetric(result.OpsPerSec, "ops/sec")
	b.ReportMetric(float64(result.WriteLatency.P99.Microseconds()), "write_p99_us")
	b.ReportMetric(float64(result.ReadLatency.P99.Microseconds()), "read_p99_us")
}
