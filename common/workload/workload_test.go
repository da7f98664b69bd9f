package workload

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/intellect4all/kvs/common/testutil"
	"github.com/intellect4all/kvs/kvstore"
)

func openStore(t *testing.T) *kvstore.KvStore {
	t.Helper()
	config := kvstore.DefaultConfig(testutil.TempDir(t))
	config.SyncOnWrite = false
	config.SegmentSize = 16 * 1024
	config.CompactionMinStale = 8 * 1024
	config.Logger = zaptest.NewLogger(t)

	kv, err := kvstore.Open(config)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func testWorkload() Config {
	return Config{
		Name:            "test",
		Mix:             MixChurn,
		KeyDistribution: DistUniform,
		NumKeys:         200,
		KeySize:         16,
		ValueSize:       32,
		Ops:             2000,
		Concurrency:     4,
		PreloadKeys:     200,
		Seed:            7,
	}
}

func TestKeyGenerator(t *testing.T) {
	kg := NewKeyGenerator(100, 16, DistSequential, 1)
	assert.Equal(t, "user0000000000xx", kg.NextKey())
	assert.Equal(t, "user0000000001xx", kg.NextKey())

	short := NewKeyGenerator(100, 6, DistUniform, 1)
	assert.Len(t, short.NextKey(), 6)

	for _, dist := range []KeyDistribution{DistUniform, DistZipfian, DistLatest} {
		kg := NewKeyGenerator(50, 0, dist, 3)
		for i := 0; i < 1000; i++ {
			key := kg.NextKey()
			assert.GreaterOrEqual(t, key, kg.Key(0), dist)
			assert.LessOrEqual(t, key, kg.Key(49), dist)
		}
	}
}

func TestSequenceIsDeterministic(t *testing.T) {
	cfg := testWorkload()
	a := Sequence(cfg, 500)
	b := Sequence(cfg, 500)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("sequences differ (-a +b):\n%s", diff)
	}

	var sets, removes, gets int
	for _, op := range a {
		switch op.Kind {
		case OpSet:
			sets++
			assert.Len(t, op.Value, cfg.ValueSize)
		case OpRemove:
			removes++
		case OpGet:
			gets++
		}
	}
	assert.Greater(t, sets, removes)
	assert.Greater(t, removes, 0)
	assert.Greater(t, gets, 0)
}

func TestModel(t *testing.T) {
	m := NewModel([]Op{
		{Kind: OpSet, Key: "a", Value: "1"},
		{Kind: OpSet, Key: "a", Value: "2"},
		{Kind: OpSet, Key: "b", Value: "3"},
		{Kind: OpRemove, Key: "b"},
		{Kind: OpRemove, Key: "c"},
		{Kind: OpGet, Key: "d"},
	})
	assert.Equal(t, Model{"a": "2"}, m)
}

func TestApplyMatchesModel(t *testing.T) {
	kv := openStore(t)
	ops := Sequence(testWorkload(), 3000)

	require.NoError(t, Apply(kv, ops))

	got, err := Snapshot(kv, Keys(ops))
	require.NoError(t, err)
	if diff := cmp.Diff(NewModel(ops), got); diff != "" {
		t.Fatalf("engine contents differ from model (-want +got):\n%s", diff)
	}
}

func TestRunner(t *testing.T) {
	kv := openStore(t)
	cfg := testWorkload()

	result, err := NewRunner(kv, cfg, zaptest.NewLogger(t)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(cfg.Ops), result.TotalOps)
	assert.Equal(t, result.TotalOps, result.WriteOps+result.ReadOps+result.RemoveOps)
	assert.Zero(t, result.Errors)
	assert.Greater(t, result.OpsPerSec, 0.0)
	assert.Equal(t, int(result.WriteOps+result.RemoveOps), result.WriteLatency.Count)
	assert.Equal(t, int(result.ReadOps), result.ReadLatency.Count)
	assert.Greater(t, result.EngineStats.TotalDiskSize, int64(0))

	var out bytes.Buffer
	PrintResult(&out, "kvs", result)
	assert.Contains(t, out.String(), "Throughput")

	out.Reset()
	require.NoError(t, PrintComparison(&out, []string{"kvs", "missing"}, map[string]*Result{"kvs": result}))
	assert.Contains(t, out.String(), "kvs")
	assert.NotContains(t, out.String(), "missing")
}

func TestRunnerStopsOnCancel(t *testing.T) {
	kv := openStore(t)
	cfg := testWorkload()
	cfg.PreloadKeys = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(kv, cfg, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLatencyHistogram(t *testing.T) {
	h := NewLatencyHistogram(0)
	assert.Equal(t, LatencyStats{}, h.Stats())

	for i := 100; i >= 1; i-- {
		h.Record(time.Duration(i) * time.Microsecond)
	}
	stats := h.Stats()
	assert.Equal(t, 100, stats.Count)
	assert.Equal(t, time.Microsecond, stats.Min)
	assert.Equal(t, 100*time.Microsecond, stats.Max)
	assert.Equal(t, 51*time.Microsecond, stats.P50)
	assert.Equal(t, 100*time.Microsecond, stats.P99)
}

func TestParse(t *testing.T) {
	mix, err := ParseMix("churn")
	require.NoError(t, err)
	assert.Equal(t, MixChurn, mix)
	_, err = ParseMix("nope")
	assert.Error(t, err)

	dist, err := ParseDistribution("zipfian")
	require.NoError(t, err)
	assert.Equal(t, DistZipfian, dist)
	_, err = ParseDistribution("nope")
	assert.Error(t, err)
}
