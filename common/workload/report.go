package workload

import (
	"fmt"
	"io"
	"text/tabwriter"

	"code.cloudfoundry.org/bytefmt"
)

func PrintResult(out io.Writer, engine string, r *Result) {
	fmt.Fprintf(out, "Results for %s on %s\n", r.Config.Name, engine)
	fmt.Fprintf(out, "  Throughput: %.0f ops/sec\n", r.OpsPerSec)
	fmt.Fprintf(out, "  Total Ops: %d (writes: %d, reads: %d, removes: %d, misses: %d)\n",
		r.TotalOps, r.WriteOps, r.ReadOps, r.RemoveOps, r.Misses)

	if r.WriteLatency.Count > 0 {
		printLatency(out, "Write", r.WriteLatency)
	}
	if r.ReadLatency.Count > 0 {
		printLatency(out, "Read", r.ReadLatency)
	}

	if s := r.EngineStats; s.TotalDiskSize > 0 {
		fmt.Fprintf(out, "  Disk Usage: %s (%d keys, %d segments)\n",
			bytefmt.ByteSize(uint64(s.TotalDiskSize)), s.NumKeys, s.NumSegments)
		fmt.Fprintf(out, "  Space Amplification: %.2fx\n", s.SpaceAmp)
	}
}

func printLatency(out io.Writer, name string, l LatencyStats) {
	fmt.Fprintf(out, "  %s Latency (μs):\n", name)
	fmt.Fprintf(out, "    p50:  %6d\n", l.P50.Microseconds())
	fmt.Fprintf(out, "    p95:  %6d\n", l.P95.Microseconds())
	fmt.Fprintf(out, "    p99:  %6d\n", l.P99.Microseconds())
	fmt.Fprintf(out, "    p999: %6d\n", l.P999.Microseconds())
}

// PrintComparison prints one row per engine, in the order of engines.
func PrintComparison(out io.Writer, engines []string, results map[string]*Result) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Engine\tops/sec\twrite p99 (μs)\tread p99 (μs)\tdisk\tspace amp\t")
	for _, name := range engines {
		r, ok := results[name]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%.0f\t%d\t%d\t%s\t%.2fx\t\n",
			name,
			r.OpsPerSec,
			r.WriteLatency.P99.Microseconds(),
			r.ReadLatency.P99.Microseconds(),
			bytefmt.ByteSize(uint64(r.EngineStats.TotalDiskSize)),
			r.EngineStats.SpaceAmp)
	}
	return w.Flush()
}
