package workload

import (
	"sort"
	"sync"
	"time"
)

type LatencyHistogram struct {
	mu      sync.Mutex
	samples []time.Duration
}

type LatencyStats struct {
	Count int
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	P999  time.Duration
}

func NewLatencyHistogram(capacity int) *LatencyHistogram {
	return &LatencyHistogram{
		samples: make([]time.Duration, 0, capacity),
	}
}

func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	h.samples = append(h.samples, d)
	h.mu.Unlock()
}

func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	sorted := make([]time.Duration, len(h.samples))
	copy(sorted, h.samples)
	h.mu.Unlock()

	if len(sorted) == 0 {
		return LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	n := len(sorted)
	return LatencyStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Mean:  sum / time.Duration(n),
		P50:   sorted[n*50/100],
		P95:   sorted[n*95/100],
		P99:   sorted[n*99/100],
		P999:  sorted[n*999/1000],
	}
}
