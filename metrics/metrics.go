// Package metrics holds the Prometheus collectors shared by the storage
// engines. Collectors register with the default registry on import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var namespace = "kvs"
var subsystem = "engine"

// Operation labels.
const (
	OpSet     = "set"
	OpGet     = "get"
	OpRemove  = "remove"
	OpCompact = "compact"
	OpRotate  = "rotate"
	OpReplay  = "replay"
)

// Status labels.
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

var (
	// OperationDuration stores the processing time of engine operations
	// partitioned by engine and operation
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "operation_duration_seconds",
		Help:      "Time taken by engine operations",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
	}, []string{"engine", "operation"})

	// OperationsTotal stores the number of engine operations partitioned by
	// engine, operation and outcome
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "operations_total",
		Help:      "Number of engine operations partitioned by outcome",
	}, []string{"engine", "operation", "status"})

	// ReplayedRecordsTotal stores the number of log records folded into the
	// index while opening stores
	ReplayedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "replayed_records_total",
		Help:      "Number of log records replayed at open",
	})

	// ReclaimedBytesTotal stores the number of bytes freed by compactions
	ReclaimedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "compaction_reclaimed_bytes_total",
		Help:      "Bytes of stale log data reclaimed by compaction",
	})

	// StaleBytes stores the stale byte count of the most recently updated store
	StaleBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stale_bytes",
		Help:      "Bytes held by superseded or removed records",
	})

	// ReaderCacheLookups stores segment reader cache lookups partitioned by result
	ReaderCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "reader_cache_lookups_total",
		Help:      "Segment reader cache lookups partitioned by hit or miss",
	}, []string{"result"})
)

// Observe records one finished operation.
func Observe(engine, op, status string, start time.Time) {
	OperationDuration.WithLabelValues(engine, op).Observe(time.Since(start).Seconds())
	OperationsTotal.WithLabelValues(engine, op, status).Inc()
}

// Status maps an operation's outcome to a status label.
func Status(err error, found bool) string {
	switch {
	case err != nil:
		return StatusError
	case !found:
		return StatusNotFound
	default:
		return StatusOK
	}
}
