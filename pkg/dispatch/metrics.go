package dispatch

import (
	"github.com/coldfront/coldfront/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// operationsTotal tracks finished operations by terminal status
	operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "dispatch",
		Name:      "operations_total",
		Help:      "Total batch operations finished",
	}, []string{"action", "status"}) // status: "completed", "failed"

	// operationsRunning tracks operations between acceptance and finish
	operationsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coldfront",
		Subsystem: "dispatch",
		Name:      "operations_running",
		Help:      "Batch operations currently in flight",
	})

	// objectsProcessed tracks per-object sub-operations by outcome
	objectsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "dispatch",
		Name:      "objects_processed_total",
		Help:      "Total per-object sub-operations applied",
	}, []string{"action", "outcome"}) // outcome: "ok", "error"

	// operationDuration tracks wall time from acceptance to finish
	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "coldfront",
		Subsystem: "dispatch",
		Name:      "operation_duration_seconds",
		Help:      "Operation wall time from acceptance to terminal state",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~260s
	}, []string{"action"})
)

func init() {
	debug.Registry().MustRegister(
		operationsTotal,
		operationsRunning,
		objectsProcessed,
		operationDuration,
	)
}
