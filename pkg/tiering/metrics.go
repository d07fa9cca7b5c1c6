package tiering

import (
	"github.com/coldfront/coldfront/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// getsTotal tracks served objects by cache temperature
	getsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "tiering",
		Name:      "gets_total",
		Help:      "Total objects served",
	}, []string{"temperature"}) // temperature: "warm", "cold"

	// putsTotal tracks accepted writes
	putsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "tiering",
		Name:      "puts_total",
		Help:      "Total objects written",
	})

	// coldBytes tracks payload bytes fetched from remote tiers
	coldBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "tiering",
		Name:      "cold_bytes_total",
		Help:      "Total bytes fetched from remote tiers into the cache",
	})

	// replicatedBytes tracks payload bytes pushed to write tiers
	replicatedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "tiering",
		Name:      "replicated_bytes_total",
		Help:      "Total bytes replicated to remote tiers",
	})

	// checksumFailures tracks rejected payloads by validation point
	checksumFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "tiering",
		Name:      "checksum_failures_total",
		Help:      "Total payloads that failed checksum validation",
	}, []string{"kind"}) // kind: "cold", "warm"

	// fetchesShared tracks cold fetches collapsed into another in flight
	fetchesShared = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldfront",
		Subsystem: "tiering",
		Name:      "fetches_shared_total",
		Help:      "Total cold fetches deduplicated against one in flight",
	})
)

func init() {
	debug.Registry().MustRegister(
		getsTotal,
		putsTotal,
		coldBytes,
		replicatedBytes,
		checksumFailures,
		fetchesShared,
	)
}
