package stats

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Tracker Tests
// ============================================================================

func TestTracker_AddAndSnapshot(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	tr.Add(GetCount, 1)
	tr.Add(GetCount, 2)
	tr.Add(PutCount, 5)
	tr.Add("bogus.n", 7)

	snap := tr.Snapshot()
	assert.EqualValues(t, 3, snap[GetCount])
	assert.EqualValues(t, 5, snap[PutCount])
	assert.EqualValues(t, 0, snap[DeleteCount])
	_, ok := snap["bogus.n"]
	assert.False(t, ok, "names outside the table are dropped")
}

func TestTracker_AddMany(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	tr.AddMany(
		NamedVal{Name: EvictCount, Val: 3},
		NamedVal{Name: PrefetchCount, Val: 2},
		NamedVal{Name: ErrCount, Val: 1},
	)

	snap := tr.Snapshot()
	assert.EqualValues(t, 3, snap[EvictCount])
	assert.EqualValues(t, 2, snap[PrefetchCount])
	assert.EqualValues(t, 1, snap[ErrCount])
}

func TestTracker_LatencyAverages(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	tr.Add(GetLatency, 100)
	tr.Add(GetLatency, 300)

	assert.EqualValues(t, 200, tr.Snapshot()[GetLatency])
}

func TestTracker_Since(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	tr.Since(PutLatency, time.Now().Add(-time.Millisecond))
	assert.GreaterOrEqual(t, tr.Snapshot()[PutLatency], int64(1000))
}

func TestTracker_NilSafe(t *testing.T) {
	t.Parallel()

	var tr *Tracker
	tr.Add(GetCount, 1)
	tr.AddMany(NamedVal{Name: PutCount, Val: 1})
	assert.Nil(t, tr.Snapshot())
	assert.False(t, tr.Dump())
}

// ============================================================================
// Dump Tests
// ============================================================================

func TestTracker_DumpQuietWhenIdle(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	assert.False(t, tr.Dump(), "nothing recorded yet")

	tr.Add(GetCount, 1)
	assert.True(t, tr.Dump())
	assert.False(t, tr.Dump(), "no change since the last dump")

	tr.Add(GetCount, 1)
	assert.True(t, tr.Dump())
}

func TestTracker_DumpResetsLatency(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	tr.Add(GetCount, 4)
	tr.Add(GetLatency, 250)
	require.True(t, tr.Dump())

	snap := tr.Snapshot()
	assert.EqualValues(t, 4, snap[GetCount], "counters survive a dump")
	assert.EqualValues(t, 0, snap[GetLatency], "latency accumulators reset")
}

func TestTracker_StartStop(t *testing.T) {
	t.Parallel()
	tr := New(Options{Interval: 10 * time.Millisecond})

	tr.Add(ListCount, 1)
	tr.Add(ListLatency, 500)
	tr.Start()
	t.Cleanup(tr.Stop)

	require.Eventually(t, func() bool {
		return tr.Snapshot()[ListLatency] == 0
	}, 5*time.Second, 10*time.Millisecond, "the loop should dump and reset latencies")
}

// ============================================================================
// Collector Tests
// ============================================================================

func TestTracker_CollectorCounters(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	tr.Add(GetCount, 2)
	tr.Add(ErrCount, 1)

	expected := `
# HELP coldfront_stats_counter_total Named operation counters
# TYPE coldfront_stats_counter_total counter
coldfront_stats_counter_total{name="err.n"} 1
coldfront_stats_counter_total{name="get.n"} 2
`
	err := testutil.CollectAndCompare(tr.Collector(), strings.NewReader(expected), "coldfront_stats_counter_total")
	require.NoError(t, err)
}

func TestTracker_CollectorLatency(t *testing.T) {
	t.Parallel()
	tr := New(Options{})

	tr.Add(GetLatency, 100)
	tr.Add(GetLatency, 300)

	expected := `
# HELP coldfront_stats_latency_microseconds Average latency since the last dump
# TYPE coldfront_stats_latency_microseconds gauge
coldfront_stats_latency_microseconds{name="get.µs"} 200
`
	err := testutil.CollectAndCompare(tr.Collector(), strings.NewReader(expected), "coldfront_stats_latency_microseconds")
	require.NoError(t, err)
}
