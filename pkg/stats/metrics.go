// Copyright 2025 Coldfront Authors
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	counterDesc = prometheus.NewDesc(
		prometheus.BuildFQName("coldfront", "stats", "counter_total"),
		"Named operation counters",
		[]string{"name"}, nil, // name: "get.n", "put.n", ...
	)
	latencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName("coldfront", "stats", "latency_microseconds"),
		"Average latency since the last dump",
		[]string{"name"}, nil, // name: "get.µs", "put.µs", ...
	)
)

type collector struct {
	t *Tracker
}

// Collector returns a Prometheus mirror of the tracker. Values are
// read at scrape time; zero-valued names are not exported.
func (t *Tracker) Collector() prometheus.Collector {
	return collector{t: t}
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- counterDesc
	ch <- latencyDesc
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	for name, e := range c.t.vals {
		if e.value == 0 {
			continue
		}
		switch e.kind {
		case kindCounter:
			ch <- prometheus.MustNewConstMetric(counterDesc, prometheus.CounterValue, float64(e.value), name)
		case kindLatency:
			ch <- prometheus.MustNewConstMetric(latencyDesc, prometheus.GaugeValue, float64(e.resolve()), name)
		}
	}
}
