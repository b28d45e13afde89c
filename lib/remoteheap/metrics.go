// Copyright 2026 The Heapscope Authors
// SPDX-License-Identifier: Apache-2.0

package remoteheap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports registry statistics as Prometheus metrics for
// long-running watches. It takes the inspection lock for the duration
// of a scrape, so scrapes serialize against reconciliation passes
// rather than reading torn state.
type Collector struct {
	reg *Registry

	references      *prometheus.Desc
	epoch           *prometheus.Desc
	passes          *prometheus.Desc
	cyclesStarted   *prometheus.Desc
	cyclesCompleted *prometheus.Desc
	transitions     *prometheus.Desc
	evictions       *prometheus.Desc
	grayMarks       *prometheus.Desc
	regionBytes     *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a Collector over reg.
func NewCollector(reg *Registry) *Collector {
	return &Collector{
		reg: reg,
		references: prometheus.NewDesc(
			"heapscope_references",
			"Tracked references by current status.",
			[]string{"status"}, nil,
		),
		epoch: prometheus.NewDesc(
			"heapscope_epoch",
			"Last target halt processed by the reconciliation engine.",
			nil, nil,
		),
		passes: prometheus.NewDesc(
			"heapscope_reconciliation_passes_total",
			"Reconciliation passes applied since attach.",
			nil, nil,
		),
		cyclesStarted: prometheus.NewDesc(
			"heapscope_gc_cycles_started",
			"Collection cycles the target has started, as last observed.",
			nil, nil,
		),
		cyclesCompleted: prometheus.NewDesc(
			"heapscope_gc_cycles_completed",
			"Collection cycles the target has completed, as last observed.",
			nil, nil,
		),
		transitions: prometheus.NewDesc(
			"heapscope_reference_transitions_total",
			"Reference lifecycle transitions by kind since attach.",
			[]string{"transition"}, nil,
		),
		evictions: prometheus.NewDesc(
			"heapscope_reference_evictions_total",
			"References forgotten by the eviction sweep since attach.",
			nil, nil,
		),
		grayMarks: prometheus.NewDesc(
			"heapscope_gray_marks_total",
			"Anomalous gray mark colors observed at halts since attach.",
			nil, nil,
		),
		regionBytes: prometheus.NewDesc(
			"heapscope_region_bytes",
			"Managed heap region sizes in bytes.",
			[]string{"bound"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.references
	ch <- c.epoch
	ch <- c.passes
	ch <- c.cyclesStarted
	ch <- c.cyclesCompleted
	ch <- c.transitions
	ch <- c.evictions
	ch <- c.grayMarks
	ch <- c.regionBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.reg.lock.Lock()
	s := c.reg.Stats()
	c.reg.lock.Unlock()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.references, float64(s.Live), "live")
	gauge(c.references, float64(s.Unreachable), "unreachable")
	gauge(c.references, float64(s.FreeChunks), "free")
	gauge(c.references, float64(s.DarkMatter), "dark")

	gauge(c.epoch, float64(s.Epoch))
	counter(c.passes, float64(s.Passes))
	gauge(c.cyclesStarted, float64(s.CyclesStarted))
	gauge(c.cyclesCompleted, float64(s.CyclesCompleted))

	counter(c.transitions, float64(s.CreatedLive), "created_live")
	counter(c.transitions, float64(s.CreatedFree), "created_free")
	counter(c.transitions, float64(s.CreatedDark), "created_dark")
	counter(c.transitions, float64(s.CreatedUnreachable), "created_unreachable")
	counter(c.transitions, float64(s.BecameUnreachable), "became_unreachable")
	counter(c.transitions, float64(s.DiedUnreachable), "died_unreachable")
	counter(c.transitions, float64(s.DiedFree), "died_free")
	counter(c.transitions, float64(s.DiedDark), "died_dark")

	counter(c.evictions, float64(s.Evicted))
	counter(c.grayMarks, float64(s.GrayMarks))

	if s.RegionFound {
		gauge(c.regionBytes, float64(s.Region.Committed), "committed")
		gauge(c.regionBytes, float64(s.Region.Allocated), "allocated")
	}
}
