// Package telemetry exports retrieval metrics to Prometheus.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gofhir/retrieve"
)

const namespace = "retrieve"

// Collector is a prometheus.Collector reading a retrieve.Metrics on every
// scrape.
type Collector struct {
	m *retrieve.Metrics

	resolutions *prometheus.Desc
	failures    *prometheus.Desc
	strategies  *prometheus.Desc
	scanned     *prometheus.Desc
	matched     *prometheus.Desc
	resolveTime *prometheus.Desc
}

// NewCollector creates a collector over m.
func NewCollector(m *retrieve.Metrics) *Collector {
	return &Collector{
		m: m,
		resolutions: prometheus.NewDesc(namespace+"_resolutions_total",
			"Criteria resolved.", nil, nil),
		failures: prometheus.NewDesc(namespace+"_resolutions_failed_total",
			"Criteria that failed to resolve.", nil, nil),
		strategies: prometheus.NewDesc(namespace+"_strategy_total",
			"Strategies chosen per dimension.", []string{"dimension", "strategy"}, nil),
		scanned: prometheus.NewDesc(namespace+"_candidates_scanned_total",
			"Candidates evaluated after the repository search.", nil, nil),
		matched: prometheus.NewDesc(namespace+"_candidates_matched_total",
			"Candidates that passed the residual predicate.", nil, nil),
		resolveTime: prometheus.NewDesc(namespace+"_resolve_seconds",
			"Resolution time.", []string{"stat"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resolutions
	ch <- c.failures
	ch <- c.strategies
	ch <- c.scanned
	ch <- c.matched
	ch <- c.resolveTime
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.m.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.resolutions, prometheus.CounterValue, float64(s.ResolutionsTotal))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(s.ResolutionsFailed))
	ch <- prometheus.MustNewConstMetric(c.scanned, prometheus.CounterValue, float64(s.CandidatesScanned))
	ch <- prometheus.MustNewConstMetric(c.matched, prometheus.CounterValue, float64(s.CandidatesMatched))

	for _, d := range retrieve.Dimensions {
		for _, st := range []retrieve.Strategy{retrieve.StrategyNone, retrieve.StrategyPushDown, retrieve.StrategyInMemory} {
			ch <- prometheus.MustNewConstMetric(c.strategies, prometheus.CounterValue,
				float64(c.m.StrategyCount(d, st)), d.String(), st.String())
		}
	}

	for stat, ns := range map[string]uint64{"avg": s.AvgResolveTimeNs, "min": s.MinResolveTimeNs, "max": s.MaxResolveTimeNs} {
		ch <- prometheus.MustNewConstMetric(c.resolveTime, prometheus.GaugeValue, float64(ns)/1e9, stat)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
