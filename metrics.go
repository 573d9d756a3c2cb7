package retrieve

import (
	"sync/atomic"
	"time"
)

// Metrics tracks resolution and filtering counters using lock-free atomic
// operations. All methods are safe for concurrent use.
type Metrics struct {
	resolutionsTotal  atomic.Uint64
	resolutionsFailed atomic.Uint64

	// Timing (stored as nanoseconds)
	resolveTimeTotal atomic.Uint64
	resolveTimeMin   atomic.Uint64
	resolveTimeMax   atomic.Uint64

	// strategies[dimension][strategy]
	strategies [4][3]atomic.Uint64

	candidatesScanned atomic.Uint64
	candidatesMatched atomic.Uint64
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	// Initialize min to max uint64 so first value becomes the minimum
	m.resolveTimeMin.Store(^uint64(0))
	return m
}

// RecordResolution records a finished resolution and, on success, the plan
// it produced.
func (m *Metrics) RecordResolution(duration time.Duration, plan Plan, err error) {
	m.resolutionsTotal.Add(1)
	if err != nil {
		m.resolutionsFailed.Add(1)
	} else {
		for d, s := range plan {
			m.strategies[d][s].Add(1)
		}
	}

	ns := uint64(duration.Nanoseconds()) //nolint:gosec // durations measured with time.Since are non-negative
	m.resolveTimeTotal.Add(ns)

	for {
		old := m.resolveTimeMin.Load()
		if ns >= old || m.resolveTimeMin.CompareAndSwap(old, ns) {
			break
		}
	}
	for {
		old := m.resolveTimeMax.Load()
		if ns <= old || m.resolveTimeMax.CompareAndSwap(old, ns) {
			break
		}
	}
}

// RecordCandidate records one candidate passed through the predicate.
func (m *Metrics) RecordCandidate(matched bool) {
	m.candidatesScanned.Add(1)
	if matched {
		m.candidatesMatched.Add(1)
	}
}

// ResolutionsTotal returns the number of resolutions attempted.
func (m *Metrics) ResolutionsTotal() uint64 {
	return m.resolutionsTotal.Load()
}

// ResolutionsFailed returns the number of resolutions that failed.
func (m *Metrics) ResolutionsFailed() uint64 {
	return m.resolutionsFailed.Load()
}

// StrategyCount returns how often strategy s was chosen for dimension d.
func (m *Metrics) StrategyCount(d Dimension, s Strategy) uint64 {
	if d < 0 || int(d) >= len(m.strategies) || s < 0 || int(s) >= len(m.strategies[d]) {
		return 0
	}
	return m.strategies[d][s].Load()
}

// CandidatesScanned returns the number of candidates evaluated in memory.
func (m *Metrics) CandidatesScanned() uint64 {
	return m.candidatesScanned.Load()
}

// CandidatesMatched returns the number of candidates that passed.
func (m *Metrics) CandidatesMatched() uint64 {
	return m.candidatesMatched.Load()
}

// AverageResolveTime returns the mean resolution duration.
func (m *Metrics) AverageResolveTime() time.Duration {
	total := m.resolutionsTotal.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.resolveTimeTotal.Load() / total) //nolint:gosec // nanoseconds within int64 range
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	ResolutionsTotal  uint64 `json:"resolutions_total"`
	ResolutionsFailed uint64 `json:"resolutions_failed"`

	AvgResolveTimeNs uint64 `json:"avg_resolve_time_ns"`
	MinResolveTimeNs uint64 `json:"min_resolve_time_ns"`
	MaxResolveTimeNs uint64 `json:"max_resolve_time_ns"`

	CandidatesScanned uint64 `json:"candidates_scanned"`
	CandidatesMatched uint64 `json:"candidates_matched"`

	// Strategies maps "dimension/strategy" to its count.
	Strategies map[string]uint64 `json:"strategies"`
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	total := m.resolutionsTotal.Load()
	var avg uint64
	if total > 0 {
		avg = m.resolveTimeTotal.Load() / total
	}
	minTime := m.resolveTimeMin.Load()
	if minTime == ^uint64(0) {
		minTime = 0
	}

	strategies := make(map[string]uint64, len(Dimensions)*3)
	for _, d := range Dimensions {
		for _, s := range []Strategy{StrategyNone, StrategyPushDown, StrategyInMemory} {
			strategies[d.String()+"/"+s.String()] = m.strategies[d][s].Load()
		}
	}

	return Snapshot{
		Timestamp:         time.Now(),
		ResolutionsTotal:  total,
		ResolutionsFailed: m.resolutionsFailed.Load(),
		AvgResolveTimeNs:  avg,
		MinResolveTimeNs:  minTime,
		MaxResolveTimeNs:  m.resolveTimeMax.Load(),
		CandidatesScanned: m.candidatesScanned.Load(),
		CandidatesMatched: m.candidatesMatched.Load(),
		Strategies:        strategies,
	}
}

// Reset clears all metrics.
func (m *Metrics) Reset() {
	m.resolutionsTotal.Store(0)
	m.resolutionsFailed.Store(0)
	m.resolveTimeTotal.Store(0)
	m.resolveTimeMin.Store(^uint64(0))
	m.resolveTimeMax.Store(0)
	m.candidatesScanned.Store(0)
	m.candidatesMatched.Store(0)
	for d := range m.strategies {
		for s := range m.strategies[d] {
			m.strategies[d][s].Store(0)
		}
	}
}
