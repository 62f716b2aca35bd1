package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// OutcomeSuccess is the outcome label counted as a success.
const OutcomeSuccess = "success"

// OutcomeCancelled marks an operation the engine cut short. It counts as
// neither a success nor a failure.
const OutcomeCancelled = "cancelled"

// Recorder receives one observation per completed queue operation.
type Recorder interface {
	RecordOperation(op, outcome string, latency time.Duration, bytes int)
}

// Multi fans observations out to several recorders.
type Multi []Recorder

func (m Multi) RecordOperation(op, outcome string, latency time.Duration, bytes int) {
	for _, r := range m {
		if r != nil {
			r.RecordOperation(op, outcome, latency, bytes)
		}
	}
}

// Discard drops every observation.
type Discard struct{}

func (Discard) RecordOperation(string, string, time.Duration, int) {}

type series struct {
	hist      *hdrhistogram.Histogram
	successes int64
	failures  int64
	cancelled int64
	bytes     int64
	min       time.Duration
	max       time.Duration
	sum       time.Duration
	outcomes  map[string]int64
}

func newSeries() *series {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	return &series{
		hist:     hdrhistogram.New(1, 60_000_000, 3),
		outcomes: make(map[string]int64),
	}
}

func (s *series) record(outcome string, latency time.Duration, bytes int) {
	s.outcomes[outcome]++
	if outcome == OutcomeCancelled {
		s.cancelled++
		return
	}
	if latency > 0 {
		us := latency.Microseconds()
		if us < s.hist.LowestTrackableValue() {
			us = s.hist.LowestTrackableValue()
		}
		if us > s.hist.HighestTrackableValue() {
			us = s.hist.HighestTrackableValue()
		}
		_ = s.hist.RecordValue(us)
	}
	s.sum += latency
	if s.min == 0 || latency < s.min {
		s.min = latency
	}
	if latency > s.max {
		s.max = latency
	}
	s.bytes += int64(bytes)
	if outcome == OutcomeSuccess {
		s.successes++
	} else {
		s.failures++
	}
}

func (s *series) stats(elapsed time.Duration) OperationStats {
	completed := s.successes + s.failures
	total := completed + s.cancelled
	st := OperationStats{
		Total:      total,
		Successes:  s.successes,
		Failures:   s.failures,
		Cancelled:  s.cancelled,
		Bytes:      s.bytes,
		MinLatency: s.min,
		MaxLatency: s.max,
	}
	if completed > 0 {
		st.MeanLatency = time.Duration(int64(s.sum) / completed)
	}
	if s.hist.TotalCount() > 0 {
		st.P50Latency = time.Duration(s.hist.ValueAtQuantile(50)) * time.Microsecond
		st.P90Latency = time.Duration(s.hist.ValueAtQuantile(90)) * time.Microsecond
		st.P95Latency = time.Duration(s.hist.ValueAtQuantile(95)) * time.Microsecond
		st.P99Latency = time.Duration(s.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	if elapsed > 0 && total > 0 {
		st.OpsPerSec = float64(total) / elapsed.Seconds()
	}
	if len(s.outcomes) > 0 {
		st.Outcomes = make(map[string]int64, len(s.outcomes))
		for k, v := range s.outcomes {
			st.Outcomes[k] = v
		}
	}
	st.fillMillis()
	return st
}

// Collector aggregates operation latencies per operation and overall.
type Collector struct {
	mu      sync.Mutex
	overall *series
	byOp    map[string]*series
	start   time.Time
}

// OperationStats is the aggregate for one operation kind, or for all.
type OperationStats struct {
	Total       int64            `json:"total"`
	Successes   int64            `json:"successes"`
	Failures    int64            `json:"failures"`
	Cancelled   int64            `json:"cancelled"`
	Bytes       int64            `json:"bytes"`
	OpsPerSec   float64          `json:"ops_per_sec"`
	Outcomes    map[string]int64 `json:"outcomes,omitempty"`
	MinLatency  time.Duration    `json:"-"`
	MaxLatency  time.Duration    `json:"-"`
	MeanLatency time.Duration    `json:"-"`
	P50Latency  time.Duration    `json:"-"`
	P90Latency  time.Duration    `json:"-"`
	P95Latency  time.Duration    `json:"-"`
	P99Latency  time.Duration    `json:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
}

func (s *OperationStats) fillMillis() {
	s.MinLatencyMs = millis(s.MinLatency)
	s.MaxLatencyMs = millis(s.MaxLatency)
	s.MeanLatencyMs = millis(s.MeanLatency)
	s.P50LatencyMs = millis(s.P50Latency)
	s.P90LatencyMs = millis(s.P90Latency)
	s.P95LatencyMs = millis(s.P95Latency)
	s.P99LatencyMs = millis(s.P99Latency)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Stats represents aggregated metrics for a run.
type Stats struct {
	OperationStats
	Duration   time.Duration             `json:"-"`
	DurationMs float64                   `json:"duration_ms"`
	Operations map[string]OperationStats `json:"operations,omitempty"`
}

func NewCollector() *Collector {
	return &Collector{
		overall: newSeries(),
		byOp:    make(map[string]*series),
		start:   time.Now(),
	}
}

// RecordOperation records a single operation's latency and outcome.
func (c *Collector) RecordOperation(op, outcome string, latency time.Duration, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.overall.record(outcome, latency, bytes)
	s, ok := c.byOp[op]
	if !ok {
		s = newSeries()
		c.byOp[op] = s
	}
	s.record(outcome, latency, bytes)
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		OperationStats: c.overall.stats(elapsed),
		Duration:       elapsed,
		DurationMs:     millis(elapsed),
	}
	if len(c.byOp) > 0 {
		stats.Operations = make(map[string]OperationStats, len(c.byOp))
		for op, s := range c.byOp {
			stats.Operations[op] = s.stats(elapsed)
		}
	}
	return stats
}

// Start resets the collector's clock to now. Call it when the run begins.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Elapsed returns the time since the collector was created or started.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// OperationNames returns the recorded operation names in sorted order.
func (s Stats) OperationNames() []string {
	names := make([]string, 0, len(s.Operations))
	for op := range s.Operations {
		names = append(names, op)
	}
	sort.Strings(names)
	return names
}
