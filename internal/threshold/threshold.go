// Package threshold evaluates pass/fail assertions such as
// "mq_read_duration:p95 < 50" against the statistics of a finished run.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/mqfire/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "mq_write_duration", "mq_read_failed"
	Aggregate string  // e.g., "p95", "p99", "avg", "max", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		result := e.evaluateOne(t, stats)
		results = append(results, result)
	}
	return results
}

func (e *Evaluator) evaluateOne(t Threshold, stats metrics.Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

// thresholdPattern matches "metric:aggregate operator value".
var thresholdPattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "mq_op_duration:p95 < 50"      (latency over every operation, in ms)
// - "mq_write_duration:avg < 20"   (latency of one operation: connect, write or read)
// - "mq_read_failed:rate < 0.01"   (failure rate of reads as decimal)
// - "mq_op_failed:count < 10"      (failure count over every operation)
// - "mq_writes:rate > 100"         (writes per second)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := thresholdPattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'mq_read_duration:p95 < 50')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if _, ok := metricKinds[metric]; !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(SupportedMetrics(), ", "))
	}

	if !isValidAggregate(aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: p50, p90, p95, p99, avg, min, max, rate, count)", aggregate)
	}

	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

type metricKind int

const (
	kindDuration metricKind = iota
	kindFailed
	kindCount
)

type metricRef struct {
	kind metricKind
	op   string // empty means every operation
}

var metricKinds = map[string]metricRef{
	"mq_op_duration":      {kindDuration, ""},
	"mq_connect_duration": {kindDuration, "connect"},
	"mq_write_duration":   {kindDuration, "write"},
	"mq_read_duration":    {kindDuration, "read"},
	"mq_op_failed":        {kindFailed, ""},
	"mq_connect_failed":   {kindFailed, "connect"},
	"mq_write_failed":     {kindFailed, "write"},
	"mq_read_failed":      {kindFailed, "read"},
	"mq_ops":              {kindCount, ""},
	"mq_connects":         {kindCount, "connect"},
	"mq_writes":           {kindCount, "write"},
	"mq_reads":            {kindCount, "read"},
}

// SupportedMetrics lists the metric names Parse accepts, sorted.
func SupportedMetrics() []string {
	names := make([]string, 0, len(metricKinds))
	for name := range metricKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isValidAggregate(aggregate string) bool {
	valid := []string{"p50", "p90", "p95", "p99", "avg", "min", "max", "rate", "count"}
	for _, v := range valid {
		if aggregate == v {
			return true
		}
	}
	return false
}

func isValidOperator(operator string) bool {
	valid := []string{"<", "<=", ">", ">=", "=="}
	for _, v := range valid {
		if operator == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, stats metrics.Stats) (float64, error) {
	ref, ok := metricKinds[t.Metric]
	if !ok {
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	op := stats.OperationStats
	if ref.op != "" {
		// An operation that never ran reads as all zeros.
		op = stats.Operations[ref.op]
	}
	switch ref.kind {
	case kindDuration:
		return extractLatencyMetric(t.Metric, t.Aggregate, op)
	case kindFailed:
		return extractFailureMetric(t.Metric, t.Aggregate, op)
	default:
		return extractCountMetric(t.Metric, t.Aggregate, op)
	}
}

func extractLatencyMetric(metric, aggregate string, op metrics.OperationStats) (float64, error) {
	switch aggregate {
	case "p50":
		return op.P50LatencyMs, nil
	case "p90":
		return op.P90LatencyMs, nil
	case "p95":
		return op.P95LatencyMs, nil
	case "p99":
		return op.P99LatencyMs, nil
	case "avg", "mean":
		return op.MeanLatencyMs, nil
	case "min":
		return op.MinLatencyMs, nil
	case "max":
		return op.MaxLatencyMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s", aggregate, metric)
	}
}

func extractFailureMetric(metric, aggregate string, op metrics.OperationStats) (float64, error) {
	switch aggregate {
	case "count":
		return float64(op.Failures), nil
	case "rate":
		if op.Total == 0 {
			return 0, nil
		}
		return float64(op.Failures) / float64(op.Total), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s (use 'count' or 'rate')", aggregate, metric)
	}
}

func extractCountMetric(metric, aggregate string, op metrics.OperationStats) (float64, error) {
	switch aggregate {
	case "count":
		return float64(op.Total), nil
	case "rate":
		return op.OpsPerSec, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for %s (use 'count' or 'rate')", aggregate, metric)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
