// Package output renders run statistics for the terminal and as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/torosent/mqfire/internal/metrics"
	"github.com/torosent/mqfire/internal/threshold"
)

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, stats metrics.Stats) {
	fmt.Fprintln(w, "\n--- Load Test Results ---")
	fmt.Fprintf(w, "Total Operations:  %d\n", stats.Total)
	fmt.Fprintf(w, "Successful:        %d\n", stats.Successes)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failures)
	if stats.Cancelled > 0 {
		fmt.Fprintf(w, "Cancelled:         %d\n", stats.Cancelled)
	}
	fmt.Fprintf(w, "Bytes:             %d\n", stats.Bytes)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Operations/sec:    %.2f\n", stats.OpsPerSec)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P95:             %s\n", stats.P95Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	if names := stats.OperationNames(); len(names) > 0 {
		fmt.Fprintln(w, "\nOperation Breakdown:")
		for _, name := range names {
			op := stats.Operations[name]
			fmt.Fprintf(
				w,
				"  - %s: total=%d, successes=%d, failures=%d, ops/s=%.2f, p95=%s, p99=%s\n",
				name,
				op.Total,
				op.Successes,
				op.Failures,
				op.OpsPerSec,
				op.P95Latency,
				op.P99Latency,
			)
		}
	}

	if buckets := metrics.FailureBuckets(stats); len(buckets) > 0 {
		fmt.Fprintln(w, "\nFailures:")
		for _, row := range buckets {
			fmt.Fprintf(w, "  %s %s: %d\n", row.Operation, metrics.OutcomeLabel(row.Outcome), row.Count)
		}
	}
}

// PrintThresholds outputs one line per evaluated threshold and a verdict.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintln(w, "\nThresholds:")
	passed := 0
	for _, r := range results {
		fmt.Fprintf(w, "  %s\n", r.Message)
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "  %d/%d passed\n", passed, len(results))
}

type jsonThreshold struct {
	Threshold string  `json:"threshold"`
	Actual    float64 `json:"actual"`
	Pass      bool    `json:"pass"`
}

type jsonReport struct {
	metrics.Stats
	Thresholds []jsonThreshold `json:"thresholds,omitempty"`
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, stats metrics.Stats, results []threshold.Result) error {
	report := jsonReport{Stats: stats}
	for _, r := range results {
		report.Thresholds = append(report.Thresholds, jsonThreshold{
			Threshold: r.Threshold.Raw,
			Actual:    r.Actual,
			Pass:      r.Pass,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
