// Package metrics aggregates queue operation latencies and outcomes for a
// load test run.
//
// Every completed connect, write, or read is reported once through a
// [Recorder]:
//
//	collector := metrics.NewCollector()
//	prom := metrics.NewPrometheus()
//	rec := metrics.Multi{collector, prom}
//
//	rec.RecordOperation("write", "success", latency, len(payload))
//
//	stats := collector.Stats(elapsed)
//
// # Collector
//
// [Collector] keeps an HDR histogram overall and per operation, from which
// [Stats] reports min, max, mean and P50/P90/P95/P99 latencies, throughput,
// bytes and the count of each outcome. It is safe for concurrent use.
//
// # Prometheus
//
// [Prometheus] exposes the same observations as a histogram and counters on
// a private registry; mount [Prometheus.Handler] on /metrics to scrape a run
// while it is in progress.
package metrics
