// Package metrics exposes heatpump-link operational metrics in Prometheus
// format.
//
// Recorder implements the bridge's metrics hook with counters and
// histograms on a private registry. ValueCollector turns the poller's last
// cycle into one gauge per published topic at scrape time.
//
// Usage:
//
//	rec := metrics.New()
//	rec.RegisterValues(bridge.Poller())
//	http.Handle("/metrics", rec.Handler())
package metrics
