package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemStatus represents the complete status response.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	Serial        SerialMetrics  `json:"serial"`
	Poller        PollerMetrics  `json:"poller"`
	StreamClients int            `json:"stream_clients"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// SerialMetrics contains device session statistics.
type SerialMetrics struct {
	Requests    uint64 `json:"requests"`
	Failures    uint64 `json:"failures"`
	Timeouts    uint64 `json:"timeouts"`
	Malformed   uint64 `json:"malformed"`
	LastSuccess string `json:"last_success,omitempty"`
}

// PollerMetrics contains poll scheduler statistics.
type PollerMetrics struct {
	Cycles          int    `json:"cycles"`
	LastScheduledAt string `json:"last_scheduled_at,omitempty"`
	LastDurationMS  int64  `json:"last_duration_ms"`
	LastPublished   int    `json:"last_published"`
	LastFailed      int    `json:"last_failed"`
}

// handleStatus returns runtime, serial and poller statistics.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.session.Stats()
	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		StreamClients: s.stream.count(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Serial: SerialMetrics{
			Requests:  stats.Requests,
			Failures:  stats.Failures,
			Timeouts:  stats.Timeouts,
			Malformed: stats.Malformed,
		},
		Poller: PollerMetrics{
			Cycles: s.poller.CycleCount(),
		},
	}
	if !stats.LastSuccess.IsZero() {
		status.Serial.LastSuccess = stats.LastSuccess.UTC().Format(time.RFC3339)
	}

	if cycle, ok := s.poller.LastCycle(); ok {
		status.Poller.LastScheduledAt = cycle.ScheduledAt.UTC().Format(time.RFC3339)
		status.Poller.LastDurationMS = cycle.Duration.Milliseconds()
		status.Poller.LastPublished = cycle.Published()
		status.Poller.LastFailed = cycle.Failed()
	}

	writeJSON(w, http.StatusOK, status)
}
