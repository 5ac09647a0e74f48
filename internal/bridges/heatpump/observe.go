package heatpump

import (
	"errors"
	"time"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MetricsRecorder receives operational measurements.
// It is satisfied by *metrics.Recorder; a nil recorder disables metrics.
type MetricsRecorder interface {
	// ObserveRequest records one device request by command name and result.
	ObserveRequest(command, result string, elapsed time.Duration)

	// ObserveCycle records one completed poll cycle.
	ObserveCycle(published, failed int, elapsed time.Duration)

	// ObservePublish records one publish attempt.
	ObservePublish(ok bool)

	// ObserveSetRequest records an inbound parameter-set request.
	ObserveSetRequest(known bool)
}

// Request results reported to MetricsRecorder.
const (
	ResultOK        = "ok"
	ResultTimeout   = "timeout"
	ResultMalformed = "malformed"
	ResultError     = "error"
)

// requestResult classifies a request error for metrics.
func requestResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrDeviceTimeout):
		return ResultTimeout
	case errors.Is(err, ErrMalformedResponse):
		return ResultMalformed
	default:
		return ResultError
	}
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, string, time.Duration) {}
func (noopMetrics) ObserveCycle(int, int, time.Duration)         {}
func (noopMetrics) ObservePublish(bool)                          {}
func (noopMetrics) ObserveSetRequest(bool)                       {}

// metricsOrNoop returns m, or a recorder that discards everything.
func metricsOrNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
