package heatpump

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Session defaults.
const (
	// defaultResponseTimeout bounds the wait for a response terminator.
	defaultResponseTimeout = 2 * time.Second

	// defaultMaxResponseBytes bounds a response before the line is
	// considered stuck. Responses are a handful of digits.
	defaultMaxResponseBytes = 32

	// readPollInterval is the longest single blocking read, so cancellation
	// is noticed while waiting for a slow device.
	readPollInterval = 100 * time.Millisecond
)

// Port is the serial line used by a Session.
// go.bug.st/serial's Port satisfies it; tests use a scripted fake.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds each Read. A Read that times out returns 0, nil.
	SetReadTimeout(t time.Duration) error

	// ResetInputBuffer discards unread input.
	ResetInputBuffer() error
}

// SessionConfig holds Session settings.
type SessionConfig struct {
	// ResponseTimeout bounds the wait for the terminator.
	// Default: 2 seconds.
	ResponseTimeout time.Duration

	// MaxResponseBytes bounds the response length.
	// Default: 32.
	MaxResponseBytes int

	// Metrics is optional.
	Metrics MetricsRecorder
}

// SessionStats holds operational statistics.
type SessionStats struct {
	Requests    uint64
	Failures    uint64
	Timeouts    uint64
	Malformed   uint64
	LastSuccess time.Time
}

// Session owns the serial line and serialises request/response pairs on it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - At most one request is on the line at a time; concurrent callers
//     queue on an internal mutex.
type Session struct {
	port    Port
	cfg     SessionConfig
	metrics MetricsRecorder

	// mu is held for the whole write-then-read exchange.
	mu     sync.Mutex
	closed bool

	requests    atomic.Uint64
	failures    atomic.Uint64
	timeouts    atomic.Uint64
	malformed   atomic.Uint64
	lastSuccess atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession creates a session on an open port. The session takes
// ownership of the port and closes it in Close.
func NewSession(port Port, cfg SessionConfig) (*Session, error) {
	if port == nil {
		return nil, fmt.Errorf("serial port is required")
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}

	return &Session{
		port:    port,
		cfg:     cfg,
		metrics: metricsOrNoop(cfg.Metrics),
	}, nil
}

// Request sends d to the controller and returns the decoded response.
//
// Counter readings are remapped into [0,65535]. A missing terminator within
// the response timeout returns ErrDeviceTimeout; an overlong or unparseable
// response returns ErrMalformedResponse. Either way the line is released
// and the next request starts clean.
func (s *Session) Request(ctx context.Context, d Descriptor) (Value, error) {
	req, err := Encode(d)
	if err != nil {
		return Value{}, err
	}

	start := time.Now()
	v, err := s.exchange(ctx, d, req)
	s.record(d, err, time.Since(start))
	return v, err
}

// exchange performs one locked write/read/decode.
func (s *Session) exchange(ctx context.Context, d Descriptor, req []byte) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Value{}, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	if err := s.port.ResetInputBuffer(); err != nil {
		s.logDebug("input reset failed", "error", err)
	}

	if _, err := s.port.Write(req); err != nil {
		return Value{}, fmt.Errorf("heatpump: write %s: %w", d, err)
	}

	raw, err := s.readResponse(ctx)
	if err != nil {
		// Drop anything the device sends late so it cannot be taken as
		// the next response.
		if resetErr := s.port.ResetInputBuffer(); resetErr != nil {
			s.logDebug("input reset failed", "error", resetErr)
		}
		return Value{}, fmt.Errorf("%s: %w", d, err)
	}

	v, err := Decode(raw, d.Command)
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", d, err)
	}

	if d.Command == CommandCounter {
		n, err := unwrapCounter(v.Int)
		if err != nil {
			return Value{}, fmt.Errorf("%s: %w", d, err)
		}
		v = IntegerValue(n)
	}

	return v, nil
}

// readResponse reads one byte at a time until the terminator, the deadline,
// or the byte bound. The terminator is not included in the result.
func (s *Session) readResponse(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(s.cfg.ResponseTimeout)
	buf := make([]byte, 0, s.cfg.MaxResponseBytes)
	one := make([]byte, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: no terminator after %v (%d bytes read)", ErrDeviceTimeout, s.cfg.ResponseTimeout, len(buf))
		}
		if err := s.port.SetReadTimeout(min(remaining, readPollInterval)); err != nil {
			return nil, fmt.Errorf("heatpump: set read timeout: %w", err)
		}

		n, err := s.port.Read(one)
		if err != nil {
			return nil, fmt.Errorf("heatpump: read: %w", err)
		}
		if n == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}

		if one[0] == Terminator {
			return buf, nil
		}
		buf = append(buf, one[0])
		if len(buf) >= s.cfg.MaxResponseBytes {
			return nil, fmt.Errorf("%w: no terminator within %d bytes", ErrMalformedResponse, s.cfg.MaxResponseBytes)
		}
	}
}

// record updates statistics and metrics for one request.
func (s *Session) record(d Descriptor, err error, elapsed time.Duration) {
	s.requests.Add(1)
	result := requestResult(err)
	switch result {
	case ResultOK:
		s.lastSuccess.Store(time.Now().UnixNano())
	case ResultTimeout:
		s.failures.Add(1)
		s.timeouts.Add(1)
	case ResultMalformed:
		s.failures.Add(1)
		s.malformed.Add(1)
	default:
		s.failures.Add(1)
	}
	s.metrics.ObserveRequest(d.Command.String(), result, elapsed)
}

// Stats returns a snapshot of session statistics.
func (s *Session) Stats() SessionStats {
	stats := SessionStats{
		Requests:  s.requests.Load(),
		Failures:  s.failures.Load(),
		Timeouts:  s.timeouts.Load(),
		Malformed: s.malformed.Load(),
	}
	if ns := s.lastSuccess.Load(); ns != 0 {
		stats.LastSuccess = time.Unix(0, ns)
	}
	return stats
}

// Close waits for any in-flight request and closes the port.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.port.Close(); err != nil {
		return fmt.Errorf("heatpump: close port: %w", err)
	}
	return nil
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// logDebug logs a debug message if logger is set.
func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
