package heatpump

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/heatpump-link/internal/infrastructure/mqtt"
)

// Poller defaults.
const (
	// defaultInterval is the fixed period between poll cycles.
	defaultInterval = 10 * time.Second

	// defaultPhaseOffset keeps polls clear of the controller's own traffic.
	defaultPhaseOffset = 5 * time.Second

	// defaultSleepSlice bounds each sleep so cancellation is prompt.
	defaultSleepSlice = 100 * time.Millisecond

	// publishQoS is used for every value publish.
	publishQoS byte = 1
)

// Requester reads one value from the device.
// *Session satisfies it.
type Requester interface {
	Request(ctx context.Context, d Descriptor) (Value, error)
}

// Publisher sends a message to the bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Result is the outcome of one registry entry in a poll cycle.
type Result struct {
	Name  string
	Topic string
	Value Value
	Err   error
}

// PollCycle is one pass over the registry.
type PollCycle struct {
	Number      int
	ScheduledAt time.Time
	StartedAt   time.Time
	Duration    time.Duration
	Results     []Result
}

// Published returns how many results were read successfully.
func (c PollCycle) Published() int {
	n := 0
	for _, r := range c.Results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns how many results carry an error.
func (c PollCycle) Failed() int {
	return len(c.Results) - c.Published()
}

// PollerOptions holds configuration for creating a poller.
type PollerOptions struct {
	// Requester reads values from the device. Required.
	Requester Requester

	// Publisher sends values to the bus. Required.
	Publisher Publisher

	// Registry lists the values polled each cycle, in publish order. Required.
	Registry *Registry

	// Topics builds the topic for each registry name.
	Topics mqtt.Topics

	// Interval is the fixed cycle period. Default: 10s.
	Interval time.Duration

	// PhaseOffset aligns the grid so (seconds + offset) mod interval == 0.
	// Default: 5s. Set NoPhaseOffset to align on the interval itself.
	PhaseOffset time.Duration

	// NoPhaseOffset disables the default phase offset.
	NoPhaseOffset bool

	// SleepSlice bounds each sleep between cycles. Default: 100ms.
	SleepSlice time.Duration

	// MaxCycles stops Run after this many cycles. Zero runs until cancelled.
	MaxCycles int

	// Clock defaults to the system clock.
	Clock Clock

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics MetricsRecorder
}

// Poller drives phase-aligned poll cycles over a registry.
//
// Thread Safety:
//   - Run must be called at most once at a time.
//   - LastCycle and CycleCount are safe to call concurrently with Run.
type Poller struct {
	requester Requester
	publisher Publisher
	registry  *Registry
	topics    mqtt.Topics
	interval  time.Duration
	offset    time.Duration
	slice     time.Duration
	maxCycles int
	clock     Clock
	metrics   MetricsRecorder

	running atomic.Bool
	cycles  atomic.Int64

	lastMu sync.RWMutex
	last   *PollCycle

	listenMu  sync.RWMutex
	listeners []func(PollCycle)

	logger   Logger
	loggerMu sync.RWMutex
}

// NewPoller creates a poller. Call Run to start polling.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Requester == nil {
		return nil, fmt.Errorf("requester is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Interval < 0 || opts.PhaseOffset < 0 || opts.SleepSlice < 0 || opts.MaxCycles < 0 {
		return nil, fmt.Errorf("poller durations and cycle bound must not be negative")
	}

	p := &Poller{
		requester: opts.Requester,
		publisher: opts.Publisher,
		registry:  opts.Registry,
		topics:    opts.Topics,
		interval:  opts.Interval,
		offset:    opts.PhaseOffset,
		slice:     opts.SleepSlice,
		maxCycles: opts.MaxCycles,
		clock:     opts.Clock,
		metrics:   metricsOrNoop(opts.Metrics),
		logger:    opts.Logger,
	}
	if p.interval == 0 {
		p.interval = defaultInterval
	}
	if p.offset == 0 && !opts.NoPhaseOffset {
		p.offset = defaultPhaseOffset
	}
	if p.slice == 0 {
		p.slice = defaultSleepSlice
	}
	if p.clock == nil {
		p.clock = SystemClock{}
	}
	return p, nil
}

// Run polls until ctx is cancelled or MaxCycles cycles have run.
//
// The first cycle starts at the next aligned instant. Each following cycle
// is scheduled exactly one interval later. A cycle that overruns its
// interval is followed immediately by the next one; grid instants that
// were missed entirely are skipped rather than replayed.
//
// Cancellation returns nil.
func (p *Poller) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("poller already running")
	}
	defer p.running.Store(false)

	next := NextAlignedInstant(p.clock.Now(), p.interval, p.offset)
	p.logInfo("poller starting",
		"first_cycle", next.Format(time.RFC3339),
		"interval", p.interval.String(),
		"values", p.registry.Len(),
		"max_cycles", p.maxCycles,
	)

	for n := 1; p.maxCycles == 0 || n <= p.maxCycles; n++ {
		if err := sleepUntil(ctx, p.clock, next, p.slice); err != nil {
			p.logInfo("poller stopped", "cycles", n-1)
			return nil
		}

		p.runCycle(ctx, n, next)

		if ctx.Err() != nil {
			p.logInfo("poller stopped", "cycles", n)
			return nil
		}
		next = p.advance(next)
	}

	p.logInfo("poller finished", "cycles", p.maxCycles)
	return nil
}

// advance returns the instant for the cycle after one scheduled at prev.
func (p *Poller) advance(prev time.Time) time.Time {
	next := prev.Add(p.interval)
	now := p.clock.Now()
	if !now.After(next) {
		return next
	}

	missed := now.Sub(next) / p.interval
	if missed > 0 {
		p.logWarn("poll cycle overran interval, skipping missed instants",
			"scheduled", next.Format(time.RFC3339),
			"skipped", int(missed),
		)
	}
	return next.Add(missed * p.interval)
}

// RunCycle performs one pass over the registry immediately.
func (p *Poller) RunCycle(ctx context.Context) PollCycle {
	now := p.clock.Now()
	return p.runCycle(ctx, int(p.cycles.Load())+1, now)
}

// runCycle requests and publishes every registry entry in order. A failed
// request or publish is logged and the cycle continues with the next entry.
// Cancellation stops the cycle before the next request.
func (p *Poller) runCycle(ctx context.Context, number int, scheduledAt time.Time) PollCycle {
	entries := p.registry.Entries()
	cycle := PollCycle{
		Number:      number,
		ScheduledAt: scheduledAt,
		StartedAt:   p.clock.Now(),
		Results:     make([]Result, 0, len(entries)),
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		cycle.Results = append(cycle.Results, p.pollOne(ctx, e))
	}

	cycle.Duration = p.clock.Now().Sub(cycle.StartedAt)
	p.cycles.Store(int64(number))
	p.storeLast(cycle)
	p.metrics.ObserveCycle(cycle.Published(), cycle.Failed(), cycle.Duration)
	p.notify(cycle)

	p.logDebug("poll cycle complete",
		"cycle", number,
		"published", cycle.Published(),
		"failed", cycle.Failed(),
		"duration_ms", cycle.Duration.Milliseconds(),
	)
	return cycle
}

// pollOne reads and publishes a single entry.
func (p *Poller) pollOne(ctx context.Context, e Entry) Result {
	res := Result{Name: e.Name, Topic: p.topics.Value(e.Name)}

	v, err := p.requester.Request(ctx, e.Descriptor)
	if err != nil {
		res.Err = err
		if !errors.Is(err, context.Canceled) {
			p.logWarn("value read failed",
				"topic", res.Topic,
				"command", e.Descriptor.Command.String(),
				"index", e.Descriptor.Index,
				"error", err,
			)
		}
		return res
	}
	res.Value = v

	if err := p.publisher.Publish(res.Topic, []byte(v.String()), publishQoS, true); err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrBusUnavailable, err)
		p.metrics.ObservePublish(false)
		p.logWarn("value publish failed", "topic", res.Topic, "error", err)
		return res
	}
	p.metrics.ObservePublish(true)
	return res
}

// OnCycle registers fn to be called with every completed cycle, on the
// poller's goroutine. fn must not block.
func (p *Poller) OnCycle(fn func(PollCycle)) {
	p.listenMu.Lock()
	p.listeners = append(p.listeners, fn)
	p.listenMu.Unlock()
}

func (p *Poller) notify(c PollCycle) {
	p.listenMu.RLock()
	listeners := p.listeners
	p.listenMu.RUnlock()

	for _, fn := range listeners {
		fn(c)
	}
}

func (p *Poller) storeLast(c PollCycle) {
	p.lastMu.Lock()
	p.last = &c
	p.lastMu.Unlock()
}

// LastCycle returns a copy of the most recent cycle.
// ok is false before the first cycle completes.
func (p *Poller) LastCycle() (cycle PollCycle, ok bool) {
	p.lastMu.RLock()
	defer p.lastMu.RUnlock()

	if p.last == nil {
		return PollCycle{}, false
	}
	cycle = *p.last
	cycle.Results = append([]Result(nil), p.last.Results...)
	return cycle, true
}

// CycleCount returns the number of the last completed cycle.
func (p *Poller) CycleCount() int {
	return int(p.cycles.Load())
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *Poller) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

func (p *Poller) logInfo(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (p *Poller) logWarn(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (p *Poller) logDebug(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
