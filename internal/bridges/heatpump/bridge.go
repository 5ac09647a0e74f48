package heatpump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/heatpump-link/internal/infrastructure/mqtt"
)

// subscribeQoS is used for the parameter-set subscription.
const subscribeQoS byte = 1

// Device is the request side of a Session plus ownership of the line.
// *Session satisfies it.
type Device interface {
	Requester
	Close() error
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// ConfigMessage is the retained snapshot published on $implementation/config.
type ConfigMessage struct {
	Settings map[string]any `json:"settings"`
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Device is the open device session. The bridge closes it when Run returns.
	Device Device

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Values lists the values polled each cycle. Default: DefaultValues().
	Values *Registry

	// Parameters lists the configuration parameters. Default: DefaultParameters().
	Parameters *Registry

	// Topics builds every topic under the configured prefix.
	Topics mqtt.Topics

	// Interval, PhaseOffset, NoPhaseOffset, SleepSlice and MaxCycles are
	// passed to the poller.
	Interval      time.Duration
	PhaseOffset   time.Duration
	NoPhaseOffset bool
	SleepSlice    time.Duration
	MaxCycles     int

	// QuietWindow is waited out before the first request.
	QuietWindow QuietWindow

	// Clock defaults to the system clock.
	Clock Clock

	// Logger is optional structured logger.
	Logger Logger

	// Metrics is optional.
	Metrics MetricsRecorder
}

// Bridge connects a device session to MQTT.
//
// Run publishes the parameter snapshot, subscribes to parameter-set
// requests and polls values until cancelled.
//
// Thread Safety: All methods are safe for concurrent use. Run must only be
// called once.
type Bridge struct {
	device     Device
	mqtt       MQTTClient
	values     *Registry
	parameters *Registry
	topics     mqtt.Topics
	quiet      QuietWindow
	slice      time.Duration
	clock      Clock
	metrics    MetricsRecorder
	poller     *Poller

	runOnce sync.Once

	setMu       sync.Mutex
	setRequests int

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Run to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("device session is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Values == nil {
		opts.Values = DefaultValues()
	}
	if opts.Parameters == nil {
		opts.Parameters = DefaultParameters()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}

	poller, err := NewPoller(PollerOptions{
		Requester:     opts.Device,
		Publisher:     opts.MQTTClient,
		Registry:      opts.Values,
		Topics:        opts.Topics,
		Interval:      opts.Interval,
		PhaseOffset:   opts.PhaseOffset,
		NoPhaseOffset: opts.NoPhaseOffset,
		SleepSlice:    opts.SleepSlice,
		MaxCycles:     opts.MaxCycles,
		Clock:         opts.Clock,
		Logger:        opts.Logger,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	return &Bridge{
		device:     opts.Device,
		mqtt:       opts.MQTTClient,
		values:     opts.Values,
		parameters: opts.Parameters,
		topics:     opts.Topics,
		quiet:      opts.QuietWindow,
		slice:      poller.slice,
		clock:      opts.Clock,
		metrics:    metricsOrNoop(opts.Metrics),
		poller:     poller,
		logger:     opts.Logger,
	}, nil
}

// Poller returns the bridge's poller for status reporting.
func (b *Bridge) Poller() *Poller {
	return b.poller
}

// Run executes the bridge until ctx is cancelled or the poller's cycle
// bound is reached. On return the set subscription is removed and the
// device session is closed.
func (b *Bridge) Run(ctx context.Context) error {
	err := fmt.Errorf("bridge already run")
	b.runOnce.Do(func() {
		err = b.run(ctx)
	})
	return err
}

func (b *Bridge) run(ctx context.Context) (err error) {
	subscribed := false
	defer func() {
		if subscribed {
			if uerr := b.mqtt.Unsubscribe(b.topics.ParameterSetWildcard()); uerr != nil {
				b.logWarn("unsubscribe failed", "topic", b.topics.ParameterSetWildcard(), "error", uerr)
			}
		}
		if cerr := b.device.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := b.waitQuietWindow(ctx); err != nil {
		return nil
	}

	b.publishConfig(ctx)
	if ctx.Err() != nil {
		return nil
	}

	topic := b.topics.ParameterSetWildcard()
	switch serr := b.mqtt.Subscribe(topic, subscribeQoS, b.handleSetMessage); {
	case serr == nil:
		subscribed = true
		b.logInfo("subscribed to parameter set requests", "topic", topic)
	case errors.Is(serr, mqtt.ErrNotConnected):
		// The client keeps the subscription and makes it on reconnect.
		subscribed = true
		b.logInfo("parameter set subscription deferred until reconnect", "topic", topic)
	default:
		b.logWarn("parameter set subscription failed", "topic", topic, "error", serr)
	}

	return b.poller.Run(ctx)
}

// waitQuietWindow delays until the controller's own communication slot
// has passed.
func (b *Bridge) waitQuietWindow(ctx context.Context) error {
	if delay := b.quiet.Delay(b.clock.Now()); delay > 0 {
		b.logInfo("waiting for device quiet window", "delay", delay.String())
	}
	return b.quiet.Wait(ctx, b.clock, b.slice)
}

// ReadParameters reads every parameter in registry order. Failed reads are
// logged and omitted.
func (b *Bridge) ReadParameters(ctx context.Context) map[string]Value {
	settings := make(map[string]Value, b.parameters.Len())
	for _, e := range b.parameters.Entries() {
		if ctx.Err() != nil {
			break
		}
		v, err := b.device.Request(ctx, e.Descriptor)
		if err != nil {
			b.logWarn("parameter read failed", "parameter", e.Name, "error", err)
			continue
		}
		settings[e.Name] = v
	}
	return settings
}

// publishConfig publishes the retained parameter snapshot.
func (b *Bridge) publishConfig(ctx context.Context) {
	values := b.ReadParameters(ctx)
	if ctx.Err() != nil {
		return
	}

	msg := ConfigMessage{Settings: make(map[string]any, len(values))}
	for name, v := range values {
		msg.Settings[name] = v.Number()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal config", err)
		return
	}

	topic := b.topics.ImplementationConfig()
	if err := b.mqtt.Publish(topic, payload, publishQoS, true); err != nil {
		b.metrics.ObservePublish(false)
		b.logWarn("config publish failed", "topic", topic, "error", fmt.Errorf("%w: %w", ErrBusUnavailable, err))
		return
	}
	b.metrics.ObservePublish(true)
	b.logInfo("published parameter snapshot", "topic", topic, "parameters", len(values))
}

// handleSetMessage receives parameter-set requests. The parameter is
// resolved and the request logged; writing it to the device is not
// supported by the controller protocol handled here.
func (b *Bridge) handleSetMessage(topic string, payload []byte) {
	name, ok := b.topics.ParseParameterSet(topic)
	if !ok {
		b.logWarn("ignoring message on unexpected topic", "topic", topic)
		return
	}

	d, err := b.parameters.Resolve(name)
	if err != nil {
		b.metrics.ObserveSetRequest(false)
		b.logWarn("parameter set request for unknown parameter", "parameter", name, "error", err)
		return
	}

	b.setMu.Lock()
	b.setRequests++
	b.setMu.Unlock()

	b.metrics.ObserveSetRequest(true)
	b.logInfo("parameter set request received, not applied",
		"parameter", name,
		"descriptor", d.String(),
		"value", string(payload),
	)
}

// SetRequestCount returns the number of accepted parameter-set requests.
func (b *Bridge) SetRequestCount() int {
	b.setMu.Lock()
	defer b.setMu.Unlock()
	return b.setRequests
}

// SetLogger sets the logger for the bridge and its poller.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.poller.SetLogger(logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
