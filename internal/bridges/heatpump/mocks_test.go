package heatpump

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakePort is a scripted serial line. respond maps each written request to
// the bytes the device sends back.
type fakePort struct {
	mu          sync.Mutex
	respond     func(req string, call int) string
	calls       int
	pending     []byte
	written     []string
	readTimeout time.Duration
	resets      int
	closed      bool

	// busy is set from Write until the terminator has been read. A write or
	// reset while busy sets interleave.
	busy       bool
	interleave bool
}

func newFakePort(respond func(req string, call int) string) *fakePort {
	return &fakePort{respond: respond, readTimeout: time.Millisecond}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.busy {
		p.interleave = true
	}
	p.calls++
	req := string(b)
	p.written = append(p.written, req)
	p.pending = append(p.pending, p.respond(req, p.calls)...)
	p.busy = true
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		timeout := p.readTimeout
		p.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	defer p.mu.Unlock()
	b[0] = p.pending[0]
	p.pending = p.pending[1:]
	if b[0] == Terminator {
		p.busy = false
	}
	return 1, nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.readTimeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	if p.busy {
		p.interleave = true
	}
	p.pending = nil
	p.busy = false
	p.resets++
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

// fakeClock advances its time by d on every After call.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	onAfter func()
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	hook := c.onAfter
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// mockDevice implements Device. Unlisted descriptors read as their index.
type mockDevice struct {
	mu       sync.Mutex
	clock    Clock
	values   map[Descriptor]Value
	failures map[Descriptor]error
	onReq    func(d Descriptor)
	requests []Descriptor
	times    []time.Time
	closed   int
}

func newMockDevice(clock Clock) *mockDevice {
	return &mockDevice{
		clock:    clock,
		values:   make(map[Descriptor]Value),
		failures: make(map[Descriptor]error),
	}
}

func (m *mockDevice) Request(ctx context.Context, d Descriptor) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}

	m.mu.Lock()
	m.requests = append(m.requests, d)
	if m.clock != nil {
		m.times = append(m.times, m.clock.Now())
	}
	hook := m.onReq
	err := m.failures[d]
	v, ok := m.values[d]
	m.mu.Unlock()

	if hook != nil {
		hook(d)
	}
	if err != nil {
		return Value{}, err
	}
	if !ok {
		v = FloatValue(float64(d.Index))
	}
	return v, nil
}

func (m *mockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *mockDevice) Requests() []Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Descriptor(nil), m.requests...)
}

func (m *mockDevice) Times() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.times...)
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu             sync.Mutex
	clock          Clock
	published      []mockPublish
	subscriptions  []mockSubscription
	unsubscribed   []string
	connected      bool
	handlers       map[string]func(topic string, payload []byte)
	publishErr     error
	publishErrFrom map[string]error
	subscribeErr   error
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
	At       time.Time
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected:      true,
		handlers:       make(map[string]func(topic string, payload []byte)),
		publishErrFrom: make(map[string]error),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.publishErrFrom[topic]; err != nil {
		return err
	}
	if m.publishErr != nil {
		return m.publishErr
	}
	p := mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained}
	if m.clock != nil {
		p.At = m.clock.Now()
	}
	m.published = append(m.published, p)
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return m.subscribeErr
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, topic)
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockSubscription(nil), m.subscriptions...)
}

func (m *MockMQTTClient) GetUnsubscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unsubscribed...)
}

// recordingMetrics implements MetricsRecorder for testing.
type recordingMetrics struct {
	mu          sync.Mutex
	requests    map[string]int
	cycles      int
	publishOK   int
	publishFail int
	setKnown    int
	setUnknown  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{requests: make(map[string]int)}
}

func (r *recordingMetrics) ObserveRequest(command, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[command+"/"+result]++
}

func (r *recordingMetrics) ObserveCycle(int, int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles++
}

func (r *recordingMetrics) ObservePublish(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.publishOK++
	} else {
		r.publishFail++
	}
}

func (r *recordingMetrics) ObserveSetRequest(known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if known {
		r.setKnown++
	} else {
		r.setUnknown++
	}
}
