package heatpump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/heatpump-link/internal/infrastructure/mqtt"
)

func createTestBridge(t *testing.T, opts BridgeOptions) *Bridge {
	t.Helper()
	b, err := NewBridge(opts)
	if err != nil {
		t.Fatalf("NewBridge() error: %v", err)
	}
	return b
}

func TestNewBridge(t *testing.T) {
	b := createTestBridge(t, BridgeOptions{
		Device:     newMockDevice(nil),
		MQTTClient: NewMockMQTTClient(),
	})

	if b.values.Len() != 19 || b.parameters.Len() != 18 {
		t.Errorf("default registries = %d/%d, want 19/18", b.values.Len(), b.parameters.Len())
	}
	if b.Poller() == nil {
		t.Error("NewBridge() did not create poller")
	}
}

func TestNewBridgeMissingCollaborators(t *testing.T) {
	if _, err := NewBridge(BridgeOptions{MQTTClient: NewMockMQTTClient()}); err == nil {
		t.Error("NewBridge() expected error for nil device")
	}
	if _, err := NewBridge(BridgeOptions{Device: newMockDevice(nil)}); err == nil {
		t.Error("NewBridge() expected error for nil MQTT client")
	}
}

func TestBridgeRun(t *testing.T) {
	clock := newFakeClock(at(0, 30, 0))
	dev := newMockDevice(clock)
	dev.values[Indexed(CommandParameter, 0)] = FloatValue(21.5)
	dev.failures[Indexed(CommandParameter, 5)] = errors.Join(ErrDeviceTimeout, errors.New("no terminator"))
	client := NewMockMQTTClient()

	b := createTestBridge(t, BridgeOptions{
		Device:      dev,
		MQTTClient:  client,
		MaxCycles:   1,
		Clock:       clock,
		QuietWindow: QuietWindow{Lead: 2 * time.Second, Width: 5 * time.Second},
	})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	pubs := client.GetPublished()
	if len(pubs) != 1+19 {
		t.Fatalf("published %d messages, want 20", len(pubs))
	}

	cfgMsg := pubs[0]
	if cfgMsg.Topic != "$implementation/config" || !cfgMsg.Retained || cfgMsg.QoS != 1 {
		t.Errorf("config publish = %s qos=%d retained=%v", cfgMsg.Topic, cfgMsg.QoS, cfgMsg.Retained)
	}
	var parsed struct {
		Settings map[string]float64 `json:"settings"`
	}
	if err := json.Unmarshal(cfgMsg.Payload, &parsed); err != nil {
		t.Fatalf("config payload is not JSON: %v", err)
	}
	if len(parsed.Settings) != 17 {
		t.Errorf("settings has %d entries, want 17", len(parsed.Settings))
	}
	if parsed.Settings["sp_temp"] != 21.5 {
		t.Errorf("settings.sp_temp = %v, want 21.5", parsed.Settings["sp_temp"])
	}
	if _, ok := parsed.Settings["house_temp_k"]; ok {
		t.Error("failed parameter read should be omitted from settings")
	}

	for i, e := range DefaultValues().Entries() {
		if pubs[i+1].Topic != e.Name {
			t.Errorf("value publish %d = %s, want %s", i, pubs[i+1].Topic, e.Name)
		}
	}

	subs := client.GetSubscriptions()
	if len(subs) != 1 || subs[0].Topic != "heatpump/parameter/+/set" {
		t.Errorf("subscriptions = %+v, want heatpump/parameter/+/set", subs)
	}
	if unsub := client.GetUnsubscribed(); len(unsub) != 1 || unsub[0] != "heatpump/parameter/+/set" {
		t.Errorf("unsubscribed = %v, want heatpump/parameter/+/set", unsub)
	}
	if dev.closed != 1 {
		t.Errorf("device closed %d times, want 1", dev.closed)
	}
}

func TestBridgeRun_WaitsOutQuietWindow(t *testing.T) {
	clock := newFakeClock(at(0, 58, 500_000_000))
	dev := newMockDevice(clock)

	b := createTestBridge(t, BridgeOptions{
		Device:      dev,
		MQTTClient:  NewMockMQTTClient(),
		MaxCycles:   1,
		Clock:       clock,
		QuietWindow: QuietWindow{Lead: 2 * time.Second, Width: 5 * time.Second},
	})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	times := dev.Times()
	if len(times) == 0 {
		t.Fatal("no requests issued")
	}
	if times[0].Before(at(1, 3, 0)) {
		t.Errorf("first request at %s, inside the quiet window", times[0].Format("15:04:05.000"))
	}
}

func TestBridgeRun_Prefix(t *testing.T) {
	clock := newFakeClock(at(0, 30, 0))
	client := NewMockMQTTClient()

	b := createTestBridge(t, BridgeOptions{
		Device:     newMockDevice(clock),
		MQTTClient: client,
		Topics:     mqtt.Topics{Prefix: "home/"},
		MaxCycles:  1,
		Clock:      clock,
	})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	pubs := client.GetPublished()
	if pubs[0].Topic != "home/$implementation/config" {
		t.Errorf("config topic = %s, want home/$implementation/config", pubs[0].Topic)
	}
	if pubs[1].Topic != "home/house/actual_temp" {
		t.Errorf("first value topic = %s, want home/house/actual_temp", pubs[1].Topic)
	}
	if subs := client.GetSubscriptions(); subs[0].Topic != "home/heatpump/parameter/+/set" {
		t.Errorf("subscription = %s, want home/heatpump/parameter/+/set", subs[0].Topic)
	}
}

func TestBridgeRun_ConfigPublishFailureContinues(t *testing.T) {
	clock := newFakeClock(at(0, 30, 0))
	client := NewMockMQTTClient()
	client.publishErrFrom["$implementation/config"] = errors.New("not connected")

	b := createTestBridge(t, BridgeOptions{
		Device:     newMockDevice(clock),
		MQTTClient: client,
		MaxCycles:  1,
		Clock:      clock,
	})

	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := len(client.GetPublished()); got != 19 {
		t.Errorf("published %d values, want 19", got)
	}
}

func TestBridgeRun_SubscribeWhileDisconnected(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantUnsub bool
	}{
		{"deferred until reconnect", mqtt.ErrNotConnected, true},
		{"wrapped not connected", fmt.Errorf("subscribe: %w", mqtt.ErrNotConnected), true},
		{"hard failure", errors.New("subscribe rejected"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock(at(0, 30, 0))
			client := NewMockMQTTClient()
			client.subscribeErr = tt.err

			b := createTestBridge(t, BridgeOptions{
				Device:     newMockDevice(clock),
				MQTTClient: client,
				MaxCycles:  1,
				Clock:      clock,
			})

			if err := b.Run(context.Background()); err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if got := len(client.GetPublished()); got != 1+19 {
				t.Errorf("published %d messages, want 20", got)
			}
			unsub := client.GetUnsubscribed()
			if tt.wantUnsub && (len(unsub) != 1 || unsub[0] != "heatpump/parameter/+/set") {
				t.Errorf("unsubscribed = %v, want heatpump/parameter/+/set", unsub)
			}
			if !tt.wantUnsub && len(unsub) != 0 {
				t.Errorf("unsubscribed = %v, want none", unsub)
			}
		})
	}
}

func TestBridgeRun_Cancelled(t *testing.T) {
	dev := newMockDevice(nil)
	client := NewMockMQTTClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := createTestBridge(t, BridgeOptions{Device: dev, MQTTClient: client})

	if err := b.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(client.GetPublished()) != 0 || len(client.GetSubscriptions()) != 0 {
		t.Error("cancelled bridge should not publish or subscribe")
	}
	if dev.closed != 1 {
		t.Errorf("device closed %d times, want 1", dev.closed)
	}

	if err := b.Run(context.Background()); err == nil {
		t.Error("second Run() expected error")
	}
}

func TestBridge_HandleSetMessage(t *testing.T) {
	metrics := newRecordingMetrics()
	b := createTestBridge(t, BridgeOptions{
		Device:     newMockDevice(nil),
		MQTTClient: NewMockMQTTClient(),
		Metrics:    metrics,
	})

	b.handleSetMessage("heatpump/parameter/sp_temp/set", []byte("22"))
	b.handleSetMessage("heatpump/parameter/bogus/set", []byte("1"))
	b.handleSetMessage("heatpump/other", []byte("1"))

	if b.SetRequestCount() != 1 {
		t.Errorf("SetRequestCount() = %d, want 1", b.SetRequestCount())
	}
	if metrics.setKnown != 1 || metrics.setUnknown != 1 {
		t.Errorf("set metrics known/unknown = %d/%d, want 1/1", metrics.setKnown, metrics.setUnknown)
	}
}

func TestBridge_ReadParameters(t *testing.T) {
	dev := newMockDevice(nil)
	dev.values[Indexed(CommandParameter, 17)] = FloatValue(7)

	b := createTestBridge(t, BridgeOptions{Device: dev, MQTTClient: NewMockMQTTClient()})
	got := b.ReadParameters(context.Background())

	if len(got) != 18 {
		t.Errorf("ReadParameters() returned %d values, want 18", len(got))
	}
	if got["legionella_interval"] != FloatValue(7) {
		t.Errorf("legionella_interval = %v, want 7", got["legionella_interval"])
	}
}
