package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
)

type staticSource struct {
	cycle heatpump.PollCycle
	ok    bool
}

func (s staticSource) LastCycle() (heatpump.PollCycle, bool) {
	return s.cycle, s.ok
}

func scrape(t *testing.T, r *Recorder) []string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("GET /metrics status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return strings.Split(string(body), "\n")
}

// hasSample reports whether a sample line for name contains every label
// fragment and ends with value.
func hasSample(lines []string, name, value string, labels ...string) bool {
	for _, line := range lines {
		if !strings.HasPrefix(line, name+"{") && !strings.HasPrefix(line, name+" ") {
			continue
		}
		if !strings.HasSuffix(line, " "+value) {
			continue
		}
		matched := true
		for _, l := range labels {
			if !strings.Contains(line, l) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func TestRecorder(t *testing.T) {
	r := New()

	r.ObserveRequest("temperature", heatpump.ResultOK, 20*time.Millisecond)
	r.ObserveRequest("temperature", heatpump.ResultOK, 30*time.Millisecond)
	r.ObserveRequest("counter", heatpump.ResultTimeout, 2*time.Second)
	r.ObserveCycle(18, 1, 3*time.Second)
	r.ObservePublish(true)
	r.ObservePublish(false)
	r.ObserveSetRequest(true)
	r.ObserveSetRequest(false)
	r.ObserveSetRequest(false)

	lines := scrape(t, r)

	tests := []struct {
		name   string
		value  string
		labels []string
	}{
		{name: "heatpump_requests_total", value: "2", labels: []string{`command="temperature"`, `result="ok"`}},
		{name: "heatpump_requests_total", value: "1", labels: []string{`command="counter"`, `result="timeout"`}},
		{name: "heatpump_request_duration_seconds_count", value: "2", labels: []string{`command="temperature"`}},
		{name: "heatpump_poll_cycles_total", value: "1"},
		{name: "heatpump_poll_cycle_failed_values", value: "1"},
		{name: "heatpump_publishes_total", value: "1", labels: []string{`result="ok"`}},
		{name: "heatpump_publishes_total", value: "1", labels: []string{`result="error"`}},
		{name: "heatpump_parameter_set_requests_total", value: "2", labels: []string{`known="false"`}},
	}
	for _, tt := range tests {
		if !hasSample(lines, tt.name, tt.value, tt.labels...) {
			t.Errorf("missing sample %s%v = %s", tt.name, tt.labels, tt.value)
		}
	}
}

func TestValueCollector(t *testing.T) {
	r := New()
	scheduled := time.Date(2025, 3, 14, 12, 0, 55, 0, time.UTC)
	source := staticSource{ok: true, cycle: heatpump.PollCycle{
		ScheduledAt: scheduled,
		Results: []heatpump.Result{
			{Name: "house/actual_temp", Topic: "house/actual_temp", Value: heatpump.FloatValue(21.3)},
			{Name: "heatpump/counter", Topic: "heatpump/counter", Value: heatpump.IntegerValue(65535)},
			{Name: "heatpump/error", Topic: "heatpump/error", Err: errors.New("timeout")},
		},
	}}
	if err := r.RegisterValues(source); err != nil {
		t.Fatalf("RegisterValues() error: %v", err)
	}

	lines := scrape(t, r)

	if !hasSample(lines, "heatpump_value", "21.3", `topic="house/actual_temp"`, `kind="float"`) {
		t.Error("missing heatpump_value for house/actual_temp")
	}
	if !hasSample(lines, "heatpump_value", "65535", `topic="heatpump/counter"`, `kind="integer"`) {
		t.Error("missing heatpump_value for heatpump/counter")
	}
	if !hasSample(lines, "heatpump_value_error", "1", `topic="heatpump/error"`) {
		t.Error("missing heatpump_value_error for heatpump/error")
	}
	if hasSample(lines, "heatpump_value", "0", `topic="heatpump/error"`) {
		t.Error("failed topic should not export a value")
	}
	if !hasSample(lines, "heatpump_last_cycle_timestamp_seconds", "1.741953655e+09") {
		t.Error("missing heatpump_last_cycle_timestamp_seconds")
	}
}

func TestValueCollector_NoCycle(t *testing.T) {
	r := New()
	if err := r.RegisterValues(staticSource{}); err != nil {
		t.Fatalf("RegisterValues() error: %v", err)
	}

	for _, line := range scrape(t, r) {
		if strings.HasPrefix(line, "heatpump_value") {
			t.Errorf("unexpected sample before first cycle: %s", line)
		}
	}
}
