package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
)

var _ heatpump.MetricsRecorder = (*Recorder)(nil)

// CycleSource provides the most recent poll cycle.
// *heatpump.Poller satisfies it.
type CycleSource interface {
	LastCycle() (heatpump.PollCycle, bool)
}

// ValueCollector exports the last polled value of every topic.
type ValueCollector struct {
	source CycleSource

	value     *prometheus.Desc
	readError *prometheus.Desc
	lastCycle *prometheus.Desc
}

// NewValueCollector creates a collector reading from source at scrape time.
func NewValueCollector(source CycleSource) *ValueCollector {
	return &ValueCollector{
		source: source,
		value: prometheus.NewDesc(
			namespace+"_value",
			"Last value read from the controller, by topic.",
			[]string{"topic", "kind"}, nil,
		),
		readError: prometheus.NewDesc(
			namespace+"_value_error",
			"1 if the topic failed in the last cycle.",
			[]string{"topic"}, nil,
		),
		lastCycle: prometheus.NewDesc(
			namespace+"_last_cycle_timestamp_seconds",
			"Scheduled time of the last completed poll cycle.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ValueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.value
	ch <- c.readError
	ch <- c.lastCycle
}

// Collect implements prometheus.Collector.
func (c *ValueCollector) Collect(ch chan<- prometheus.Metric) {
	cycle, ok := c.source.LastCycle()
	if !ok {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.lastCycle, prometheus.GaugeValue, float64(cycle.ScheduledAt.Unix()))

	for _, r := range cycle.Results {
		if r.Err != nil {
			ch <- prometheus.MustNewConstMetric(c.readError, prometheus.GaugeValue, 1, r.Topic)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.readError, prometheus.GaugeValue, 0, r.Topic)

		v := r.Value.Float
		if r.Value.Kind == heatpump.KindInteger {
			v = float64(r.Value.Int)
		}
		ch <- prometheus.MustNewConstMetric(c.value, prometheus.GaugeValue, v, r.Topic, r.Value.Kind.String())
	}
}

// RegisterValues registers a ValueCollector for source.
func (r *Recorder) RegisterValues(source CycleSource) error {
	return r.Register(NewValueCollector(source))
}
