package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric name.
const namespace = "heatpump"

// Recorder records bridge activity.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cycles          prometheus.Counter
	cycleDuration   prometheus.Histogram
	cycleFailures   prometheus.Gauge
	publishes       *prometheus.CounterVec
	setRequests     *prometheus.CounterVec
}

// New creates a Recorder with its own registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Serial requests by command and result.",
		}, []string{"command", "result"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Serial request round-trip time by command.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"command"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Time taken by one poll cycle.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		}),
		cycleFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_cycle_failed_values",
			Help:      "Values that could not be read or published in the last cycle.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "MQTT publishes by result.",
		}, []string{"result"}),
		setRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parameter_set_requests_total",
			Help:      "Inbound parameter-set requests by whether the parameter is known.",
		}, []string{"known"}),
	}

	r.registry.MustRegister(
		r.requests,
		r.requestDuration,
		r.cycles,
		r.cycleDuration,
		r.cycleFailures,
		r.publishes,
		r.setRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveRequest records one serial request.
func (r *Recorder) ObserveRequest(command, result string, elapsed time.Duration) {
	r.requests.WithLabelValues(command, result).Inc()
	r.requestDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveCycle records one completed poll cycle.
func (r *Recorder) ObserveCycle(_, failed int, elapsed time.Duration) {
	r.cycles.Inc()
	r.cycleDuration.Observe(elapsed.Seconds())
	r.cycleFailures.Set(float64(failed))
}

// ObservePublish records one MQTT publish.
func (r *Recorder) ObservePublish(ok bool) {
	if ok {
		r.publishes.WithLabelValues("ok").Inc()
		return
	}
	r.publishes.WithLabelValues("error").Inc()
}

// ObserveSetRequest records one inbound parameter-set request.
func (r *Recorder) ObserveSetRequest(known bool) {
	if known {
		r.setRequests.WithLabelValues("true").Inc()
		return
	}
	r.setRequests.WithLabelValues("false").Inc()
}

// Register adds a collector to the recorder's registry.
func (r *Recorder) Register(c prometheus.Collector) error {
	return r.registry.Register(c)
}

// Handler returns the /metrics handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
