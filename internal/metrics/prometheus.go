package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter mirrors collector samples into a Prometheus registry
type Exporter struct {
	registry *prometheus.Registry

	apiCalls   *prometheus.CounterVec
	conflicts  prometheus.Counter
	duration   *prometheus.HistogramVec
	iterations *prometheus.CounterVec
	vus        prometheus.Gauge
}

// NewExporter creates an exporter with its own registry, labelled with the scenario name
func NewExporter(scenario string) *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"scenario": scenario}

	return &Exporter{
		registry: reg,
		apiCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "travelerload_api_calls_total",
				Help:        "Requests issued by the harness, by result and status",
				ConstLabels: labels,
			},
			[]string{"result", "status"},
		),
		conflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "travelerload_conflicts_total",
				Help:        "Optimistic lock conflicts (409) observed",
				ConstLabels: labels,
			},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "travelerload_http_req_duration_seconds",
				Help:        "Request duration by method and endpoint tag",
				ConstLabels: labels,
				Buckets:     prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "endpoint"},
		),
		iterations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "travelerload_iterations_total",
				Help:        "Completed iterations by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		vus: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "travelerload_vus",
				Help:        "Running virtual users",
				ConstLabels: labels,
			},
		),
	}
}

func (e *Exporter) ObserveRequest(s RequestSample) {
	result := "expected"
	if !s.Expected {
		result = "unexpected"
	}
	e.apiCalls.WithLabelValues(result, strconv.Itoa(s.Status)).Inc()
	if s.Status == StatusConflict {
		e.conflicts.Inc()
	}
	e.duration.WithLabelValues(s.Method, s.Endpoint).Observe(s.Duration.Seconds())
}

func (e *Exporter) ObserveIteration(_ time.Duration, failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	e.iterations.WithLabelValues(result).Inc()
}

func (e *Exporter) ObserveVUs(n int) {
	e.vus.Set(float64(n))
}

// Registry exposes the underlying registry
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus text format
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
