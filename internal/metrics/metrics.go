// Package metrics exposes Prometheus metrics for the API and the generation workers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	CreditsRefunded    prometheus.Counter
	PaymentsSettled    prometheus.Counter
	QueueDepth         prometheus.Gauge

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildgen_http_requests_total",
				Help: "HTTP requests by route pattern, method and status code.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buildgen_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buildgen_generations_total",
				Help: "Finished generation jobs by kind and outcome.",
			},
			[]string{"kind", "status"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "buildgen_generation_duration_seconds",
				Help:    "Wall time of generation jobs by kind.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		CreditsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildgen_credits_refunded_total",
			Help: "Credits returned to accounts after failed generations.",
		}),
		PaymentsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buildgen_payments_settled_total",
			Help: "Checkout sessions settled into credits.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buildgen_generation_queue_depth",
			Help: "Jobs waiting in the in-memory generation queue.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.GenerationsTotal,
		m.GenerationDuration,
		m.CreditsRefunded,
		m.PaymentsSettled,
		m.QueueDepth,
	)
	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveGeneration(kind, status string, elapsed time.Duration) {
	m.GenerationsTotal.WithLabelValues(kind, status).Inc()
	m.GenerationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) AddRefund(credits int) {
	m.CreditsRefunded.Add(float64(credits))
}

func (m *Metrics) IncPaymentSettled() {
	m.PaymentsSettled.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}
