// Package metrics exposes Prometheus instruments for channel operations and
// the HTTP API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Recorder interface {
	IncOperation(kind, outcome string)
	ObserveOperationDuration(kind string, d time.Duration)
	IncAnchor(outcome string)
	SetChannels(status string, count int)
	IncRequestsTotal(route string, status int)
	ObserveRequestDuration(route string, d time.Duration)
}

type Prometheus struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	anchorsTotal      *prometheus.CounterVec
	channels          *prometheus.GaugeVec
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

// New registers the instruments on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Prometheus{
		operationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "privchan_operations_total",
			Help: "Channel operations by kind and outcome",
		}, []string{"kind", "outcome"}),

		operationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "privchan_operation_duration_seconds",
			Help:    "Wall time of channel operations",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),

		anchorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "privchan_anchor_attempts_total",
			Help: "On-chain anchoring attempts during create",
		}, []string{"outcome"}),

		channels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "privchan_channels",
			Help: "Locally known channels by status",
		}, []string{"status"}),

		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "privchan_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "privchan_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Prometheus) IncOperation(kind, outcome string) {
	m.operationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Prometheus) ObserveOperationDuration(kind string, d time.Duration) {
	m.operationDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Prometheus) IncAnchor(outcome string) {
	m.anchorsTotal.WithLabelValues(outcome).Inc()
}

func (m *Prometheus) SetChannels(status string, count int) {
	m.channels.WithLabelValues(status).Set(float64(count))
}

func (m *Prometheus) IncRequestsTotal(route string, status int) {
	m.requestsTotal.WithLabelValues(route, statusBucket(status)).Inc()
}

func (m *Prometheus) ObserveRequestDuration(route string, d time.Duration) {
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) IncOperation(_, _ string)                           {}
func (Noop) ObserveOperationDuration(_ string, _ time.Duration) {}
func (Noop) IncAnchor(_ string)                                 {}
func (Noop) SetChannels(_ string, _ int)                        {}
func (Noop) IncRequestsTotal(_ string, _ int)                   {}
func (Noop) ObserveRequestDuration(_ string, _ time.Duration)   {}
