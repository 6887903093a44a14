package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultInserted   = "inserted"
	ResultDuplicate  = "duplicate"
	ResultSuppressed = "suppressed"
)

// Metrics holds the service collectors on a private registry so tests can
// build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	consumed    prometheus.Counter
	rejected    *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	records     *prometheus.CounterVec
	completions *prometheus.CounterVec
	sendSeconds *prometheus.HistogramVec
}

// New returns a Metrics collector with every series registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fcm_messages_consumed_total",
			Help: "Total number of messages received from the work queue",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fcm_messages_rejected_total",
			Help: "Total number of messages rejected without requeue",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fcm_deliveries_total",
			Help: "Total number of gateway send attempts by result",
		}, []string{"result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fcm_records_total",
			Help: "Total number of delivery record writes by result",
		}, []string{"result"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fcm_completions_published_total",
			Help: "Total number of completion events published by result",
		}, []string{"result"}),
		sendSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fcm_send_duration_seconds",
			Help:    "Time taken by the push gateway to accept a message",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	m.registry.MustRegister(
		m.consumed,
		m.rejected,
		m.deliveries,
		m.records,
		m.completions,
		m.sendSeconds,
	)
	return m
}

func (m *Metrics) IncConsumed()                { m.consumed.Inc() }
func (m *Metrics) IncRejected(reason string)   { m.rejected.WithLabelValues(reason).Inc() }
func (m *Metrics) IncDelivery(result string)   { m.deliveries.WithLabelValues(result).Inc() }
func (m *Metrics) IncRecord(result string)     { m.records.WithLabelValues(result).Inc() }
func (m *Metrics) IncCompletion(result string) { m.completions.WithLabelValues(result).Inc() }

// ObserveSend records how long one gateway call took.
func (m *Metrics) ObserveSend(provider string, d time.Duration) {
	m.sendSeconds.WithLabelValues(provider).Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
