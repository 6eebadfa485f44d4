package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	admissionAccepted = "accepted"
	admissionRejected = "rejected"
	admissionFailed   = "failed"

	deliveryQueued  = "queued"
	deliveryDropped = "dropped"
)

// Metrics holds the Prometheus collectors for the broadcast subsystem. Each
// instance owns its own registry.
type Metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	admissions  *prometheus.CounterVec
	received    prometheus.Counter
	deliveries  *prometheus.CounterVec
	discarded   prometheus.Counter
	pruned      prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_connections_active",
			Help: "Push connections currently registered.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_admissions_total",
			Help: "Push connection attempts by result.",
		}, []string{"result"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_messages_received_total",
			Help: "Inbound chat frames accepted for broadcast.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_deliveries_total",
			Help: "Per-peer deliveries by result.",
		}, []string{"result"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_frames_discarded_total",
			Help: "Inbound frames discarded by the per-connection rate limit.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_rooms_pruned_total",
			Help: "Empty rooms removed from the registry.",
		}),
	}

	m.registry.MustRegister(
		m.connections,
		m.admissions,
		m.received,
		m.deliveries,
		m.discarded,
		m.pruned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
