package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for identity reconciliation.
type Metrics struct {
	Identifications *prometheus.CounterVec
	ContactsCreated *prometheus.CounterVec
	ClustersMerged  prometheus.Counter
	Duration        prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Identifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitespeed_identify_requests_total",
			Help: "Identify requests by outcome (created_new, linked_existing, error)",
		}, []string{"outcome"}),
		ContactsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bitespeed_contacts_created_total",
			Help: "Contacts created by link precedence",
		}, []string{"link_precedence"}),
		ClustersMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bitespeed_clusters_merged_total",
			Help: "Clusters absorbed into an older primary",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitespeed_identify_duration_seconds",
			Help:    "Time spent resolving one identify request",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Identifications, m.ContactsCreated, m.ClustersMerged, m.Duration)
	}
	return m
}

// ObserveIdentify records the outcome and latency of one identify call.
func (m *Metrics) ObserveIdentify(outcome string, d time.Duration) {
	m.Identifications.WithLabelValues(outcome).Inc()
	m.Duration.Observe(d.Seconds())
}

// IncrementContactsCreated counts a newly written contact.
func (m *Metrics) IncrementContactsCreated(precedence string) {
	m.ContactsCreated.WithLabelValues(precedence).Inc()
}

// AddClustersMerged counts absorbed clusters.
func (m *Metrics) AddClustersMerged(n int) {
	m.ClustersMerged.Add(float64(n))
}
