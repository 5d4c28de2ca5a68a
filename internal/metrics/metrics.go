// Package metrics exposes Prometheus collectors for the paste service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results used as the "result" label.
const (
	ResultOK       = "ok"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics holds the service collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	created      prometheus.Counter
	fetched      *prometheus.CounterVec
	idCollisions prometheus.Counter
	burned       prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "npaste",
			Name:      "pastes_created_total",
			Help:      "Pastes successfully created.",
		}),
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "npaste",
			Name:      "pastes_fetched_total",
			Help:      "Paste reads by result.",
		}, []string{"result"}),
		idCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "npaste",
			Name:      "id_collisions_total",
			Help:      "Generated ids that were already taken.",
		}),
		burned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "npaste",
			Name:      "pastes_burned_total",
			Help:      "Pastes deleted after serving their final view.",
		}),
	}

	m.registry.MustRegister(
		m.created,
		m.fetched,
		m.idCollisions,
		m.burned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// PasteCreated counts one created paste.
func (m *Metrics) PasteCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
}

// PasteFetched counts one read with the given result label.
func (m *Metrics) PasteFetched(result string) {
	if m == nil {
		return
	}
	m.fetched.WithLabelValues(result).Inc()
}

// IDCollision counts one id that had to be regenerated.
func (m *Metrics) IDCollision() {
	if m == nil {
		return
	}
	m.idCollisions.Inc()
}

// PasteBurned counts one paste removed by its last view.
func (m *Metrics) PasteBurned() {
	if m == nil {
		return
	}
	m.burned.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
