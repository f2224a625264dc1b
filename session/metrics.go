package session

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instrumentation for the session cache. All
// series carry a "vhost" label. A nil *Metrics is valid and records nothing,
// so the cache itself never depends on metrics being wired.
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	stored    *prometheus.CounterVec
	refreshed *prometheus.CounterVec
	evicted   *prometheus.CounterVec
	expired   *prometheus.CounterVec
	entries   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates the session cache metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessmux_session_cache_hits_total",
				Help: "Cached sessions installed for reuse before a handshake",
			},
			[]string{"vhost"},
		),
		misses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessmux_session_cache_misses_total",
				Help: "Reuse attempts that found no cached session",
			},
			[]string{"vhost"},
		),
		stored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessmux_session_cache_stored_total",
				Help: "New sessions committed to the cache",
			},
			[]string{"vhost"},
		),
		refreshed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessmux_session_cache_refreshed_total",
				Help: "Existing cache entries whose session was replaced",
			},
			[]string{"vhost"},
		),
		evicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessmux_session_cache_evicted_total",
				Help: "Entries pruned by LRU eviction at capacity",
			},
			[]string{"vhost"},
		),
		expired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessmux_session_cache_expired_total",
				Help: "Entries removed by TTL expiry",
			},
			[]string{"vhost"},
		),
		entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sessmux_session_cache_entries",
				Help: "Live entries per vhost session cache",
			},
			[]string{"vhost"},
		),
		registry: registry,
	}

	registry.MustRegister(m.hits, m.misses, m.stored, m.refreshed,
		m.evicted, m.expired, m.entries)
	return m
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hit records a reuse-path cache hit.
func (m *Metrics) Hit(vhost string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(vhost).Inc()
}

// Miss records a reuse-path cache miss.
func (m *Metrics) Miss(vhost string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(vhost).Inc()
}

// Stored records a newly committed session.
func (m *Metrics) Stored(vhost string) {
	if m == nil {
		return
	}
	m.stored.WithLabelValues(vhost).Inc()
}

// Refreshed records an in-place session replacement.
func (m *Metrics) Refreshed(vhost string) {
	if m == nil {
		return
	}
	m.refreshed.WithLabelValues(vhost).Inc()
}

// Evicted records an LRU capacity eviction.
func (m *Metrics) Evicted(vhost string) {
	if m == nil {
		return
	}
	m.evicted.WithLabelValues(vhost).Inc()
}

// Expired records a TTL expiry.
func (m *Metrics) Expired(vhost string) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(vhost).Inc()
}

// SetEntries updates the live-entry gauge for a vhost.
func (m *Metrics) SetEntries(vhost string, n int) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(vhost).Set(float64(n))
}
