// Package metrics exposes bridge counters and gauges in Prometheus format.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "videoloft_bridge"

// Metrics owns a private registry with the bridge collectors
type Metrics struct {
	registry *prometheus.Registry

	proxyRequests    *prometheus.CounterVec
	proxyBytes       prometheus.Counter
	streamReinits    prometheus.Counter
	thumbnailFetches *prometheus.CounterVec
	visionRequests   *prometheus.CounterVec
	analysedEvents   prometheus.Counter
	lprMatches       prometheus.Counter
}

// New creates the registry and registers the built-in counters
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		proxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "HLS proxy requests by kind and response status.",
		}, []string{"kind", "status"}),
		proxyBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_bytes_total",
			Help:      "Bytes streamed to clients by the HLS proxy.",
		}),
		streamReinits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reinitializations_total",
			Help:      "Stream session reinitializations triggered by upstream 404s.",
		}),
		thumbnailFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_fetches_total",
			Help:      "Upstream thumbnail fetches by result.",
		}, []string{"result"}),
		visionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vision_requests_total",
			Help:      "Vision model requests by outcome.",
		}, []string{"outcome"}),
		analysedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysed_events_total",
			Help:      "Events described by the AI pipeline.",
		}),
		lprMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lpr_matches_total",
			Help:      "Vehicle events matching an LPR trigger.",
		}),
	}

	reg.MustRegister(
		m.proxyRequests,
		m.proxyBytes,
		m.streamReinits,
		m.thumbnailFetches,
		m.visionRequests,
		m.analysedEvents,
		m.lprMatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Register adds a custom collector such as the bridge state collector
func (m *Metrics) Register(c prometheus.Collector) error {
	return m.registry.Register(c)
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProxyRequest(kind string, status int) {
	if m == nil {
		return
	}
	m.proxyRequests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
}

func (m *Metrics) AddProxyBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.proxyBytes.Add(float64(n))
}

func (m *Metrics) IncStreamReinit() {
	if m == nil {
		return
	}
	m.streamReinits.Inc()
}

func (m *Metrics) ObserveThumbnailFetch(result string) {
	if m == nil {
		return
	}
	m.thumbnailFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveVisionRequest(outcome string) {
	if m == nil {
		return
	}
	m.visionRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAnalysedEvents() {
	if m == nil {
		return
	}
	m.analysedEvents.Inc()
}

func (m *Metrics) IncLPRMatches() {
	if m == nil {
		return
	}
	m.lprMatches.Inc()
}
