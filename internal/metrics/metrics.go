package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	processes       *prometheus.CounterVec
	processDuration *prometheus.HistogramVec
	extractions     *prometheus.CounterVec
	authStrategy    *prometheus.CounterVec
	streams         *prometheus.CounterVec
	streamBytes     prometheus.Counter
	activeStreams   prometheus.Gauge
	cookieRefreshes *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidstream",
			Name:      "extractor_processes_total",
			Help:      "Extractor processes by mode and outcome.",
		}, []string{"mode", "outcome"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vidstream",
			Name:      "extractor_process_duration_seconds",
			Help:      "Wall-clock lifetime of extractor processes.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 300, 1800},
		}, []string{"mode"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidstream",
			Name:      "metadata_extractions_total",
			Help:      "Metadata extractions by platform and result kind.",
		}, []string{"platform", "kind"}),
		authStrategy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidstream",
			Name:      "auth_strategy_total",
			Help:      "Auth strategy chosen per extractor call.",
		}, []string{"strategy"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidstream",
			Name:      "stream_sessions_total",
			Help:      "Finalized stream sessions by outcome.",
		}, []string{"outcome"}),
		streamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidstream",
			Name:      "stream_bytes_total",
			Help:      "Bytes written to clients by the stream pump.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vidstream",
			Name:      "active_streams",
			Help:      "Streams currently in flight.",
		}),
		cookieRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidstream",
			Name:      "cookie_refresh_total",
			Help:      "Cookie auto-refresh outcomes per platform.",
		}, []string{"platform", "outcome"}),
	}
	m.registry.MustRegister(
		m.processes, m.processDuration, m.extractions, m.authStrategy,
		m.streams, m.streamBytes, m.activeStreams, m.cookieRefreshes,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveProcess(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.processes.WithLabelValues(mode, outcome).Inc()
	if d > 0 {
		m.processDuration.WithLabelValues(mode).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveExtraction(platform, kind string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(platform, kind).Inc()
}

func (m *Metrics) ObserveAuthStrategy(strategy string) {
	if m == nil {
		return
	}
	m.authStrategy.WithLabelValues(strategy).Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) StreamFinished(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	m.streams.WithLabelValues(outcome).Inc()
	m.streamBytes.Add(float64(bytes))
}

func (m *Metrics) ObserveCookieRefresh(platform, outcome string) {
	if m == nil {
		return
	}
	m.cookieRefreshes.WithLabelValues(platform, outcome).Inc()
}
