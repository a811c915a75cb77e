// Package metrics holds the Prometheus instruments of the speech pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	Submissions     prometheus.Counter
	Fragments       prometheus.Counter
	FetchResults    *prometheus.CounterVec
	FetchLatency    *prometheus.HistogramVec
	ChunkEvents     *prometheus.CounterVec
	PendingChunks   prometheus.Gauge
	Playing         prometheus.Gauge
	FirstAudio      prometheus.Histogram
	WSClients       prometheus.Gauge
	WSMessages      *prometheus.CounterVec
	DenylistSkipped prometheus.Counter
}

// New creates the instruments on a private registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Submissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Text submissions accepted for speech.",
		}),
		Fragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Fragments sent for synthesis.",
		}),
		FetchResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_results_total",
			Help:      "Synthesis fetches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		FetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_latency_seconds",
			Help:      "Synthesis request latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"provider"}),
		ChunkEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_events_total",
			Help:      "Sequencer outcomes for arriving chunks.",
		}, []string{"event"}),
		PendingChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_chunks",
			Help:      "Chunks buffered awaiting their predecessor.",
		}),
		Playing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playing",
			Help:      "1 while a chunk is playing.",
		}),
		FirstAudio: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from submission to first chunk playback in milliseconds.",
			Buckets:   []float64{250, 500, 750, 1000, 1500, 2000, 3000, 5000},
		}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_clients",
			Help:      "Connected renderer websockets.",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		DenylistSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denylist_skipped_total",
			Help:      "Submissions whose fragments were all filtered.",
		}),
	}
}

func (m *Metrics) ObserveFetch(provider string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.FetchResults.WithLabelValues(provider, outcome).Inc()
	m.FetchLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) ObserveFirstAudio(d time.Duration) {
	m.FirstAudio.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
