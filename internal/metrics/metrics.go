// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tgrelay/internal/llm"
)

const namespace = "tgrelay"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	// updatesTotal counts dispatched webhook updates by outcome.
	updatesTotal *prometheus.CounterVec
	// dispatchDuration covers the whole exchange including the model call.
	dispatchDuration *prometheus.HistogramVec
	// generationDuration is the latency of a single backend call.
	generationDuration *prometheus.HistogramVec
	// generationsTotal counts backend calls, status: success or an error kind.
	generationsTotal *prometheus.CounterVec
	dedupEvicted     prometheus.Counter
	convsEvicted     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "updates_total",
				Help:      "Total number of webhook updates by dispatch outcome",
			},
			[]string{"outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of update dispatch in seconds",
				Buckets:   []float64{.005, .05, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of model backend calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		generationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of model backend calls",
			},
			[]string{"provider", "model", "status"},
		),
		dedupEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_evicted_total",
			Help:      "Total number of expired update ids removed from the dedup set",
		}),
		convsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_evicted_total",
			Help:      "Total number of idle conversations evicted",
		}),
	}

	m.registry.MustRegister(
		m.updatesTotal,
		m.dispatchDuration,
		m.generationDuration,
		m.generationsTotal,
		m.dedupEvicted,
		m.convsEvicted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// TrackSize publishes fn as a gauge, sampled at scrape time.
func (m *Metrics) TrackSize(name, help string, fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(fn()) }))
}

// ObserveDispatch records one dispatched update.
func (m *Metrics) ObserveDispatch(outcome string, elapsed time.Duration) {
	m.updatesTotal.WithLabelValues(outcome).Inc()
	m.dispatchDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveGeneration implements llm.Observer.
func (m *Metrics) ObserveGeneration(provider, model string, elapsed time.Duration, err error) {
	m.generationDuration.WithLabelValues(provider, model).Observe(elapsed.Seconds())
	m.generationsTotal.WithLabelValues(provider, model, generationStatus(err)).Inc()
}

// DedupEvicted matches dedup.WithOnEvict.
func (m *Metrics) DedupEvicted(removed, _ int) {
	m.dedupEvicted.Add(float64(removed))
}

func (m *Metrics) ConversationsEvicted(n int) {
	m.convsEvicted.Add(float64(n))
}

func generationStatus(err error) string {
	if err == nil {
		return "success"
	}
	var upErr *llm.UpstreamError
	if errors.As(err, &upErr) {
		return string(upErr.Kind)
	}
	return "error"
}
