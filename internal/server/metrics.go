package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/registry"
)

const metricsNamespace = "npmdash"

// Request results recorded by an instrumented fetcher.
const (
	resultOK        = "ok"
	resultNoStats   = "no_stats"
	resultError     = "error"
	resultCancelled = "cancelled"
)

// Metrics holds the prometheus collectors for one process. It implements
// dashboard.CycleObserver.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	requests      *prometheus.CounterVec
	downloads     *prometheus.GaugeVec
	lastCommit    prometheus.Gauge
	subscribers   prometheus.Gauge
}

// NewMetrics creates the collectors on a private registry, together with
// the standard Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Fetch cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of fetch cycles by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "registry_requests_total",
			Help:      "Registry point requests by result.",
		}, []string{"result"}),
		downloads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "package_downloads",
			Help:      "Last committed download count per package and period.",
		}, []string{"package", "period"}),
		lastCommit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_commit_timestamp_seconds",
			Help:      "Unix time of the last committed cycle.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_subscribers",
			Help:      "Connected websocket subscribers.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleDuration,
		m.requests,
		m.downloads,
		m.lastCommit,
		m.subscribers,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records a finished cycle.
func (m *Metrics) ObserveCycle(r dashboard.CycleResult) {
	outcome := string(r.Outcome)
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.WithLabelValues(outcome).Observe(r.Duration().Seconds())

	if r.Outcome != dashboard.OutcomeCommitted {
		return
	}
	m.lastCommit.Set(float64(r.Finished.Unix()))
	// A commit replaces the whole snapshot; drop series for packages or
	// periods it no longer covers.
	m.downloads.Reset()
	for name, n := range r.Totals {
		m.downloads.WithLabelValues(name, string(r.Period)).Set(float64(n))
	}
}

// InstrumentFetcher wraps f so each request is counted by result.
func (m *Metrics) InstrumentFetcher(f dashboard.Fetcher) dashboard.Fetcher {
	return dashboard.FetcherFunc(func(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error) {
		p, err := f.PointDownloads(ctx, period, name)
		switch {
		case err != nil && (errors.Is(err, context.Canceled) || ctx.Err() != nil):
			m.requests.WithLabelValues(resultCancelled).Inc()
		case err != nil:
			m.requests.WithLabelValues(resultError).Inc()
		case p.NoStats:
			m.requests.WithLabelValues(resultNoStats).Inc()
		default:
			m.requests.WithLabelValues(resultOK).Inc()
		}
		return p, err
	})
}

func (m *Metrics) setSubscribers(n int) {
	m.subscribers.Set(float64(n))
}
