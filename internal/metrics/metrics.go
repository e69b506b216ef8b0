// Package metrics exposes Prometheus instrumentation for the ledger service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/bondledger/internal/domain"
)

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds every collector of the service. Each instance registers on
// its own registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	Queries            *prometheus.CounterVec
	LedgerHeight       prometheus.Gauge
	LockContention     prometheus.Counter
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	ArchivedReceipts   prometheus.Counter
	ArchiveRuns        *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	WSClients          prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_invocations_total",
			Help: "Ledger invocations by kind, action and outcome (ok or error kind)",
		}, []string{"kind", "action", "outcome"}),
		InvocationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bondledger_invocation_duration_seconds",
			Help:    "Duration of ledger invocations including commit",
			Buckets: latencyBuckets,
		}, []string{"kind"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_queries_total",
			Help: "Contract queries by name and outcome",
		}, []string{"query", "outcome"}),
		LedgerHeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "bondledger_height",
			Help: "Last committed ledger height",
		}),
		LockContention: f.NewCounter(prometheus.CounterOpts{
			Name: "bondledger_lock_contention_total",
			Help: "Invocations rejected because the ledger lock was held",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bondledger_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: latencyBuckets,
		}, []string{"route"}),
		ArchivedReceipts: f.NewCounter(prometheus.CounterOpts{
			Name: "bondledger_archived_receipts_total",
			Help: "Receipts exported to object storage",
		}),
		ArchiveRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_archive_runs_total",
			Help: "Archive runs by outcome",
		}, []string{"outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bondledger_notifications_total",
			Help: "Notifications dispatched by outcome",
		}, []string{"outcome"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "bondledger_ws_clients",
			Help: "Connected WebSocket clients",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveInvocation records one invocation. err is classified with
// domain.KindOf.
func (m *Metrics) ObserveInvocation(kind, action string, start time.Time, err error) {
	m.Invocations.WithLabelValues(kind, action, outcome(err)).Inc()
	m.InvocationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// ObserveQuery records one query.
func (m *Metrics) ObserveQuery(query string, err error) {
	m.Queries.WithLabelValues(query, outcome(err)).Inc()
}

// SetHeight publishes the committed height.
func (m *Metrics) SetHeight(h uint64) {
	m.LedgerHeight.Set(float64(h))
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(route string, status int, start time.Time) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.KindOf(err))
}
