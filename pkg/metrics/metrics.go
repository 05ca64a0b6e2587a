// Package metrics provides Prometheus metrics for sync runs and file watches.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values for site_sync_runs_total.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors registered for one orchestrator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	syncRuns      *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	bytesSent     *prometheus.CounterVec
	inFlight      *prometheus.GaugeVec
	watchEvents   *prometheus.CounterVec
	syncCoalesced *prometheus.CounterVec
}

// New registers the collectors with `reg`.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		syncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_sync_runs_total",
				Help: "Total number of finished rsync runs",
			},
			[]string{"project", "result"},
		),
		syncDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "site_sync_duration_seconds",
				Help:    "Duration of rsync runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"project"},
		),
		bytesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_sync_bytes_sent_total",
				Help: "Total bytes sent by rsync",
			},
			[]string{"project"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "site_sync_in_flight",
				Help: "Whether an rsync run is in progress",
			},
			[]string{"project"},
		),
		watchEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_watch_events_total",
				Help: "Total number of file changes seen by the watcher",
			},
			[]string{"project"},
		),
		syncCoalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_sync_coalesced_total",
				Help: "Total number of sync requests dropped because a run was in progress",
			},
			[]string{"project"},
		),
	}
}

// Handler serves the metrics in `gatherer`.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SyncStarted records the start of a run.
func (m *Metrics) SyncStarted(project string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(project).Set(1)
}

// SyncFinished records the outcome of a run.
func (m *Metrics) SyncFinished(project string, success bool, bytesSent int64, duration time.Duration) {
	if m == nil {
		return
	}

	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	m.inFlight.WithLabelValues(project).Set(0)
	m.syncRuns.WithLabelValues(project, result).Inc()
	m.syncDuration.WithLabelValues(project).Observe(duration.Seconds())
	if bytesSent > 0 {
		m.bytesSent.WithLabelValues(project).Add(float64(bytesSent))
	}
}

// WatchEvent records a file change.
func (m *Metrics) WatchEvent(project string) {
	if m == nil {
		return
	}
	m.watchEvents.WithLabelValues(project).Inc()
}

// Coalesced records a sync request that was dropped.
func (m *Metrics) Coalesced(project string) {
	if m == nil {
		return
	}
	m.syncCoalesced.WithLabelValues(project).Inc()
}
