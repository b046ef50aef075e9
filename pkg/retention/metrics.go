package retention

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks cleanup engine activity.
//
// Metrics:
//   - loghaven_retention_runs_total: finished runs by trigger and status
//   - loghaven_retention_logs_deleted_total: deleted records by tier and policy source
//   - loghaven_retention_pair_failures_total: isolated (app, tier) pair failures
//   - loghaven_retention_run_duration_seconds: run duration histogram by trigger
//   - loghaven_retention_active_run: 1 while a run is in progress
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	deletedTotal *prometheus.CounterVec
	pairFailures prometheus.Counter
	runDuration  *prometheus.HistogramVec
	activeRun    prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics with the provided
// registry. If registry is nil, a new registry is created.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loghaven",
				Subsystem: "retention",
				Name:      "runs_total",
				Help:      "Total number of finished cleanup runs",
			},
			[]string{"trigger", "status"},
		),
		deletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "loghaven",
				Subsystem: "retention",
				Name:      "logs_deleted_total",
				Help:      "Total number of log records deleted by cleanup runs",
			},
			[]string{"tier", "source"},
		),
		pairFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "loghaven",
				Subsystem: "retention",
				Name:      "pair_failures_total",
				Help:      "Total number of isolated (app, tier) pair failures",
			},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "loghaven",
				Subsystem: "retention",
				Name:      "run_duration_seconds",
				Help:      "Duration of cleanup runs in seconds",
				// Runs are dominated by bulk deletes (10ms - 5m)
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"trigger"},
		),
		activeRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "loghaven",
				Subsystem: "retention",
				Name:      "active_run",
				Help:      "Whether a cleanup run is currently in progress",
			},
		),
	}

	registry.MustRegister(m.runsTotal, m.deletedTotal, m.pairFailures, m.runDuration, m.activeRun)
	return m
}

// All recording methods are nil-safe so the engine can run unmetered.

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.activeRun.Set(1)
}

func (m *Metrics) runFinished(trigger TriggerType, status RunStatus, duration time.Duration) {
	if m == nil {
		return
	}
	m.activeRun.Set(0)
	m.runsTotal.WithLabelValues(string(trigger), string(status)).Inc()
	m.runDuration.WithLabelValues(string(trigger)).Observe(duration.Seconds())
}

func (m *Metrics) logsDeleted(tier Tier, source Source, count int64) {
	if m == nil || count == 0 {
		return
	}
	m.deletedTotal.WithLabelValues(string(tier), string(source)).Add(float64(count))
}

func (m *Metrics) pairFailed() {
	if m == nil {
		return
	}
	m.pairFailures.Inc()
}
