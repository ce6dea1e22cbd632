// Package metrics holds the prometheus collectors of migrations and background tasks.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "odm"

// Metrics groups every collector exported by the process
type Metrics struct {
	// Migrations
	migrationRuns     *prometheus.CounterVec   // By collection and state
	migratedDocuments *prometheus.CounterVec   // By collection
	migrationDuration *prometheus.HistogramVec // By collection

	// Tasks
	tasksProcessed *prometheus.CounterVec // By kind and outcome
	taskDuration   *prometheus.HistogramVec
	tasksQueued    prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		migrationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "runs_total",
			Help:      "Total number of migration runs by final state",
		}, []string{"collection", "state"}),

		migratedDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "documents_total",
			Help:      "Total number of documents rewritten by migrations",
		}, []string{"collection"}),

		migrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "migration",
			Name:      "duration_seconds",
			Help:      "Migration run duration in seconds",
			Buckets:   []float64{0.01, 0.1, 1, 10, 60, 300, 1800},
		}, []string{"collection"}),

		tasksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "processed_total",
			Help:      "Total number of background tasks handled by outcome",
		}, []string{"kind", "outcome"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Background task duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}, []string{"kind"}),

		tasksQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "queued",
			Help:      "Number of tasks waiting in the task queue",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.migrationRuns, m.migratedDocuments, m.migrationDuration,
		m.tasksProcessed, m.taskDuration, m.tasksQueued,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveMigration records one finished migration run
func (m *Metrics) ObserveMigration(collection, state string, migrated int64, d time.Duration) {
	if m == nil {
		return
	}
	m.migrationRuns.WithLabelValues(collection, state).Inc()
	m.migratedDocuments.WithLabelValues(collection).Add(float64(migrated))
	m.migrationDuration.WithLabelValues(collection).Observe(d.Seconds())
}

// ObserveTask records one attempt of a task. outcome is one of the tasks package outcomes
// ("succeeded", "retried", "failed", "unknown").
func (m *Metrics) ObserveTask(kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksProcessed.WithLabelValues(kind, outcome).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetQueued reports the current depth of the task queue
func (m *Metrics) SetQueued(n int) {
	if m == nil {
		return
	}
	m.tasksQueued.Set(float64(n))
}
