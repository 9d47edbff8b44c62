package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	DosesFired      prometheus.Counter
	DosesTaken      prometheus.Counter
	DosesMissed     prometheus.Counter
	DosesSkipped    prometheus.Counter
	Snoozes         prometheus.Counter
	SnoozesRejected prometheus.Counter
	DispatchFailed  prometheus.Counter
	ReconcileRuns   prometheus.Counter
	ReconcileMissed prometheus.Counter
	ActiveTimers    prometheus.Gauge
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide metrics instance registered on the
// default Prometheus registry.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = newWith(promauto.With(prometheus.DefaultRegisterer))
	})
	return defaultMetrics
}

// New returns metrics registered on a private registry, for tests.
func New(reg prometheus.Registerer) *Metrics {
	return newWith(promauto.With(reg))
}

func newWith(factory promauto.Factory) *Metrics {
	return &Metrics{
		DosesFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_doses_fired_total",
			Help: "Reminder notifications fired at scheduled dose instants.",
		}),
		DosesTaken: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_doses_taken_total",
			Help: "Doses acknowledged as taken.",
		}),
		DosesMissed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_doses_missed_total",
			Help: "Doses auto-marked missed after the grace window.",
		}),
		DosesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_doses_skipped_total",
			Help: "Doses explicitly skipped by the user.",
		}),
		Snoozes: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_snoozes_total",
			Help: "Accepted snooze requests.",
		}),
		SnoozesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_snoozes_rejected_total",
			Help: "Snooze requests rejected at the per-occurrence cap.",
		}),
		DispatchFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_dispatch_failures_total",
			Help: "Notification dispatch attempts that returned an error.",
		}),
		ReconcileRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_reconcile_runs_total",
			Help: "Reconciliation scans over elapsed scheduled doses.",
		}),
		ReconcileMissed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dosewatch_reconcile_missed_total",
			Help: "Doses retroactively marked missed by reconciliation.",
		}),
		ActiveTimers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dosewatch_active_timers",
			Help: "Occurrence timers currently armed.",
		}),
	}
}
