// Package metrics exposes engine and scheduler activity as Prometheus
// collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/habit-engine/habit"
)

// Observer implements habit.Observer.
type Observer struct {
	operations    *prometheus.CounterVec
	recompute     *prometheus.HistogramVec
	driftRepaired prometheus.Counter
	remindersSent prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "habit_ledger_operations_total",
				Help: "Ledger operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		recompute: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "habit_ledger_recompute_seconds",
				Help:    "Aggregate recomputation duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
			},
			[]string{"mode"}, // incremental | replay
		),
		driftRepaired: f.NewCounter(prometheus.CounterOpts{
			Name: "habit_ledger_drift_repaired_total",
			Help: "Stored aggregates overwritten by a rebuild",
		}),
		remindersSent: f.NewCounter(prometheus.CounterOpts{
			Name: "habit_reminders_sent_total",
			Help: "Daily log reminders sent",
		}),
	}
}

func (o *Observer) OperationDone(op, outcome string) {
	o.operations.WithLabelValues(op, outcome).Inc()
}

func (o *Observer) Recomputed(mode string, took time.Duration) {
	o.recompute.WithLabelValues(mode).Observe(took.Seconds())
}

func (o *Observer) DriftRepaired(habit.UserID) {
	o.driftRepaired.Inc()
}

// ReminderSent counts one reminder.
func (o *Observer) ReminderSent() {
	o.remindersSent.Inc()
}

var _ habit.Observer = (*Observer)(nil)
