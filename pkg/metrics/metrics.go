// Package metrics exposes Prometheus collectors for setup, reconciliation
// and the event pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "reactroles"

type Metrics struct {
	setups        *prometheus.CounterVec
	setupDuration *prometheus.HistogramVec
	reconciles    *prometheus.CounterVec
	autoroles     *prometheus.CounterVec
	swept         prometheus.Counter
	rollbackLeaks prometheus.Counter
	queueDepth    *prometheus.GaugeVec
	dropped       prometheus.Counter
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew registers every collector with reg, reusing collectors that are
// already registered under the same name. Any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		setups: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setup",
			Name:      "attempts_total",
			Help:      "Setup attempts by terminal status.",
		}, []string{"status"})),
		setupDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "setup",
			Name:      "duration_seconds",
			Help:      "Time from parse to terminal state.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"})),
		reconciles: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "events_total",
			Help:      "Reaction events by action and outcome.",
		}, []string{"action", "outcome"})),
		autoroles: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autorole",
			Name:      "grants_total",
			Help:      "Auto-role grants on member join by outcome.",
		}, []string{"outcome"})),
		swept: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "removed_total",
			Help:      "Binding sets removed because their message no longer exists.",
		})),
		rollbackLeaks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "setup",
			Name:      "rollback_residue_total",
			Help:      "Reactions a failed rollback could not remove.",
		})),
		queueDepth: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Events waiting per worker shard.",
		}, []string{"shard"})),
		dropped: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "rejected_total",
			Help:      "Events refused because the dispatcher was closed.",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveSetup records one setup attempt that ended in status.
func (m *Metrics) ObserveSetup(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.setups.WithLabelValues(status).Inc()
	m.setupDuration.WithLabelValues(status).Observe(d.Seconds())
}

// IncReconcile counts one reaction event; action is grant or revoke.
func (m *Metrics) IncReconcile(action, outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) IncAutoRole(outcome string) {
	if m == nil {
		return
	}
	m.autoroles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}

func (m *Metrics) IncRollbackResidue() {
	if m == nil {
		return
	}
	m.rollbackLeaks.Inc()
}

func (m *Metrics) SetQueueDepth(shard string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(shard).Set(float64(depth))
}

func (m *Metrics) IncRejected() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
