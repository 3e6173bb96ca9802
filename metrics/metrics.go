// Package metrics exports transaction transitions as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oligo/txprop"
)

// Observer is a txprop.Observer that counts transitions and tracks open physical transactions.
type Observer struct {
	events     *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
	active     prometheus.Gauge
	unexpected prometheus.Counter
}

// New creates the collectors under namespace and registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Observer, error) {
	o := &Observer{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "events_total",
			Help:      "Transaction state transitions by event and propagation.",
		}, []string{"event", "propagation"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "physical_outcomes_total",
			Help:      "Physical commits and rollbacks by result.",
		}, []string{"outcome", "result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "active",
			Help:      "Physical transactions currently open.",
		}),
		unexpected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "unexpected_rollbacks_total",
			Help:      "Commits that turned into rollbacks because a participant failed.",
		}),
	}
	for _, c := range []prometheus.Collector{o.events, o.outcomes, o.active, o.unexpected} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register tx metrics: %w", err)
		}
	}
	return o, nil
}

func (o *Observer) OnEvent(_ context.Context, ev txprop.Event) {
	o.events.WithLabelValues(ev.Type.String(), ev.Propagation.String()).Inc()

	switch ev.Type {
	case txprop.EventBegin:
		o.active.Inc()
	case txprop.EventCommit, txprop.EventRollback:
		if !ev.Physical {
			return
		}
		o.active.Dec()
		result := "ok"
		if ev.Err != nil {
			result = "error"
		}
		o.outcomes.WithLabelValues(ev.Type.String(), result).Inc()
	case txprop.EventUnexpectedRollback:
		o.unexpected.Inc()
	}
}

// Counter returns the events counter for one event and propagation.
func (o *Observer) Counter(event, propagation string) prometheus.Counter {
	return o.events.WithLabelValues(event, propagation)
}

// Outcome returns the physical outcome counter, outcome being "commit" or "rollback" and
// result "ok" or "error".
func (o *Observer) Outcome(outcome, result string) prometheus.Counter {
	return o.outcomes.WithLabelValues(outcome, result)
}

func (o *Observer) Active() prometheus.Gauge { return o.active }

func (o *Observer) UnexpectedRollbacks() prometheus.Counter { return o.unexpected }
