// Package metrics exposes allocator counters in Prometheus format.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskline/internal/allocation"
	"taskline/internal/domain"
)

// Collector turns allocator events into Prometheus series. It implements
// allocation.Recorder.
type Collector struct {
	registry *prometheus.Registry

	rounds       *prometheus.CounterVec
	winners      prometheus.Counter
	grants       *prometheus.CounterVec
	notify       *prometheus.CounterVec
	ledgerWrites *prometheus.CounterVec
	revocations  *prometheus.CounterVec
	cursor       prometheus.Gauge
	running      prometheus.Gauge
	pending      prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskline", Name: "rounds_total", Help: "Finished allocation rounds by outcome.",
		}, []string{"state"}),
		winners: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskline", Name: "winners_total", Help: "Winners processed through the effect pipeline.",
		}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskline", Name: "privilege_grants_total", Help: "Privilege grant attempts by result.",
		}, []string{"result"}),
		notify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskline", Name: "notifications_total", Help: "Winner notifications by channel.",
		}, []string{"channel"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskline", Name: "ledger_writes_total", Help: "Ledger writes by result.",
		}, []string{"result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskline", Name: "revocations_total", Help: "Fired revocations by result.",
		}, []string{"result"}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskline", Name: "cursor", Help: "Next unassigned task number.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskline", Name: "running", Help: "1 while the allocation loop is installed.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskline", Name: "pending_revocations", Help: "Revocations waiting to fire.",
		}),
	}
	c.registry.MustRegister(c.rounds, c.winners, c.grants, c.notify, c.ledgerWrites, c.revocations, c.cursor, c.running, c.pending)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveStatus refreshes the gauges from a status snapshot.
func (c *Collector) ObserveStatus(st domain.Status) {
	c.cursor.Set(float64(st.State.Cursor))
	if st.State.Running {
		c.running.Set(1)
	} else {
		c.running.Set(0)
	}
	c.pending.Set(float64(len(st.Pending)))
}

func (c *Collector) Record(_ context.Context, ev allocation.Event) {
	switch p := ev.Payload.(type) {
	case domain.RoundOutcome:
		c.rounds.WithLabelValues(string(p.State)).Inc()
	case allocation.EffectResult:
		c.winners.Inc()
		if p.Granted {
			c.grants.WithLabelValues("granted").Inc()
			c.pending.Inc()
		} else {
			c.grants.WithLabelValues("failed").Inc()
		}
		switch {
		case p.NotifiedDirect:
			c.notify.WithLabelValues("direct").Inc()
		case p.FallbackPosted:
			c.notify.WithLabelValues("public").Inc()
		default:
			c.notify.WithLabelValues("undelivered").Inc()
		}
		if p.LedgerWritten {
			c.ledgerWrites.WithLabelValues("written").Inc()
		} else {
			c.ledgerWrites.WithLabelValues("failed").Inc()
		}
	case allocation.RevocationResult:
		c.pending.Dec()
		switch {
		case p.Error != "":
			c.revocations.WithLabelValues("error").Inc()
		case p.Revoked:
			c.revocations.WithLabelValues("revoked").Inc()
		default:
			c.revocations.WithLabelValues("not_held").Inc()
		}
	case domain.AllocationState:
		c.cursor.Set(float64(p.Cursor))
		if p.Running {
			c.running.Set(1)
		} else {
			c.running.Set(0)
		}
	}
}
