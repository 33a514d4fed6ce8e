// Package metrics exposes Prometheus collectors fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"digestfanout/internal/eventbus"
)

const namespace = "fanout"

type Metrics struct {
	reg *prometheus.Registry

	ticks       *prometheus.CounterVec
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	sends       *prometheus.CounterVec
	mutes       *prometheus.CounterVec
}

// New builds collectors on a private registry (plus Go/process collectors).
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Scheduler ticks by outcome (ran, skipped, failed).",
			},
			[]string{"outcome"},
		),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Job runs by type and ok flag.",
			},
			[]string{"type", "ok"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Wall time of one job run including fanout.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"type"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sends_total",
				Help:      "Logical sends by channel and outcome (sent, skipped, failed).",
			},
			[]string{"channel", "outcome"},
		),
		mutes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_mutes_total",
				Help:      "Targets muted by the circuit breaker.",
			},
			[]string{"channel"},
		),
	}
	m.reg.MustRegister(
		m.ticks, m.jobs, m.jobDuration, m.sends, m.mutes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Observe updates collectors from one bus event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.TickEvent:
		m.ticks.WithLabelValues(d.Outcome).Inc()
	case eventbus.JobEvent:
		m.jobs.WithLabelValues(d.Type, strconv.FormatBool(d.OK)).Inc()
		m.jobDuration.WithLabelValues(d.Type).Observe(d.Duration.Seconds())
	case eventbus.SendEvent:
		m.sends.WithLabelValues(d.Channel, d.Outcome).Inc()
	case eventbus.BreakerEvent:
		m.mutes.WithLabelValues(d.Channel).Inc()
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}
