// Package metrics defines Prometheus collectors for sync runs and token operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync counts reconciliation actions and run durations.
type Sync struct {
	Actions  *prometheus.CounterVec
	Duration prometheus.Histogram
	Runs     *prometheus.CounterVec
}

// NewSync registers sync collectors on reg. A nil reg leaves them unregistered.
func NewSync(reg prometheus.Registerer) *Sync {
	m := &Sync{
		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jwtauth_sync_actions_total",
				Help: "Identity mutations performed by directory sync",
			},
			[]string{"action", "status"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "jwtauth_sync_duration_seconds",
				Help:    "Duration of directory sync runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jwtauth_sync_runs_total",
				Help: "Directory sync runs by result",
			},
			[]string{"result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Actions, m.Duration, m.Runs)
	}
	return m
}

// Action records one mutation. Safe on nil.
func (m *Sync) Action(action string, err error) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, status(err)).Inc()
}

// Run records a finished run. Safe on nil.
func (m *Sync) Run(started time.Time, err error) {
	if m == nil {
		return
	}
	m.Duration.Observe(time.Since(started).Seconds())
	m.Runs.WithLabelValues(status(err)).Inc()
}

// Token counts codec and auth service outcomes.
type Token struct {
	Ops *prometheus.CounterVec
}

// NewToken registers token collectors on reg. A nil reg leaves them unregistered.
func NewToken(reg prometheus.Registerer) *Token {
	m := &Token{
		Ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jwtauth_token_operations_total",
				Help: "Token operations by kind and result",
			},
			[]string{"op", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Ops)
	}
	return m
}

// Observe records an operation outcome. result is a short error kind or "ok". Safe on nil.
func (m *Token) Observe(op, result string) {
	if m == nil {
		return
	}
	m.Ops.WithLabelValues(op, result).Inc()
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
