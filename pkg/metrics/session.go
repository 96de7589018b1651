// Package metrics exposes planning session metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"planforge/pkg/session"
)

// SessionRecorder implements session.Recorder with Prometheus metrics.
type SessionRecorder struct {
	transitionsTotal   *prometheus.CounterVec
	rejectionsTotal    *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
}

// NewSessionRecorder registers the orchestration metrics on reg.
func NewSessionRecorder(reg prometheus.Registerer) *SessionRecorder {
	factory := promauto.With(reg)
	return &SessionRecorder{
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planforge_session_transitions_total",
				Help: "Committed session transitions by trigger and states",
			},
			[]string{"trigger", "from", "to"},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planforge_session_rejections_total",
				Help: "Rejected session operations by trigger, state, and error kind",
			},
			[]string{"trigger", "state", "kind"},
		),
		transitionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planforge_session_transition_duration_seconds",
				Help:    "Duration of committed transitions, collaborator calls included",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"trigger"},
		),
	}
}

// ObserveTransition implements session.Recorder.
func (r *SessionRecorder) ObserveTransition(trigger session.Trigger, from, to session.State, d time.Duration) {
	r.transitionsTotal.WithLabelValues(string(trigger), string(from), string(to)).Inc()
	r.transitionDuration.WithLabelValues(string(trigger)).Observe(d.Seconds())
}

// ObserveRejection implements session.Recorder.
func (r *SessionRecorder) ObserveRejection(trigger session.Trigger, state session.State, kind session.Kind) {
	if state == "" {
		state = "none"
	}
	r.rejectionsTotal.WithLabelValues(string(trigger), string(state), string(kind)).Inc()
}

// Lister is the read side of the session store.
type Lister interface {
	List() []session.Session
}

// StateCollector reports how many sessions sit in each state at scrape time.
type StateCollector struct {
	lister Lister
	desc   *prometheus.Desc
}

// NewStateCollector creates a collector over lister.
func NewStateCollector(lister Lister) *StateCollector {
	return &StateCollector{
		lister: lister,
		desc: prometheus.NewDesc(
			"planforge_sessions",
			"Sessions currently held, by state",
			[]string{"state"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	counts := make(map[session.State]int)
	for _, s := range c.lister.List() {
		counts[s.State]++
	}
	for _, state := range session.GetAllStates() {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[state]), string(state))
	}
}
