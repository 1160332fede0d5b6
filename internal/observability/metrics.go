// Package observability holds the engine's prometheus instrumentation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the engine does. A nil *Metrics is safe to call; every
// method no-ops.
type Metrics struct {
	runs        *prometheus.CounterVec
	steps       *prometheus.CounterVec
	toolCalls   *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	adaptations prometheus.Counter
}

// NewMetrics builds and registers the engine counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otto",
			Name:      "runs_total",
			Help:      "Completed engine runs by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otto",
			Name:      "steps_total",
			Help:      "Recorded agent steps by kind.",
		}, []string{"kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otto",
			Name:      "tool_calls_total",
			Help:      "Tool calls by status.",
		}, []string{"status"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otto",
			Name:      "fallbacks_total",
			Help:      "Deterministic fallbacks used when model output was unusable, by stage.",
		}, []string{"stage"}),
		adaptations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otto",
			Name:      "plan_adaptations_total",
			Help:      "Plan adaptations applied.",
		}),
	}
	reg.MustRegister(m.runs, m.steps, m.toolCalls, m.fallbacks, m.adaptations)
	return m
}

func (m *Metrics) RunFinished(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StepRecorded(kind string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(kind).Inc()
}

func (m *Metrics) FallbackUsed(stage string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(stage).Inc()
}

func (m *Metrics) PlanAdapted() {
	if m == nil {
		return
	}
	m.adaptations.Inc()
}

func (m *Metrics) ToolCallFinished(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(status).Inc()
}
