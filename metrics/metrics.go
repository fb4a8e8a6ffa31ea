// Package metrics exposes Prometheus collectors for the query pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aida"

type Metrics struct {
	queries        *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	preprocessor   *prometheus.CounterVec
	iterations     prometheus.Histogram
	toolCalls      *prometheus.CounterVec
	gateDecisions  *prometheus.CounterVec
	repairPasses   prometheus.Counter
	commandSeconds prometheus.Histogram
}

// New registers the collectors with reg. A nil reg uses the default registerer.
// Registering twice with the same registry reuses the existing collectors.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Queries processed, by outcome.",
		}, []string{"outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end time spent answering a query.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		preprocessor: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preprocessor",
			Name:      "decisions_total",
			Help:      "Relevance decisions, by result.",
		}, []string{"result"}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "loop_iterations",
			Help:      "Iterations used per agent loop run.",
			Buckets:   prometheus.LinearBuckets(1, 1, 20),
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "tool_calls_total",
			Help:      "Tool invocations, by tool and status.",
		}, []string{"tool", "status"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gate",
			Name:      "decisions_total",
			Help:      "Command approval decisions.",
		}, []string{"decision"}),
		repairPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "repair_passes_total",
			Help:      "Final-answer repair invocations.",
		}),
		commandSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shell",
			Name:      "command_duration_seconds",
			Help:      "Wall time of approved shell commands.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.queries = register(reg, m.queries)
	m.queryDuration = register(reg, m.queryDuration)
	m.preprocessor = register(reg, m.preprocessor)
	m.iterations = register(reg, m.iterations)
	m.toolCalls = register(reg, m.toolCalls)
	m.gateDecisions = register(reg, m.gateDecisions)
	m.repairPasses = register(reg, m.repairPasses)
	m.commandSeconds = register(reg, m.commandSeconds)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveQuery records a finished query. outcome is one of "answered",
// "rejected", "repaired", "stopped" or "error".
func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) ObservePreprocessor(result string) {
	if m == nil {
		return
	}
	m.preprocessor.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveIterations(n int) {
	if m == nil {
		return
	}
	m.iterations.Observe(float64(n))
}

func (m *Metrics) ObserveToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// ObserveGateDecision counts an approval decision: "approved", "modified" or "rejected".
func (m *Metrics) ObserveGateDecision(decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncRepair() {
	if m == nil {
		return
	}
	m.repairPasses.Inc()
}

func (m *Metrics) ObserveCommand(d time.Duration) {
	if m == nil {
		return
	}
	m.commandSeconds.Observe(d.Seconds())
}
