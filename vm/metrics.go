package vm

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for finished top-level invocations.
const (
	OutcomeReturned = "returned"
	OutcomeThrown   = "thrown"
	OutcomeFault    = "fault"
)

// Metrics collects execution statistics for one interpreter. Each instance
// owns its registry so that independent interpreters never share state.
type Metrics struct {
	Registry *prometheus.Registry

	opcodes      *prometheus.CounterVec
	invocations  *prometheus.CounterVec
	caught       prometheus.Counter
	instructions prometheus.Histogram

	byOpcode [256]prometheus.Counter
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		opcodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abcvm",
			Name:      "opcodes_executed_total",
			Help:      "Instructions executed, by opcode.",
		}, []string{"opcode"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "abcvm",
			Name:      "invocations_total",
			Help:      "Top-level invocations, by outcome.",
		}, []string{"outcome"}),
		caught: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abcvm",
			Name:      "exceptions_caught_total",
			Help:      "Script exceptions delivered to a handler.",
		}),
		instructions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "abcvm",
			Name:      "instructions_per_invocation",
			Help:      "Instructions executed per top-level invocation.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}),
	}
	m.Registry.MustRegister(m.opcodes, m.invocations, m.caught, m.instructions)
	for op, info := range opcodeTable {
		m.byOpcode[op] = m.opcodes.WithLabelValues(info.Name)
	}
	return m
}

func (m *Metrics) opcode(op Opcode) {
	if c := m.byOpcode[op]; c != nil {
		c.Inc()
	}
}

func (m *Metrics) finished(outcome string, executed uint64) {
	m.invocations.WithLabelValues(outcome).Inc()
	m.instructions.Observe(float64(executed))
}

func (m *Metrics) caughtException() {
	m.caught.Inc()
}
