package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PricingMetrics counts cart-transform runs and per-line outcomes.
type PricingMetrics struct {
	RunsTotal       prometheus.Counter
	LinesTotal      *prometheus.CounterVec
	OperationsTotal prometheus.Counter
	RunDuration     prometheus.Histogram
}

// NewPricingMetrics registers and returns pricing collectors. A nil registerer
// uses the default registry.
func NewPricingMetrics(namespace string, reg prometheus.Registerer) *PricingMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PricingMetrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_runs_total",
			Help:      "Number of cart-transform runs.",
		}),
		LinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_lines_total",
			Help:      "Cart lines evaluated, by outcome.",
		}, []string{"outcome"}),
		OperationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_operations_total",
			Help:      "Price override operations emitted.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pricing_run_duration_ms",
			Help:      "Cart-transform run latency in milliseconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
	m.RunsTotal = register(reg, m.RunsTotal)
	m.LinesTotal = register(reg, m.LinesTotal)
	m.OperationsTotal = register(reg, m.OperationsTotal)
	m.RunDuration = register(reg, m.RunDuration)
	return m
}

// ObserveLine records one evaluated line. Safe on a nil receiver.
func (m *PricingMetrics) ObserveLine(outcome string) {
	if m == nil {
		return
	}
	m.LinesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRun records a completed run. Safe on a nil receiver.
func (m *PricingMetrics) ObserveRun(operations int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.Inc()
	m.OperationsTotal.Add(float64(operations))
	m.RunDuration.Observe(DurationMillis(elapsed))
}
