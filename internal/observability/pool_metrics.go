package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// poolMetrics covers the accounting worker pool.
type poolMetrics struct {
	Tasks    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

func newPoolMetrics(reg prometheus.Registerer) (*poolMetrics, error) {
	tasks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_accounting_tasks_total",
		Help: "Per-user cost computations executed by the accounting pool.",
	}, []string{"protocol"})
	tasks, err := registerCounterVec(reg, tasks, "sim_accounting_tasks_total")
	if err != nil {
		return nil, err
	}

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_accounting_duration_seconds",
		Help:    "Wall time of one accounting phase, fan-out to join.",
		Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"protocol"})
	duration, err = registerHistogramVec(reg, duration, "sim_accounting_duration_seconds")
	if err != nil {
		return nil, err
	}
	return &poolMetrics{Tasks: tasks, Duration: duration}, nil
}

// ObserveAccounting records one accounting phase of tasks cost computations.
func (c *SimulationCollector) ObserveAccounting(protocol string, tasks int, seconds float64) {
	if c == nil || c.pool == nil {
		return
	}
	if tasks > 0 {
		c.pool.Tasks.WithLabelValues(protocol).Add(float64(tasks))
	}
	if seconds < 0 {
		seconds = 0
	}
	c.pool.Duration.WithLabelValues(protocol).Observe(seconds)
}

// AccountingTasks returns the pool task counter for protocol.
func (c *SimulationCollector) AccountingTasks(protocol string) (prometheus.Counter, error) {
	if c == nil || c.pool == nil {
		return nil, fmt.Errorf("accounting metrics not registered")
	}
	return c.pool.Tasks.GetMetricWithLabelValues(protocol)
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
