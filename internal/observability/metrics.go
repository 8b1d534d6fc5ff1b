package observability

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SimulationCollector bundles Prometheus metrics for simulation runs. It
// satisfies the recorder interfaces of the negotiation and core packages.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	Negotiations  *prometheus.CounterVec
	ConsentRounds *prometheus.HistogramVec
	Events        prometheus.Counter

	Progress       prometheus.Gauge
	CoPresentUsers prometheus.Gauge
	DevicePower    prometheus.Gauge
	ConsentedUsers prometheus.Gauge
	RunsCompleted  prometheus.Counter

	pool *poolMetrics
}

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	negotiations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_negotiations_total",
		Help: "Negotiations run, labeled by protocol and outcome.",
	}, []string{"protocol", "outcome"})
	negotiations, err := registerCounterVec(reg, negotiations, "sim_negotiations_total")
	if err != nil {
		return nil, err
	}

	rounds := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sim_consent_rounds",
		Help:    "Rounds needed by negotiations that ended in consent.",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
	}, []string{"protocol"})
	rounds, err = registerHistogramVec(reg, rounds, "sim_consent_rounds")
	if err != nil {
		return nil, err
	}

	events, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_events_processed_total",
		Help: "Event times processed by the simulation driver.",
	}), "sim_events_processed_total")
	if err != nil {
		return nil, err
	}
	runs, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_runs_completed_total",
		Help: "Simulation runs that reached their last event.",
	}), "sim_runs_completed_total")
	if err != nil {
		return nil, err
	}

	progress, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_progress_minutes",
		Help: "Simulated time covered by the current run.",
	}), "sim_progress_minutes")
	if err != nil {
		return nil, err
	}
	present, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_copresent_users",
		Help: "Users present at the most recent event time.",
	}), "sim_copresent_users")
	if err != nil {
		return nil, err
	}
	power, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_device_energy_joules",
		Help: "Energy the IoT device spent negotiating in the current run.",
	}), "sim_device_energy_joules")
	if err != nil {
		return nil, err
	}
	consented, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_consented_users",
		Help: "Users that consented in the current run.",
	}), "sim_consented_users")
	if err != nil {
		return nil, err
	}

	pool, err := newPoolMetrics(reg)
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:       gatherer,
		Negotiations:   negotiations,
		ConsentRounds:  rounds,
		Events:         events,
		Progress:       progress,
		CoPresentUsers: present,
		DevicePower:    power,
		ConsentedUsers: consented,
		RunsCompleted:  runs,
		pool:           pool,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveNegotiation counts one negotiation. Rounds are recorded only for
// consenting outcomes.
func (c *SimulationCollector) ObserveNegotiation(protocol, outcome string, rounds int) {
	if c == nil {
		return
	}
	if c.Negotiations != nil {
		c.Negotiations.WithLabelValues(protocol, outcome).Inc()
	}
	if rounds > 0 && c.ConsentRounds != nil {
		c.ConsentRounds.WithLabelValues(protocol).Observe(float64(rounds))
	}
}

// ObserveEvent records one processed event time.
func (c *SimulationCollector) ObserveEvent(progress float64, present int, devicePower float64) {
	if c == nil {
		return
	}
	if c.Events != nil {
		c.Events.Inc()
	}
	if c.Progress != nil {
		c.Progress.Set(progress)
	}
	if c.CoPresentUsers != nil {
		c.CoPresentUsers.Set(float64(present))
	}
	if c.DevicePower != nil {
		c.DevicePower.Set(devicePower)
	}
}

// ObserveRun records the outcome of a finished run.
func (c *SimulationCollector) ObserveRun(consented int) {
	if c == nil {
		return
	}
	if c.ConsentedUsers != nil {
		c.ConsentedUsers.Set(float64(consented))
	}
	if c.RunsCompleted != nil {
		c.RunsCompleted.Inc()
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Router serves /metrics and /healthz.
func (c *SimulationCollector) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", c.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
