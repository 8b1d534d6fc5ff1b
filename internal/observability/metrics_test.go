package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveNegotiationRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("NewSimulationCollector: %v", err)
	}

	collector.ObserveNegotiation("cunche", "consented", 2)
	collector.ObserveNegotiation("cunche", "declined", 0)
	collector.ObserveNegotiation("cunche", "consented", 1)

	if got := testutil.ToFloat64(collector.Negotiations.WithLabelValues("cunche", "consented")); got != 2 {
		t.Fatalf("sim_negotiations_total consented = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.Negotiations.WithLabelValues("cunche", "declined")); got != 1 {
		t.Fatalf("sim_negotiations_total declined = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_consent_rounds", map[string]string{"protocol": "cunche"}); count != 2 {
		t.Fatalf("sim_consent_rounds sample_count = %d, want 2", count)
	}
}

func TestObserveAccounting(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("NewSimulationCollector: %v", err)
	}

	collector.ObserveAccounting("padome", 3, 0.002)
	collector.ObserveAccounting("padome", 0, -1)

	tasks, err := collector.AccountingTasks("padome")
	if err != nil {
		t.Fatalf("AccountingTasks: %v", err)
	}
	if got := testutil.ToFloat64(tasks); got != 3 {
		t.Fatalf("sim_accounting_tasks_total = %v, want 3", got)
	}
	if count := histogramSampleCount(t, reg, "sim_accounting_duration_seconds", map[string]string{"protocol": "padome"}); count != 2 {
		t.Fatalf("sim_accounting_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("first NewSimulationCollector: %v", err)
	}
	second, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimulationCollector: %v", err)
	}
	first.ObserveEvent(1, 1, 0)
	second.ObserveEvent(2, 1, 0)
	if got := testutil.ToFloat64(first.Events); got != 2 {
		t.Fatalf("shared sim_events_processed_total = %v, want 2", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimulationCollector
	c.ObserveNegotiation("alanezi", "consented", 1)
	c.ObserveAccounting("alanezi", 1, 0.1)
	c.ObserveEvent(1, 2, 3)
	c.ObserveRun(4)
	if c.Gatherer() != nil {
		t.Fatalf("nil collector returned a gatherer")
	}
}

func TestRouterServesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimulationCollector(reg)
	if err != nil {
		t.Fatalf("NewSimulationCollector: %v", err)
	}
	collector.ObserveEvent(12.5, 3, 0.75)
	collector.ObserveRun(6)
	collector.ObserveNegotiation("alanezi", "consented", 1)

	router := collector.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sim_negotiations_total",
		"sim_consent_rounds",
		"sim_events_processed_total",
		"sim_progress_minutes 12.5",
		"sim_copresent_users 3",
		"sim_device_energy_joules 0.75",
		"sim_consented_users 6",
		"sim_runs_completed_total 1",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("/healthz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "2")

	cfg := TracingConfigFromEnv(DefaultTracingConfig())
	if !cfg.Enabled {
		t.Fatalf("tracing not enabled")
	}
	if cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected exporter config: %+v", cfg)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("out of range ratio accepted: %v", cfg.SampleRatio)
	}
	if cfg.ServiceName != "consent-sim" {
		t.Fatalf("service name = %q", cfg.ServiceName)
	}
}

func TestTracingConfigFromEnvKeepsBase(t *testing.T) {
	for _, k := range []string{"SIM_TRACING_ENABLED", "SIM_TRACING_EXPORTER", "SIM_TRACING_SERVICE_NAME", "SIM_OTLP_ENDPOINT", "SIM_TRACING_SAMPLE_RATIO"} {
		if v, ok := os.LookupEnv(k); ok {
			t.Setenv(k, v)
			os.Unsetenv(k)
		}
	}
	base := TracingConfig{Enabled: true, ServiceName: "svc", Exporter: "stdout", SampleRatio: 0.5}
	if got := TracingConfigFromEnv(base); got != base {
		t.Fatalf("TracingConfigFromEnv changed base: %+v", got)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
