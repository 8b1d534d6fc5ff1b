package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalsfoundry/consent-negotiation-sim/negotiation"
	"github.com/signalsfoundry/consent-negotiation-sim/network"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simulator.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Simulation.Protocol != "alanezi" || cfg.Simulation.Runs != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg.Simulation)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
simulation:
  protocol: padome
  network: lora
  seed: 42
  runs: 3
scenario:
  kind: university
padome:
  reservation_value: 0.4
  deadline_factors:
    network_factors:
      lora: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Simulation.Seed != 42 || cfg.Simulation.Runs != 3 || cfg.Simulation.Network != "lora" {
		t.Fatalf("simulation not loaded: %+v", cfg.Simulation)
	}
	if cfg.Padome.ReservationValue != 0.4 {
		t.Fatalf("reservation value = %v", cfg.Padome.ReservationValue)
	}
	// untouched fields keep their defaults
	if cfg.Padome.NegValue != negotiation.DefaultPadomeConfig().NegValue {
		t.Fatalf("neg_value lost its default: %d", cfg.Padome.NegValue)
	}
	if cfg.Padome.DeadlineFactors.NetworkFactors["lora"] != 5 || cfg.Padome.DeadlineFactors.NetworkFactors["default"] != 1 {
		t.Fatalf("network factors not merged: %v", cfg.Padome.DeadlineFactors.NetworkFactors)
	}
	if cfg.Metrics.Addr != ":9090" {
		t.Fatalf("metrics addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(writeFile(t, "simulation: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateRejectsUnknownNames(t *testing.T) {
	cfg := Default()
	cfg.Simulation.Protocol = "haggle"
	if err := cfg.Validate(); !errors.Is(err, negotiation.ErrUnsupportedProtocol) {
		t.Fatalf("Validate() = %v, want ErrUnsupportedProtocol", err)
	}

	cfg = Default()
	cfg.Simulation.Network = "smoke-signals"
	if err := cfg.Validate(); !errors.Is(err, network.ErrUnsupportedNetwork) {
		t.Fatalf("Validate() = %v, want ErrUnsupportedNetwork", err)
	}

	cfg = Default()
	cfg.Scenario.Kind = ScenarioFile
	if err := cfg.Validate(); err == nil {
		t.Fatalf("file scenario without path accepted")
	}

	cfg = Default()
	cfg.Simulation.Runs = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero runs accepted")
	}

	for _, name := range []string{"padome", "PADOME", " Padome "} {
		cfg = Default()
		cfg.Simulation.Protocol = name
		cfg.Padome.NegValue = 0
		if err := cfg.Validate(); err == nil {
			t.Fatalf("invalid padome config accepted for protocol %q", name)
		}
	}
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "simulator.yaml"))
	if err != nil {
		t.Fatalf("Load shipped config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("shipped config invalid: %v", err)
	}
	if cfg.Simulation.Protocol != negotiation.ProtocolPadome.String() {
		t.Fatalf("shipped config protocol = %q", cfg.Simulation.Protocol)
	}
	if got := cfg.Padome.DeadlineFactors.NetworkFactors["lora"]; got != 3 {
		t.Fatalf("lora deadline factor = %v, want 3", got)
	}
}
