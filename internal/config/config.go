// Package config loads simulator run configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/consent-negotiation-sim/internal/observability"
	"github.com/signalsfoundry/consent-negotiation-sim/negotiation"
	"github.com/signalsfoundry/consent-negotiation-sim/network"
)

// Scenario kinds.
const (
	ScenarioShoppingMall = "shopping_mall"
	ScenarioUniversity   = "university"
	ScenarioFile         = "file"
)

// Config is the top-level structure of simulator.yaml.
type Config struct {
	Simulation SimulationConfig            `yaml:"simulation"`
	Scenario   ScenarioConfig              `yaml:"scenario"`
	Padome     negotiation.PadomeConfig    `yaml:"padome"`
	Metrics    MetricsConfig               `yaml:"metrics"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
	Logging    LoggingConfig               `yaml:"logging"`
}

// SimulationConfig selects what is simulated and how often.
type SimulationConfig struct {
	Protocol string `yaml:"protocol"`
	Network  string `yaml:"network"`
	Seed     uint64 `yaml:"seed"`
	// Runs repeats the simulation with seeds Seed, Seed+1, ...
	Runs    int    `yaml:"runs"`
	Workers int    `yaml:"workers"`
	Results string `yaml:"results"` // CSV path, empty for stdout
}

// ScenarioConfig selects the population generator.
type ScenarioConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"` // used when Kind == file
	// Duration overrides the generator's last arrival time in minutes.
	Duration float64 `yaml:"duration"`
}

// MetricsConfig governs the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig mirrors the LOG_LEVEL and LOG_FORMAT variables.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			Protocol: negotiation.ProtocolAlanezi.String(),
			Network:  network.KindBLE.String(),
			Seed:     1,
			Runs:     1,
		},
		Scenario: ScenarioConfig{Kind: ScenarioShoppingMall},
		Padome:   negotiation.DefaultPadomeConfig(),
		Metrics:  MetricsConfig{Addr: ":9090"},
		Tracing:  observability.DefaultTracingConfig(),
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path over Default. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	protocol, err := negotiation.ParseProtocol(c.Simulation.Protocol)
	if err != nil {
		return err
	}
	if _, err := network.ParseKind(c.Simulation.Network); err != nil {
		return err
	}
	if c.Simulation.Runs < 1 {
		return errors.New("config: simulation.runs must be at least 1")
	}
	if c.Simulation.Workers < 0 {
		return errors.New("config: simulation.workers must not be negative")
	}
	switch c.Scenario.Kind {
	case ScenarioShoppingMall, ScenarioUniversity:
	case ScenarioFile:
		if c.Scenario.Path == "" {
			return errors.New("config: scenario.path is required for file scenarios")
		}
	default:
		return fmt.Errorf("config: unknown scenario kind %q", c.Scenario.Kind)
	}
	if c.Scenario.Duration < 0 {
		return errors.New("config: scenario.duration must not be negative")
	}
	if protocol == negotiation.ProtocolPadome {
		if err := c.Padome.Validate(); err != nil {
			return fmt.Errorf("config: padome: %w", err)
		}
	}
	return nil
}
