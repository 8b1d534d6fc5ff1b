package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/signalsfoundry/consent-negotiation-sim/core"
	"github.com/signalsfoundry/consent-negotiation-sim/internal/config"
	"github.com/signalsfoundry/consent-negotiation-sim/internal/logging"
	"github.com/signalsfoundry/consent-negotiation-sim/internal/observability"
	"github.com/signalsfoundry/consent-negotiation-sim/negotiation"
	"github.com/signalsfoundry/consent-negotiation-sim/network"
)

// scenarioStream separates the population generator from the negotiation
// streams derived from the same seed.
const scenarioStream = 0x5ce4a210

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	protocol := fs.String("protocol", "", "Negotiation protocol: alanezi, cunche, concession or padome")
	networkName := fs.String("network", "", "Network technology: ble, zigbee, lora or wifi")
	seed := fs.Uint64("seed", 0, "Base random seed; run i uses seed+i")
	runs := fs.Int("runs", 0, "Number of repetitions")
	workers := fs.Int("workers", -1, "Accounting workers, 0 for GOMAXPROCS")
	scenario := fs.String("scenario", "", "Scenario: shopping_mall, university, or a JSON file path")
	duration := fs.Float64("duration", 0, "Last arrival time in minutes for generated scenarios")
	results := fs.String("results", "", "CSV output path, stdout when empty")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	logLevel := fs.String("log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "simulator: %v\n", err)
		return 1
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "protocol":
			cfg.Simulation.Protocol = *protocol
		case "network":
			cfg.Simulation.Network = *networkName
		case "seed":
			cfg.Simulation.Seed = *seed
		case "runs":
			cfg.Simulation.Runs = *runs
		case "workers":
			cfg.Simulation.Workers = *workers
		case "scenario":
			switch *scenario {
			case config.ScenarioShoppingMall, config.ScenarioUniversity:
				cfg.Scenario.Kind = *scenario
			default:
				cfg.Scenario.Kind = config.ScenarioFile
				cfg.Scenario.Path = *scenario
			}
		case "duration":
			cfg.Scenario.Duration = *duration
		case "results":
			cfg.Simulation.Results = *results
		case "metrics-addr":
			cfg.Metrics.Enabled = *metricsAddr != ""
			cfg.Metrics.Addr = *metricsAddr
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})

	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		return 1
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(cfg.Tracing), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		return 1
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimulationCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		return 1
	}
	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Addr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	out := stdout
	if cfg.Simulation.Results != "" {
		f, err := os.Create(cfg.Simulation.Results)
		if err != nil {
			log.Error(ctx, "failed to create results file", logging.String("path", cfg.Simulation.Results), logging.Err(err))
			return 1
		}
		defer f.Close()
		out = f
	}
	w := csv.NewWriter(out)
	if err := w.Write(append([]string{"run", "seed", "protocol", "network"}, core.ResultHeader...)); err != nil {
		log.Error(ctx, "failed to write results", logging.Err(err))
		return 1
	}

	for i := 0; i < cfg.Simulation.Runs; i++ {
		runSeed := cfg.Simulation.Seed + uint64(i)
		runCtx, runLog := logging.WithRunLogger(ctx, log)
		runLog = runLog.With(logging.Int("run", i), logging.Any("seed", runSeed))

		res, err := simulate(runCtx, cfg, runSeed, collector, runLog)
		if err != nil {
			var inv *negotiation.InvariantError
			switch {
			case errors.As(err, &inv):
				runLog.Error(runCtx, "invariant violated",
					logging.String("protocol", inv.Protocol.String()),
					logging.Int("user", inv.UserID),
					logging.Err(err),
				)
			case errors.Is(err, context.Canceled):
				runLog.Warn(runCtx, "simulation interrupted")
			default:
				runLog.Error(runCtx, "simulation failed", logging.Err(err))
			}
			w.Flush()
			return 1
		}

		row := append([]string{
			strconv.Itoa(i),
			strconv.FormatUint(runSeed, 10),
			cfg.Simulation.Protocol,
			cfg.Simulation.Network,
		}, res.Row()...)
		if err := w.Write(row); err != nil {
			runLog.Error(runCtx, "failed to write results", logging.Err(err))
			return 1
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		log.Error(ctx, "failed to flush results", logging.Err(err))
		return 1
	}
	return 0
}

// simulate builds a fresh network model, population and strategy for one
// seed and drives it to completion.
func simulate(ctx context.Context, cfg config.Config, seed uint64, collector *observability.SimulationCollector, log logging.Logger) (core.Result, error) {
	kind, err := network.ParseKind(cfg.Simulation.Network)
	if err != nil {
		return core.Result{}, err
	}
	tech, err := network.New(kind)
	if err != nil {
		return core.Result{}, err
	}

	pop, err := population(cfg.Scenario, seed, tech.CommDistance())
	if err != nil {
		return core.Result{}, err
	}
	base, err := pop.KnowledgeBase()
	if err != nil {
		return core.Result{}, err
	}

	strategy, err := negotiation.NewDispatcher(cfg.Simulation.Protocol, negotiation.Deps{
		Network:  tech,
		Streams:  negotiation.NewStreams(seed),
		Workers:  cfg.Simulation.Workers,
		Padome:   cfg.Padome,
		Log:      log,
		Recorder: collector,
	})
	if err != nil {
		return core.Result{}, err
	}

	driver, err := core.NewDriver(base, strategy,
		core.WithLogger(log),
		core.WithRecorder(collector),
	)
	if err != nil {
		return core.Result{}, err
	}
	return driver.Run(ctx)
}

func population(sc config.ScenarioConfig, seed uint64, commDistance float64) (core.Population, error) {
	r := rand.New(rand.NewPCG(seed, scenarioStream))
	switch sc.Kind {
	case config.ScenarioShoppingMall:
		g := core.DefaultShoppingMall()
		if sc.Duration > 0 {
			g.LastArrival = sc.Duration
		}
		return g.Generate(r, commDistance), nil
	case config.ScenarioUniversity:
		g := core.DefaultUniversity()
		if sc.Duration > 0 {
			g.LastArrival = sc.Duration
		}
		return g.Generate(r, commDistance), nil
	case config.ScenarioFile:
		return core.LoadScenario(sc.Path)
	default:
		return core.Population{}, fmt.Errorf("simulator: unknown scenario kind %q", sc.Kind)
	}
}

func serveMetrics(addr string, collector *observability.SimulationCollector, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           collector.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
