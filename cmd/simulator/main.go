package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/internal/observability"
	"github.com/signalsfoundry/epidemic-simulator/internal/output"
	"github.com/signalsfoundry/epidemic-simulator/internal/persistence/statsdb"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim/reference"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim/rocket"
	"github.com/signalsfoundry/epidemic-simulator/internal/statusserver"
	"github.com/signalsfoundry/epidemic-simulator/internal/validator"
	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/timectrl"
)

const (
	engineRocket    = "rocket"
	engineReference = "reference"
)

type config struct {
	scenario    string
	padding     int
	engine      string
	output      string
	statsDB     string
	metricsAddr string
	grpcAddr    string
	validate    bool

	generate      string
	genWidth      int
	genHeight     int
	genPopulation int
	genPatches    int
	genTicks      int
	seed          int64
}

var errUsage = errors.New("usage")

func parseFlags(args []string, stderr io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.scenario, "scenario", "", "path to a JSON or YAML scenario")
	fs.IntVar(&cfg.padding, "padding", 10, "halo padding width in cells")
	fs.StringVar(&cfg.engine, "engine", engineRocket, "simulation engine: rocket or reference")
	fs.StringVar(&cfg.output, "output", "-", "output path; .zst compresses, - writes to stdout")
	fs.StringVar(&cfg.statsDB, "stats-db", "", "SQLite database recording run statistics")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics")
	fs.StringVar(&cfg.grpcAddr, "grpc-addr", "", "TCP address of the gRPC health endpoint")
	fs.BoolVar(&cfg.validate, "validate", false, "validate the scenario and engine set-up, then exit")

	defaults := core.DefaultGeneratorConfig()
	fs.StringVar(&cfg.generate, "generate", "", "write a generated scenario to this path and exit")
	fs.IntVar(&cfg.genWidth, "gen-width", defaults.Width, "generated grid width")
	fs.IntVar(&cfg.genHeight, "gen-height", defaults.Height, "generated grid height")
	fs.IntVar(&cfg.genPopulation, "gen-population", defaults.Population, "generated population size")
	fs.IntVar(&cfg.genPatches, "gen-patches", defaults.PatchesX, "generated patches per axis")
	fs.IntVar(&cfg.genTicks, "gen-ticks", defaults.Ticks, "generated tick count")
	fs.Int64Var(&cfg.seed, "seed", defaults.Seed, "generator seed")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.generate == "" && cfg.scenario == "" {
		return cfg, fmt.Errorf("%w: -scenario or -generate is required", errUsage)
	}
	if cfg.engine != engineRocket && cfg.engine != engineReference {
		return cfg, fmt.Errorf("%w: unknown engine %q", errUsage, cfg.engine)
	}
	return cfg, nil
}

func main() {
	log := logging.NewFromEnv()
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			log.Error(context.Background(), "invalid arguments", logging.Err(err))
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Stdout); err != nil {
		os.Exit(1)
	}
}

// run executes one command line invocation. Errors are logged before they
// are returned.
func run(ctx context.Context, cfg config, log logging.Logger, stdout io.Writer) error {
	ctx, runID := logging.EnsureRunID(ctx)
	ctx = logging.ContextWithLogger(ctx, log)

	if cfg.generate != "" {
		if err := generate(cfg, stdout); err != nil {
			log.Error(ctx, "scenario generation failed", logging.Err(err))
			return err
		}
		log.Info(ctx, "scenario generated", logging.String("path", cfg.generate))
		return nil
	}

	scenario, err := core.LoadScenarioFile(cfg.scenario)
	if err != nil {
		log.Error(ctx, "failed to load scenario", logging.String("path", cfg.scenario), logging.Err(err))
		return err
	}

	tracingCfg := observability.TracingConfigFromEnv()
	tracingCfg.RunID = runID
	tracingCfg.Scenario = scenario.Name
	tracingCfg.Engine = cfg.engine
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.Err(err))
		return err
	}

	clock := timectrl.NewTickController(time.Now(), time.Second, scenario.Ticks)
	progress(ctx, clock, scenario.Ticks)

	engine, patches, err := newEngine(cfg, scenario, collector, clock, log)
	if err != nil {
		log.Error(ctx, "failed to prepare engine", logging.String("engine", cfg.engine), logging.Err(err))
		return err
	}
	if cfg.validate {
		log.Info(ctx, "scenario valid",
			logging.String("scenario", scenario.Name),
			logging.String("engine", cfg.engine),
			logging.Int("patches", patches),
		)
		return nil
	}

	if cfg.metricsAddr != "" {
		metricsSrv := serveMetrics(cfg.metricsAddr, collector, log)
		defer shutdownServer(metricsSrv)
	}
	var following <-chan struct{}
	if cfg.grpcAddr != "" {
		rpc, err := observability.NewRPCCollector(reg)
		if err != nil {
			log.Error(ctx, "failed to initialise rpc metrics", logging.Err(err))
			return err
		}
		status, err := serveStatus(cfg.grpcAddr, rpc, log)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.grpcAddr), logging.Err(err))
			return err
		}
		defer status.Stop()
		following = status.Follow(ctx, clock)
	}

	started := time.Now()
	log.Info(ctx, "simulation started",
		logging.String("scenario", scenario.Name),
		logging.String("engine", cfg.engine),
		logging.Int("ticks", scenario.Ticks),
		logging.Int("population", len(scenario.Population)),
	)
	err = engine.Run(ctx)
	clock.Finish()
	if following != nil {
		<-following
	}
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		return err
	}
	elapsed := time.Since(started)
	log.Info(ctx, "simulation finished", logging.Duration("elapsed", elapsed))

	out := engine.Output()
	if err := writeOutput(cfg.output, out, stdout); err != nil {
		log.Error(ctx, "failed to write output", logging.String("path", cfg.output), logging.Err(err))
		return err
	}

	if cfg.statsDB != "" {
		db, err := statsdb.Open(cfg.statsDB)
		if err != nil {
			log.Error(ctx, "failed to open stats db", logging.String("path", cfg.statsDB), logging.Err(err))
			return err
		}
		defer db.Close()
		id, err := db.SaveRun(ctx, statsdb.Run{
			ID:         runID,
			Scenario:   scenario.Name,
			Engine:     cfg.engine,
			Patches:    patches,
			Padding:    cfg.padding,
			Ticks:      scenario.Ticks,
			Population: len(scenario.Population),
			StartedAt:  started.UTC(),
			Duration:   elapsed,
		}, out)
		if err != nil {
			log.Error(ctx, "failed to save run", logging.Err(err))
			return err
		}
		log.Info(ctx, "run saved", logging.String("db", cfg.statsDB), logging.String("id", id))
	}
	return nil
}

func newEngine(cfg config, scenario *model.Scenario, rec sim.Recorder, clock *timectrl.TickController, log logging.Logger) (sim.Simulation, int, error) {
	switch cfg.engine {
	case engineReference:
		e, err := reference.New(scenario, validator.Noop{},
			reference.WithLogger(log),
			reference.WithRecorder(rec),
			reference.WithTickController(clock),
		)
		return e, 1, err
	default:
		r, err := rocket.New(scenario, cfg.padding, validator.Noop{},
			rocket.WithLogger(log),
			rocket.WithRecorder(rec),
			rocket.WithTickController(clock),
		)
		if err != nil {
			return nil, 0, err
		}
		return r, len(r.Patches()), nil
	}
}

// progress logs roughly every tenth of the run with the logger carried by
// ctx.
func progress(ctx context.Context, clock *timectrl.TickController, ticks int) {
	log := logging.LoggerFromContext(ctx)
	step := max(ticks/10, 1)
	clock.AddListener(func(tick int, _ time.Time) {
		if tick%step != 0 && tick != ticks {
			return
		}
		log.Info(ctx, "simulation progress", logging.Int("tick", tick), logging.Int("ticks", ticks))
	})
}

func generate(cfg config, stdout io.Writer) error {
	gen := core.DefaultGeneratorConfig()
	gen.Seed = cfg.seed
	gen.Width = cfg.genWidth
	gen.Height = cfg.genHeight
	gen.Population = cfg.genPopulation
	gen.PatchesX = cfg.genPatches
	gen.PatchesY = cfg.genPatches
	gen.Ticks = cfg.genTicks

	scenario, err := core.Generate(gen)
	if err != nil {
		return err
	}
	if cfg.generate == "-" {
		return core.WriteScenario(stdout, scenario, core.FormatJSON)
	}

	f, err := os.Create(cfg.generate)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := core.WriteScenario(f, scenario, core.FormatFromPath(cfg.generate)); err != nil {
		return err
	}
	return f.Close()
}

func writeOutput(path string, out *model.Output, stdout io.Writer) error {
	if path == "" || path == "-" {
		return output.Encode(stdout, out)
	}
	return output.Write(path, out)
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
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

func serveStatus(addr string, rpc *observability.RPCCollector, log logging.Logger) (*statusserver.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := statusserver.New(rpc, log)
	go func() {
		if err := srv.Serve(lis); err != nil {
			log.Warn(context.Background(), "gRPC server exited", logging.Err(err))
		}
	}()
	return srv, nil
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
