// Package reference simulates a scenario on a single goroutine over the
// whole grid. Its output is what every partitioned run must reproduce.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim/stats"
	"github.com/signalsfoundry/epidemic-simulator/internal/validator"
	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/timectrl"
)

// EnvironmentID is the id reported to validators and bound to snapshots.
const EnvironmentID = 0

var tracer = otel.Tracer("github.com/signalsfoundry/epidemic-simulator/internal/sim/reference")

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("simulation already run")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec sim.Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.recorder = rec
		}
	}
}

// WithTickController reports every completed tick to tc.
func WithTickController(tc *timectrl.TickController) Option {
	return func(e *Engine) {
		e.clock = tc
	}
}

// Engine is the sequential simulation engine.
type Engine struct {
	scenario *model.Scenario
	params   model.Parameters
	people   []*core.Person

	validator validator.Validator
	recorder  sim.Recorder
	clock     *timectrl.TickController
	log       logging.Logger

	mu      sync.Mutex
	started bool
	output  *model.Output
}

var _ sim.Simulation = (*Engine)(nil)

// New prepares a sequential run of scenario.
func New(scenario *model.Scenario, v validator.Validator, opts ...Option) (*Engine, error) {
	if scenario == nil {
		return nil, fmt.Errorf("reference: nil scenario")
	}
	if scenario.Ticks < 0 {
		return nil, fmt.Errorf("%w: ticks %d must not be negative", core.ErrInvalidScenario, scenario.Ticks)
	}
	if v == nil {
		v = validator.Noop{}
	}
	e := &Engine{
		scenario:  scenario,
		params:    scenario.Parameters,
		validator: v,
		recorder:  sim.NoopRecorder{},
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.people = make([]*core.Person, len(scenario.Population))
	for id, info := range scenario.Population {
		e.people[id] = core.NewPerson(id, e, &e.params, scenario.Seed, info)
	}
	return e, nil
}

// ID implements core.Environment.
func (e *Engine) ID() int { return EnvironmentID }

// GridSize implements core.Environment.
func (e *Engine) GridSize() model.XY { return e.scenario.GridSize }

// Obstacles implements core.Environment.
func (e *Engine) Obstacles() []model.Rectangle { return e.scenario.Obstacles }

// Run simulates every tick of the scenario. Cancelling ctx aborts the run
// between ticks without producing output.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyRun
	}
	e.started = true
	e.mu.Unlock()

	ctx, span := tracer.Start(ctx, "reference.Run", trace.WithAttributes(
		attribute.String("scenario", e.scenario.Name),
		attribute.Int("population", len(e.people)),
		attribute.Int("ticks", e.scenario.Ticks),
	))
	defer span.End()

	start := time.Now()
	e.log.Info(ctx, "reference run started",
		logging.String("scenario", e.scenario.Name),
		logging.Int("population", len(e.people)),
		logging.Int("ticks", e.scenario.Ticks),
	)

	agg := stats.NewAggregator(e.scenario)
	e.commit(agg, 0)
	for tick := 0; tick < e.scenario.Ticks; tick++ {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("reference run stopped at tick %d: %w", tick, err)
			if e.clock != nil {
				e.clock.Finish()
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		e.tick(tick)
		e.commit(agg, tick+1)
	}

	elapsed := time.Since(start)
	e.recorder.ObserveRun(elapsed)
	e.mu.Lock()
	e.output = agg.Output()
	e.mu.Unlock()
	e.log.Info(ctx, "reference run finished", logging.Duration("elapsed", elapsed))
	return nil
}

func (e *Engine) tick(tick int) {
	e.validator.OnPatchTick(tick, EnvironmentID)
	core.Step(e.people, func(p *core.Person) {
		e.validator.OnPersonTick(tick, EnvironmentID, p.ID())
	})
	for _, p := range e.people {
		p.ClearTransient()
	}
	infected := core.Interact(e.people, e.params.InfectionRadius)
	e.recorder.ObservePatchTick(EnvironmentID)
	e.recorder.ObserveInfections(infected)
}

func (e *Engine) commit(agg *stats.Aggregator, tick int) {
	agg.Extend(e.people)
	e.recorder.ObserveTickCompleted(tick)
	if e.clock != nil {
		e.clock.Advance(tick)
	}
}

// Output returns the trace and statistics of a completed run, or nil.
func (e *Engine) Output() *model.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output
}
