// Package rocket runs a scenario concurrently by splitting the grid into
// patches, one goroutine each, that exchange halo copies of their boundary
// population every few ticks.
package rocket

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim/stats"
	"github.com/signalsfoundry/epidemic-simulator/internal/validator"
	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/timectrl"
)

var tracer = otel.Tracer("github.com/signalsfoundry/epidemic-simulator/internal/sim/rocket")

// Option configures a Rocket.
type Option func(*Rocket)

// WithLogger sets the logger used by the orchestrator and its patches.
func WithLogger(l logging.Logger) Option {
	return func(r *Rocket) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec sim.Recorder) Option {
	return func(r *Rocket) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithTickController reports every aggregated tick to tc.
func WithTickController(tc *timectrl.TickController) Option {
	return func(r *Rocket) {
		r.clock = tc
	}
}

// Rocket is the concurrent simulation engine.
type Rocket struct {
	scenario   *model.Scenario
	params     model.Parameters
	padding    int
	k          int
	population int

	patches []*Patch
	results chan batch

	validator validator.Validator
	recorder  sim.Recorder
	clock     *timectrl.TickController
	log       logging.Logger

	mu      sync.Mutex
	started bool
	output  *model.Output
}

var _ sim.Simulation = (*Rocket)(nil)

// New prepares a run of scenario with the given padding width. It fails
// with an *InsufficientPaddingError before any patch exists when padding
// cannot guarantee a single safe tick.
func New(scenario *model.Scenario, padding int, v validator.Validator, opts ...Option) (*Rocket, error) {
	if scenario == nil {
		return nil, fmt.Errorf("%w: nil scenario", ErrInvalidPartition)
	}
	if scenario.Ticks < 0 {
		return nil, fmt.Errorf("%w: ticks %d must not be negative", core.ErrInvalidScenario, scenario.Ticks)
	}
	k, err := SyncInterval(scenario.Parameters.InfectionRadius, scenario.Parameters.IncubationTime, padding)
	if err != nil {
		return nil, err
	}
	if v == nil {
		v = validator.Noop{}
	}

	r := &Rocket{
		scenario:   scenario,
		params:     scenario.Parameters,
		padding:    padding,
		k:          k,
		population: len(scenario.Population),
		validator:  v,
		recorder:   sim.NoopRecorder{},
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.buildPatches(); err != nil {
		return nil, err
	}
	// Sized to every batch the run produces so patches never block on it.
	r.results = make(chan batch, len(r.patches)*(scenario.Ticks+1))
	r.wireNeighbours()
	if err := r.populate(); err != nil {
		return nil, err
	}

	r.log.Info(context.Background(), "rocket prepared",
		logging.String("scenario", scenario.Name),
		logging.Int("patches", len(r.patches)),
		logging.Int("population", r.population),
		logging.Int("padding", padding),
		logging.Int("sync_interval", k),
	)
	return r, nil
}

// SyncInterval returns the number of ticks between halo exchanges.
func (r *Rocket) SyncInterval() int { return r.k }

// Patches returns the patches in row-major order. They must not be
// mutated.
func (r *Rocket) Patches() []*Patch { return slices.Clone(r.patches) }

// buildPatches creates one patch per cell of the partition, row by row.
func (r *Rocket) buildPatches() error {
	grid := r.scenario.Grid()
	xs := cuts(r.scenario.Partition.X, r.scenario.GridSize.X)
	ys := cuts(r.scenario.Partition.Y, r.scenario.GridSize.Y)

	for j := 1; j < len(ys); j++ {
		for i := 1; i < len(xs); i++ {
			cell := model.NewRectangle(model.XY{X: xs[i-1], Y: ys[j-1]}, model.XY{X: xs[i], Y: ys[j]})
			if cell.Empty() {
				return fmt.Errorf("%w: empty patch %s", ErrInvalidPartition, cell)
			}
			halo := cell.Expand(r.padding).Intersect(grid)
			p := &Patch{
				id:       len(r.patches),
				core:     cell,
				halo:     halo,
				gridSize: r.scenario.GridSize,
				// A halo person can step one cell beyond the halo.
				obstacles: core.ObstaclesWithin(r.scenario.Obstacles, halo.Expand(1)),
				radius:    r.params.InfectionRadius,
				k:         r.k,
				ticks:     r.scenario.Ticks,
				advanced:  make(chan struct{}),
				validator: r.validator,
				recorder:  r.recorder,
			}
			p.log = r.log.With(logging.Int("patch", p.id))
			r.patches = append(r.patches, p)
		}
	}
	if len(r.patches) == 0 {
		return fmt.Errorf("%w: grid %s has no cells", ErrInvalidPartition, r.scenario.GridSize)
	}
	return nil
}

// cuts returns the cut lines including both grid edges. The scenario slice
// is left untouched.
func cuts(inner []int, size int) []int {
	out := make([]int, 0, len(inner)+2)
	out = append(out, 0)
	out = append(out, inner...)
	return append(out, size)
}

// wireNeighbours registers b as a neighbour of a when a's halo overlaps b's
// core and influence can travel from b into a. The pull barrier of b is
// sized by how many patches pull from it.
func (r *Rocket) wireNeighbours() {
	for _, a := range r.patches {
		for _, b := range r.patches {
			if a == b || !a.halo.Overlaps(b.core) {
				continue
			}
			if !core.MayPropagateFrom(r.scenario, b.core, a.halo) {
				continue
			}
			a.neighbours = append(a.neighbours, b)
			b.pullers++
		}
	}
	for _, p := range r.patches {
		p.pulled = make(chan struct{}, p.pullers)
		p.results = r.results
	}
}

// populate hands every person to the first patch whose core contains it.
func (r *Rocket) populate() error {
	for id, info := range r.scenario.Population {
		owner := -1
		for i, p := range r.patches {
			if p.core.Contains(info.Position) {
				owner = i
				break
			}
		}
		if owner < 0 {
			return fmt.Errorf("%w: person %d at %s is in no patch", ErrInvalidPartition, id, info.Position)
		}
		p := r.patches[owner]
		p.corePop = append(p.corePop, core.NewPerson(id, p, &r.params, r.scenario.Seed, info))
	}
	return nil
}

// Run starts every patch and aggregates their results until the last tick
// is complete. The first failure cancels every other wait and is returned.
func (r *Rocket) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyRun
	}
	r.started = true
	r.mu.Unlock()

	ctx, span := tracer.Start(ctx, "rocket.Run", trace.WithAttributes(
		attribute.String("scenario", r.scenario.Name),
		attribute.Int("patches", len(r.patches)),
		attribute.Int("ticks", r.scenario.Ticks),
		attribute.Int("sync_interval", r.k),
	))
	defer span.End()

	start := time.Now()
	r.log.Info(ctx, "rocket started", logging.Int("ticks", r.scenario.Ticks))

	agg := stats.NewAggregator(r.scenario)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.patches {
		g.Go(func() error { return p.run(gctx) })
	}
	g.Go(func() error { return r.collect(gctx, agg) })

	if err := g.Wait(); err != nil {
		if r.clock != nil {
			r.clock.Finish()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.log.Error(ctx, "rocket failed", logging.Err(err))
		return err
	}

	elapsed := time.Since(start)
	r.recorder.ObserveRun(elapsed)
	r.mu.Lock()
	r.output = agg.Output()
	r.mu.Unlock()
	r.log.Info(ctx, "rocket finished", logging.Duration("elapsed", elapsed))
	return nil
}

// collect buckets result batches per tick and feeds every complete bucket,
// in tick order, to agg.
func (r *Rocket) collect(ctx context.Context, agg *stats.Aggregator) error {
	ticks := r.scenario.Ticks
	buckets := make([][]*core.Person, ticks+1)
	next := 0
	for {
		for next <= ticks && len(buckets[next]) == r.population {
			bucket := buckets[next]
			slices.SortFunc(bucket, core.ByID)
			for i := 1; i < len(bucket); i++ {
				if bucket[i-1].ID() == bucket[i].ID() {
					return fmt.Errorf("%w: person %d reported twice at tick %d", ErrBucketOverflow, bucket[i].ID(), next)
				}
			}
			agg.Extend(bucket)
			buckets[next] = nil
			r.recorder.ObserveTickCompleted(next)
			if r.clock != nil {
				r.clock.Advance(next)
			}
			next++
		}
		if next > ticks {
			return nil
		}

		var b batch
		select {
		case b = <-r.results:
		case <-ctx.Done():
			return fmt.Errorf("%w: aggregation stopped before tick %d: %w", ErrCoordination, next, ctx.Err())
		}
		if len(b.people) == 0 {
			continue
		}
		if b.tick < next || b.tick > ticks {
			return fmt.Errorf("%w: batch for tick %d after tick %d was complete", ErrBucketOverflow, b.tick, next-1)
		}
		buckets[b.tick] = append(buckets[b.tick], b.people...)
		if len(buckets[b.tick]) > r.population {
			return fmt.Errorf("%w: tick %d holds %d snapshots for %d people",
				ErrBucketOverflow, b.tick, len(buckets[b.tick]), r.population)
		}
	}
}

// Output returns the trace and statistics of a completed run, or nil.
func (r *Rocket) Output() *model.Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}
