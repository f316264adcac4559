package rocket

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/logging"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim"
	"github.com/signalsfoundry/epidemic-simulator/internal/validator"
	"github.com/signalsfoundry/epidemic-simulator/model"
)

// batch is one patch's core population at a tick.
type batch struct {
	tick   int
	people []*core.Person
}

// Patch simulates one rectangular cell of the partitioned grid. It owns the
// people inside its core and keeps copies of neighbour people inside its
// halo, refreshed every k ticks.
//
// Only the patch's own goroutine mutates its populations. Neighbours read the
// core population through pull, under mu, while the owner is parked at the
// same tick.
type Patch struct {
	id        int
	core      model.Rectangle
	halo      model.Rectangle
	gridSize  model.XY
	obstacles []model.Rectangle
	radius    int
	k         int
	ticks     int

	corePop []*core.Person
	haloPop []*core.Person
	working []*core.Person

	neighbours []*Patch
	pullers    int

	mu sync.Mutex
	// clock is the tick the patch is about to simulate.
	clock int
	// advanced is closed and replaced whenever the patch enters a
	// synchronisation round.
	advanced chan struct{}
	// pulled receives one token per neighbour pull served this round.
	pulled chan struct{}

	results   chan<- batch
	validator validator.Validator
	recorder  sim.Recorder
	log       logging.Logger
}

// ID implements core.Environment.
func (p *Patch) ID() int { return p.id }

// GridSize implements core.Environment.
func (p *Patch) GridSize() model.XY { return p.gridSize }

// Obstacles implements core.Environment. Only obstacles near the halo are
// known to a patch.
func (p *Patch) Obstacles() []model.Rectangle { return p.obstacles }

// Core returns the region owned by the patch.
func (p *Patch) Core() model.Rectangle { return p.core }

// Halo returns the core grown by the padding, clipped to the grid.
func (p *Patch) Halo() model.Rectangle { return p.halo }

// Neighbours returns the ids of the patches p pulls halo data from.
func (p *Patch) Neighbours() []int {
	ids := make([]int, len(p.neighbours))
	for i, n := range p.neighbours {
		ids[i] = n.id
	}
	return ids
}

// Population returns the number of people owned by p. It is only
// meaningful while p is not running.
func (p *Patch) Population() int { return len(p.corePop) }

// Pullers returns how many patches pull halo data from p.
func (p *Patch) Pullers() int { return p.pullers }

func (p *Patch) run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "patch.run", trace.WithAttributes(
		attribute.Int("patch.id", p.id),
		attribute.String("patch.core", p.core.String()),
		attribute.Int("patch.neighbours", len(p.neighbours)),
		attribute.Int("patch.pullers", p.pullers),
	))
	defer span.End()

	if err := p.emit(ctx, 0); err != nil {
		return p.fail(span, err)
	}
	for tick := 0; tick < p.ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return p.fail(span, fmt.Errorf("%w: patch %d stopped at tick %d: %w", ErrCoordination, p.id, tick, err))
		}
		if tick%p.k == 0 {
			if err := p.synchronize(ctx, tick); err != nil {
				return p.fail(span, err)
			}
			span.AddEvent("sync", trace.WithAttributes(
				attribute.Int("tick", tick),
				attribute.Int("halo", len(p.haloPop)),
			))
		}
		p.advance(tick)
		if err := p.emit(ctx, tick+1); err != nil {
			return p.fail(span, err)
		}
		p.mu.Lock()
		p.clock = tick + 1
		p.mu.Unlock()
	}
	return nil
}

func (p *Patch) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// synchronize refreshes the halo from every neighbour and then waits until
// every patch pulling from this one has been served for tick.
func (p *Patch) synchronize(ctx context.Context, tick int) error {
	start := time.Now()
	p.signal()

	replies := make([][]*core.Person, len(p.neighbours))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range p.neighbours {
		g.Go(func() error {
			people, err := n.pull(gctx, p, tick)
			if err != nil {
				return err
			}
			replies[i] = people
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.haloPop = slices.Concat(replies...)
	p.working = append(p.working[:0], p.corePop...)
	p.working = append(p.working, p.haloPop...)
	slices.SortFunc(p.working, core.ByID)

	for served := 0; served < p.pullers; served++ {
		select {
		case <-p.pulled:
		case <-ctx.Done():
			return fmt.Errorf("%w: patch %d waiting for %d pulls at tick %d: %w",
				ErrCoordination, p.id, p.pullers-served, tick, ctx.Err())
		}
	}

	wait := time.Since(start)
	p.recorder.ObserveSyncRound(p.id, wait, len(p.haloPop))
	p.log.Debug(ctx, "halo synchronised",
		logging.Int("tick", tick),
		logging.Int("core", len(p.corePop)),
		logging.Int("halo", len(p.haloPop)),
		logging.Duration("wait", wait),
	)
	return nil
}

// signal wakes neighbours blocked in pull waiting for this patch's clock.
func (p *Patch) signal() {
	p.mu.Lock()
	close(p.advanced)
	p.advanced = make(chan struct{})
	p.mu.Unlock()
}

// pull serves requester the snapshots of core people inside its halo once
// this patch has reached tick.
func (p *Patch) pull(ctx context.Context, requester *Patch, tick int) ([]*core.Person, error) {
	p.mu.Lock()
	for p.clock != tick {
		if p.clock > tick {
			clock := p.clock
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: patch %d is at tick %d, patch %d asked for tick %d",
				ErrCoordination, p.id, clock, requester.id, tick)
		}
		advanced := p.advanced
		p.mu.Unlock()
		select {
		case <-advanced:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: patch %d waiting for patch %d to reach tick %d: %w",
				ErrCoordination, requester.id, p.id, tick, ctx.Err())
		}
		p.mu.Lock()
	}
	var out []*core.Person
	for _, person := range p.corePop {
		if requester.halo.Contains(person.Position()) {
			out = append(out, person.Snapshot(requester))
		}
	}
	p.mu.Unlock()

	// Capacity equals the number of pullers, one token each per round.
	p.pulled <- struct{}{}
	return out, nil
}

// advance simulates tick over the working population.
func (p *Patch) advance(tick int) {
	p.validator.OnPatchTick(tick, p.id)
	core.Step(p.working, func(person *core.Person) {
		p.validator.OnPersonTick(tick, p.id, person.ID())
	})

	p.corePop = p.corePop[:0]
	p.haloPop = p.haloPop[:0]
	for _, person := range p.working {
		if p.core.Contains(person.Position()) {
			p.corePop = append(p.corePop, person)
		} else {
			p.haloPop = append(p.haloPop, person)
		}
		person.ClearTransient()
	}

	core.Interact(p.working, p.radius)

	// Interact also counts halo copies, which their owners report.
	infected := 0
	for _, person := range p.corePop {
		if person.Exposed() {
			infected++
		}
	}
	p.recorder.ObservePatchTick(p.id)
	p.recorder.ObserveInfections(infected)
}

func (p *Patch) emit(ctx context.Context, tick int) error {
	people := make([]*core.Person, len(p.corePop))
	for i, person := range p.corePop {
		people[i] = person.Snapshot(p)
	}
	select {
	case p.results <- batch{tick: tick, people: people}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: patch %d emitting tick %d: %w", ErrCoordination, p.id, tick, ctx.Err())
	}
}
