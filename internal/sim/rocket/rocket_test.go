package rocket

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim/reference"
	"github.com/signalsfoundry/epidemic-simulator/internal/sim/stats"
	"github.com/signalsfoundry/epidemic-simulator/internal/validator"
	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/timectrl"
)

func stillParameters(radius, incubation int) model.Parameters {
	return model.Parameters{
		InfectionRadius:   radius,
		IncubationTime:    incubation,
		InfectionTime:     10,
		RecoveryTime:      0,
		CoughProbability:  1,
		BreathProbability: 1,
		TurnProbability:   0,
	}
}

func gridQuery(size model.XY) map[string]model.Query {
	return map[string]model.Query{"all": {Area: model.Rectangle{Size: size}}}
}

func runRocket(t *testing.T, s *model.Scenario, padding int, opts ...Option) *model.Output {
	t.Helper()
	rec := validator.NewRecorder()
	r, err := New(s, padding, rec, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("validator: %v", err)
	}
	for id, ticks := range rec.PatchTicks() {
		if ticks != s.Ticks {
			t.Fatalf("patch %d reported %d ticks, want %d", id, ticks, s.Ticks)
		}
	}
	out := r.Output()
	if out == nil {
		t.Fatalf("Output() = nil after successful run")
	}
	return out
}

func runReference(t *testing.T, s *model.Scenario) *model.Output {
	t.Helper()
	e, err := reference.New(s, validator.Noop{})
	if err != nil {
		t.Fatalf("reference.New() error = %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("reference Run() error = %v", err)
	}
	return e.Output()
}

func TestSinglePatchSinglePerson(t *testing.T) {
	s := &model.Scenario{
		Name:       "single",
		GridSize:   model.XY{X: 4, Y: 4},
		Ticks:      1,
		Trace:      true,
		Parameters: stillParameters(0, 0),
		Population: []model.PersonInfo{{Name: "alice", Position: model.XY{X: 1, Y: 1}, State: model.StateSusceptible}},
		Queries:    gridQuery(model.XY{X: 4, Y: 4}),
	}

	out := runRocket(t, s, MinimalPadding(0))

	want := []model.Statistics{{Susceptible: 1}, {Susceptible: 1}}
	if got := out.Statistics["all"]; !reflect.DeepEqual(got, want) {
		t.Fatalf("statistics = %+v, want %+v", got, want)
	}
	if len(out.Trace) != 2 {
		t.Fatalf("trace entries = %d, want 2", len(out.Trace))
	}
	if got := out.Trace[1].Population[0].Position; got != (model.XY{X: 1, Y: 1}) {
		t.Fatalf("trace position = %v, want (1,1)", got)
	}
}

func TestInfectionCrossesPatchBoundary(t *testing.T) {
	const radius = 1
	s := &model.Scenario{
		Name:       "boundary",
		GridSize:   model.XY{X: 10, Y: 2},
		Ticks:      4,
		Trace:      true,
		Partition:  model.Partition{X: []int{5}},
		Parameters: stillParameters(radius, 0),
		Population: []model.PersonInfo{
			{Name: "carrier", Position: model.XY{X: 4, Y: 0}, State: model.StateInfectious, Countdown: 10},
			{Name: "neighbour", Position: model.XY{X: 5, Y: 0}, State: model.StateSusceptible},
		},
		Queries: gridQuery(model.XY{X: 10, Y: 2}),
	}

	padding := MinimalPadding(radius)
	r, err := New(s, padding, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if r.SyncInterval() != 1 {
		t.Fatalf("SyncInterval() = %d, want 1", r.SyncInterval())
	}

	out := runRocket(t, s, padding)
	series := out.Statistics["all"]
	if series[0].Infectious != 1 || series[0].Susceptible != 1 {
		t.Fatalf("tick 0 statistics = %+v, want one infectious and one susceptible", series[0])
	}
	if series[1].Infected != 1 || series[1].Susceptible != 0 {
		t.Fatalf("tick 1 statistics = %+v, want the neighbour infected", series[1])
	}

	if want := runReference(t, s); !reflect.DeepEqual(out, want) {
		t.Fatalf("rocket output differs from reference:\n got %+v\nwant %+v", out, want)
	}
}

func TestInsufficientPaddingFailsConstruction(t *testing.T) {
	s := &model.Scenario{
		GridSize:   model.XY{X: 10, Y: 2},
		Ticks:      4,
		Partition:  model.Partition{X: []int{5}},
		Parameters: stillParameters(1, 0),
	}
	padding := MinimalPadding(1) - 1
	r, err := New(s, padding, nil)
	if !errors.Is(err, ErrInsufficientPadding) {
		t.Fatalf("New() error = %v, want insufficient padding", err)
	}
	var perr *InsufficientPaddingError
	if !errors.As(err, &perr) || perr.Padding != padding {
		t.Fatalf("New() error = %v, want padding %d reported", err, padding)
	}
	if r != nil {
		t.Fatalf("New() returned a rocket alongside the error")
	}
}

func TestNegativeTicksFailConstruction(t *testing.T) {
	for _, ticks := range []int{-1, -2, -50} {
		s := &model.Scenario{
			GridSize:   model.XY{X: 10, Y: 2},
			Ticks:      ticks,
			Partition:  model.Partition{X: []int{5}},
			Parameters: stillParameters(1, 0),
			Population: []model.PersonInfo{{Position: model.XY{X: 1, Y: 1}}},
		}
		r, err := New(s, 10, nil)
		if !errors.Is(err, core.ErrInvalidScenario) {
			t.Fatalf("New(ticks %d) error = %v, want ErrInvalidScenario", ticks, err)
		}
		if r != nil {
			t.Fatalf("New(ticks %d) returned a rocket alongside the error", ticks)
		}
	}
}

func TestPatchCoresTileGrid(t *testing.T) {
	s := &model.Scenario{
		GridSize:   model.XY{X: 23, Y: 17},
		Partition:  model.Partition{X: []int{5, 11, 19}, Y: []int{8}},
		Parameters: stillParameters(1, 0),
	}
	r, err := New(s, 4, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	patches := r.Patches()
	if len(patches) != 8 {
		t.Fatalf("patches = %d, want 8", len(patches))
	}

	grid := s.Grid()
	area := 0
	for i, p := range patches {
		if p.ID() != i {
			t.Fatalf("patch %d has id %d", i, p.ID())
		}
		area += p.Core().Area()
		if p.Halo().Intersect(p.Core()) != p.Core() {
			t.Fatalf("patch %d halo %s does not contain core %s", i, p.Halo(), p.Core())
		}
		if p.Halo().Intersect(grid) != p.Halo() {
			t.Fatalf("patch %d halo %s leaves the grid", i, p.Halo())
		}
		for _, q := range patches[i+1:] {
			if p.Core().Overlaps(q.Core()) {
				t.Fatalf("cores %s and %s overlap", p.Core(), q.Core())
			}
		}
	}
	if area != grid.Area() {
		t.Fatalf("core area = %d, want %d", area, grid.Area())
	}

	// Every cell, including the cut lines, belongs to exactly one core.
	grid.Cells(func(c model.XY) bool {
		owners := 0
		for _, p := range patches {
			if p.Core().Contains(c) {
				owners++
			}
		}
		if owners != 1 {
			t.Fatalf("cell %v has %d owners, want 1", c, owners)
		}
		return true
	})
	if len(s.Partition.X) != 3 || len(s.Partition.Y) != 1 {
		t.Fatalf("scenario partition mutated: %+v", s.Partition)
	}
}

func TestNeighbourWiring(t *testing.T) {
	s := &model.Scenario{
		GridSize:   model.XY{X: 30, Y: 6},
		Partition:  model.Partition{X: []int{10, 20}},
		Parameters: stillParameters(1, 0),
	}
	r, err := New(s, 3, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	want := [][]int{{1}, {0, 2}, {1}}
	for i, p := range r.Patches() {
		if got := p.Neighbours(); !reflect.DeepEqual(got, want[i]) {
			t.Fatalf("patch %d neighbours = %v, want %v", i, got, want[i])
		}
		if p.Pullers() != len(want[i]) {
			t.Fatalf("patch %d pullers = %d, want %d", i, p.Pullers(), len(want[i]))
		}
	}
}

func wallScenario() *model.Scenario {
	// The wall covers every cell of patch 1 that lies in patch 0's halo, so
	// patch 0 never needs data from patch 1 while patch 1 still pulls from
	// patch 0.
	size := model.XY{X: 30, Y: 6}
	params := stillParameters(1, 0)
	params.TurnProbability = 0.5
	params.CoughProbability = 0.7
	params.BreathProbability = 0.7
	return &model.Scenario{
		Name:       "wall",
		Seed:       7,
		GridSize:   size,
		Ticks:      30,
		Trace:      true,
		Partition:  model.Partition{X: []int{10, 20}},
		Obstacles:  []model.Rectangle{{TopLeft: model.XY{X: 10, Y: 0}, Size: model.XY{X: 3, Y: 6}}},
		Parameters: params,
		Population: []model.PersonInfo{
			{Name: "a", Position: model.XY{X: 8, Y: 2}, Direction: model.XY{X: 1}, State: model.StateInfectious, Countdown: 10},
			{Name: "b", Position: model.XY{X: 9, Y: 3}, State: model.StateSusceptible},
			{Name: "c", Position: model.XY{X: 14, Y: 2}, Direction: model.XY{X: -1}, State: model.StateSusceptible},
			{Name: "d", Position: model.XY{X: 19, Y: 1}, Direction: model.XY{X: 1, Y: 1}, State: model.StateInfectious, Countdown: 10},
			{Name: "e", Position: model.XY{X: 21, Y: 4}, State: model.StateSusceptible},
		},
		Queries: gridQuery(size),
	}
}

func TestAsymmetricNeighboursDoNotDeadlock(t *testing.T) {
	s := wallScenario()
	padding := 3
	r, err := New(s, padding, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	patches := r.Patches()
	if got := patches[0].Neighbours(); len(got) != 0 {
		t.Fatalf("patch 0 neighbours = %v, want none behind the wall", got)
	}
	if got := patches[1].Neighbours(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("patch 1 neighbours = %v, want [0 2]", got)
	}
	if got := patches[0].Pullers(); got != 1 {
		t.Fatalf("patch 0 pullers = %d, want 1", got)
	}
	if got := patches[1].Pullers(); got != 1 {
		t.Fatalf("patch 1 pullers = %d, want 1", got)
	}

	out := runRocket(t, s, padding)
	if want := runReference(t, s); !reflect.DeepEqual(out, want) {
		t.Fatalf("rocket output differs from reference")
	}
}

func TestMatchesReferenceAcrossPartitions(t *testing.T) {
	cfg := core.DefaultGeneratorConfig()
	cfg.Width, cfg.Height = 48, 32
	cfg.Population = 150
	cfg.Ticks = 60
	cfg.Trace = true
	cfg.InfectiousFraction = 0.1
	base, err := core.Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	want := runReference(t, base)

	partitions := []model.Partition{
		{},
		{X: []int{24}},
		{X: []int{16, 32}, Y: []int{16}},
		{X: []int{7, 13, 30, 41}, Y: []int{5, 20, 27}},
	}
	radius := base.Parameters.InfectionRadius
	for _, partition := range partitions {
		for _, padding := range []int{MinimalPadding(radius), 9, 16} {
			s := *base
			s.Partition = partition
			got := runRocket(t, &s, padding)
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("partition %+v padding %d: output differs from reference", partition, padding)
			}
		}
	}

	again := runReference(t, base)
	if !reflect.DeepEqual(again, want) {
		t.Fatalf("reference output is not reproducible")
	}
}

func TestEveryPersonReportedOncePerTick(t *testing.T) {
	cfg := core.DefaultGeneratorConfig()
	cfg.Population = 80
	cfg.Ticks = 25
	s, err := core.Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	out := runRocket(t, s, 6)
	series := out.Statistics["all"]
	if len(series) != s.Ticks+1 {
		t.Fatalf("statistics rows = %d, want %d", len(series), s.Ticks+1)
	}
	for tick, row := range series {
		if row.Total() != int64(len(s.Population)) {
			t.Fatalf("tick %d counts %d people, want %d", tick, row.Total(), len(s.Population))
		}
	}
}

func TestPopulationOutsideEveryCore(t *testing.T) {
	s := &model.Scenario{
		GridSize:   model.XY{X: 4, Y: 4},
		Ticks:      1,
		Parameters: stillParameters(0, 0),
		Population: []model.PersonInfo{{Position: model.XY{X: 4, Y: 0}}},
	}
	if _, err := New(s, 2, nil); !errors.Is(err, ErrInvalidPartition) {
		t.Fatalf("New() error = %v, want invalid partition", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	s := wallScenario()
	s.Ticks = 500
	r, err := New(s, 3, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = r.Run(ctx)
	if !errors.Is(err, ErrCoordination) {
		t.Fatalf("Run() error = %v, want coordination failure", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want it to wrap context.Canceled", err)
	}
	if r.Output() != nil {
		t.Fatalf("Output() after failed run = %+v, want nil", r.Output())
	}
	if err := r.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second Run() error = %v, want ErrAlreadyRun", err)
	}
}

type countingRecorder struct {
	mu         sync.Mutex
	patchTicks int
	syncRounds int
	infections int
	lastTick   int
	runs       int
}

func (c *countingRecorder) ObservePatchTick(int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patchTicks++
}

func (c *countingRecorder) ObserveSyncRound(int, time.Duration, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncRounds++
}

func (c *countingRecorder) ObserveInfections(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infections += n
}

func (c *countingRecorder) ObserveTickCompleted(tick int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTick = tick
}

func (c *countingRecorder) ObserveRun(time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
}

func TestRecorderAndTickController(t *testing.T) {
	s := wallScenario()
	rec := &countingRecorder{}
	tc := timectrl.NewTickController(time.Time{}, time.Minute, s.Ticks)

	r, err := New(s, 6, nil, WithRecorder(rec), WithTickController(tc))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	k := r.SyncInterval()
	runRocket(t, s, 6, WithRecorder(rec), WithTickController(tc))

	patches := len(r.Patches())
	if rec.patchTicks != patches*s.Ticks {
		t.Fatalf("patch ticks = %d, want %d", rec.patchTicks, patches*s.Ticks)
	}
	rounds := (s.Ticks + k - 1) / k
	if rec.syncRounds != patches*rounds {
		t.Fatalf("sync rounds = %d, want %d", rec.syncRounds, patches*rounds)
	}
	if rec.lastTick != s.Ticks || rec.runs != 1 {
		t.Fatalf("last tick = %d runs = %d, want %d and 1", rec.lastTick, rec.runs, s.Ticks)
	}
	if got := tc.Current(); got != s.Ticks {
		t.Fatalf("tick controller at %d, want %d", got, s.Ticks)
	}
	select {
	case <-tc.Done():
	default:
		t.Fatalf("tick controller not finished")
	}
}

func TestInfectionsCountedOnceAcrossHalos(t *testing.T) {
	const radius = 1
	s := &model.Scenario{
		Name:       "boundary",
		GridSize:   model.XY{X: 10, Y: 2},
		Ticks:      4,
		Trace:      true,
		Partition:  model.Partition{X: []int{5}},
		Parameters: stillParameters(radius, 0),
		Population: []model.PersonInfo{
			{Name: "carrier", Position: model.XY{X: 4, Y: 0}, State: model.StateInfectious, Countdown: 10},
			{Name: "neighbour", Position: model.XY{X: 5, Y: 0}, State: model.StateSusceptible},
		},
		Queries: gridQuery(model.XY{X: 10, Y: 2}),
	}
	rec := &countingRecorder{}
	out := runRocket(t, s, MinimalPadding(radius), WithRecorder(rec))

	want := 0
	for tick := 1; tick < len(out.Trace); tick++ {
		for i, info := range out.Trace[tick].Population {
			if out.Trace[tick-1].Population[i].State == model.StateSusceptible && info.State == model.StateInfected {
				want++
			}
		}
	}
	if want == 0 {
		t.Fatalf("trace shows no infection, scenario does not exercise the halo")
	}
	if rec.infections != want {
		t.Fatalf("recorded infections = %d, want %d", rec.infections, want)
	}
}

func TestCollectOutOfOrderBatches(t *testing.T) {
	s := &model.Scenario{
		GridSize:   model.XY{X: 10, Y: 2},
		Ticks:      1,
		Partition:  model.Partition{X: []int{5}},
		Parameters: stillParameters(0, 0),
		Population: []model.PersonInfo{
			{Position: model.XY{X: 1, Y: 0}},
			{Position: model.XY{X: 8, Y: 1}},
		},
		Queries: gridQuery(model.XY{X: 10, Y: 2}),
	}
	r, err := New(s, 2, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p0, p1 := r.patches[0], r.patches[1]
	go func() {
		for _, b := range []batch{
			{tick: 1, people: p1.corePop},
			{tick: 1, people: p0.corePop},
			{tick: 0},
			{tick: 0, people: p1.corePop},
			{tick: 0, people: p0.corePop},
		} {
			r.results <- b
		}
	}()

	agg := stats.NewAggregator(s)
	if err := r.collect(context.Background(), agg); err != nil {
		t.Fatalf("collect() error = %v", err)
	}
	if agg.Ticks() != 2 {
		t.Fatalf("aggregated ticks = %d, want 2", agg.Ticks())
	}
}

func TestCollectRejectsOverflow(t *testing.T) {
	s := &model.Scenario{
		GridSize:   model.XY{X: 4, Y: 4},
		Ticks:      1,
		Parameters: stillParameters(0, 0),
		Population: []model.PersonInfo{{Position: model.XY{X: 1, Y: 1}}, {Position: model.XY{X: 2, Y: 2}}},
		Queries:    gridQuery(model.XY{X: 4, Y: 4}),
	}
	r, err := New(s, 2, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	person := r.patches[0].corePop[0]
	r.results <- batch{tick: 0, people: []*core.Person{person, person, person}}

	err = r.collect(context.Background(), stats.NewAggregator(s))
	if !errors.Is(err, ErrBucketOverflow) {
		t.Fatalf("collect() error = %v, want bucket overflow", err)
	}

	r2, err := New(s, 2, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	person = r2.patches[0].corePop[0]
	r2.results <- batch{tick: 0, people: []*core.Person{person, person}}
	err = r2.collect(context.Background(), stats.NewAggregator(s))
	if !errors.Is(err, ErrBucketOverflow) {
		t.Fatalf("collect() duplicate error = %v, want bucket overflow", err)
	}
}
