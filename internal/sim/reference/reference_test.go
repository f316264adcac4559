package reference

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/internal/validator"
	"github.com/signalsfoundry/epidemic-simulator/model"
	"github.com/signalsfoundry/epidemic-simulator/timectrl"
)

func pairScenario() *model.Scenario {
	size := model.XY{X: 8, Y: 8}
	return &model.Scenario{
		Name:     "pair",
		GridSize: size,
		Ticks:    6,
		Trace:    true,
		Parameters: model.Parameters{
			InfectionRadius:   1,
			IncubationTime:    1,
			InfectionTime:     2,
			RecoveryTime:      0,
			CoughProbability:  1,
			BreathProbability: 1,
		},
		Population: []model.PersonInfo{
			{Name: "carrier", Position: model.XY{X: 3, Y: 3}, State: model.StateInfectious, Countdown: 5},
			{Name: "contact", Position: model.XY{X: 4, Y: 3}, State: model.StateSusceptible},
			{Name: "far", Position: model.XY{X: 0, Y: 7}, State: model.StateSusceptible},
		},
		Queries: map[string]model.Query{"all": {Area: model.Rectangle{Size: size}}},
	}
}

func TestEngineProgression(t *testing.T) {
	s := pairScenario()
	rec := validator.NewRecorder()
	e, err := New(s, rec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := rec.Err(); err != nil {
		t.Fatalf("validator: %v", err)
	}
	if got := rec.PatchTicks()[EnvironmentID]; got != s.Ticks {
		t.Fatalf("patch ticks = %d, want %d", got, s.Ticks)
	}
	if got := rec.PersonTicks(1); got != s.Ticks {
		t.Fatalf("person ticks = %d, want %d", got, s.Ticks)
	}

	out := e.Output()
	states := func(tick int) []model.InfectionState {
		var got []model.InfectionState
		for _, p := range out.Trace[tick].Population {
			got = append(got, p.State)
		}
		return got
	}

	// contact: infected during tick 0, incubating through tick 1 and
	// infectious from tick 2.
	wants := map[int][]model.InfectionState{
		0: {model.StateInfectious, model.StateSusceptible, model.StateSusceptible},
		1: {model.StateInfectious, model.StateInfected, model.StateSusceptible},
		2: {model.StateInfectious, model.StateInfected, model.StateSusceptible},
		3: {model.StateInfectious, model.StateInfectious, model.StateSusceptible},
	}
	for tick, want := range wants {
		if got := states(tick); !reflect.DeepEqual(got, want) {
			t.Fatalf("tick %d states = %v, want %v", tick, got, want)
		}
	}
	if n := len(out.Statistics["all"]); n != s.Ticks+1 {
		t.Fatalf("statistics rows = %d, want %d", n, s.Ticks+1)
	}
}

func TestEngineIsDeterministic(t *testing.T) {
	cfg := core.DefaultGeneratorConfig()
	cfg.Population = 60
	cfg.Ticks = 40
	cfg.Trace = true
	s, err := core.Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	run := func() *model.Output {
		e, err := New(s, nil)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if err := e.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return e.Output()
	}
	if a, b := run(), run(); !reflect.DeepEqual(a, b) {
		t.Fatalf("outputs of identical runs differ")
	}
}

func TestEngineCancellationAndReuse(t *testing.T) {
	s := pairScenario()
	tc := timectrl.NewTickController(time.Time{}, time.Second, s.Ticks)
	e, err := New(s, nil, WithTickController(tc))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if e.Output() != nil {
		t.Fatalf("Output() after cancelled run should be nil")
	}
	if got := tc.Current(); got != 0 {
		t.Fatalf("tick controller at %d, want 0", got)
	}
	if err := e.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Fatalf("second Run() error = %v, want ErrAlreadyRun", err)
	}
}

func TestNegativeTicksFailConstruction(t *testing.T) {
	s := pairScenario()
	s.Ticks = -2
	e, err := New(s, nil)
	if !errors.Is(err, core.ErrInvalidScenario) {
		t.Fatalf("New() error = %v, want ErrInvalidScenario", err)
	}
	if e != nil {
		t.Fatalf("New() returned an engine alongside the error")
	}
}
