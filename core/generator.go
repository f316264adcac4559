// core/generator.go
package core

import (
	"fmt"
	"math/rand/v2"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// GeneratorConfig describes a synthetic scenario.
type GeneratorConfig struct {
	Name       string
	Seed       int64
	Width      int
	Height     int
	Population int
	PatchesX   int
	PatchesY   int
	Ticks      int
	Trace      bool

	// ObstacleDensity is the fraction of obstacle blocks kept, in [0,1].
	ObstacleDensity float64
	// InfectiousFraction is the fraction of people that start infectious.
	InfectiousFraction float64

	Parameters model.Parameters
}

// obstacleBlock is the lattice spacing of generated obstacles.
const obstacleBlock = 8

// DefaultGeneratorConfig returns a medium sized scenario description.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Name:               "generated",
		Seed:               42,
		Width:              64,
		Height:             48,
		Population:         200,
		PatchesX:           2,
		PatchesY:           2,
		Ticks:              100,
		ObstacleDensity:    0.15,
		InfectiousFraction: 0.05,
		Parameters: model.Parameters{
			InfectionRadius:   2,
			IncubationTime:    3,
			InfectionTime:     8,
			RecoveryTime:      20,
			CoughProbability:  0.4,
			BreathProbability: 0.6,
			TurnProbability:   0.25,
		},
	}
}

// Generate builds a reproducible scenario: obstacles and population density
// follow OpenSimplex noise fields derived from cfg.Seed.
func Generate(cfg GeneratorConfig) (*model.Scenario, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: generator grid %dx%d", ErrInvalidScenario, cfg.Width, cfg.Height)
	}
	if cfg.Ticks < 0 {
		return nil, fmt.Errorf("%w: generator ticks %d", ErrInvalidScenario, cfg.Ticks)
	}
	if cfg.Population < 0 || cfg.PatchesX < 1 || cfg.PatchesY < 1 {
		return nil, fmt.Errorf("%w: generator population %d patches %dx%d",
			ErrInvalidScenario, cfg.Population, cfg.PatchesX, cfg.PatchesY)
	}

	s := &model.Scenario{
		Name:       cfg.Name,
		Seed:       uint64(cfg.Seed),
		GridSize:   model.XY{X: cfg.Width, Y: cfg.Height},
		Ticks:      cfg.Ticks,
		Trace:      cfg.Trace,
		Parameters: cfg.Parameters,
		Partition: model.Partition{
			X: evenCuts(cfg.Width, cfg.PatchesX),
			Y: evenCuts(cfg.Height, cfg.PatchesY),
		},
		Queries: map[string]model.Query{
			"all": {Area: model.Rectangle{Size: model.XY{X: cfg.Width, Y: cfg.Height}}},
			"center": {Area: model.NewRectangle(
				model.XY{X: cfg.Width / 4, Y: cfg.Height / 4},
				model.XY{X: cfg.Width - cfg.Width/4, Y: cfg.Height - cfg.Height/4},
			)},
		},
	}

	obstacleNoise := opensimplex.NewNormalized(cfg.Seed)
	densityNoise := opensimplex.NewNormalized(cfg.Seed + 1)

	for by := 0; by+obstacleBlock <= cfg.Height; by += obstacleBlock {
		for bx := 0; bx+obstacleBlock <= cfg.Width; bx += obstacleBlock {
			v := obstacleNoise.Eval2(float64(bx)/24, float64(by)/24)
			if v < 1-cfg.ObstacleDensity {
				continue
			}
			side := 2 + int(v*10)%3
			s.Obstacles = append(s.Obstacles, model.Rectangle{
				TopLeft: model.XY{X: bx + 2, Y: by + 2},
				Size:    model.XY{X: side, Y: side},
			})
		}
	}

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), 0x9e3779b97f4a7c15))
	infectious := int(float64(cfg.Population) * cfg.InfectiousFraction)
	maxAttempts := cfg.Population * 64
	for attempt := 0; len(s.Population) < cfg.Population && attempt < maxAttempts; attempt++ {
		pos := model.XY{X: rng.IntN(cfg.Width), Y: rng.IntN(cfg.Height)}
		if Blocked(s.Obstacles, pos) {
			continue
		}
		density := densityNoise.Eval2(float64(pos.X)/16, float64(pos.Y)/16)
		if rng.Float64() > 0.2+0.8*density {
			continue
		}
		i := len(s.Population)
		info := model.PersonInfo{
			Name:      fmt.Sprintf("person-%04d", i),
			Position:  pos,
			Direction: model.XY{X: rng.IntN(3) - 1, Y: rng.IntN(3) - 1},
			State:     model.StateSusceptible,
		}
		if i < infectious {
			info.State = model.StateInfectious
			info.Countdown = cfg.Parameters.InfectionTime
		}
		s.Population = append(s.Population, info)
	}
	if len(s.Population) < cfg.Population {
		return nil, fmt.Errorf("%w: could only place %d of %d people", ErrInvalidScenario, len(s.Population), cfg.Population)
	}

	if err := ValidateScenario(s); err != nil {
		return nil, err
	}
	return s, nil
}

// evenCuts splits size into n nearly equal parts and returns the interior
// cut lines.
func evenCuts(size, n int) []int {
	cuts := make([]int, 0, n)
	for i := 1; i < n; i++ {
		c := i * size / n
		if c <= 0 || c >= size || (len(cuts) > 0 && cuts[len(cuts)-1] == c) {
			continue
		}
		cuts = append(cuts, c)
	}
	return cuts
}
