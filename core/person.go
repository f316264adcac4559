// core/person.go
package core

import (
	"math/rand/v2"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// Environment is the view of the world a person moves in. Patches and the
// reference engine implement it; a snapshot is always bound to the
// environment of its observer.
type Environment interface {
	// ID identifies the observer.
	ID() int
	// GridSize is the size of the whole simulation grid.
	GridSize() model.XY
	// Obstacles returns the obstacles known to the observer.
	Obstacles() []model.Rectangle
}

// Person is a single moving, infectable agent.
//
// A Person is owned by exactly one goroutine at a time. Cross-goroutine
// sharing happens only through Snapshot, which returns an independent copy.
type Person struct {
	id     int
	name   string
	params *model.Parameters
	env    Environment

	position  model.XY
	direction model.XY
	state     model.InfectionState
	countdown int

	// Per-tick flags drawn in AdvanceTick.
	emitting  bool
	receptive bool
	// exposed marks an infection received during the current tick.
	exposed bool

	rng rand.PCG
}

// NewPerson builds person id from its scenario description. The random
// stream is derived from the scenario seed and the person seed, falling back
// to the id when the person carries no explicit seed.
func NewPerson(id int, env Environment, params *model.Parameters, seed uint64, info model.PersonInfo) *Person {
	state, err := model.ParseInfectionState(string(info.State))
	if err != nil {
		state = model.StateSusceptible
	}
	stream := info.Seed
	if stream == 0 {
		stream = uint64(id)
	}
	p := &Person{
		id:        id,
		name:      info.Name,
		params:    params,
		env:       env,
		position:  info.Position,
		direction: info.Direction,
		state:     state,
		countdown: info.Countdown,
	}
	p.rng.Seed(seed, stream)
	return p
}

// ID returns the stable identity used for total ordering.
func (p *Person) ID() int { return p.id }

// Name returns the scenario name of the person.
func (p *Person) Name() string { return p.name }

// Position returns the current grid position.
func (p *Person) Position() model.XY { return p.position }

// State returns the current infection state.
func (p *Person) State() model.InfectionState { return p.state }

// Environment returns the environment the person is bound to.
func (p *Person) Environment() Environment { return p.env }

func (p *Person) IsSusceptible() bool { return p.state == model.StateSusceptible }
func (p *Person) IsInfected() bool    { return p.state == model.StateInfected }
func (p *Person) IsInfectious() bool  { return p.state == model.StateInfectious }
func (p *Person) IsRecovered() bool   { return p.state == model.StateRecovered }

// IsEmitting reports whether the person coughed during the current tick.
func (p *Person) IsEmitting() bool { return p.emitting && p.state == model.StateInfectious }

// IsReceptive reports whether the person breathed in during the current
// tick and can still be infected.
func (p *Person) IsReceptive() bool { return p.receptive && p.state == model.StateSusceptible }

// Exposed reports whether the person was infected during the current tick.
func (p *Person) Exposed() bool { return p.exposed }

// MarkInfected moves a susceptible person to the infected state. It returns
// false when the person was not susceptible.
func (p *Person) MarkInfected() bool {
	if p.state != model.StateSusceptible {
		return false
	}
	p.state = model.StateInfected
	p.countdown = p.params.IncubationTime
	p.exposed = true
	return true
}

// ClearTransient resets the markers that only hold for a single tick.
func (p *Person) ClearTransient() {
	p.exposed = false
}

// AdvanceTick runs one tick of the person's own state machine: infection
// progression, movement and the cough/breath draws. It always consumes the
// same number of random values so that the trajectory is independent of the
// infection state.
func (p *Person) AdvanceTick() {
	p.progress()

	turn := p.float()
	dir := p.rng.Uint64()
	cough := p.float()
	breath := p.float()

	if turn < p.params.TurnProbability {
		p.direction = model.XY{X: int(dir%3) - 1, Y: int((dir/3)%3) - 1}
	}
	p.move()

	p.emitting = p.state == model.StateInfectious && cough < p.params.CoughProbability
	p.receptive = p.state == model.StateSusceptible && breath < p.params.BreathProbability
}

func (p *Person) progress() {
	switch p.state {
	case model.StateInfected:
		if p.countdown <= 0 {
			p.state = model.StateInfectious
			p.countdown = p.params.InfectionTime
			return
		}
		p.countdown--
	case model.StateInfectious:
		if p.countdown <= 0 {
			p.state = model.StateRecovered
			p.countdown = p.params.RecoveryTime
			return
		}
		p.countdown--
	case model.StateRecovered:
		if p.params.RecoveryTime == 0 {
			return
		}
		if p.countdown <= 0 {
			p.state = model.StateSusceptible
			p.countdown = 0
			return
		}
		p.countdown--
	}
}

func (p *Person) move() {
	if p.direction == (model.XY{}) {
		return
	}
	target := p.position.Add(p.direction)
	if p.blocked(target) {
		p.direction = p.direction.Neg()
		return
	}
	p.position = target
}

func (p *Person) blocked(target model.XY) bool {
	grid := model.Rectangle{Size: p.env.GridSize()}
	return !grid.Contains(target) || Blocked(p.env.Obstacles(), target)
}

// float returns a uniformly distributed value in [0, 1).
func (p *Person) float() float64 {
	return float64(p.rng.Uint64()>>11) / (1 << 53)
}

// Snapshot returns an independent copy of the person bound to env.
// Mutating the copy never affects p or any other snapshot.
func (p *Person) Snapshot(env Environment) *Person {
	cp := *p
	cp.env = env
	return &cp
}

// Info returns the public description of the person.
func (p *Person) Info() model.PersonInfo {
	return model.PersonInfo{
		Name:      p.name,
		Position:  p.position,
		Direction: p.direction,
		State:     p.state,
		Countdown: p.countdown,
	}
}

// ByID orders people by identity.
func ByID(a, b *Person) int {
	return a.id - b.id
}
