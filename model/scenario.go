package model

import (
	"fmt"
	"strings"
)

// InfectionState is the epidemiological state of a person.
type InfectionState string

const (
	StateSusceptible InfectionState = "susceptible"
	StateInfected    InfectionState = "infected"
	StateInfectious  InfectionState = "infectious"
	StateRecovered   InfectionState = "recovered"
)

// ParseInfectionState maps a scenario string onto an InfectionState. The
// empty string defaults to StateSusceptible.
func ParseInfectionState(s string) (InfectionState, error) {
	switch InfectionState(strings.ToLower(strings.TrimSpace(s))) {
	case "", StateSusceptible:
		return StateSusceptible, nil
	case StateInfected:
		return StateInfected, nil
	case StateInfectious:
		return StateInfectious, nil
	case StateRecovered:
		return StateRecovered, nil
	default:
		return "", fmt.Errorf("unknown infection state %q", s)
	}
}

// Parameters are the epidemiological and movement constants shared by the
// whole population.
type Parameters struct {
	// InfectionRadius is the Manhattan distance within which an emitting
	// person can infect a receptive one.
	InfectionRadius int `json:"infection_radius" yaml:"infection_radius"`
	// IncubationTime is the number of ticks between infection and becoming
	// infectious.
	IncubationTime int `json:"incubation_time" yaml:"incubation_time"`
	// InfectionTime is the number of ticks a person stays infectious.
	InfectionTime int `json:"infection_time" yaml:"infection_time"`
	// RecoveryTime is the number of immune ticks after recovery. Zero means
	// immunity never wanes.
	RecoveryTime int `json:"recovery_time" yaml:"recovery_time"`

	CoughProbability  float64 `json:"cough_probability" yaml:"cough_probability"`
	BreathProbability float64 `json:"breath_probability" yaml:"breath_probability"`
	TurnProbability   float64 `json:"turn_probability" yaml:"turn_probability"`
}

// Partition lists the interior cut lines of the grid on each axis. The grid
// edges are implicit.
type Partition struct {
	X []int `json:"x" yaml:"x"`
	Y []int `json:"y" yaml:"y"`
}

// PersonInfo is the public, serialisable description of a person. It is
// used both for the initial population and for trace entries.
type PersonInfo struct {
	Name      string         `json:"name" yaml:"name"`
	Position  XY             `json:"position" yaml:"position"`
	Direction XY             `json:"direction" yaml:"direction"`
	State     InfectionState `json:"state" yaml:"state"`
	Countdown int            `json:"countdown" yaml:"countdown"`
	Seed      uint64         `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Query names an area whose population is counted every tick.
type Query struct {
	Area Rectangle `json:"area" yaml:"area"`
}

// Scenario is the read-only description of a simulation run.
type Scenario struct {
	Name       string           `json:"name" yaml:"name"`
	Seed       uint64           `json:"seed" yaml:"seed"`
	GridSize   XY               `json:"grid_size" yaml:"grid_size"`
	Ticks      int              `json:"ticks" yaml:"ticks"`
	Trace      bool             `json:"trace" yaml:"trace"`
	Partition  Partition        `json:"partition" yaml:"partition"`
	Obstacles  []Rectangle      `json:"obstacles" yaml:"obstacles"`
	Parameters Parameters       `json:"parameters" yaml:"parameters"`
	Population []PersonInfo     `json:"population" yaml:"population"`
	Queries    map[string]Query `json:"queries" yaml:"queries"`
}

// Grid returns the rectangle covering the whole scenario grid.
func (s *Scenario) Grid() Rectangle {
	return Rectangle{Size: s.GridSize}
}
