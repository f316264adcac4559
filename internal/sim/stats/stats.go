// Package stats turns complete per-tick populations into trace entries and
// per-query statistics.
package stats

import (
	"slices"
	"sort"

	"github.com/signalsfoundry/epidemic-simulator/core"
	"github.com/signalsfoundry/epidemic-simulator/model"
)

// Aggregator accumulates the output of a run. It is not safe for concurrent
// use; engines feed it from a single goroutine.
type Aggregator struct {
	name    string
	trace   bool
	queries []namedQuery

	entries    []model.TraceEntry
	statistics map[string][]model.Statistics
}

type namedQuery struct {
	name string
	area model.Rectangle
}

// NewAggregator prepares an aggregator for scenario.
func NewAggregator(scenario *model.Scenario) *Aggregator {
	a := &Aggregator{
		name:       scenario.Name,
		trace:      scenario.Trace,
		statistics: make(map[string][]model.Statistics, len(scenario.Queries)),
	}
	for name, q := range scenario.Queries {
		a.queries = append(a.queries, namedQuery{name: name, area: q.Area})
		a.statistics[name] = make([]model.Statistics, 0, scenario.Ticks+1)
	}
	sort.Slice(a.queries, func(i, j int) bool { return a.queries[i].name < a.queries[j].name })
	return a
}

// Extend appends one tick worth of output. people must hold the complete
// population sorted by id.
func (a *Aggregator) Extend(people []*core.Person) {
	if a.trace {
		entry := model.TraceEntry{Population: make([]model.PersonInfo, len(people))}
		for i, p := range people {
			entry.Population[i] = p.Info()
		}
		a.entries = append(a.entries, entry)
	}
	for _, q := range a.queries {
		a.statistics[q.name] = append(a.statistics[q.name], Count(people, q.area))
	}
}

// Ticks returns the number of ticks recorded so far.
func (a *Aggregator) Ticks() int {
	for _, series := range a.statistics {
		return len(series)
	}
	return len(a.entries)
}

// Output returns a copy of the accumulated output.
func (a *Aggregator) Output() *model.Output {
	out := &model.Output{
		Name:       a.name,
		Statistics: make(map[string][]model.Statistics, len(a.statistics)),
	}
	if a.trace {
		out.Trace = slices.Clone(a.entries)
	}
	for name, series := range a.statistics {
		out.Statistics[name] = slices.Clone(series)
	}
	return out
}

// Count tallies infection states of the people standing inside area.
func Count(people []*core.Person, area model.Rectangle) model.Statistics {
	var s model.Statistics
	for _, p := range people {
		if !area.Contains(p.Position()) {
			continue
		}
		switch {
		case p.IsSusceptible():
			s.Susceptible++
		case p.IsInfected():
			s.Infected++
		case p.IsInfectious():
			s.Infectious++
		case p.IsRecovered():
			s.Recovered++
		}
	}
	return s
}
