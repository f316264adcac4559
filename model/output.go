package model

// Statistics counts the population of a query area by infection state at a
// single tick.
type Statistics struct {
	Susceptible int64 `json:"susceptible"`
	Infected    int64 `json:"infected"`
	Infectious  int64 `json:"infectious"`
	Recovered   int64 `json:"recovered"`
}

// Total returns the number of people counted.
func (s Statistics) Total() int64 {
	return s.Susceptible + s.Infected + s.Infectious + s.Recovered
}

// TraceEntry captures every person's public info at one tick, ordered by
// person id.
type TraceEntry struct {
	Population []PersonInfo `json:"population"`
}

// Output is the result of a simulation: one trace entry per tick (when
// tracing is enabled) and one statistics series per query. Both hold
// ticks+1 entries, starting with the initial state at tick 0.
type Output struct {
	Name       string                  `json:"name"`
	Trace      []TraceEntry            `json:"trace,omitempty"`
	Statistics map[string][]Statistics `json:"statistics"`
}
