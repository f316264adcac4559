// Package validator defines the instrumentation hooks engines call while
// they advance the simulation.
package validator

import (
	"fmt"
	"sort"
	"sync"
)

// Validator is notified synchronously at every patch tick and every person
// tick. Implementations must be safe for concurrent use and must not block.
type Validator interface {
	OnPatchTick(tick, patchID int)
	OnPersonTick(tick, patchID, personID int)
}

// Noop ignores every notification.
type Noop struct{}

func (Noop) OnPatchTick(int, int)       {}
func (Noop) OnPersonTick(int, int, int) {}

// Recorder counts notifications and checks that every patch reports its
// ticks in increasing order without gaps.
type Recorder struct {
	mu sync.Mutex

	patchTicks  map[int]int
	personTicks map[int]int
	violations  []string
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		patchTicks:  make(map[int]int),
		personTicks: make(map[int]int),
	}
}

// OnPatchTick implements Validator.
func (r *Recorder) OnPatchTick(tick, patchID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if want := r.patchTicks[patchID]; tick != want {
		r.violations = append(r.violations, fmt.Sprintf("patch %d ticked %d, want %d", patchID, tick, want))
	}
	r.patchTicks[patchID] = tick + 1
}

// OnPersonTick implements Validator.
func (r *Recorder) OnPersonTick(tick, patchID, personID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if got := r.patchTicks[patchID]; got != tick+1 {
		r.violations = append(r.violations, fmt.Sprintf("person %d ticked at %d outside patch %d tick", personID, tick, patchID))
	}
	r.personTicks[personID]++
}

// PatchTicks returns the number of ticks each patch reported.
func (r *Recorder) PatchTicks() map[int]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]int, len(r.patchTicks))
	for id, n := range r.patchTicks {
		out[id] = n
	}
	return out
}

// PersonTicks returns how often each person was advanced, counting halo
// copies.
func (r *Recorder) PersonTicks(personID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.personTicks[personID]
}

// Violations returns the ordering violations seen so far.
func (r *Recorder) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.violations...)
	sort.Strings(out)
	return out
}

// Err summarises the violations, or returns nil if there are none.
func (r *Recorder) Err() error {
	v := r.Violations()
	if len(v) == 0 {
		return nil
	}
	return fmt.Errorf("validator: %d violations, first: %s", len(v), v[0])
}
