package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. Components that
// only need to observe progress depend on it rather than on TickController.
type SimClock interface {
	// Now returns the simulated time of the latest completed tick.
	Now() time.Time
	// Current returns the latest completed tick, or -1 before tick 0 is
	// committed.
	Current() int
	// Wait blocks until tick is committed, the run finishes or ctx is done.
	Wait(ctx context.Context, tick int) (bool, error)
	// Done is closed once the run is over.
	Done() <-chan struct{}
}

var _ SimClock = (*TickController)(nil)

// TickController tracks how far a simulation run has progressed and
// notifies registered listeners as ticks complete. Ticks are committed
// in order by the engine; the controller never drives the engine.
type TickController struct {
	mu        sync.Mutex
	StartTime time.Time
	Tick      time.Duration
	Total     int

	current   int
	changed   chan struct{}
	done      chan struct{}
	finished  bool
	listeners []func(tick int, at time.Time)
}

// NewTickController constructs a controller for a run of total ticks. Tick
// zero maps to start and each tick advances simulated time by tick.
func NewTickController(start time.Time, tick time.Duration, total int) *TickController {
	return &TickController{
		StartTime: start,
		Tick:      tick,
		Total:     total,
		current:   -1,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// AddListener registers a callback invoked once per committed tick.
// Listeners run on the committing goroutine and must not block.
func (tc *TickController) AddListener(fn func(tick int, at time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance commits tick. Ticks at or below the current one are ignored.
// Committing Total finishes the controller.
func (tc *TickController) Advance(tick int) {
	tc.mu.Lock()
	if tc.finished || tick <= tc.current {
		tc.mu.Unlock()
		return
	}
	tc.current = tick
	at := tc.timeOf(tick)
	listeners := tc.listeners
	close(tc.changed)
	tc.changed = make(chan struct{})
	if tick >= tc.Total {
		tc.finished = true
		close(tc.done)
	}
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(tick, at)
	}
}

// Finish marks the run as over without committing further ticks, for
// example when the engine fails. It is safe to call more than once.
func (tc *TickController) Finish() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.finished {
		return
	}
	tc.finished = true
	close(tc.done)
	close(tc.changed)
	tc.changed = make(chan struct{})
}

// Done returns a channel closed once the run is finished. Implements
// SimClock.
func (tc *TickController) Done() <-chan struct{} {
	return tc.done
}

// Current returns the latest committed tick. Implements SimClock.
func (tc *TickController) Current() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.current
}

// Now returns the simulated time of the latest committed tick. Implements
// SimClock.
func (tc *TickController) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.timeOf(max(tc.current, 0))
}

// Wait blocks until tick has been committed, the run finishes, or ctx is
// done. It reports whether tick was reached.
func (tc *TickController) Wait(ctx context.Context, tick int) (bool, error) {
	for {
		tc.mu.Lock()
		if tc.current >= tick {
			tc.mu.Unlock()
			return true, nil
		}
		if tc.finished {
			tc.mu.Unlock()
			return false, nil
		}
		changed := tc.changed
		tc.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (tc *TickController) timeOf(tick int) time.Time {
	return tc.StartTime.Add(time.Duration(tick) * tc.Tick)
}
