// Package sim holds what the simulation engines have in common.
package sim

import (
	"context"
	"time"

	"github.com/signalsfoundry/epidemic-simulator/model"
)

// Simulation is a runnable simulation engine.
type Simulation interface {
	// Run executes the whole scenario. It may be called once.
	Run(ctx context.Context) error
	// Output returns the accumulated trace and statistics of a completed
	// run, or nil when the run has not completed successfully.
	Output() *model.Output
}

// Recorder receives engine metrics. observability.SimCollector implements
// it.
type Recorder interface {
	ObservePatchTick(patchID int)
	ObserveSyncRound(patchID int, wait time.Duration, halo int)
	ObserveInfections(n int)
	ObserveTickCompleted(tick int)
	ObserveRun(d time.Duration)
}

// NoopRecorder drops all metrics.
type NoopRecorder struct{}

func (NoopRecorder) ObservePatchTick(int)                     {}
func (NoopRecorder) ObserveSyncRound(int, time.Duration, int) {}
func (NoopRecorder) ObserveInfections(int)                    {}
func (NoopRecorder) ObserveTickCompleted(int)                 {}
func (NoopRecorder) ObserveRun(time.Duration)                 {}
