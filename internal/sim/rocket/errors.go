package rocket

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientPadding is matched by *InsufficientPaddingError.
	ErrInsufficientPadding = errors.New("insufficient padding")
	// ErrInvalidPartition reports a partition that does not assign every
	// person to exactly one patch core.
	ErrInvalidPartition = errors.New("invalid partition")
	// ErrCoordination reports an aborted or impossible rendezvous between
	// patches. It is fatal to the run.
	ErrCoordination = errors.New("patch coordination failed")
	// ErrBucketOverflow reports more snapshots for a tick than there are
	// people in the scenario.
	ErrBucketOverflow = errors.New("result bucket overflow")
	// ErrAlreadyRun is returned when Run is called more than once.
	ErrAlreadyRun = errors.New("simulation already run")
)

// InsufficientPaddingError is returned when the padding cannot guarantee
// even a single safe tick between synchronisations.
type InsufficientPaddingError struct {
	Padding int
}

func (e *InsufficientPaddingError) Error() string {
	return fmt.Sprintf("insufficient padding: %d", e.Padding)
}

// Is reports whether target is ErrInsufficientPadding.
func (e *InsufficientPaddingError) Is(target error) bool {
	return target == ErrInsufficientPadding
}
