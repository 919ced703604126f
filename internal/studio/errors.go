package studio

import (
	"errors"
	"fmt"
)

var (
	// ErrNoActiveComposition is returned when a save or delete needs an
	// active composition and none is open.
	ErrNoActiveComposition = errors.New("no active composition")

	// ErrLoadInFlight is returned when a load is requested while another
	// load is still running.
	ErrLoadInFlight = errors.New("load already in progress")
)

// LoadError reports a failed composition load. Partition is empty when the
// snapshot fetch itself failed, and names the partition whose staged
// application failed otherwise.
type LoadError struct {
	CompositionID string
	Partition     string
	Err           error
}

func (e *LoadError) Error() string {
	if e.Partition == "" {
		return fmt.Sprintf("load composition %s: %v", e.CompositionID, e.Err)
	}
	return fmt.Sprintf("load composition %s: %s partition: %v", e.CompositionID, e.Partition, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
