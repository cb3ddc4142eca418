package network

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownBus        = errors.New("network: unknown bus")
	ErrUnknownLine       = errors.New("network: unknown transmission line")
	ErrUnknownEntity     = errors.New("network: unknown entity")
	ErrAlreadyRegistered = errors.New("network: entity already registered")
	ErrNotOptimal        = errors.New("network: result is not optimal")
)

// ErrNotSolved is returned for prices requested before any solve. It wraps
// ErrNotOptimal, so callers that only care about missing prices can check
// for that.
var ErrNotSolved = fmt.Errorf("network: not solved: %w", ErrNotOptimal)

// DuplicateNameError is returned at registration when a name is already
// taken within the target collection.
type DuplicateNameError struct {
	Collection string
	Name       string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate name %q in %s", e.Name, e.Collection)
}

// TimestepLengthMismatch is returned by Solve when a per-timestep series does
// not have one entry per network timestep.
type TimestepLengthMismatch struct {
	Kind      string
	Entity    string
	Attribute string
	Got       int
	Want      int
}

func (e *TimestepLengthMismatch) Error() string {
	return fmt.Sprintf("%s %s: %s has %d entries, network has %d timesteps",
		e.Kind, e.Entity, e.Attribute, e.Got, e.Want)
}

// InvalidParameterError is returned by Solve when an entity parameter would
// put a physically meaningless bound into the program.
type InvalidParameterError struct {
	Kind      string
	Entity    string
	Attribute string
	Reason    string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s %s: invalid %s: %s", e.Kind, e.Entity, e.Attribute, e.Reason)
}
