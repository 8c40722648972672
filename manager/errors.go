package manager

import (
	"errors"
	"fmt"

	"github.com/tunnelmesh/wgagentd/tunnel"
)

// ErrNetworkNotFound is returned by any operation addressing a network
// name that isn't in the registry.
var ErrNetworkNotFound = errors.New("manager: network not found")

// ErrInvalidState is returned when an operation is incompatible with a
// tunnel's current lifecycle state (e.g. connect while already Active).
var ErrInvalidState = errors.New("manager: invalid state")

// InvalidStateError carries the offending state alongside ErrInvalidState
// so callers (the control dispatcher) can report it without parsing text.
type InvalidStateError struct {
	Network string
	State   tunnel.State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("manager: network %s: invalid state %s", e.Network, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ErrNetworkNotFound, name)
}

func invalidState(name string, s tunnel.State) error {
	return &InvalidStateError{Network: name, State: s}
}
