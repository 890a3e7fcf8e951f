package server

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by operations that need a running host.
var ErrNotRunning = errors.New("host is not running")

// PortUnavailableError reports a listener that could not be bound after
// the port wait expired.
type PortUnavailableError struct {
	Port int
	Err  error
}

func (e *PortUnavailableError) Error() string {
	return fmt.Sprintf("port %d is unavailable: %v", e.Port, e.Err)
}

func (e *PortUnavailableError) Unwrap() error {
	return e.Err
}
