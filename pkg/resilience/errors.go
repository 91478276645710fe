package resilience

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is matched with errors.Is against any rejection caused by
// an open circuit, whichever component raised it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitOpenError reports a call rejected without invoking the target.
type CircuitOpenError struct {
	// Name identifies the breaker, usually "component.function" or a host.
	Name string
	// Permanent marks circuits that never recover (e.g. DNS-dead hosts).
	Permanent bool
}

// Error returns formatted error message
func (e *CircuitOpenError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("circuit breaker for %q is permanently open", e.Name)
	}
	return fmt.Sprintf("circuit breaker for %q is open", e.Name)
}

// Is reports true for ErrCircuitOpen so callers can match without the type.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}
