package dynamo

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors for simulation operations.
var (
	// ErrInvalidState indicates positions or momenta that are not finite.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrParameterBounds indicates a parameter value is outside valid range.
	ErrParameterBounds = errors.New("dynamo: parameter out of valid bounds")

	// ErrDimensionMismatch indicates force and position arrays of different size.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between positions and forces")

	// ErrReconnectExhausted indicates the force provider dropped the
	// connection more often than the reconnect budget allows.
	ErrReconnectExhausted = errors.New("dynamo: force provider reconnect budget exhausted")

	// ErrSoftExit indicates the run stopped early on request.
	ErrSoftExit = errors.New("dynamo: soft exit requested")
)

// SocketTimeoutError reports a force exchange that did not complete within
// the configured timeout.
type SocketTimeoutError struct {
	Address string
	Bead    int
	After   time.Duration
	Stage   string
}

func (e *SocketTimeoutError) Error() string {
	return fmt.Sprintf("socket %s: no %s from force provider within %s (bead %d)", e.Address, e.Stage, e.After, e.Bead)
}

// Timeout lets callers treat the error like a net.Error.
func (e *SocketTimeoutError) Timeout() bool { return true }

// SocketProtocolError reports an unexpected message from the force provider.
type SocketProtocolError struct {
	Address  string
	Expected []string
	Got      string
	Detail   string
}

func (e *SocketProtocolError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "socket %s: protocol error", e.Address)
	if len(e.Expected) > 0 {
		fmt.Fprintf(&b, ": expected %s, got %q", strings.Join(e.Expected, "|"), e.Got)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// OutputWriteError wraps a failed write to an output channel.
type OutputWriteError struct {
	Path    string
	Step    int
	Wrapped error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("output %s at step %d: %v", e.Path, e.Step, e.Wrapped)
}

func (e *OutputWriteError) Unwrap() error {
	return e.Wrapped
}

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
