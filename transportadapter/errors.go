package transport

import "errors"

// Sentinel errors returned by Session implementations and the manager.
var (
	ErrNotOpen     = errors.New("transport: session not open")
	ErrAlreadyOpen = errors.New("transport: session already open")
	ErrPongTimeout = errors.New("transport: pong timeout")
)

// Error wraps a transport failure with the operation that caused it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
