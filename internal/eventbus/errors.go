package eventbus

import (
	"errors"
	"fmt"
)

// Sentinel errors for the eventbus.
var (
	// ErrInvalidName is returned when an event name is empty or blank.
	ErrInvalidName = errors.New("invalid event name")

	// ErrNilCallback is returned when a nil callback is registered.
	ErrNilCallback = errors.New("callback cannot be nil")

	// ErrInvalidCount is returned when Before is given a negative count.
	ErrInvalidCount = errors.New("invalid invocation count")

	// ErrNotListenable is returned when ListenTo is given a target that can't be subscribed to.
	ErrNotListenable = errors.New("target is not listenable")

	// ErrProxyDestroyed is returned by every Proxy method once Destroy has been called.
	ErrProxyDestroyed = errors.New("eventbus proxy has been destroyed")

	// ErrSecureDestroyed is returned by every Secure method once its destroy function has been called.
	ErrSecureDestroyed = errors.New("eventbus secure has been destroyed")

	// ErrNilSource is returned when a Secure handle is initialized without a bus.
	ErrNilSource = errors.New("eventbus source cannot be nil")

	// ErrCallbackPanic is matched by PanicError.
	ErrCallbackPanic = errors.New("callback panicked")
)

// CallbackError wraps an error returned by a callback.
type CallbackError struct {
	// Event is the event name being dispatched.
	Event string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback error on event %q: %v", e.Event, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered callback panic.
type PanicError struct {
	// Event is the event name being dispatched.
	Event string

	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("callback panic on event %q: %v", e.Event, e.Value)
}

// Is allows errors.Is to match PanicError with ErrCallbackPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrCallbackPanic
}
