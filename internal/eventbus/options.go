package eventbus

import (
	"strings"

	"go.uber.org/zap"
)

// CallbackType describes how a registered callback produces its result.
// Types are bit flags so an event with mixed callbacks reports both.
type CallbackType uint8

const (
	// TypeNone means no type hint was given.
	TypeNone CallbackType = 0

	// TypeSync marks callbacks that return their result directly.
	TypeSync CallbackType = 1 << 0

	// TypeAsync marks callbacks that return an Awaitable.
	TypeAsync CallbackType = 1 << 1
)

// String returns a string representation of the type.
func (t CallbackType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeSync:
		return "sync"
	case TypeAsync:
		return "async"
	case TypeSync | TypeAsync:
		return "sync|async"
	default:
		return "unknown"
	}
}

// EventOptions are the options attached to a registration.
// For an event name, the options aggregate over every registration:
// Guard is true if any registration is guarded and Type ORs all types.
type EventOptions struct {
	Guard bool
	Type  CallbackType
}

// Option configures a single registration.
type Option func(*registerConfig)

// registerConfig holds registration options.
type registerConfig struct {
	context any
	guard   bool
	typ     CallbackType
}

// WithContext tags the registration with a context value.
// Off can later remove all registrations carrying the same context.
func WithContext(ctx any) Option {
	return func(c *registerConfig) {
		c.context = ctx
	}
}

// WithGuard guards the event name: while this registration exists, no
// further callbacks can be registered for the name.
func WithGuard() Option {
	return func(c *registerConfig) {
		c.guard = true
	}
}

// WithType sets the callback type hint.
// Async callbacks are always typed TypeAsync regardless of this hint.
func WithType(t CallbackType) Option {
	return func(c *registerConfig) {
		c.typ = t
	}
}

func newRegisterConfig(opts []Option) registerConfig {
	var c registerConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// BusOption configures an Eventbus.
type BusOption func(*busConfig)

// busConfig contains configuration for the eventbus.
type busConfig struct {
	name   string
	logger *zap.Logger
}

// WithName sets the bus name.
func WithName(name string) BusOption {
	return func(c *busConfig) {
		c.name = name
	}
}

// WithLogger sets the logger used for guard warnings and deferred dispatch errors.
func WithLogger(logger *zap.Logger) BusOption {
	return func(c *busConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// splitNames splits a space separated list of event names.
func splitNames(name string) []string {
	return strings.Fields(name)
}
