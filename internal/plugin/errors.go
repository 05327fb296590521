package plugin

import (
	"errors"
	"fmt"
)

// Plugin manager errors.
var (
	// ErrInvalidConfig is returned when a plugin config fails validation.
	ErrInvalidConfig = errors.New("invalid plugin config")

	// ErrPluginExists is returned when adding a plugin whose name is taken.
	ErrPluginExists = errors.New("plugin already exists")

	// ErrPluginLoading is returned when adding a plugin whose name is mid-add.
	ErrPluginLoading = errors.New("plugin is already loading")

	// ErrPluginNotFound is returned when a named plugin is not loaded.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoInstance is returned when a config has no instance and no loader can resolve it.
	ErrNoInstance = errors.New("no plugin instance")

	// ErrModuleNotFound is returned by module loaders when nothing exists at the module path.
	ErrModuleNotFound = errors.New("module not found")

	// ErrUnclonable is returned when options or module data hold non-plain values.
	ErrUnclonable = errors.New("value cannot be cloned")

	// ErrManagerDestroyed is returned by every Manager method after Destroy.
	ErrManagerDestroyed = errors.New("plugin manager has been destroyed")

	// ErrNilEventbus is returned when a nil eventbus is supplied.
	ErrNilEventbus = errors.New("eventbus cannot be nil")

	// ErrInvalidPrepend is returned for an empty or blank event prepend.
	ErrInvalidPrepend = errors.New("invalid event prepend")

	// ErrPrependInUse is returned when another manager already guards the command names.
	ErrPrependInUse = errors.New("event prepend already in use")

	// ErrCommandDisabled is returned by bus commands gated off by Options.
	ErrCommandDisabled = errors.New("command disabled by manager options")

	// ErrInvalidArgument is returned when a bus command receives a malformed argument.
	ErrInvalidArgument = errors.New("invalid command argument")

	// ErrNoPlugin is returned by invocations that match no plugin when ThrowNoPlugin is set.
	ErrNoPlugin = errors.New("no plugin matched")

	// ErrNoMethod is returned by invocations that find no method when ThrowNoMethod is set.
	ErrNoMethod = errors.New("no plugin method matched")

	// ErrInvalidMethod is returned for an empty method name.
	ErrInvalidMethod = errors.New("invalid method name")
)

// PluginError wraps an error raised by a plugin during an operation.
type PluginError struct {
	// Plugin is the plugin name.
	Plugin string

	// Op is the hook or method being run.
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q: %s: %v", e.Plugin, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PluginError) Unwrap() error {
	return e.Err
}
