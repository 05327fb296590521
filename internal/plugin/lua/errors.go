package lua

import "errors"

// Errors for Lua plugins.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a call exceeds the execution timeout.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrNotFunction is returned when calling a value that is not a function.
	ErrNotFunction = errors.New("not a lua function")

	// ErrNotLoaded is returned by plugin methods called before the load hook.
	ErrNotLoaded = errors.New("lua plugin is not loaded")

	// ErrBadModule is returned when a script does not return a table.
	ErrBadModule = errors.New("lua plugin script must return a table")

	// ErrNoEntryPoint is returned for plugin directories without a script.
	ErrNoEntryPoint = errors.New("no plugin entry point found")
)

// Manifest validation errors.
var (
	ErrMissingName    = errors.New("manifest: name is required")
	ErrInvalidName    = errors.New("manifest: name must be lowercase alphanumeric with hyphens")
	ErrInvalidVersion = errors.New("manifest: version must be valid semver")
	ErrInvalidMain    = errors.New("manifest: main must be a .lua file")
)
