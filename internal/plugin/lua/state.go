package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultExecutionTimeout bounds every call into Lua.
const DefaultExecutionTimeout = 5 * time.Second

// State wraps a sandboxed gopher-lua state.
//
// gopher-lua's LState is not goroutine-safe, so every call into Lua holds
// the state's mutex. Go functions exposed to Lua that call back into the same
// state run nested on the current call; see nested.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	sandbox          *Sandbox

	// bridged counts Go functions currently running on behalf of Lua code.
	// While positive the mutex is held by the Lua call that invoked them.
	bridged atomic.Int32

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout sets the timeout for each call into Lua.
// Zero disables the timeout.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// NewState creates a sandboxed Lua state.
func NewState(opts ...StateOption) *State {
	s := &State{executionTimeout: DefaultExecutionTimeout}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	s.L = L
	s.sandbox = NewSandbox(L)
	s.sandbox.Install()
	return s
}

// openSafeLibraries opens only safe Lua standard libraries.
// io, os and debug stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenPackage(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// DoFile runs a Lua file and returns the values it returned.
func (s *State) DoFile(ctx context.Context, path string) ([]lua.LValue, error) {
	return s.run(ctx, func() ([]lua.LValue, error) {
		fn, err := s.L.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return s.pcall(fn, nil)
	})
}

// DoString runs a Lua chunk and returns the values it returned.
func (s *State) DoString(ctx context.Context, code string) ([]lua.LValue, error) {
	return s.run(ctx, func() ([]lua.LValue, error) {
		fn, err := s.L.LoadString(code)
		if err != nil {
			return nil, err
		}
		return s.pcall(fn, nil)
	})
}

// CallFunction calls fn with args.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) CallFunction(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	return s.run(ctx, func() ([]lua.LValue, error) {
		return s.pcall(fn, args)
	})
}

// Call calls a global Lua function.
func (s *State) Call(ctx context.Context, name string, args ...lua.LValue) ([]lua.LValue, error) {
	return s.run(ctx, func() ([]lua.LValue, error) {
		fnVal := s.L.GetGlobal(name)
		fn, ok := fnVal.(*lua.LFunction)
		if !ok {
			return nil, fmt.Errorf("%w: %q (got %s)", ErrNotFunction, name, fnVal.Type())
		}
		return s.pcall(fn, args)
	})
}

// With runs fn with exclusive access to the state.
func (s *State) With(ctx context.Context, fn func(L *lua.LState) error) error {
	_, err := s.run(ctx, func() ([]lua.LValue, error) {
		return nil, fn(s.L)
	})
	return err
}

// run takes the lock, or runs nested when a bridged Go function is already
// executing on behalf of this state.
func (s *State) run(ctx context.Context, fn func() ([]lua.LValue, error)) ([]lua.LValue, error) {
	if s.bridged.Load() > 0 {
		if s.closed {
			return nil, ErrStateClosed
		}
		return recovered(fn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	if s.executionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.executionTimeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	results, err := recovered(fn)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: %w", ErrExecutionTimeout, err)
	}
	return results, err
}

// nested marks the duration of a Go function called from Lua, so callbacks
// that re-enter the state from the same call chain don't deadlock.
func (s *State) nested(fn func()) {
	s.bridged.Add(1)
	defer s.bridged.Add(-1)
	fn()
}

func recovered(fn func() ([]lua.LValue, error)) (results []lua.LValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// pcall calls fn and collects every value it returns.
func (s *State) pcall(fn *lua.LFunction, args []lua.LValue) ([]lua.LValue, error) {
	top := s.L.GetTop()

	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}
	if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
		s.L.SetTop(top)
		return nil, err
	}

	n := s.L.GetTop() - top
	if n <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, n)
	for i := range n {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.Pop(n)
	return results, nil
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Later calls return ErrStateClosed.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.Close()
	s.closed = true
}
