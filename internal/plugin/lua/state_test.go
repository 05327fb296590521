package lua

import (
	"context"
	"errors"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func TestStateDoString(t *testing.T) {
	state := NewState()
	defer state.Close()

	results, err := state.DoString(context.Background(), `return 1 + 1, "two"`)
	if err != nil {
		t.Fatalf("DoString() failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("DoString() returned %d values, want 2", len(results))
	}
	if results[0] != glua.LNumber(2) {
		t.Errorf("results[0] = %v, want 2", results[0])
	}
	if results[1] != glua.LString("two") {
		t.Errorf("results[1] = %v, want two", results[1])
	}
}

func TestStateDoStringSyntaxError(t *testing.T) {
	state := NewState()
	defer state.Close()

	if _, err := state.DoString(context.Background(), `this is not lua`); err == nil {
		t.Error("DoString() should fail on a syntax error")
	}
}

func TestStateCall(t *testing.T) {
	state := NewState()
	defer state.Close()

	if _, err := state.DoString(context.Background(), `function add(a, b) return a + b end`); err != nil {
		t.Fatalf("DoString() failed: %v", err)
	}

	results, err := state.Call(context.Background(), "add", glua.LNumber(2), glua.LNumber(3))
	if err != nil {
		t.Fatalf("Call() failed: %v", err)
	}
	if len(results) != 1 || results[0] != glua.LNumber(5) {
		t.Errorf("Call() = %v, want [5]", results)
	}

	results, err = state.Call(context.Background(), "add", glua.LNumber(1), glua.LNumber(1))
	if err != nil {
		t.Fatalf("second Call() failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("second Call() returned %d values, want 1", len(results))
	}
}

func TestStateCallNotFunction(t *testing.T) {
	state := NewState()
	defer state.Close()

	_, err := state.Call(context.Background(), "missing")
	if !errors.Is(err, ErrNotFunction) {
		t.Errorf("Call(missing) error = %v, want ErrNotFunction", err)
	}
}

func TestStateClosed(t *testing.T) {
	state := NewState()
	state.Close()
	state.Close()

	if !state.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}
	if _, err := state.DoString(context.Background(), `return 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() after Close error = %v, want ErrStateClosed", err)
	}
}

func TestStateExecutionTimeout(t *testing.T) {
	state := NewState(WithExecutionTimeout(50 * time.Millisecond))
	defer state.Close()

	_, err := state.DoString(context.Background(), `while true do end`)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Errorf("DoString(infinite loop) error = %v, want ErrExecutionTimeout", err)
	}

	// The state stays usable after a timeout.
	if _, err := state.DoString(context.Background(), `return 1`); err != nil {
		t.Errorf("DoString() after timeout failed: %v", err)
	}
}

func TestSandboxRemovesLoaders(t *testing.T) {
	state := NewState()
	defer state.Close()

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		if v := state.L.GetGlobal(name); v != glua.LNil {
			t.Errorf("global %s = %v, want nil", name, v)
		}
	}
}

func TestSandboxRequire(t *testing.T) {
	state := NewState()
	defer state.Close()

	if _, err := state.DoString(context.Background(), `local s = require("string"); return s.upper("x")`); err != nil {
		t.Errorf("require(string) failed: %v", err)
	}
	for _, mod := range []string{"io", "os", "debug", "socket"} {
		if _, err := state.DoString(context.Background(), `require("`+mod+`")`); err == nil {
			t.Errorf("require(%s) should fail", mod)
		}
	}
}

func TestSandboxPreload(t *testing.T) {
	state := NewState()
	defer state.Close()

	state.Sandbox().Preload("plugbus.test", func(L *glua.LState) int {
		L.Push(glua.LString("preloaded"))
		return 1
	})

	results, err := state.DoString(context.Background(), `return require("plugbus.test")`)
	if err != nil {
		t.Fatalf("require(plugbus.test) failed: %v", err)
	}
	if results[0] != glua.LString("preloaded") {
		t.Errorf("require(plugbus.test) = %v, want preloaded", results[0])
	}
}
