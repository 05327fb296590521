package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ModulePrefix is the prefix of host-provided modules scripts may require.
const ModulePrefix = "plugbus"

// safeModules are the built-in modules require may return.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// Sandbox restricts a Lua state to safe operations.
type Sandbox struct {
	L *lua.LState
}

// NewSandbox creates a sandbox for L.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// Install removes functions that load code from outside the host and
// replaces require with a whitelist.
func (s *Sandbox) Install() {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}
	s.installSafeRequire()
}

// installSafeRequire clears package.path/cpath and only lets require return
// safe built-ins and modules preloaded under ModulePrefix.
func (s *Sandbox) installSafeRequire() {
	if pkg, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkg, "path", lua.LString(""))
		s.L.SetField(pkg, "cpath", lua.LString(""))
	}

	original := s.L.GetGlobal("require")
	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] && name != ModulePrefix && !strings.HasPrefix(name, ModulePrefix+".") {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

// Preload makes a host module available to require.
func (s *Sandbox) Preload(name string, loader lua.LGFunction) {
	s.L.PreloadModule(name, loader)
}
