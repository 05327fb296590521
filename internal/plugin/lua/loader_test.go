package lua

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dshills/plugbus/internal/plugin"
)

func TestLoaderFind(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "withmanifest", ManifestFile), `{"name": "renamed", "main": "main.lua"}`)
	writeFile(t, filepath.Join(base, "withmanifest", "main.lua"), `return {}`)
	writeFile(t, filepath.Join(base, "initonly", "init.lua"), `return {}`)
	writeFile(t, filepath.Join(base, "alt", "plugin.lua"), `return {}`)
	writeFile(t, filepath.Join(base, "single.lua"), `return {}`)

	l := NewLoader(WithPaths(base))

	tests := []struct {
		path     string
		wantName string
		wantMain string
	}{
		{"withmanifest", "renamed", "main.lua"},
		{"initonly", "initonly", "init.lua"},
		{"alt", "alt", "plugin.lua"},
		{"single", "single", "single.lua"},
		{filepath.Join(base, "initonly"), "initonly", "init.lua"},
		{filepath.Join(base, "single.lua"), "single", "single.lua"},
	}
	for _, tt := range tests {
		m, err := l.Find(tt.path)
		if err != nil {
			t.Errorf("Find(%s) failed: %v", tt.path, err)
			continue
		}
		if m.Name != tt.wantName || m.Main != tt.wantMain {
			t.Errorf("Find(%s) = %s/%s, want %s/%s", tt.path, m.Name, m.Main, tt.wantName, tt.wantMain)
		}
	}
}

func TestLoaderNotFound(t *testing.T) {
	l := NewLoader(WithPaths(t.TempDir()))

	_, err := l.Load(context.Background(), plugin.LoadRequest{ModulePath: "nothing"})
	if !errors.Is(err, plugin.ErrModuleNotFound) {
		t.Errorf("Load(nothing) error = %v, want ErrModuleNotFound", err)
	}
}

func TestLoaderLoad(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "greeter", "init.lua"), `return {}`)

	mod, err := NewLoader(WithPaths(base)).Load(context.Background(), plugin.LoadRequest{ModulePath: "greeter"})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if mod.Type != ModuleType {
		t.Errorf("Type = %q, want %q", mod.Type, ModuleType)
	}
	if mod.LoadPath != filepath.Join(base, "greeter", "init.lua") {
		t.Errorf("LoadPath = %q", mod.LoadPath)
	}
	factory, ok := mod.Instance.(plugin.Factory)
	if !ok {
		t.Fatalf("Instance = %T, want plugin.Factory", mod.Instance)
	}
	inst, err := factory()
	if err != nil {
		t.Fatalf("factory() failed: %v", err)
	}
	if _, ok := inst.(*Plugin); !ok {
		t.Errorf("factory() = %T, want *Plugin", inst)
	}
}

func TestLoaderDiscover(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(first, "alpha", "init.lua"), `return {}`)
	writeFile(t, filepath.Join(second, "alpha", "init.lua"), `return {}`)
	writeFile(t, filepath.Join(second, "beta.lua"), `return {}`)
	writeFile(t, filepath.Join(second, "broken", "README"), `no script`)
	writeFile(t, filepath.Join(second, "notes.txt"), `ignored`)

	found, err := NewLoader(WithPaths(first, second, filepath.Join(first, "missing"))).Discover()
	if err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("Discover() found %d plugins, want 2", len(found))
	}
	if found[0].Name != "alpha" || found[0].Dir() != filepath.Join(first, "alpha") {
		t.Errorf("found[0] = %s in %s, want alpha from the first path", found[0].Name, found[0].Dir())
	}
	if found[1].Name != "beta" {
		t.Errorf("found[1] = %s, want beta", found[1].Name)
	}
}
