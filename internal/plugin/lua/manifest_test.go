package lua

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)
	writeFile(t, path, `{
		"name": "word-count",
		"version": "1.2.0",
		"description": "counts words",
		"main": "main.lua",
		"options": {"min": 2}
	}`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	if m.Name != "word-count" || m.Version != "1.2.0" {
		t.Errorf("manifest = %s@%s", m.Name, m.Version)
	}
	if m.MainPath() != filepath.Join(dir, "main.lua") {
		t.Errorf("MainPath() = %s", m.MainPath())
	}

	data := m.ModuleData()
	if data["description"] != "counts words" {
		t.Errorf("ModuleData()[description] = %v", data["description"])
	}
	defaults, ok := data["defaults"].(map[string]any)
	if !ok || defaults["min"] != float64(2) {
		t.Errorf("ModuleData()[defaults] = %#v", data["defaults"])
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ManifestFile)
	writeFile(t, path, `{"name": "minimal"}`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() failed: %v", err)
	}
	if m.Main != "init.lua" {
		t.Errorf("Main = %q, want init.lua", m.Main)
	}
	if m.Version != "0.0.0" {
		t.Errorf("Version = %q, want 0.0.0", m.Version)
	}
}

func TestManifestValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Manifest
		want error
	}{
		{"missing name", Manifest{Version: "1.0.0", Main: "init.lua"}, ErrMissingName},
		{"bad name", Manifest{Name: "Bad Name", Version: "1.0.0", Main: "init.lua"}, ErrInvalidName},
		{"bad version", Manifest{Name: "ok", Version: "v1", Main: "init.lua"}, ErrInvalidVersion},
		{"bad main", Manifest{Name: "ok", Version: "1.0.0", Main: "init.py"}, ErrInvalidMain},
		{"valid", Manifest{Name: "ok", Version: "1.0.0-beta.1", Main: "init.lua"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() failed: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadManifestInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFile)
	writeFile(t, path, `{not json`)

	if _, err := LoadManifest(path); err == nil {
		t.Error("LoadManifest() should fail on invalid JSON")
	}
}
