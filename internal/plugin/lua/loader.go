package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/plugbus/internal/plugin"
)

// ModuleType is the LoadedModule type of Lua plugins.
const ModuleType = "lua"

// Loader finds Lua plugins on disk. It implements plugin.ModuleLoader.
//
// A plugin is a directory with plugin.json, init.lua or plugin.lua, or a
// single name.lua file. Module paths that exist on disk are used directly;
// bare names are searched in the loader's paths, first match wins.
type Loader struct {
	paths      []string
	pluginOpts []PluginOption
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths sets the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// WithPluginOptions sets the options of the plugins the loader creates.
func WithPluginOptions(opts ...PluginOption) LoaderOption {
	return func(l *Loader) {
		l.pluginOpts = append(l.pluginOpts, opts...)
	}
}

// NewLoader creates a loader searching DefaultPaths unless WithPaths is given.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{paths: DefaultPaths()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPaths returns the default plugin search paths.
func DefaultPaths() []string {
	paths := make([]string, 0, 2)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "plugbus", "plugins"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "plugins"))
	}
	return paths
}

// Paths returns the search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Load implements plugin.ModuleLoader. The instance is a plugin.Factory so
// every load, including reloads, gets a fresh Plugin reading the script anew.
func (l *Loader) Load(_ context.Context, req plugin.LoadRequest) (*plugin.LoadedModule, error) {
	m, err := l.Find(req.ModulePath)
	if err != nil {
		return nil, err
	}
	opts := l.pluginOpts
	return &plugin.LoadedModule{
		Instance: plugin.Factory(func() (any, error) {
			return NewPlugin(m, opts...), nil
		}),
		LoadPath: m.MainPath(),
		Type:     ModuleType,
		Data:     m.ModuleData(),
	}, nil
}

// Find resolves a module path to a manifest.
func (l *Loader) Find(modulePath string) (*Manifest, error) {
	if modulePath == "" {
		return nil, fmt.Errorf("%w: empty module path", plugin.ErrModuleNotFound)
	}

	if strings.ContainsRune(modulePath, filepath.Separator) || filepath.Ext(modulePath) == ".lua" {
		if st, err := os.Stat(modulePath); err == nil {
			if st.IsDir() {
				return inspect(filepath.Base(modulePath), modulePath)
			}
			return singleFile(modulePath), nil
		}
		return nil, fmt.Errorf("%w: %s", plugin.ErrModuleNotFound, modulePath)
	}

	for _, base := range l.paths {
		dir := filepath.Join(base, modulePath)
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			m, err := inspect(modulePath, dir)
			if err == nil {
				return m, nil
			}
			if !os.IsNotExist(err) && err != ErrNoEntryPoint {
				return nil, err
			}
		}

		file := filepath.Join(base, modulePath+".lua")
		if _, err := os.Stat(file); err == nil {
			return singleFile(file), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", plugin.ErrModuleNotFound, modulePath)
}

// Discover lists the plugins in every search path, sorted by name.
// Earlier paths shadow later ones; broken plugins are skipped.
func (l *Loader) Discover() ([]*Manifest, error) {
	found := make(map[string]*Manifest)
	for _, base := range l.paths {
		entries, err := os.ReadDir(base)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			var m *Manifest
			switch {
			case entry.IsDir():
				m, err = inspect(entry.Name(), filepath.Join(base, entry.Name()))
				if err != nil {
					continue
				}
			case filepath.Ext(entry.Name()) == ".lua":
				m = singleFile(filepath.Join(base, entry.Name()))
			default:
				continue
			}
			if _, exists := found[m.Name]; !exists {
				found[m.Name] = m
			}
		}
	}

	out := make([]*Manifest, 0, len(found))
	for _, m := range found {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// inspect reads a plugin directory.
func inspect(name, dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	if _, err := os.Stat(manifestPath); err == nil {
		return LoadManifest(manifestPath)
	}
	for _, main := range []string{"init.lua", "plugin.lua"} {
		if _, err := os.Stat(filepath.Join(dir, main)); err == nil {
			return NewManifestMinimal(name, dir, main), nil
		}
	}
	return nil, ErrNoEntryPoint
}

func singleFile(path string) *Manifest {
	name := strings.TrimSuffix(filepath.Base(path), ".lua")
	return NewManifestMinimal(name, filepath.Dir(path), filepath.Base(path))
}
