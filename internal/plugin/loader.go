package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// LoadRequest asks a ModuleLoader for a module.
type LoadRequest struct {
	// ModulePath is a plugin name, file path or other loader specific locator.
	ModulePath string
}

// LoadedModule is what a ModuleLoader resolved.
type LoadedModule struct {
	// Instance is the plugin value or a Factory producing it.
	Instance any

	// LoadPath is where the module was found.
	LoadPath string

	// Type describes the kind of module, e.g. "lua" or "registry".
	Type string

	// Data is module metadata copied into PluginData.Module.
	Data map[string]any
}

// ModuleLoader resolves module paths to plugin instances.
// Implementations return an error wrapping ErrModuleNotFound when nothing
// exists at the path, so callers can tell a missing module from a broken one.
type ModuleLoader interface {
	Load(ctx context.Context, req LoadRequest) (*LoadedModule, error)
}

// ModuleLoaderFunc adapts a function to ModuleLoader.
type ModuleLoaderFunc func(ctx context.Context, req LoadRequest) (*LoadedModule, error)

// Load calls f.
func (f ModuleLoaderFunc) Load(ctx context.Context, req LoadRequest) (*LoadedModule, error) {
	return f(ctx, req)
}

// Registry is an in-memory ModuleLoader for compiled-in plugins.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register makes factory available under path, replacing any previous one.
func (r *Registry) Register(path string, factory Factory) error {
	if path == "" {
		return fmt.Errorf("%w: empty module path", ErrInvalidArgument)
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %q", ErrInvalidArgument, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[path] = factory
	return nil
}

// Unregister removes path.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, path)
}

// Paths returns the registered module paths sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.factories))
	for p := range r.factories {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Load implements ModuleLoader.
func (r *Registry) Load(_ context.Context, req LoadRequest) (*LoadedModule, error) {
	r.mu.RLock()
	factory, ok := r.factories[req.ModulePath]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, req.ModulePath)
	}
	return &LoadedModule{
		Instance: factory,
		LoadPath: req.ModulePath,
		Type:     "registry",
	}, nil
}

// ChainLoader tries each loader in order until one finds the module.
type ChainLoader []ModuleLoader

// Load implements ModuleLoader. Only ErrModuleNotFound moves on to the next
// loader; any other failure is returned as is.
func (c ChainLoader) Load(ctx context.Context, req LoadRequest) (*LoadedModule, error) {
	for _, l := range c {
		if l == nil {
			continue
		}
		mod, err := l.Load(ctx, req)
		if err == nil {
			return mod, nil
		}
		if !errors.Is(err, ErrModuleNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, req.ModulePath)
}

// resolveInstance turns a Factory into its product.
func resolveInstance(name string, v any) (any, error) {
	f, ok := v.(Factory)
	if !ok {
		if fn, isFn := v.(func() (any, error)); isFn {
			f, ok = fn, true
		}
	}
	if !ok {
		return v, nil
	}
	inst, err := safely(name, "factory", func() (any, error) { return f() })
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("plugin %q: %w", name, ErrNoInstance)
	}
	return inst, nil
}
