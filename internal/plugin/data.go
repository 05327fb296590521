package plugin

import (
	"fmt"
	"maps"
	"regexp"
)

// ManagerData is the manager part of PluginData.
type ManagerData struct {
	EventPrepend string
	ScopedName   string
}

// PluginInfo is the plugin part of PluginData.
type PluginInfo struct {
	Name          string
	Target        string
	TargetEscaped string
	Type          string
	Options       map[string]any
}

// PluginData is an immutable snapshot describing a plugin, built once when
// the plugin is added. Accessors return copies.
type PluginData struct {
	manager ManagerData
	module  map[string]any
	plugin  PluginInfo
}

// newPluginData builds a PluginData, deep copying options and module data.
func newPluginData(prepend string, cfg Config, moduleType string, moduleData map[string]any) (*PluginData, error) {
	options, err := cloneMap(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("plugin %q options: %w", cfg.Name, err)
	}
	module, err := cloneMap(moduleData)
	if err != nil {
		return nil, fmt.Errorf("plugin %q module data: %w", cfg.Name, err)
	}

	target := cfg.target()
	return &PluginData{
		manager: ManagerData{
			EventPrepend: prepend,
			ScopedName:   prepend + ":" + cfg.Name,
		},
		module: module,
		plugin: PluginInfo{
			Name:          cfg.Name,
			Target:        target,
			TargetEscaped: regexp.QuoteMeta(target),
			Type:          moduleType,
			Options:       options,
		},
	}, nil
}

// rescoped returns a copy of d under a new event prepend.
func (d *PluginData) rescoped(prepend string) *PluginData {
	return &PluginData{
		manager: ManagerData{
			EventPrepend: prepend,
			ScopedName:   prepend + ":" + d.plugin.Name,
		},
		module: d.module,
		plugin: d.plugin,
	}
}

// Name returns the plugin name.
func (d *PluginData) Name() string {
	return d.plugin.Name
}

// Manager returns the manager data.
func (d *PluginData) Manager() ManagerData {
	return d.manager
}

// Module returns a copy of the module data.
func (d *PluginData) Module() map[string]any {
	return mustClone(d.module)
}

// Plugin returns a copy of the plugin data.
func (d *PluginData) Plugin() PluginInfo {
	info := d.plugin
	info.Options = mustClone(d.plugin.Options)
	return info
}

// Options returns a copy of the plugin options.
func (d *PluginData) Options() map[string]any {
	return mustClone(d.plugin.Options)
}

// Map returns the data as nested plain maps.
func (d *PluginData) Map() map[string]any {
	return map[string]any{
		"manager": map[string]any{
			"eventPrepend": d.manager.EventPrepend,
			"scopedName":   d.manager.ScopedName,
		},
		"module": mustClone(d.module),
		"plugin": map[string]any{
			"name":          d.plugin.Name,
			"target":        d.plugin.Target,
			"targetEscaped": d.plugin.TargetEscaped,
			"type":          d.plugin.Type,
			"options":       mustClone(d.plugin.Options),
		},
	}
}

// cloneMap deep copies a map of plain values.
// It returns ErrUnclonable for values that are not plain data.
func cloneMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		c, err := cloneValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}

// mustClone copies a map that was validated by cloneMap.
func mustClone(m map[string]any) map[string]any {
	out, err := cloneMap(m)
	if err != nil {
		panic(err)
	}
	return out
}

// cloneValue deep copies plain data: nil, booleans, strings, numbers and
// slices or string keyed maps of those.
func cloneValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return val, nil
	case []string:
		return append([]string(nil), val...), nil
	case []byte:
		return append([]byte(nil), val...), nil
	case map[string]string:
		return maps.Clone(val), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			c, err := cloneValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		return cloneMap(val)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnclonable, v)
	}
}
