package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes environment overrides.
const DefaultEnvPrefix = "PLUGBUS_"

// Loader reads a config file and applies environment overrides.
type Loader struct {
	prefix  string
	environ func() []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.prefix = prefix
	}
}

// WithEnviron sets the environment source. Default: os.Environ.
func WithEnviron(environ func() []string) LoaderOption {
	return func(l *Loader) {
		l.environ = environ
	}
}

// NewLoader creates a config loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		prefix:  DefaultEnvPrefix,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the config at path using the default loader.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// Load reads path, applies environment overrides on top and validates the
// result. An empty path loads the defaults.
func (l *Loader) Load(path string) (*Config, error) {
	values := make(map[string]any)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		values, err = parse(path, data)
		if err != nil {
			return nil, err
		}
	}

	DeepMerge(values, l.overrides())

	cfg, err := decode(values)
	if err != nil {
		return nil, &ParseError{Path: source(path), Message: err.Error(), Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func source(path string) string {
	if path == "" {
		return "environment"
	}
	return path
}

// parse reads a YAML or TOML document into a map.
func parse(path string, data []byte) (map[string]any, error) {
	values := make(map[string]any)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &values); err != nil {
			pe := &ParseError{Path: path, Message: err.Error(), Err: err}
			var de *toml.DecodeError
			if errors.As(err, &de) {
				pe.Line, pe.Column = de.Position()
			}
			return nil, pe
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, &ParseError{Path: path, Line: yamlLine(err), Message: err.Error(), Err: err}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return values, nil
}

var yamlLinePattern = regexp.MustCompile(`line (\d+)`)

func yamlLine(err error) int {
	m := yamlLinePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// decode converts the merged map into a Config over the defaults.
// Unknown keys are rejected.
func decode(values map[string]any) (*Config, error) {
	cfg := Default()
	if len(values) == 0 {
		return cfg, nil
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overrides collects prefixed environment variables as a nested map.
// PLUGBUS_MANAGER_EVENT_PREPEND=x becomes manager.event_prepend = x.
func (l *Loader) overrides() map[string]any {
	out := make(map[string]any)
	for _, kv := range l.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, l.prefix) {
			continue
		}
		path := envToPath(strings.TrimPrefix(key, l.prefix))
		if path == nil {
			continue
		}
		setByPath(out, path, parseValue(value))
	}
	return out
}

// envToPath maps SECTION_SOME_KEY to [section, some_key].
func envToPath(name string) []string {
	section, rest, ok := strings.Cut(strings.ToLower(name), "_")
	if !ok || section == "" || rest == "" {
		return nil
	}
	return []string{section, rest}
}

// parseValue converts an environment string to the most specific type.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d.String()
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

func setByPath(m map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// DeepMerge merges src into dst. Nested maps merge; other values in src
// replace those in dst.
func DeepMerge(dst, src map[string]any) {
	for key, srcVal := range src {
		srcMap, srcIsMap := srcVal.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			DeepMerge(dstMap, srcMap)
			continue
		}
		dst[key] = srcVal
	}
}
