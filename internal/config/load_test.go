package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func environ(vars ...string) LoaderOption {
	return WithEnviron(func() []string { return vars })
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "plugbus.yaml", `
eventbus:
  name: main
manager:
  event_prepend: ext
  strict_lifecycle: true
logging:
  level: debug
watch:
  enabled: true
  debounce: 50ms
lua:
  paths: [./plugins, /opt/plugins]
plugins:
  - name: greeter
    options:
      greeting: hi
  - name: mover
    target: ./mover.lua
    enabled: false
`)

	cfg, err := NewLoader(environ()).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.Eventbus.Name)
	assert.Equal(t, "ext", cfg.Manager.EventPrepend)
	assert.True(t, cfg.Manager.StrictLifecycle)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format, "defaults survive")
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 50*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, []string{"./plugins", "/opt/plugins"}, cfg.Lua.Paths)

	require.Len(t, cfg.Plugins, 2)
	assert.Equal(t, "greeter", cfg.Plugins[0].Name)
	assert.Equal(t, map[string]any{"greeting": "hi"}, cfg.Plugins[0].Options)
	assert.True(t, cfg.Plugins[0].IsEnabled())
	assert.Equal(t, "./mover.lua", cfg.Plugins[1].Target)
	assert.False(t, cfg.Plugins[1].IsEnabled())
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "plugbus.toml", `
[manager]
event_prepend = "ext"
throw_no_method = true

[metrics]
enabled = true
addr = "127.0.0.1:9100"

[lua]
timeout = "2s"

[[plugins]]
name = "greeter"
`)

	cfg, err := NewLoader(environ()).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ext", cfg.Manager.EventPrepend)
	assert.True(t, cfg.Manager.ThrowNoMethod)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
	assert.Equal(t, "plugbus", cfg.Metrics.Namespace)
	assert.Equal(t, 2*time.Second, cfg.Lua.Timeout)
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "greeter", cfg.Plugins[0].Name)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "plugbus.yaml", `
logging:
  level: debug
  format: json
`)

	cfg, err := NewLoader(environ(
		"PLUGBUS_LOGGING_LEVEL=warn",
		"PLUGBUS_MANAGER_EVENT_PREPEND=env",
		"PLUGBUS_MANAGER_NO_EVENT_DESTROY=true",
		"PLUGBUS_WATCH_DEBOUNCE=1s",
		`PLUGBUS_LUA_PATHS=["/a","/b"]`,
		"PLUGBUS_IGNORED=1",
		"HOME=/root",
	)).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "env", cfg.Manager.EventPrepend)
	assert.True(t, cfg.Manager.NoEventDestroy)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Lua.Paths)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := NewLoader(WithEnvPrefix("PB_"), environ("PB_EVENTBUS_NAME=envbus")).Load("")
	require.NoError(t, err)
	assert.Equal(t, "envbus", cfg.Eventbus.Name)
}

func TestLoadErrors(t *testing.T) {
	t.Run("unsupported format", func(t *testing.T) {
		path := writeConfig(t, "plugbus.ini", "x=1")
		_, err := NewLoader(environ()).Load(path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLoader(environ()).Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("yaml syntax", func(t *testing.T) {
		path := writeConfig(t, "bad.yaml", "manager:\n  event_prepend: [\n")
		_, err := NewLoader(environ()).Load(path)

		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, path, pe.Path)
		assert.Positive(t, pe.Line)
	})

	t.Run("toml syntax", func(t *testing.T) {
		path := writeConfig(t, "bad.toml", "[manager]\nevent_prepend = \n")
		_, err := NewLoader(environ()).Load(path)

		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Positive(t, pe.Line)
		assert.Positive(t, pe.Column)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeConfig(t, "typo.yaml", "manager:\n  strict_lifecycel: true\n")
		_, err := NewLoader(environ()).Load(path)

		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.Message, "strict_lifecycel")
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := NewLoader(environ("PLUGBUS_LOGGING_FORMAT=xml")).Load("")
		assert.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": "keep",
	}
	DeepMerge(dst, map[string]any{
		"a": map[string]any{"y": 3, "z": 4},
		"c": []any{1},
	})

	assert.Equal(t, map[string]any{
		"a": map[string]any{"x": 1, "y": 3, "z": 4},
		"b": "keep",
		"c": []any{1},
	}, dst)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"off", false},
		{"42", int64(42)},
		{"1.5", 1.5},
		{"90s", "1m30s"},
		{`{"a":1}`, map[string]any{"a": float64(1)}},
		{"[broken", "[broken"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.in), tt.in)
	}
}
