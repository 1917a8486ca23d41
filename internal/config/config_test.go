package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.Debounce.Std())
	assert.Equal(t, 10*time.Second, cfg.Live.DialTimeout.Std())
	assert.True(t, cfg.Project.CanPair)
	assert.True(t, cfg.Project.UseGitignore)
	assert.Contains(t, cfg.Project.Exclude, "vendor/")
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
	assert.ErrorIs(t, cfg.RequireRoots(), ErrNoRoots)

	// Each call returns a fresh value.
	cfg.Project.Exclude[0] = "changed"
	assert.Equal(t, "vendor/", DefaultConfig().Project.Exclude[0])
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livelink.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
debounce = "250ms"

[project]
roots = ["site", "/abs/theme"]
exclude = ["*.map"]
can_pair = false

[live]
url = "ws://localhost:9000/live"
dial_timeout = "3s"

[store]
path = "pairs.db"

[log]
level = "debug"
format = "json"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce.Std())
	assert.Equal(t, []string{filepath.Join(dir, "site"), "/abs/theme"}, cfg.Project.Roots)
	assert.Equal(t, []string{"*.map"}, cfg.Project.Exclude)
	assert.False(t, cfg.Project.CanPair)
	assert.True(t, cfg.Project.UseGitignore, "unset keys keep defaults")
	assert.Equal(t, "ws://localhost:9000/live", cfg.Live.URL)
	assert.Equal(t, 3*time.Second, cfg.Live.DialTimeout.Std())
	assert.Equal(t, "pairs.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.RequireRoots())
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livelink.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
debounce: 50ms
project:
  roots: [www]
live:
  url: wss://example.com/live
log:
  level: warn
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce.Std())
	assert.Equal(t, []string{filepath.Join(dir, "www")}, cfg.Project.Roots)
	assert.Equal(t, "wss://example.com/live", cfg.Live.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_Missing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := Load(write("conf.json", `{}`))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = Load(write("bad.toml", "debounce = \n"))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, filepath.Join(dir, "bad.toml"), pe.Path)
	assert.Positive(t, pe.Line)
	assert.Contains(t, pe.Error(), "line 1")

	_, err = Load(write("unknown.toml", "colour = \"red\"\n"))
	assert.True(t, errors.As(err, &pe))

	_, err = Load(write("duration.yaml", "debounce: soon\n"))
	assert.True(t, errors.As(err, &pe))

	_, err = Load(write("unknown.yaml", "colour: red\n"))
	assert.True(t, errors.As(err, &pe))
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("[live]\nurl = \"ws://h/\"\n"), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "ws://h/", cfg.Live.URL)

	cfg, err = LoadFromReader(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = LoadFromReader(strings.NewReader(""), Format(9))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LIVELINK_DEBOUNCE":         "1s",
		"LIVELINK_PROJECT_ROOTS":    "a, b,,c",
		"LIVELINK_PROJECT_CAN_PAIR": "off",
		"LIVELINK_LIVE_URL":         "ws://env/",
		"LIVELINK_STORE_PATH":       "",
		"LIVELINK_LOG_LEVEL":        "error",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	cfg.Store.Path = "old.db"
	require.NoError(t, ApplyEnv(cfg, lookup))
	assert.Equal(t, time.Second, cfg.Debounce.Std())
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Project.Roots)
	assert.False(t, cfg.Project.CanPair)
	assert.Equal(t, "ws://env/", cfg.Live.URL)
	assert.Equal(t, "", cfg.Store.Path, "empty values count as set")
	assert.Equal(t, "error", cfg.Log.Level)

	env = map[string]string{"LIVELINK_LIVE_DIAL_TIMEOUT": "forever"}
	err := ApplyEnv(DefaultConfig(), lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIVELINK_LIVE_DIAL_TIMEOUT")

	env = map[string]string{"LIVELINK_PROJECT_CAN_PAIR": "maybe"}
	assert.Error(t, ApplyEnv(DefaultConfig(), lookup))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livelink.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))
	t.Setenv("LIVELINK_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"defaults", func(*Config) {}, nil},
		{"negative debounce", func(c *Config) { c.Debounce = -1 }, ErrNegativeTimeout},
		{"negative dial timeout", func(c *Config) { c.Live.DialTimeout = Duration(-time.Second) }, ErrNegativeTimeout},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, ErrBadLogLevel},
		{"log level case", func(c *Config) { c.Log.Level = "WARNING" }, nil},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, ErrBadLogFormat},
		{"http url", func(c *Config) { c.Live.URL = "http://h/" }, ErrBadLiveURL},
		{"wss url", func(c *Config) { c.Live.URL = "wss://h/" }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDuration_MarshalText(t *testing.T) {
	b, err := Duration(1500 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(b))
}
