package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIVELINK_"

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// envSetters maps variable names to the setting they override.
var envSetters = map[string]func(*Config, string) error{
	"LIVELINK_DEBOUNCE": func(c *Config, v string) error {
		return c.Debounce.UnmarshalText([]byte(v))
	},
	"LIVELINK_PROJECT_ROOTS": func(c *Config, v string) error {
		c.Project.Roots = splitList(v)
		return nil
	},
	"LIVELINK_PROJECT_EXCLUDE": func(c *Config, v string) error {
		c.Project.Exclude = splitList(v)
		return nil
	},
	"LIVELINK_PROJECT_CAN_PAIR": func(c *Config, v string) error {
		b, err := parseBool(v)
		c.Project.CanPair = b
		return err
	},
	"LIVELINK_LIVE_URL": func(c *Config, v string) error {
		c.Live.URL = v
		return nil
	},
	"LIVELINK_LIVE_DIAL_TIMEOUT": func(c *Config, v string) error {
		return c.Live.DialTimeout.UnmarshalText([]byte(v))
	},
	"LIVELINK_STORE_PATH": func(c *Config, v string) error {
		c.Store.Path = v
		return nil
	},
	"LIVELINK_LOG_LEVEL": func(c *Config, v string) error {
		c.Log.Level = v
		return nil
	},
	"LIVELINK_LOG_FORMAT": func(c *Config, v string) error {
		c.Log.Format = v
		return nil
	},
	"LIVELINK_LOG_DIR": func(c *Config, v string) error {
		c.Log.Dir = v
		return nil
	},
}

// ApplyEnv overrides cfg with the LIVELINK_* variables lookup reports.
// Empty values count as set.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for name, set := range envSetters {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		if err := set(cfg, v); err != nil {
			return fmt.Errorf("environment %s=%q: %w", name, v, err)
		}
	}
	return nil
}

// splitList splits a path-list style value on the OS list separator or
// commas.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == filepath.ListSeparator
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return strconv.ParseBool(s)
}
