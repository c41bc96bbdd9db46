package config

import (
	"strconv"
	"strings"
	"time"
)

// Config is a read-only view over a decoded configuration map. Accessors
// never fail: a missing key or a value of the wrong shape yields the
// caller's default.
//
// Keys may be dotted paths ("llm.model") that walk nested maps. A key that
// exists verbatim at the top level wins over the nested lookup. Strings
// are converted where a number, duration or bool is asked for, because
// values from the environment always arrive as strings.
type Config struct {
	data map[string]any
}

// New wraps data. A nil map gives an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// Raw exposes the underlying map. Callers must not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}

// Has reports whether key is present, whatever its value.
func (c Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// Any returns the raw value at key.
func (c Config) Any(key string, def any) any {
	if v, ok := c.lookup(key); ok {
		return v
	}
	return def
}

func (c Config) String(key, def string) string {
	if s, ok := get[string](c, key); ok {
		return s
	}
	return def
}

// Bool accepts bools and anything strconv.ParseBool does.
func (c Config) Bool(key string, def bool) bool {
	v, _ := c.lookup(key)
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// Int accepts ints, whole floats (JSON numbers) and base-10 strings.
func (c Config) Int(key string, def int) int {
	v, _ := c.lookup(key)
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return def
}

func (c Config) Float(key string, def float64) float64 {
	v, _ := c.lookup(key)
	switch f := v.(type) {
	case float64:
		return f
	case int:
		return float64(f)
	case int64:
		return float64(f)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64); err == nil {
			return parsed
		}
	}
	return def
}

// Duration parses strings with time.ParseDuration and reads bare numbers
// as seconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	v, _ := c.lookup(key)
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return def
}

// StringSlice accepts string lists and comma-separated strings. A list
// holding anything but strings gives def.
func (c Config) StringSlice(key string, def []string) []string {
	v, _ := c.lookup(key)
	switch list := v.(type) {
	case []string:
		return list
	case string:
		var out []string
		for part := range strings.SplitSeq(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return def
			}
			out = append(out, s)
		}
		return out
	}
	return def
}

// Sub returns the section at key as its own Config. Anything but a map
// gives an empty Config.
func (c Config) Sub(key string) Config {
	v, _ := c.lookup(key)
	m, _ := asMap(v)
	return New(m)
}

func get[T any](c Config, key string) (T, bool) {
	v, _ := c.lookup(key)
	t, ok := v.(T)
	return t, ok
}

func (c Config) lookup(key string) (any, bool) {
	if v, ok := c.data[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}
	var cur any = c.data
	for part := range strings.SplitSeq(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// asMap accepts the map shapes produced by yaml.v3, encoding/json and viper.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}
