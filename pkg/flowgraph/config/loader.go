package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type decodeFunc func([]byte, any) error

var decoders = map[string]decodeFunc{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
}

// FromFile reads a .yaml, .yml or .json file. References of the form
// ${NAME} or ${NAME:-fallback} are replaced from the environment before
// the file is parsed.
func FromFile(path string) (Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := parse(decode, []byte(ExpandEnv(string(data))))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	cfg, err := parse(yaml.Unmarshal, data)
	if err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	cfg, err := parse(json.Unmarshal, data)
	if err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return cfg, nil
}

func parse(decode decodeFunc, data []byte) (Config, error) {
	var m map[string]any
	if err := decode(data, &m); err != nil {
		return Config{}, err
	}
	return New(m), nil
}

// ExpandEnv replaces ${NAME} and $NAME with the environment value of NAME.
// ${NAME:-fallback} yields fallback when NAME is unset or empty.
func ExpandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" || !hasFallback {
			return v
		}
		return fallback
	})
}

// Merge overlays configs left to right. Nested sections are merged key by
// key; any other value in a later config replaces the earlier one.
func Merge(layers ...Config) Config {
	out := make(map[string]any)
	for _, layer := range layers {
		mergeInto(out, layer.data)
	}
	return New(out)
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		next, isMap := asMap(v)
		if !isMap {
			dst[k] = v
			continue
		}
		cur, ok := asMap(dst[k])
		if !ok {
			cur = make(map[string]any, len(next))
		} else {
			cur = maps.Clone(cur)
		}
		mergeInto(cur, next)
		dst[k] = cur
	}
}
