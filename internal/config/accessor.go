package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "send.retryAttempts").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		v, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
		val, ok := v[key]
		if !ok {
			return nil, fmt.Errorf("key not found: %s", path)
		}
		current = val
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. A string value is
// converted to the type of the value it replaces.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key].(map[string]any)
		if !ok {
			return fmt.Errorf("unknown section %q in %s", key, path)
		}
		parent = child
	}
	last := parts[len(parts)-1]
	if _, ok := parent[last]; !ok {
		return fmt.Errorf("key not found: %s", path)
	}
	converted, err := convertLike(parent[last], value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	parent[last] = converted

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func convertLike(current, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch current.(type) {
	case bool:
		return strconv.ParseBool(s)
	case float64:
		return strconv.ParseFloat(s, 64)
	}
	return s, nil
}

// Sanitize returns a copy of the config with secrets masked.
func Sanitize(cfg *Config) *Config {
	cp := *cfg
	if cp.Identity.Secret != "" {
		cp.Identity.Secret = maskString(cp.Identity.Secret)
	}
	if cp.Cache.RedisPassword != "" {
		cp.Cache.RedisPassword = "***"
	}
	return &cp
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			flattenMap(path, sub, result)
			continue
		}
		result[path] = v
	}
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
