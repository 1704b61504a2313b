package config

import (
	"fmt"
	"time"
)

// OptString returns Options[key] as a string, or "" when absent.
func (e ProviderEntry) OptString(key string) string {
	if v, ok := e.Options[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// OptFloat returns Options[key] as a float64. YAML integers are accepted.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// OptInt returns Options[key] as an int.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// OptBool returns Options[key] as a bool.
func (e ProviderEntry) OptBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}

// OptDuration returns Options[key] parsed as a duration string like "2s".
func (e ProviderEntry) OptDuration(key string, def time.Duration) time.Duration {
	s, ok := e.Options[key].(string)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// OptStrings returns Options[key] as a string list. A single string is
// returned as a one-element list.
func (e ProviderEntry) OptStrings(key string) []string {
	switch v := e.Options[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}
