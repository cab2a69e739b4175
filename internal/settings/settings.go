// Package settings reads the free-form parameter maps handed to agents,
// events and markets at setup.
package settings

import (
	"math"
	"sort"

	"github.com/zappabad/marketsim/internal/simerr"
)

// Settings is a decoded YAML/JSON object.
type Settings map[string]any

// Has reports whether key is present.
func (s Settings) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the keys in sorted order.
func (s Settings) Keys() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns a copy of s with every key of over applied on top.
func (s Settings) Merge(over Settings) Settings {
	out := s.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

func typeErr(key, want string, v any) error {
	return simerr.Config(key, "must be %s, got %T", want, v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// Float returns key as a float, or def when absent.
func (s Settings) Float(key string, def float64) (float64, error) {
	v, ok := s[key]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, typeErr(key, "a number", v)
	}
	return f, nil
}

// RequireFloat returns key as a float and fails when absent.
func (s Settings) RequireFloat(key string) (float64, error) {
	if !s.Has(key) {
		return 0, simerr.Config(key, "is required")
	}
	return s.Float(key, 0)
}

// Int returns key as an integer, or def when absent.
func (s Settings) Int(key string, def int64) (int64, error) {
	v, ok := s[key]
	if !ok {
		return def, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, typeErr(key, "an integer", v)
	}
	return n, nil
}

// RequireInt returns key as an integer and fails when absent.
func (s Settings) RequireInt(key string) (int64, error) {
	if !s.Has(key) {
		return 0, simerr.Config(key, "is required")
	}
	return s.Int(key, 0)
}

// Bool returns key as a bool, or def when absent.
func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeErr(key, "a boolean", v)
	}
	return b, nil
}

// RequireBool returns key as a bool and fails when absent.
func (s Settings) RequireBool(key string) (bool, error) {
	if !s.Has(key) {
		return false, simerr.Config(key, "is required")
	}
	return s.Bool(key, false)
}

// String returns key as a string, or def when absent.
func (s Settings) String(key, def string) (string, error) {
	v, ok := s[key]
	if !ok {
		return def, nil
	}
	str, ok := v.(string)
	if !ok {
		return "", typeErr(key, "a string", v)
	}
	return str, nil
}

// Strings returns key as a list of strings; nil when absent.
func (s Settings) Strings(key string) ([]string, error) {
	v, ok := s[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, typeErr(key, "a list of strings", v)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		str, ok := item.(string)
		if !ok {
			return nil, typeErr(key, "a list of strings", item)
		}
		out = append(out, str)
	}
	return out, nil
}

// Floats returns key as a list of numbers; nil when absent.
func (s Settings) Floats(key string) ([]float64, error) {
	v, ok := s[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, typeErr(key, "a list of numbers", v)
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f, ok := toFloat(item)
		if !ok {
			return nil, typeErr(key, "a list of numbers", item)
		}
		out = append(out, f)
	}
	return out, nil
}

// Sub returns key as a nested object; nil when absent.
func (s Settings) Sub(key string) (Settings, error) {
	v, ok := s[key]
	if !ok {
		return nil, nil
	}
	m, ok := asMap(v)
	if !ok {
		return nil, typeErr(key, "an object", v)
	}
	return m, nil
}

func asMap(v any) (Settings, bool) {
	switch m := v.(type) {
	case Settings:
		return m, true
	case map[string]any:
		return Settings(m), true
	default:
		return nil, false
	}
}
