package params

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	floatLiteral = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	intLiteral   = regexp.MustCompile(`^[+-]?\d+$`)
)

// ParseFloat parses s as a complete decimal number. A bare sign or a bare
// decimal point is rejected instead of being read as zero.
func ParseFloat(s string) (float64, error) {
	t := strings.TrimSpace(s)
	if !floatLiteral.MatchString(t) {
		return 0, fmt.Errorf("%q is not a complete number", s)
	}
	return strconv.ParseFloat(t, 64)
}

// ParseInt parses s as a complete base-10 integer.
func ParseInt(s string) (int64, error) {
	t := strings.TrimSpace(s)
	if !intLiteral.MatchString(t) {
		return 0, fmt.Errorf("%q is not a complete integer", s)
	}
	return strconv.ParseInt(t, 10, 64)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return ParseFloat(n.String())
	case string:
		return ParseFloat(n)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		return integral(n)
	case float32:
		return integral(float64(n))
	case json.Number:
		return ParseInt(n.String())
	case string:
		return ParseInt(n)
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func integral(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%g is not an integer", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%g overflows int64", f)
	}
	return int64(f), nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, fmt.Errorf("%q is not a boolean", b)
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toStrings(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, e := range s {
			str, isStr := e.(string)
			if !isStr {
				return nil, fmt.Errorf("item %d: expected an option key, got %T", i, e)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of option keys, got %T", v)
}

// Float reads name from values, falling back to def when absent or invalid.
func Float(values map[string]any, name string, def float64) float64 {
	if v, present := values[name]; present && v != nil {
		if f, err := toFloat(v); err == nil {
			return f
		}
	}
	return def
}

// Int reads name from values, falling back to def when absent or invalid.
func Int(values map[string]any, name string, def int) int {
	if v, present := values[name]; present && v != nil {
		if n, err := toInt(v); err == nil {
			return int(n)
		}
	}
	return def
}

// Bool reads name from values, falling back to def when absent or invalid.
func Bool(values map[string]any, name string, def bool) bool {
	if v, present := values[name]; present && v != nil {
		if b, err := toBool(v); err == nil {
			return b
		}
	}
	return def
}

// String reads name from values, falling back to def when absent or not a string.
func String(values map[string]any, name, def string) string {
	if s, isStr := values[name].(string); isStr {
		return s
	}
	return def
}

// Strings reads a list of strings, falling back to def.
func Strings(values map[string]any, name string, def []string) []string {
	if v, present := values[name]; present && v != nil {
		if s, err := toStrings(v); err == nil {
			return s
		}
	}
	return def
}
