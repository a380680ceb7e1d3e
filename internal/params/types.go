package params

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Result is the outcome of validating one value.
type Result struct {
	Valid   bool
	Message string
}

var accepted = Result{Valid: true}

func invalid(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// Type is the closed set of parameter types.
type Type interface {
	Validate(v any) Result
	Kind() string
	isType()
}

// StringType accepts strings within optional length bounds and pattern.
type StringType struct {
	MinLength int
	MaxLength int // 0 means unbounded
	Pattern   string
	Multiline bool
}

// IntType accepts integers in [Min, Max]. Nil bounds are open.
type IntType struct {
	Min *int64
	Max *int64
}

// FloatType accepts numbers in [Min, Max]. Nil bounds are open.
type FloatType struct {
	Min *float64
	Max *float64
}

// BoolType accepts booleans and the strings "true" and "false".
type BoolType struct{}

// Option is one choice of a selection.
type Option struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// SelectionType accepts exactly one option key.
type SelectionType struct {
	Options []Option
}

// MultiSelectionType accepts a list of option keys.
type MultiSelectionType struct {
	Options     []Option
	MinSelected int
	MaxSelected int // 0 means unbounded
}

// FilePathType accepts a path, optionally restricted to extensions.
type FilePathType struct {
	Extensions []string
	Directory  bool
}

func (StringType) isType()         {}
func (IntType) isType()            {}
func (FloatType) isType()          {}
func (BoolType) isType()           {}
func (SelectionType) isType()      {}
func (MultiSelectionType) isType() {}
func (FilePathType) isType()       {}

func (StringType) Kind() string         { return "string" }
func (IntType) Kind() string            { return "int" }
func (FloatType) Kind() string          { return "float" }
func (BoolType) Kind() string           { return "bool" }
func (SelectionType) Kind() string      { return "selection" }
func (MultiSelectionType) Kind() string { return "multi_selection" }
func (FilePathType) Kind() string       { return "file_path" }

// IntRange returns an IntType bounded on both sides.
func IntRange(min, max int64) IntType { return IntType{Min: &min, Max: &max} }

// FloatRange returns a FloatType bounded on both sides.
func FloatRange(min, max float64) FloatType { return FloatType{Min: &min, Max: &max} }

// Options builds options whose labels equal their keys.
func Options(keys ...string) []Option {
	out := make([]Option, len(keys))
	for i, k := range keys {
		out[i] = Option{Key: k, Label: k}
	}
	return out
}

func (t StringType) Validate(v any) Result {
	s, isStr := v.(string)
	if !isStr {
		return invalid("expected a string, got %T", v)
	}
	n := len([]rune(s))
	if n < t.MinLength {
		return invalid("must be at least %d characters", t.MinLength)
	}
	if t.MaxLength > 0 && n > t.MaxLength {
		return invalid("must be at most %d characters", t.MaxLength)
	}
	if !t.Multiline && strings.ContainsAny(s, "\r\n") {
		return invalid("must be a single line")
	}
	if t.Pattern != "" {
		re, err := regexp.Compile(t.Pattern)
		if err != nil {
			return invalid("bad pattern %q: %v", t.Pattern, err)
		}
		if !re.MatchString(s) {
			return invalid("does not match pattern %s", t.Pattern)
		}
	}
	return accepted
}

func (t IntType) Validate(v any) Result {
	n, err := toInt(v)
	if err != nil {
		return invalid("%v", err)
	}
	if t.Min != nil && n < *t.Min {
		return invalid("value %d is below the minimum %d", n, *t.Min)
	}
	if t.Max != nil && n > *t.Max {
		return invalid("value %d exceeds the maximum %d", n, *t.Max)
	}
	return accepted
}

func (t FloatType) Validate(v any) Result {
	f, err := toFloat(v)
	if err != nil {
		return invalid("%v", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return invalid("value must be finite")
	}
	if t.Min != nil && f < *t.Min {
		return invalid("value %g is below the minimum %g", f, *t.Min)
	}
	if t.Max != nil && f > *t.Max {
		return invalid("value %g exceeds the maximum %g", f, *t.Max)
	}
	return accepted
}

func (BoolType) Validate(v any) Result {
	if _, err := toBool(v); err != nil {
		return invalid("%v", err)
	}
	return accepted
}

func (t SelectionType) Validate(v any) Result {
	s, isStr := v.(string)
	if !isStr {
		return invalid("expected an option key, got %T", v)
	}
	if !hasOption(t.Options, s) {
		return invalid("%q is not one of %s", s, keys(t.Options))
	}
	return accepted
}

func (t MultiSelectionType) Validate(v any) Result {
	items, err := toStrings(v)
	if err != nil {
		return invalid("%v", err)
	}
	seen := make(map[string]struct{}, len(items))
	for _, s := range items {
		if !hasOption(t.Options, s) {
			return invalid("%q is not one of %s", s, keys(t.Options))
		}
		if _, dup := seen[s]; dup {
			return invalid("%q selected more than once", s)
		}
		seen[s] = struct{}{}
	}
	if len(items) < t.MinSelected {
		return invalid("select at least %d", t.MinSelected)
	}
	if t.MaxSelected > 0 && len(items) > t.MaxSelected {
		return invalid("select at most %d", t.MaxSelected)
	}
	return accepted
}

func (t FilePathType) Validate(v any) Result {
	s, isStr := v.(string)
	if !isStr {
		return invalid("expected a path, got %T", v)
	}
	if strings.TrimSpace(s) == "" {
		return invalid("path is empty")
	}
	if strings.ContainsRune(s, 0) {
		return invalid("path contains a NUL byte")
	}
	if len(t.Extensions) > 0 && !t.Directory {
		ext := strings.ToLower(filepath.Ext(s))
		if !slices.ContainsFunc(t.Extensions, func(e string) bool { return strings.EqualFold(e, ext) }) {
			return invalid("extension %q not allowed, want one of %v", ext, t.Extensions)
		}
	}
	return accepted
}

func hasOption(opts []Option, key string) bool {
	return slices.ContainsFunc(opts, func(o Option) bool { return o.Key == key })
}

func keys(opts []Option) string {
	ks := make([]string, len(opts))
	for i, o := range opts {
		ks[i] = o.Key
	}
	return "[" + strings.Join(ks, ", ") + "]"
}
