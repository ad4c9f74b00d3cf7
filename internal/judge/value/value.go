// Package value defines the typed values exchanged with language backends:
// test-case inputs, expected outputs and the outputs a program produced.
package value

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Type is the declared type of a Value.
type Type string

const (
	Bool   Type = "bool"
	Int    Type = "int"
	Float  Type = "float"
	Char   Type = "char"
	String Type = "string"
	// List holds a JSON array, e.g. "[1,2,3]" or "[\"a\",[true]]".
	List Type = "list"
)

var typeAliases = map[string]Type{
	"bool":    Bool,
	"boolean": Bool,
	"int":     Int,
	"integer": Int,
	"float":   Float,
	"double":  Float,
	"char":    Char,
	"string":  String,
	"list":    List,
	"array":   List,
}

// ParseType resolves a type name, accepting a few common aliases.
func ParseType(name string) (Type, error) {
	if t, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown value type %q", name)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value is one typed datum; Raw is its textual encoding.
type Value struct {
	Type Type   `json:"valueType"`
	Raw  string `json:"value"`
}

func (v Value) String() string {
	return fmt.Sprintf("%s(%s)", v.Type, v.Raw)
}

// ErrValue is matched by every error Parse returns.
var ErrValue = errors.New("invalid value")

// Error describes a raw text that does not lexically match its type.
type Error struct {
	Type   Type
	Raw    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid %s value %q: %s", e.Type, e.Raw, e.Reason)
}

func (e *Error) Is(target error) bool {
	return target == ErrValue
}

// Parse validates raw against t.
func Parse(t Type, raw string) (Value, error) {
	v := Value{Type: t, Raw: raw}
	if err := v.Validate(); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Validate checks that Raw is syntactically valid for Type.
func (v Value) Validate() error {
	fail := func(reason string) error {
		return &Error{Type: v.Type, Raw: v.Raw, Reason: reason}
	}
	switch v.Type {
	case Bool:
		if _, ok := parseBool(v.Raw); !ok {
			return fail("expected true or false")
		}
	case Int:
		if _, err := parseInt(v.Raw); err != nil {
			return fail("expected a 64-bit integer")
		}
	case Float:
		if _, err := parseFloat(v.Raw); err != nil {
			return fail("expected a floating point number")
		}
	case Char:
		if !utf8.ValidString(v.Raw) || utf8.RuneCountInString(v.Raw) != 1 {
			return fail("expected exactly one character")
		}
	case String:
		if !utf8.ValidString(v.Raw) {
			return fail("expected valid UTF-8 text")
		}
	case List:
		if _, err := parseList(v.Raw); err != nil {
			return fail(err.Error())
		}
	default:
		return fail("unknown type")
	}
	return nil
}

func parseBool(raw string) (bool, bool) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, true
	default:
		return false, false
	}
}

func parseInt(raw string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

func parseList(raw string) ([]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %v", err)
	}
	if items == nil {
		return nil, errors.New("expected a JSON array")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON array")
	}
	return items, nil
}

// Float comparison tolerance, absolute and relative.
const floatEpsilon = 1e-9

func floatsEqual(a, b float64) bool {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return math.IsNaN(a) && math.IsNaN(b)
	case math.IsInf(a, 0) || math.IsInf(b, 0):
		return a == b
	}
	diff := math.Abs(a - b)
	if diff <= floatEpsilon {
		return true
	}
	return diff <= floatEpsilon*math.Max(math.Abs(a), math.Abs(b))
}

func listItemsEqual(a, b any) bool {
	switch x := a.(type) {
	case json.Number:
		y, ok := b.(json.Number)
		if !ok {
			return false
		}
		if xi, err := x.Int64(); err == nil {
			if yi, err := y.Int64(); err == nil {
				return xi == yi
			}
		}
		xf, errX := x.Float64()
		yf, errY := y.Float64()
		return errX == nil && errY == nil && floatsEqual(xf, yf)
	case string:
		y, ok := b.(string)
		return ok && strings.TrimSpace(x) == strings.TrimSpace(y)
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case nil:
		return b == nil
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !listItemsEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !listItemsEqual(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
