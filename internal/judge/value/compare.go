package value

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeMismatch means the two values were declared with different types.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrNotEqual means the types agree but the contents differ.
	ErrNotEqual = errors.New("values differ")
)

// Equals reports whether actual matches expected.
func Equals(expected, actual Value) bool {
	return Compare(expected, actual) == nil
}

// Compare returns nil when actual matches expected, an error wrapping
// ErrTypeMismatch when the declared types differ, and one wrapping
// ErrNotEqual otherwise.
func Compare(expected, actual Value) error {
	if expected.Type != actual.Type {
		return fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, expected.Type, actual.Type)
	}
	if equalAs(expected.Type, expected.Raw, actual.Raw) {
		return nil
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrNotEqual, expected.Raw, actual.Raw)
}

// Conform reads a produced value as the declared type t. Harnesses report
// the narrowest type a runtime value has, so an int is re-read as a float and
// a one-character string as a char. Any other pairing is returned unchanged
// for Compare to reject.
func Conform(v Value, t Type) Value {
	if v.Type == t {
		return v
	}
	widen := (t == Float && v.Type == Int) ||
		(t == Char && v.Type == String) ||
		(t == String && v.Type == Char)
	if !widen {
		return v
	}
	if _, err := Parse(t, v.Raw); err != nil {
		return v
	}
	return Value{Type: t, Raw: v.Raw}
}

func equalAs(t Type, expected, actual string) bool {
	switch t {
	case Bool:
		e, okE := parseBool(expected)
		a, okA := parseBool(actual)
		return okE && okA && e == a
	case Int:
		e, errE := parseInt(expected)
		a, errA := parseInt(actual)
		return errE == nil && errA == nil && e == a
	case Float:
		e, errE := parseFloat(expected)
		a, errA := parseFloat(actual)
		return errE == nil && errA == nil && floatsEqual(e, a)
	case List:
		e, errE := parseList(expected)
		a, errA := parseList(actual)
		return errE == nil && errA == nil && listItemsEqual(e, a)
	default:
		return strings.TrimSpace(expected) == strings.TrimSpace(actual)
	}
}
