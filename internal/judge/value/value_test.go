package value_test

import (
	"encoding/json"
	"errors"
	"testing"

	"codejudge/internal/judge/value"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		typ     value.Type
		raw     string
		wantErr bool
	}{
		{name: "int", typ: value.Int, raw: "-5"},
		{name: "int with plus", typ: value.Int, raw: "+5"},
		{name: "int padded", typ: value.Int, raw: " 42 "},
		{name: "int not numeric", typ: value.Int, raw: "five", wantErr: true},
		{name: "int overflow", typ: value.Int, raw: "9223372036854775808", wantErr: true},
		{name: "int fraction", typ: value.Int, raw: "1.5", wantErr: true},
		{name: "float", typ: value.Float, raw: "5.0"},
		{name: "float exponent", typ: value.Float, raw: "1e-3"},
		{name: "float nan", typ: value.Float, raw: "NaN"},
		{name: "float garbage", typ: value.Float, raw: "1.2.3", wantErr: true},
		{name: "bool", typ: value.Bool, raw: "true"},
		{name: "bool mixed case", typ: value.Bool, raw: "False"},
		{name: "bool numeric", typ: value.Bool, raw: "1", wantErr: true},
		{name: "char", typ: value.Char, raw: "x"},
		{name: "char multibyte", typ: value.Char, raw: "é"},
		{name: "char space", typ: value.Char, raw: " "},
		{name: "char too long", typ: value.Char, raw: "ab", wantErr: true},
		{name: "char empty", typ: value.Char, raw: "", wantErr: true},
		{name: "string", typ: value.String, raw: "hello world"},
		{name: "string empty", typ: value.String, raw: ""},
		{name: "string invalid utf8", typ: value.String, raw: "\xff", wantErr: true},
		{name: "list", typ: value.List, raw: `[1, "a", [true]]`},
		{name: "list empty", typ: value.List, raw: `[]`},
		{name: "list object", typ: value.List, raw: `{"a":1}`, wantErr: true},
		{name: "list null", typ: value.List, raw: `null`, wantErr: true},
		{name: "list trailing", typ: value.List, raw: `[1] [2]`, wantErr: true},
		{name: "unknown type", typ: value.Type("tensor"), raw: "1", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := value.Parse(tc.typ, tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s %q", tc.typ, tc.raw)
				}
				if !errors.Is(err, value.ErrValue) {
					t.Fatalf("expected ErrValue, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if !value.Equals(v, v) {
				t.Fatalf("value %v is not equal to itself", v)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		name     string
		expected value.Value
		actual   value.Value
		want     error
	}{
		{
			name:     "int plus sign",
			expected: value.Value{Type: value.Int, Raw: "5"},
			actual:   value.Value{Type: value.Int, Raw: "+5"},
		},
		{
			name:     "int differ",
			expected: value.Value{Type: value.Int, Raw: "5"},
			actual:   value.Value{Type: value.Int, Raw: "6"},
			want:     value.ErrNotEqual,
		},
		{
			name:     "int unparsable actual",
			expected: value.Value{Type: value.Int, Raw: "5"},
			actual:   value.Value{Type: value.Int, Raw: "five"},
			want:     value.ErrNotEqual,
		},
		{
			name:     "float formatting",
			expected: value.Value{Type: value.Float, Raw: "5.0"},
			actual:   value.Value{Type: value.Float, Raw: "5"},
		},
		{
			name:     "float rounding",
			expected: value.Value{Type: value.Float, Raw: "0.3"},
			actual:   value.Value{Type: value.Float, Raw: "0.30000000000000004"},
		},
		{
			name:     "float differ",
			expected: value.Value{Type: value.Float, Raw: "0.3"},
			actual:   value.Value{Type: value.Float, Raw: "0.31"},
			want:     value.ErrNotEqual,
		},
		{
			name:     "int rejected for float",
			expected: value.Value{Type: value.Float, Raw: "5"},
			actual:   value.Value{Type: value.Int, Raw: "5"},
			want:     value.ErrTypeMismatch,
		},
		{
			name:     "float rejected for int",
			expected: value.Value{Type: value.Int, Raw: "2"},
			actual:   value.Value{Type: value.Float, Raw: "2.0"},
			want:     value.ErrTypeMismatch,
		},
		{
			name:     "string rejected for int",
			expected: value.Value{Type: value.Int, Raw: "5"},
			actual:   value.Value{Type: value.String, Raw: "5"},
			want:     value.ErrTypeMismatch,
		},
		{
			name:     "string rejected for char",
			expected: value.Value{Type: value.Char, Raw: "a"},
			actual:   value.Value{Type: value.String, Raw: "a"},
			want:     value.ErrTypeMismatch,
		},
		{
			name:     "char rejected for string",
			expected: value.Value{Type: value.String, Raw: "a"},
			actual:   value.Value{Type: value.Char, Raw: "a"},
			want:     value.ErrTypeMismatch,
		},
		{
			name:     "string trimmed",
			expected: value.Value{Type: value.String, Raw: "hello"},
			actual:   value.Value{Type: value.String, Raw: "  hello\n"},
		},
		{
			name:     "string case sensitive",
			expected: value.Value{Type: value.String, Raw: "hello"},
			actual:   value.Value{Type: value.String, Raw: "Hello"},
			want:     value.ErrNotEqual,
		},
		{
			name:     "bool case",
			expected: value.Value{Type: value.Bool, Raw: "true"},
			actual:   value.Value{Type: value.Bool, Raw: "True"},
		},
		{
			name:     "list ordered",
			expected: value.Value{Type: value.List, Raw: "[1,2,3]"},
			actual:   value.Value{Type: value.List, Raw: "[ 1, 2, 3 ]"},
		},
		{
			name:     "list order matters",
			expected: value.Value{Type: value.List, Raw: "[1,2,3]"},
			actual:   value.Value{Type: value.List, Raw: "[3,2,1]"},
			want:     value.ErrNotEqual,
		},
		{
			name:     "list numeric elements",
			expected: value.Value{Type: value.List, Raw: "[1.0,[2]]"},
			actual:   value.Value{Type: value.List, Raw: "[1,[2.0]]"},
		},
		{
			name:     "list length differs",
			expected: value.Value{Type: value.List, Raw: "[1,2]"},
			actual:   value.Value{Type: value.List, Raw: "[1,2,3]"},
			want:     value.ErrNotEqual,
		},
		{
			name:     "list element type differs",
			expected: value.Value{Type: value.List, Raw: `["1"]`},
			actual:   value.Value{Type: value.List, Raw: `[1]`},
			want:     value.ErrNotEqual,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := value.Compare(tc.expected, tc.actual)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected match, got %v", err)
				}
				if !value.Equals(tc.expected, tc.actual) {
					t.Fatalf("Equals disagrees with Compare")
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestConform(t *testing.T) {
	cases := []struct {
		name string
		in   value.Value
		to   value.Type
		want value.Value
	}{
		{name: "same type", in: value.Value{Type: value.Int, Raw: "5"}, to: value.Int, want: value.Value{Type: value.Int, Raw: "5"}},
		{name: "int to float", in: value.Value{Type: value.Int, Raw: "5"}, to: value.Float, want: value.Value{Type: value.Float, Raw: "5"}},
		{name: "string to char", in: value.Value{Type: value.String, Raw: "a"}, to: value.Char, want: value.Value{Type: value.Char, Raw: "a"}},
		{name: "long string stays", in: value.Value{Type: value.String, Raw: "ab"}, to: value.Char, want: value.Value{Type: value.String, Raw: "ab"}},
		{name: "char to string", in: value.Value{Type: value.Char, Raw: "a"}, to: value.String, want: value.Value{Type: value.String, Raw: "a"}},
		{name: "float not narrowed", in: value.Value{Type: value.Float, Raw: "2.0"}, to: value.Int, want: value.Value{Type: value.Float, Raw: "2.0"}},
		{name: "string not read as int", in: value.Value{Type: value.String, Raw: "5"}, to: value.Int, want: value.Value{Type: value.String, Raw: "5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := value.Conform(tc.in, tc.to); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestValueJSON(t *testing.T) {
	var v value.Value
	if err := json.Unmarshal([]byte(`{"valueType":"integer","value":"-5"}`), &v); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if v.Type != value.Int || v.Raw != "-5" {
		t.Fatalf("unexpected value: %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"valueType":"matrix","value":"1"}`), &v); err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}

	data, err := json.Marshal(value.Value{Type: value.Char, Raw: "x"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"valueType":"char","value":"x"}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
}
