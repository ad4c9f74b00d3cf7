//go:build haskell

package haskell

import (
	"strings"
	"testing"

	"codejudge/internal/judge/value"
)

func TestLiteral(t *testing.T) {
	cases := []struct {
		in      value.Value
		want    string
		wantErr bool
	}{
		{in: value.Value{Type: value.Int, Raw: "+5"}, want: "5"},
		{in: value.Value{Type: value.Int, Raw: "-5"}, want: "-5"},
		{in: value.Value{Type: value.Float, Raw: "2"}, want: "2.0"},
		{in: value.Value{Type: value.Float, Raw: "0.1"}, want: "0.1"},
		{in: value.Value{Type: value.Float, Raw: "1e-7"}, want: "1e-07"},
		{in: value.Value{Type: value.Float, Raw: "NaN"}, want: "NaN"},
		{in: value.Value{Type: value.Float, Raw: "-Inf"}, want: "-Infinity"},
		{in: value.Value{Type: value.Bool, Raw: "TRUE"}, want: "True"},
		{in: value.Value{Type: value.Char, Raw: "'"}, want: `'\''`},
		{in: value.Value{Type: value.Char, Raw: "é"}, want: `'\233'`},
		{in: value.Value{Type: value.String, Raw: "a\"b\n"}, want: `"a\"b\n"`},
		{in: value.Value{Type: value.String, Raw: "é1"}, want: `"\233\&1"`},
		{in: value.Value{Type: value.List, Raw: `[1, 2.5, [true], "x"]`}, want: `[1,2.5,[True],"x"]`},
		{in: value.Value{Type: value.List, Raw: `[{"a":1}]`}, wantErr: true},
		{in: value.Value{Type: value.List, Raw: `[null]`}, wantErr: true},
		{in: value.Value{Type: value.Int, Raw: "x"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(string(tc.in.Type)+" "+tc.in.Raw, func(t *testing.T) {
			got, err := literal(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
			if strings.Contains(got, "\n") {
				t.Fatalf("literal must fit on one line: %q", got)
			}
		})
	}
}

func TestWithModuleHeader(t *testing.T) {
	cases := []struct {
		name   string
		source string
		want   string
	}{
		{
			name:   "header present",
			source: "module Solution (solution) where\nsolution = 1\n",
			want:   "module Solution (solution) where\nsolution = 1\n",
		},
		{
			name:   "plain",
			source: "solution :: Int -> Int\nsolution = negate\n",
			want:   "module Solution where\n\nsolution :: Int -> Int\nsolution = negate\n",
		},
		{
			name:   "after pragmas",
			source: "{-# LANGUAGE BangPatterns #-}\nimport Data.List\nsolution = 1\n",
			want:   "{-# LANGUAGE BangPatterns #-}\nmodule Solution where\n\nimport Data.List\nsolution = 1\n",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := withModuleHeader(tc.source); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
