//go:build haskell

package haskell

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"codejudge/internal/judge/value"
)

// literal renders v as Haskell source text that Prelude.read accepts.
func literal(v value.Value) (string, error) {
	raw := strings.TrimSpace(v.Raw)
	switch v.Type {
	case value.Int:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", fmt.Errorf("int %q: %w", v.Raw, err)
		}
		return strconv.FormatInt(n, 10), nil
	case value.Float:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", fmt.Errorf("float %q: %w", v.Raw, err)
		}
		return floatLiteral(f), nil
	case value.Bool:
		switch strings.ToLower(raw) {
		case "true":
			return "True", nil
		case "false":
			return "False", nil
		}
		return "", fmt.Errorf("bool %q", v.Raw)
	case value.Char:
		runes := []rune(v.Raw)
		if len(runes) != 1 {
			return "", fmt.Errorf("char %q", v.Raw)
		}
		return "'" + escapeRune(runes[0], '\'', false) + "'", nil
	case value.String:
		return stringLiteral(v.Raw), nil
	case value.List:
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.UseNumber()
		var items []any
		if err := dec.Decode(&items); err != nil {
			return "", fmt.Errorf("list %q: %w", v.Raw, err)
		}
		return listLiteral(items)
	}
	return "", fmt.Errorf("unsupported value type %q", v.Type)
}

func floatLiteral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func stringLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		b.WriteString(escapeRune(r, '"', true))
	}
	b.WriteByte('"')
	return b.String()
}

// escapeRune escapes r for a Haskell char or string literal. Anything outside
// printable ASCII becomes a decimal escape; inside strings it is terminated
// with \& so a following digit is not absorbed.
func escapeRune(r rune, quote rune, inString bool) string {
	switch {
	case r == '\\':
		return `\\`
	case r == quote:
		return `\` + string(r)
	case r == '\n':
		return `\n`
	case r == '\t':
		return `\t`
	case r == '\r':
		return `\r`
	case r >= 0x20 && r < 0x7f:
		return string(r)
	}
	esc := `\` + strconv.Itoa(int(r))
	if inString {
		esc += `\&`
	}
	return esc
}

func listLiteral(items []any) (string, error) {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part, err := itemLiteral(item)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

func itemLiteral(item any) (string, error) {
	switch x := item.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return strconv.FormatInt(n, 10), nil
		}
		f, err := x.Float64()
		if err != nil {
			return "", fmt.Errorf("number %q: %w", x, err)
		}
		return floatLiteral(f), nil
	case string:
		return stringLiteral(x), nil
	case bool:
		if x {
			return "True", nil
		}
		return "False", nil
	case []any:
		return listLiteral(x)
	}
	return "", fmt.Errorf("list element %v has no Haskell form", item)
}
