package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"codejudge/internal/judge/value"
	appErr "codejudge/pkg/errors"
)

// DecodeOutput parses the harness output: one JSON array of
// {"valueType","value"} objects. Anything else is a wrong answer.
func DecodeOutput(stdout string) ([]value.Value, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, appErr.New(appErr.WrongAnswer).WithMessage("program produced no output")
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var out []value.Value
	if err := dec.Decode(&out); err != nil {
		return nil, appErr.Wrapf(err, appErr.WrongAnswer, "malformed program output: %s", excerpt(trimmed, 200))
	}
	if dec.More() {
		return nil, appErr.Newf(appErr.WrongAnswer, "unexpected data after program output: %s", excerpt(trimmed, 200))
	}
	if out == nil {
		out = []value.Value{}
	}
	return out, nil
}

// StripPath removes every occurrence of dir from text so diagnostics do not
// reveal host paths.
func StripPath(text, dir string) string {
	if dir == "" {
		return text
	}
	dir = strings.TrimSuffix(dir, "/")
	text = strings.ReplaceAll(text, dir+"/", "")
	return strings.ReplaceAll(text, dir, ".")
}

// Tail returns at most n trailing bytes of s, cut on a rune boundary.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return "..." + s
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return fmt.Sprintf("%s...", s)
}
