package backend

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Command expands a command template and splits it into argv. Placeholders
// are written as {name}, e.g. "ghc -o {bin} {main}", and are substituted
// after splitting so values never change the word boundaries.
func Command(tpl string, vars map[string]string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, fmt.Errorf("command template is required")
	}
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, fmt.Errorf("parse command template: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("command template %q is empty", tpl)
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	replacer := strings.NewReplacer(pairs...)
	for i, f := range fields {
		fields[i] = replacer.Replace(f)
		if strings.Contains(fields[i], "{") && strings.Contains(fields[i], "}") {
			if name, ok := unresolved(fields[i]); ok {
				return nil, fmt.Errorf("unknown placeholder {%s} in %q", name, tpl)
			}
		}
	}
	return fields, nil
}

func unresolved(field string) (string, bool) {
	start := strings.IndexByte(field, '{')
	if start < 0 {
		return "", false
	}
	end := strings.IndexByte(field[start:], '}')
	if end <= 1 {
		return "", false
	}
	name := field[start+1 : start+end]
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", false
		}
	}
	return name, true
}
