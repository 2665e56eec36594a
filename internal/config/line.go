package config

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidLine = errors.New("config: invalid config line")

// Line is one "package.section.option=value" assignment.
type Line struct {
	Package string
	Section string
	Option  string
	Value   string
}

func (l Line) Key() string {
	return l.Package + "." + l.Section + "." + l.Option
}

// ParseLine splits a config line. The value may be empty and keeps its
// surrounding whitespace.
func ParseLine(raw string) (Line, error) {
	key, value, ok := strings.Cut(raw, "=")
	if !ok {
		return Line{}, fmt.Errorf("%w: missing '=' in %q", ErrInvalidLine, raw)
	}
	parts := strings.Split(strings.ToLower(strings.TrimSpace(key)), ".")
	if len(parts) != 3 {
		return Line{}, fmt.Errorf("%w: key %q is not package.section.option", ErrInvalidLine, key)
	}
	for _, p := range parts {
		if !validName(p) {
			return Line{}, fmt.Errorf("%w: key %q", ErrInvalidLine, key)
		}
	}
	return Line{Package: parts[0], Section: parts[1], Option: parts[2], Value: value}, nil
}

// Apply stages l into p and commits its package.
func Apply(p Provider, l Line) error {
	if err := p.Set(l.Key(), l.Value); err != nil {
		return err
	}
	return p.Commit(l.Package)
}
