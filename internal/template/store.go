// Package template holds the relay's named message templates.
//
// Templates are flat placeholder substitution only ({name} markers, no
// conditionals or loops). A Store is an immutable snapshot: hot-reload builds
// a whole new Store and swaps it in, it never patches entries in place.
package template

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrTemplateNotFound = errors.New("template not found")

// MissingVariableError reports a placeholder present in the pattern but
// absent from the caller's variable map.
type MissingVariableError struct {
	Template string
	Name     string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %q: missing variable %q", e.Template, e.Name)
}

// Template is a named pattern with its placeholder set extracted at build time.
type Template struct {
	Name    string
	Pattern string

	placeholders []string // sorted, unique
}

// Placeholders returns the placeholder names the pattern references (sorted).
func (t Template) Placeholders() []string {
	return append([]string(nil), t.placeholders...)
}

// Store is an immutable set of templates. Safe for concurrent readers.
type Store struct {
	templates map[string]Template
}

// Build merges the built-in catalogue with extra definitions (typically from
// the operator's templates file). Extra entries win over built-ins; within
// callers merging multiple sources, last write wins.
func Build(extra map[string]string) *Store {
	ts := make(map[string]Template, len(builtins)+len(extra))
	for name, pattern := range builtins {
		ts[name] = newTemplate(name, pattern)
	}
	for name, pattern := range extra {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		ts[name] = newTemplate(name, pattern)
	}
	return &Store{templates: ts}
}

func newTemplate(name, pattern string) Template {
	return Template{Name: name, Pattern: pattern, placeholders: scanPlaceholders(pattern)}
}

// Get returns the named template.
func (s *Store) Get(name string) (Template, bool) {
	t, ok := s.templates[name]
	return t, ok
}

// Names returns all template identifiers, sorted.
func (s *Store) Names() []string {
	out := make([]string, 0, len(s.templates))
	for name := range s.templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Render substitutes every {name} occurrence with the matching entry in vars.
//
// Unknown template -> ErrTemplateNotFound. A placeholder without a matching
// variable -> *MissingVariableError. Extra variables are ignored. Substitution
// is single-pass: values containing '{' or '}' are emitted verbatim and never
// re-expanded.
func (s *Store) Render(name string, vars map[string]string) (string, error) {
	t, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	var b strings.Builder
	b.Grow(len(t.Pattern))

	p := t.Pattern
	for {
		open := strings.IndexByte(p, '{')
		if open < 0 {
			b.WriteString(p)
			return b.String(), nil
		}
		b.WriteString(p[:open])
		rest := p[open+1:]
		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			// dangling brace: literal
			b.WriteString(p[open:])
			return b.String(), nil
		}
		ph := rest[:closing]
		if !isPlaceholderName(ph) {
			// not a placeholder (empty or odd characters): keep the brace literal
			// and rescan from just past it so nested opens still match.
			b.WriteByte('{')
			p = rest
			continue
		}
		v, ok := vars[ph]
		if !ok {
			return "", &MissingVariableError{Template: name, Name: ph}
		}
		b.WriteString(v)
		p = rest[closing+1:]
	}
}

func scanPlaceholders(pattern string) []string {
	seen := map[string]struct{}{}
	p := pattern
	for {
		open := strings.IndexByte(p, '{')
		if open < 0 {
			break
		}
		rest := p[open+1:]
		closing := strings.IndexByte(rest, '}')
		if closing < 0 {
			break
		}
		ph := rest[:closing]
		if isPlaceholderName(ph) {
			seen[ph] = struct{}{}
			p = rest[closing+1:]
			continue
		}
		p = rest
	}
	out := make([]string, 0, len(seen))
	for ph := range seen {
		out = append(out, ph)
	}
	sort.Strings(out)
	return out
}

func isPlaceholderName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return false
		}
	}
	return true
}
