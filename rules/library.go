package rules

import (
	"bytes"
	"encoding/json"
)

// Library maps algorithm names to pattern lists, keeping insertion order of
// the algorithm names.
type Library struct {
	names    []string
	patterns map[string][]string
}

func NewLibrary() *Library {
	return &Library{patterns: make(map[string][]string)}
}

// Set replaces the patterns for name, appending name if it is new.
func (l *Library) Set(name string, patterns []string) {
	if _, ok := l.patterns[name]; !ok {
		l.names = append(l.names, name)
	}
	l.patterns[name] = append([]string(nil), patterns...)
}

func (l *Library) Has(name string) bool {
	_, ok := l.patterns[name]
	return ok
}

func (l *Library) Names() []string {
	return append([]string(nil), l.names...)
}

func (l *Library) Patterns(name string) []string {
	return append([]string(nil), l.patterns[name]...)
}

// Len returns the number of algorithms.
func (l *Library) Len() int {
	return len(l.names)
}

// PatternCount sums the pattern lists of every algorithm.
func (l *Library) PatternCount() int {
	total := 0
	for _, name := range l.names {
		total += len(l.patterns[name])
	}
	return total
}

// Each calls fn for every algorithm in insertion order.
func (l *Library) Each(fn func(name string, patterns []string)) {
	for _, name := range l.names {
		fn(name, l.patterns[name])
	}
}

func (l *Library) Clone() *Library {
	c := NewLibrary()
	l.Each(func(name string, patterns []string) {
		c.Set(name, patterns)
	})
	return c
}

// MarshalJSON writes the library as an object, algorithms in insertion order.
func (l *Library) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range l.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSON(&buf, name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		patterns := l.patterns[name]
		if patterns == nil {
			patterns = []string{}
		}
		if err := writeJSON(&buf, patterns); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeJSON encodes v without HTML escaping so patterns stay readable.
func writeJSON(buf *bytes.Buffer, v any) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
