package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"cryptoscan/models"
)

// Stats summarises a library.
type Stats struct {
	Algorithms int `json:"algorithms"`
	Patterns   int `json:"patterns"`
}

// AlgorithmMerge describes how one algorithm changed during a merge.
type AlgorithmMerge struct {
	Algorithm  string `json:"algorithm"`
	New        bool   `json:"new"`
	Before     int    `json:"before"`
	Incoming   int    `json:"incoming"`
	After      int    `json:"after"`
	Duplicates int    `json:"duplicates"`
}

type MergeReport struct {
	Source     string           `json:"source"`
	Before     Stats            `json:"before"`
	After      Stats            `json:"after"`
	Algorithms []AlgorithmMerge `json:"algorithms"`
}

// Store holds the live rule library. It is owned by a single flow of control.
type Store struct {
	lib        *Library
	source     string
	generation uint64
}

// NewStore returns a store holding the built-in defaults.
func NewStore() *Store {
	s := &Store{}
	s.LoadDefault()
	return s
}

// LoadDefault resets the library to the built-in set.
func (s *Store) LoadDefault() {
	s.lib = Default()
	s.source = DefaultSource
	s.generation++
}

// Load parses JSON rule text and replaces the whole library with it. The
// live library is untouched on any error.
func (s *Store) Load(data []byte, source string) error {
	lib, err := Parse(data, source)
	if err != nil {
		return err
	}
	return s.Replace(lib, source)
}

// LoadFile is Load for a file on disk (JSON or YAML by extension).
func (s *Store) LoadFile(path string) error {
	lib, err := ParseFile(path)
	if err != nil {
		return err
	}
	return s.Replace(lib, path)
}

// Replace swaps in an already parsed library after validating it again.
func (s *Store) Replace(lib *Library, source string) error {
	if err := Validate(lib); err != nil {
		return err
	}
	s.lib = lib.Clone()
	s.source = source
	s.generation++
	return nil
}

// Merge parses JSON rule text and unions it into the live library.
func (s *Store) Merge(data []byte, source string) (*MergeReport, error) {
	lib, err := Parse(data, source)
	if err != nil {
		return nil, err
	}
	return s.MergeLibrary(lib, source)
}

func (s *Store) MergeFile(path string) (*MergeReport, error) {
	lib, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return s.MergeLibrary(lib, path)
}

// MergeLibrary unions incoming into the live library. Existing algorithms get
// the deduplicated union of both lists; new algorithms are added as given.
func (s *Store) MergeLibrary(incoming *Library, source string) (*MergeReport, error) {
	if err := Validate(incoming); err != nil {
		return nil, err
	}

	report := &MergeReport{Source: source, Before: s.Stats()}
	merged := s.lib.Clone()
	incoming.Each(func(name string, patterns []string) {
		if !merged.Has(name) {
			merged.Set(name, patterns)
			report.Algorithms = append(report.Algorithms, AlgorithmMerge{
				Algorithm: name,
				New:       true,
				Incoming:  len(patterns),
				After:     len(patterns),
			})
			return
		}

		existing := merged.Patterns(name)
		union := dedupe(append(existing, patterns...))
		merged.Set(name, union)
		report.Algorithms = append(report.Algorithms, AlgorithmMerge{
			Algorithm:  name,
			Before:     len(existing),
			Incoming:   len(patterns),
			After:      len(union),
			Duplicates: len(existing) + len(patterns) - len(union),
		})
	})

	s.lib = merged
	s.generation++
	report.After = s.Stats()
	return report, nil
}

func dedupe(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Save writes the library as indented JSON.
func (s *Store) Save(w io.Writer) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.lib); err != nil {
		return fmt.Errorf("%w: encode rules: %v", models.ErrIO, err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write rules: %v", models.ErrIO, err)
	}
	return nil
}

func (s *Store) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", models.ErrIO, path, err)
	}
	defer f.Close()

	if err := s.Save(f); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", models.ErrIO, path, err)
	}
	return nil
}

func (s *Store) Stats() Stats {
	return Stats{Algorithms: s.lib.Len(), Patterns: s.lib.PatternCount()}
}

// Snapshot returns a copy of the live library.
func (s *Store) Snapshot() *Library {
	return s.lib.Clone()
}

// Each iterates the live library without copying it.
func (s *Store) Each(fn func(name string, patterns []string)) {
	s.lib.Each(fn)
}

// Source is the path the library came from, or DefaultSource.
func (s *Store) Source() string {
	return s.source
}

// Generation changes every time the library is mutated.
func (s *Store) Generation() uint64 {
	return s.generation
}
