package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"cryptoscan/models"
)

// ParseFile reads and parses a rule file. Files ending in .yaml or .yml are
// read as YAML, everything else as JSON. The result is validated.
func ParseFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: rule file %s", models.ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: read rule file %s: %v", models.ErrIO, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data, path)
	default:
		return Parse(data, path)
	}
}

// Parse decodes JSON rule text and validates it. Syntax errors come back as
// *models.ParseError, shape errors wrap models.ErrInvalidFormat and bad
// patterns are *models.PatternError.
func Parse(data []byte, source string) (*Library, error) {
	lib, err := decodeJSON(data, source)
	if err != nil {
		return nil, err
	}
	if err := Validate(lib); err != nil {
		return nil, err
	}
	return lib, nil
}

func decodeJSON(data []byte, source string) (*Library, error) {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, models.JSONError(data, source, err)
	}
	if _, ok := probe.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: %s: top level must be an object of algorithm name to pattern list", models.ErrInvalidFormat, source)
	}

	// second pass keeps the algorithm order of the file
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, models.JSONError(data, source, err)
	}

	lib := NewLibrary()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, models.JSONError(data, source, err)
		}
		name, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, models.JSONError(data, source, err)
		}
		patterns, err := decodePatterns(name, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: %s: algorithm name must not be empty", models.ErrInvalidFormat, source)
		}
		lib.Set(name, patterns)
	}
	return lib, nil
}

func decodePatterns(name string, raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: patterns of algorithm %q must be a list", models.ErrInvalidFormat, name)
	}
	var items []any
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: patterns of algorithm %q: %v", models.ErrInvalidFormat, name, err)
	}
	patterns := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: pattern %d of algorithm %q must be a string, got %T", models.ErrInvalidFormat, i+1, name, item)
		}
		patterns = append(patterns, s)
	}
	return patterns, nil
}

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// ParseYAML decodes a YAML rule file with the same shape as the JSON format.
func ParseYAML(data []byte, source string) (*Library, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		line := 1
		if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
		}
		return nil, &models.ParseError{
			Source:  source,
			Line:    line,
			Column:  1,
			Snippet: models.Snippet(data, line, 1),
			Err:     err,
		}
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s: top level must be a mapping of algorithm name to pattern list", models.ErrInvalidFormat, source)
	}

	root := doc.Content[0]
	lib := NewLibrary()
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Kind != yaml.ScalarNode || strings.TrimSpace(key.Value) == "" {
			return nil, fmt.Errorf("%w: %s: line %d: algorithm name must be a non-empty string", models.ErrInvalidFormat, source, key.Line)
		}
		if value.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("%w: %s: line %d: patterns of algorithm %q must be a list", models.ErrInvalidFormat, source, value.Line, key.Value)
		}
		patterns := make([]string, 0, len(value.Content))
		for j, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return nil, fmt.Errorf("%w: %s: line %d: pattern %d of algorithm %q must be a string", models.ErrInvalidFormat, source, item.Line, j+1, key.Value)
			}
			patterns = append(patterns, item.Value)
		}
		lib.Set(key.Value, patterns)
	}

	if err := Validate(lib); err != nil {
		return nil, err
	}
	return lib, nil
}

// Validate checks that every algorithm has a name and every pattern compiles.
// It stops at the first bad pattern.
func Validate(lib *Library) error {
	if lib == nil {
		return fmt.Errorf("%w: no rule library", models.ErrInvalidFormat)
	}
	for _, name := range lib.names {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: algorithm name must not be empty", models.ErrInvalidFormat)
		}
		for i, pattern := range lib.patterns[name] {
			if _, err := regexp.Compile(pattern); err != nil {
				return &models.PatternError{Algorithm: name, Index: i + 1, Pattern: pattern, Err: err}
			}
		}
	}
	return nil
}
