package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidFormat     = errors.New("invalid format")
	ErrInvalidPattern    = errors.New("invalid pattern")
	ErrParse             = errors.New("parse error")
	ErrSchema            = errors.New("schema error")
	ErrIO                = errors.New("i/o error")
	ErrNotFound          = errors.New("not found")
	ErrNetwork           = errors.New("network error")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrNoData            = errors.New("no data")
)

// PatternError reports a pattern that does not compile. Index is 1-based.
type PatternError struct {
	Algorithm string
	Index     int
	Pattern   string
	Err       error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("algorithm %s pattern %d (%q): %v", e.Algorithm, e.Index, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

func (e *PatternError) Is(target error) bool { return target == ErrInvalidPattern }

// ParseError locates a syntax error in a rule or session file.
type ParseError struct {
	Source  string
	Line    int
	Column  int
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: line %d, column %d: %v", e.Source, e.Line, e.Column, e.Err)
	if e.Snippet != "" {
		msg += "\n" + e.Snippet
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// JSONError turns an encoding/json error into a *ParseError pointing at the
// offending line and column of data.
func JSONError(data []byte, source string, err error) *ParseError {
	offset := int64(len(data))
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	}
	line, col := position(data, offset)
	return &ParseError{
		Source:  source,
		Line:    line,
		Column:  col,
		Snippet: Snippet(data, line, col),
		Err:     err,
	}
}

// position converts a byte offset into a 1-based line and column.
func position(data []byte, offset int64) (line, col int) {
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	if offset < 0 {
		offset = 0
	}
	head := data[:offset]
	line = bytes.Count(head, []byte("\n")) + 1
	col = int(offset) - bytes.LastIndexByte(head, '\n')
	if col < 1 {
		col = 1
	}
	return line, col
}

const snippetWidth = 50

// Snippet renders the line before the error, the error line clipped around
// col, and a caret under the error column.
func Snippet(data []byte, line, col int) string {
	lines := strings.Split(string(data), "\n")
	if line < 1 || line > len(lines) {
		return ""
	}

	var b strings.Builder
	if line > 1 {
		prev := strings.TrimRight(lines[line-2], "\r")
		if len(prev) > snippetWidth {
			prev = prev[:snippetWidth] + "..."
		}
		fmt.Fprintf(&b, "%5d | %s\n", line-1, prev)
	}

	cur := strings.TrimRight(lines[line-1], "\r")
	start := min(max(col-20, 0), len(cur))
	end := min(col+30, len(cur))
	marker := max(col-1-start, 0)
	fmt.Fprintf(&b, "%5d | %s\n", line, cur[start:end])
	fmt.Fprintf(&b, "%5s | %s^", "", strings.Repeat(" ", marker))
	return b.String()
}
