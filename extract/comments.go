package extract

import (
	"strings"
)

// StripComments removes // line comments and /* */ block comments from
// JavaScript text. Quoted strings and template literals are copied as-is.
// Newlines inside block comments are kept so line numbers still point at the
// original source. Regex literals are not recognised, so a // or /* inside one
// is treated as a comment.
func StripComments(code string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = code
		}
	}()

	var b strings.Builder
	b.Grow(len(code))

	var quote byte // ', " or ` while inside a literal
	for i := 0; i < len(code); i++ {
		c := code[i]

		if quote != 0 {
			b.WriteByte(c)
			switch {
			case c == '\\' && i+1 < len(code):
				i++
				b.WriteByte(code[i])
			case c == quote:
				quote = 0
			case c == '\n' && quote != '`':
				// unterminated string, resync at end of line
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '/' && i+1 < len(code) && code[i+1] == '/':
			end := strings.IndexByte(code[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			end := strings.Index(code[i+2:], "*/")
			if end < 0 {
				b.WriteString(code[i:])
				return b.String()
			}
			comment := code[i : i+2+end+2]
			b.WriteString(strings.Repeat("\n", strings.Count(comment, "\n")))
			i += len(comment) - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
