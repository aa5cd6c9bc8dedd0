package location

import (
	"fmt"
	"strings"
)

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// EscapeToken escapes a single reference token per RFC 6901
// ('~' -> '~0', '/' -> '~1').
func EscapeToken(s string) string { return pointerEscaper.Replace(s) }

// UnescapeToken reverses EscapeToken. A '~' that is not followed by '0' or
// '1' is an error.
func UnescapeToken(s string) (string, error) {
	if !strings.Contains(s, "~") {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '~' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			return "", fmt.Errorf("%w: dangling '~' in pointer token %q", ErrInvalidReference, s)
		}
		switch s[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", fmt.Errorf("%w: bad escape '~%c' in pointer token %q", ErrInvalidReference, s[i+1], s)
		}
		i++
	}
	return b.String(), nil
}

// SplitPointer splits a JSON Pointer into unescaped tokens. The empty
// pointer denotes the whole document and yields no tokens.
func SplitPointer(p string) ([]string, error) {
	if p == "" {
		return nil, nil
	}
	if p[0] != '/' {
		return nil, fmt.Errorf("%w: pointer %q must start with '/'", ErrInvalidReference, p)
	}
	parts := strings.Split(p[1:], "/")
	for i, raw := range parts {
		tok, err := UnescapeToken(raw)
		if err != nil {
			return nil, err
		}
		parts[i] = tok
	}
	return parts, nil
}

// JoinPointer appends escaped tokens to base.
func JoinPointer(base string, tokens ...string) string {
	if len(tokens) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	for _, t := range tokens {
		b.WriteByte('/')
		b.WriteString(EscapeToken(t))
	}
	return b.String()
}
