package decode

import (
	"bytes"
	"io"
	"strconv"

	j "github.com/goccy/go-json"
)

type kind int

const (
	kindBeginObject kind = iota
	kindEndObject
	kindBeginArray
	kindEndArray
	kindKey
	kindString
	kindNumber
	kindBool
	kindNull
)

type token struct {
	kind   kind
	str    string
	number string
	boolv  bool
}

type tokenSource interface {
	next() (token, error)
}

type containerKind int

const (
	containerObject containerKind = iota
	containerArray
)

type frame struct {
	kind         containerKind
	expectingKey bool
}

// goJSONSource turns go-json's Decoder.Token stream into key-aware tokens.
// The standard token API does not distinguish object keys from string
// values, so a container stack tracks whether a key is expected next.
type goJSONSource struct {
	dec   *j.Decoder
	stack []frame
}

func newGoJSONSource(b []byte) *goJSONSource {
	dec := j.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return &goJSONSource{dec: dec}
}

func (s *goJSONSource) valueDone() {
	if n := len(s.stack); n > 0 {
		top := &s.stack[n-1]
		if top.kind == containerObject && !top.expectingKey {
			top.expectingKey = true
		}
	}
}

func (s *goJSONSource) pop() {
	if n := len(s.stack); n > 0 {
		s.stack = s.stack[:n-1]
	}
	s.valueDone()
}

func (s *goJSONSource) next() (token, error) {
	tok, err := s.dec.Token()
	if err != nil {
		return token{}, err
	}
	switch v := tok.(type) {
	case j.Delim:
		switch v {
		case '{':
			s.stack = append(s.stack, frame{kind: containerObject, expectingKey: true})
			return token{kind: kindBeginObject}, nil
		case '}':
			s.pop()
			return token{kind: kindEndObject}, nil
		case '[':
			s.stack = append(s.stack, frame{kind: containerArray})
			return token{kind: kindBeginArray}, nil
		case ']':
			s.pop()
			return token{kind: kindEndArray}, nil
		}
	case string:
		if n := len(s.stack); n > 0 {
			top := &s.stack[n-1]
			if top.kind == containerObject && top.expectingKey {
				top.expectingKey = false
				return token{kind: kindKey, str: v}, nil
			}
		}
		s.valueDone()
		return token{kind: kindString, str: v}, nil
	case bool:
		s.valueDone()
		return token{kind: kindBool, boolv: v}, nil
	case j.Number:
		s.valueDone()
		return token{kind: kindNumber, number: string(v)}, nil
	case float64:
		s.valueDone()
		return token{kind: kindNumber, number: strconv.FormatFloat(v, 'g', -1, 64)}, nil
	case nil:
		s.valueDone()
		return token{kind: kindNull}, nil
	}
	return token{}, io.ErrUnexpectedEOF
}
