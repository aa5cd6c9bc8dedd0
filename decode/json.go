package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"

	j "github.com/goccy/go-json"
)

type jsonDecoder struct{ opt Options }

// JSON returns the go-json backed decoder.
func JSON(opt Options) Decoder { return jsonDecoder{opt: opt} }

func (jsonDecoder) Name() string { return "go-json" }

func (d jsonDecoder) Decode(data []byte) (any, error) {
	if err := checkSize(data, d.opt.MaxBytes); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, issueErr(CodeParseError, "", "empty document", io.EOF)
	}
	// the token stream does not check separators
	if !j.Valid(data) {
		return nil, syntaxIssue(data)
	}
	raw := newGoJSONSource(data)
	src := enforce(raw, d.opt)

	tok, err := src.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, issueErr(CodeParseError, "", "empty document", err)
		}
		return nil, asIssue(err)
	}
	v, err := build(src, tok)
	if err != nil {
		return nil, asIssue(err)
	}

	// exactly one top-level value
	if _, err := raw.next(); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, issueErr(CodeParseError, "", "unexpected data after top-level value", nil)
		}
		return nil, asIssue(err)
	}
	return v, nil
}

// syntaxIssue describes why data is not valid JSON.
func syntaxIssue(data []byte) error {
	var v any
	err := j.Unmarshal(data, &v)
	if err == nil {
		return issueErr(CodeParseError, "", "invalid JSON", nil)
	}
	ie := issueErr(CodeParseError, "", err.Error(), err)
	var se *j.SyntaxError
	if errors.As(err, &se) {
		ie.Offset = se.Offset
	}
	return ie
}

func asIssue(err error) error {
	var ie *IssueError
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return issueErr(CodeParseError, "", err.Error(), err)
}

// build materializes the value starting with tok.
func build(src tokenSource, tok token) (any, error) {
	switch tok.kind {
	case kindBeginObject:
		return buildObject(src)
	case kindBeginArray:
		return buildArray(src)
	case kindString:
		return tok.str, nil
	case kindNumber:
		return json.Number(tok.number), nil
	case kindBool:
		return tok.boolv, nil
	case kindNull:
		return nil, nil
	default:
		return nil, io.ErrUnexpectedEOF
	}
}

func buildObject(src tokenSource) (any, error) {
	m := make(map[string]any)
	for {
		tok, err := src.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == kindEndObject {
			return m, nil
		}
		if tok.kind != kindKey {
			return nil, io.ErrUnexpectedEOF
		}
		vt, err := src.next()
		if err != nil {
			return nil, err
		}
		v, err := build(src, vt)
		if err != nil {
			return nil, err
		}
		m[tok.str] = v
	}
}

func buildArray(src tokenSource) (any, error) {
	arr := []any{}
	for {
		tok, err := src.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == kindEndArray {
			return arr, nil
		}
		v, err := build(src, tok)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
}
