// Package decode turns raw schema document bytes into generic JSON-like
// values: map[string]any, []any, json.Number, string, bool and nil.
//
// JSON is decoded as a token stream (goccy/go-json) passed through an
// enforcement layer that can reject duplicate object keys, excessive nesting
// and oversized input before the value tree is built. YAML documents are
// decoded with yaml.v3 and normalized to the same value shapes, so the
// conversion layer never needs to know which syntax a document used.
package decode

import (
	"fmt"
	"strings"
)

// Decoder decodes one document.
type Decoder interface {
	Decode(data []byte) (any, error)
	Name() string
}

// Severity expresses how an enforcement finding is treated.
type Severity int

const (
	Ignore Severity = iota
	Warn
	Error
)

// Options bundles decoding limits.
type Options struct {
	// OnDuplicateKey controls duplicate object keys. With Warn the finding is
	// reported to IssueSink and the last value wins.
	OnDuplicateKey Severity
	// MaxDepth limits nesting of objects and arrays (0 = unlimited).
	MaxDepth int
	// MaxBytes limits the input size (0 = unlimited).
	MaxBytes int64
	// IssueSink receives non-fatal issues (duplicate keys under Warn).
	IssueSink func(Issue)
}

// Issue codes.
const (
	CodeParseError   = "parse_error"
	CodeDuplicateKey = "duplicate_key"
	CodeTooDeep      = "too_deep"
	CodeTruncated    = "truncated"
)

// Issue is a single decoding finding located by JSON Pointer.
type Issue struct {
	Code    string
	Path    string
	Message string
	Offset  int64 // byte offset when known, -1 otherwise
}

// IssueError is the error returned for fatal findings.
type IssueError struct {
	Issue
	Err error
}

func (e *IssueError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *IssueError) Unwrap() error { return e.Err }

func issueErr(code, path, msg string, err error) *IssueError {
	return &IssueError{Issue: Issue{Code: code, Path: path, Message: msg, Offset: -1}, Err: err}
}

func checkSize(data []byte, max int64) error {
	if max > 0 && int64(len(data)) > max {
		return issueErr(CodeTruncated, "", fmt.Sprintf("document is %d bytes, limit is %d", len(data), max), nil)
	}
	return nil
}
