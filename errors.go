package plank

import (
	"errors"
	"fmt"
	"strings"

	"github.com/christopherhwood/plank/decode"
	"github.com/christopherhwood/plank/location"
)

// Code classifies a resolution failure.
type Code string

const (
	CodeInvalidReference  Code = "invalid_reference"
	CodeSourceUnavailable Code = "source_unavailable"
	CodeMalformedDocument Code = "malformed_document"
	CodeSchemaInvalid     Code = "schema_invalid"
	CodeCyclicResolution  Code = "cyclic_resolution"
	CodeCanceled          Code = "canceled"
)

// Sentinels for errors.Is. ErrInvalidReference is shared with the location
// package so errors returned by location.Parse match it too.
var (
	ErrInvalidReference  = location.ErrInvalidReference
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedDocument = errors.New("malformed document")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrCyclicResolution  = errors.New("cyclic resolution")
	ErrCanceled          = errors.New("resolution canceled")
)

var sentinels = map[Code]error{
	CodeInvalidReference:  ErrInvalidReference,
	CodeSourceUnavailable: ErrSourceUnavailable,
	CodeMalformedDocument: ErrMalformedDocument,
	CodeSchemaInvalid:     ErrSchemaInvalid,
	CodeCyclicResolution:  ErrCyclicResolution,
	CodeCanceled:          ErrCanceled,
}

// Error is the error type returned by Loader operations.
type Error struct {
	Code     Code
	Location location.Location // document being resolved when the failure happened; may be empty
	Err      error
}

func (e *Error) Error() string {
	b := &strings.Builder{}
	b.WriteString(string(e.Code))
	if e.Location != "" {
		fmt.Fprintf(b, " at %s", e.Location)
	}
	if e.Err != nil {
		fmt.Fprintf(b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's code.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Code]
	return ok && s == target
}

func newError(code Code, loc location.Location, err error) *Error {
	return &Error{Code: code, Location: loc, Err: err}
}

// CodeOf returns the code of the innermost *Error in err's chain, or "" when
// err carries none.
func CodeOf(err error) Code {
	var pe *Error
	if !errors.As(err, &pe) {
		return ""
	}
	for {
		var inner *Error
		if pe.Err == nil || !errors.As(pe.Err, &inner) {
			return pe.Code
		}
		pe = inner
	}
}

// Issue describes one problem inside a document.
type Issue struct {
	Path    string // JSON Pointer into the document (for example: /properties/id/type).
	Code    string
	Message string
	Offset  int64 // Byte offset in the input (-1 when unknown).
}

// Issues is a collection of document problems that implements error.
type Issues []Issue

// Error summarizes the first few issues.
func (iss Issues) Error() string {
	if len(iss) == 0 {
		return ""
	}
	const maxShown = 3
	b := &strings.Builder{}
	lim := min(len(iss), maxShown)
	for i := 0; i < lim; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		it := iss[i]
		path := it.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(b, "%s at %s", it.Code, path)
		if it.Message != "" {
			fmt.Fprintf(b, " (%s)", it.Message)
		}
	}
	if n := len(iss); n > lim {
		fmt.Fprintf(b, "; ... (total %d)", n)
	}
	return b.String()
}

// AsIssues extracts Issues from an error using errors.As internally.
func AsIssues(err error) (Issues, bool) {
	if err == nil {
		return nil, false
	}
	var iss Issues
	if errors.As(err, &iss) {
		return iss, true
	}
	return nil, false
}

// decodeIssues lifts a decoder failure into Issues, keeping the cause.
func decodeIssues(err error) error {
	var ie *decode.IssueError
	if !errors.As(err, &ie) {
		return err
	}
	iss := Issues{{Path: ie.Path, Code: ie.Code, Message: ie.Message, Offset: ie.Offset}}
	return &issuesError{iss: iss, cause: err}
}

// issuesError reports Issues while keeping the original cause reachable.
type issuesError struct {
	iss   Issues
	cause error
}

func (e *issuesError) Error() string   { return e.iss.Error() }
func (e *issuesError) Unwrap() []error { return []error{e.iss, e.cause} }
