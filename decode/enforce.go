package decode

import (
	"fmt"
	"strconv"

	"github.com/christopherhwood/plank/location"
)

type enforceFrame struct {
	kind         containerKind
	keys         map[string]struct{}
	expectingKey bool
	path         string
	nextIndex    int
	pendingKey   string
}

// enforcingSource applies duplicate key policy and the depth limit while
// tokens stream through, so a hostile document is rejected before its tree
// is materialized.
type enforcingSource struct {
	inner tokenSource
	opt   Options
	stack []enforceFrame
}

func enforce(inner tokenSource, opt Options) tokenSource {
	if opt.OnDuplicateKey == Ignore && opt.MaxDepth <= 0 {
		return inner
	}
	return &enforcingSource{inner: inner, opt: opt}
}

func (e *enforcingSource) next() (token, error) {
	tok, err := e.inner.next()
	if err != nil {
		return token{}, err
	}

	path := e.pathFor(tok)

	switch tok.kind {
	case kindBeginObject, kindBeginArray:
		f := enforceFrame{kind: containerArray, path: path}
		if tok.kind == kindBeginObject {
			f = enforceFrame{kind: containerObject, keys: make(map[string]struct{}), expectingKey: true, path: path}
		}
		e.stack = append(e.stack, f)
		if e.opt.MaxDepth > 0 && len(e.stack) > e.opt.MaxDepth {
			return token{}, issueErr(CodeTooDeep, displayPath(path), fmt.Sprintf("nesting exceeds %d levels", e.opt.MaxDepth), nil)
		}
	case kindEndObject, kindEndArray:
		if n := len(e.stack); n > 0 {
			e.stack = e.stack[:n-1]
		}
		e.valueDone()
	case kindKey:
		if n := len(e.stack); n > 0 {
			top := &e.stack[n-1]
			if _, dup := top.keys[tok.str]; dup && e.opt.OnDuplicateKey != Ignore {
				is := Issue{Code: CodeDuplicateKey, Path: displayPath(path), Message: "key '" + tok.str + "' duplicated", Offset: -1}
				if e.opt.OnDuplicateKey == Error {
					return token{}, &IssueError{Issue: is}
				}
				if e.opt.IssueSink != nil {
					e.opt.IssueSink(is)
				}
			}
			top.keys[tok.str] = struct{}{}
			top.expectingKey = false
			top.pendingKey = tok.str
		}
	default:
		e.valueDone()
	}
	return tok, nil
}

func (e *enforcingSource) valueDone() {
	if n := len(e.stack); n > 0 {
		top := &e.stack[n-1]
		if top.kind == containerObject && !top.expectingKey {
			top.expectingKey = true
			top.pendingKey = ""
		}
	}
}

// pathFor returns the JSON Pointer of the value a token starts (or of the
// member a key token names).
func (e *enforcingSource) pathFor(tok token) string {
	if len(e.stack) == 0 {
		return ""
	}
	top := &e.stack[len(e.stack)-1]
	switch tok.kind {
	case kindKey:
		return location.JoinPointer(top.path, tok.str)
	case kindEndObject, kindEndArray:
		return top.path
	}
	if top.kind == containerArray {
		p := location.JoinPointer(top.path, strconv.Itoa(top.nextIndex))
		top.nextIndex++
		return p
	}
	if !top.expectingKey {
		return location.JoinPointer(top.path, top.pendingKey)
	}
	return top.path
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
