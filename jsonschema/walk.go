package jsonschema

import (
	"errors"
	"fmt"

	"github.com/christopherhwood/plank"
)

// SkipChildren, returned by a Walk callback, skips the subschemas and the
// $ref target of the current schema.
var SkipChildren = errors.New("skip children")

// Walk calls fn for every schema reachable from root through subschemas
// and $refs, each exactly once, in depth-first order. Cycles are safe.
// $refs whose fragment does not resolve are not followed. Walking stops at
// the first error fn returns (other than SkipChildren).
func Walk(root *Schema, fn func(*Schema) error) error {
	if root == nil {
		return nil
	}
	seen := map[*Schema]bool{}
	var visit func(*Schema) error
	visit = func(s *Schema) error {
		if seen[s] {
			return nil
		}
		seen[s] = true
		if err := fn(s); err != nil {
			if errors.Is(err, SkipChildren) {
				return nil
			}
			return err
		}
		for _, c := range s.Subschemas() {
			if err := visit(c); err != nil {
				return err
			}
		}
		if s.Ref != nil {
			if t, err := s.Ref.Target(); err == nil {
				return visit(t)
			}
		}
		return nil
	}
	return visit(root)
}

// Documents returns the root schemas of every document reachable from root,
// starting with root's own document.
func Documents(root *Schema) []*Schema {
	var out []*Schema
	seen := map[*Schema]bool{}
	add := func(d *Schema) {
		if d != nil && !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	if root != nil {
		add(root.Root())
	}
	// documents are appended while iterating
	for i := 0; i < len(out); i++ {
		for _, r := range out[i].References() {
			add(r.Document())
		}
	}
	return out
}

// CodeDanglingReference is the issue code for $refs whose fragment names
// nothing in the target document.
const CodeDanglingReference = "dangling_reference"

// CheckReferences verifies that every $ref reachable from root resolves to a
// schema. It returns plank.Issues describing each dangling reference, or nil.
func CheckReferences(root *Schema) error {
	var iss plank.Issues
	for _, doc := range Documents(root) {
		for _, r := range doc.References() {
			if _, err := r.Target(); err != nil {
				iss = append(iss, plank.Issue{
					Path:    r.Source().Pointer,
					Code:    CodeDanglingReference,
					Message: fmt.Sprintf("in %s: %v", doc.Location, err),
					Offset:  -1,
				})
			}
		}
	}
	if len(iss) == 0 {
		return nil
	}
	return iss
}
