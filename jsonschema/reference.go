package jsonschema

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/christopherhwood/plank/location"
)

// ErrUnresolvedFragment reports a $ref whose fragment names nothing in the
// target document.
var ErrUnresolvedFragment = errors.New("unresolved fragment")

// Reference is a bound $ref.
type Reference struct {
	// Raw is the reference as written in the document.
	Raw string
	// To is the resolved target: canonical document location and fragment.
	To location.Reference

	doc  *Schema
	from *Schema
}

// Source returns the schema holding the $ref.
func (r *Reference) Source() *Schema { return r.from }

// Document returns the root schema of the referenced document.
func (r *Reference) Document() *Schema { return r.doc }

func (r *Reference) String() string { return r.To.String() }

// Target returns the referenced schema. The fragment is looked up lazily in
// the typed tree of the target document, so it is only valid once the
// resolution that produced r has completed.
func (r *Reference) Target() (*Schema, error) {
	if r.doc == nil {
		return nil, fmt.Errorf("%w: %s: document not bound", ErrUnresolvedFragment, r.To)
	}
	if a := r.To.Anchor(); a != "" {
		s, ok := r.doc.anchors[a]
		if !ok {
			return nil, fmt.Errorf("%w: %s: no anchor %q", ErrUnresolvedFragment, r.To, a)
		}
		return s, nil
	}
	tokens, err := location.SplitPointer(r.To.Fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnresolvedFragment, r.To, err)
	}
	s := r.doc
	for i := 0; i < len(tokens); i++ {
		next, used, err := step(s, tokens[i:])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnresolvedFragment, r.To, err)
		}
		s = next
		i += used - 1
	}
	return s, nil
}

// step follows one keyword (and its key or index) from s.
func step(s *Schema, tokens []string) (*Schema, int, error) {
	kw := tokens[0]
	single := func(x *Schema) (*Schema, int, error) {
		if x == nil {
			return nil, 0, fmt.Errorf("no %s", kw)
		}
		return x, 1, nil
	}
	keyed := func(m map[string]*Schema) (*Schema, int, error) {
		if len(tokens) < 2 {
			return nil, 0, fmt.Errorf("%s needs a name", kw)
		}
		x, ok := m[tokens[1]]
		if !ok {
			return nil, 0, fmt.Errorf("no %s/%s", kw, tokens[1])
		}
		return x, 2, nil
	}
	indexed := func(xs []*Schema) (*Schema, int, error) {
		if len(tokens) < 2 {
			return nil, 0, fmt.Errorf("%s needs an index", kw)
		}
		i, err := strconv.Atoi(tokens[1])
		if err != nil || i < 0 || i >= len(xs) {
			return nil, 0, fmt.Errorf("no %s/%s", kw, tokens[1])
		}
		return xs[i], 2, nil
	}

	switch kw {
	case "$defs":
		return keyed(s.Defs)
	case "definitions":
		return keyed(s.Definitions)
	case "properties":
		return keyed(s.Properties)
	case "patternProperties":
		return keyed(s.PatternProperties)
	case "additionalProperties":
		return single(s.AdditionalProperties)
	case "items":
		// items as an array (draft 2019-09 and earlier) is kept as PrefixItems
		if len(s.PrefixItems) > 0 && len(tokens) > 1 {
			if _, err := strconv.Atoi(tokens[1]); err == nil {
				return indexed(s.PrefixItems)
			}
		}
		return single(s.Items)
	case "additionalItems":
		if len(s.PrefixItems) == 0 {
			return nil, 0, fmt.Errorf("no %s", kw)
		}
		return single(s.Items)
	case "prefixItems":
		return indexed(s.PrefixItems)
	case "oneOf":
		return indexed(s.OneOf)
	case "anyOf":
		return indexed(s.AnyOf)
	case "allOf":
		return indexed(s.AllOf)
	case "not":
		return single(s.Not)
	case "if":
		return single(s.If)
	case "then":
		return single(s.Then)
	case "else":
		return single(s.Else)
	case "contains":
		return single(s.Contains)
	case "dependentSchemas":
		return keyed(s.DependentSchemas)
	}
	return nil, 0, fmt.Errorf("unsupported keyword %q in pointer", kw)
}
