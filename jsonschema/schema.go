// Package jsonschema is a typed JSON Schema model built on the plank
// engine. Converter turns decoded documents into Schema trees and binds
// every $ref to the schema of the referenced document, so a graph of
// documents is loaded once and can be navigated without further I/O.
//
// Schemas are carried as data: nothing in this package validates instances.
package jsonschema

import (
	"sort"

	"github.com/christopherhwood/plank/location"
)

// Schema is one JSON Schema, either a document root or a subschema.
type Schema struct {
	// Location of the document containing the schema and the JSON Pointer of
	// the schema inside it ("" for the root).
	Location location.Location `json:"-"`
	Pointer  string            `json:"-"`

	ID          string `json:"$id,omitempty"`
	Draft       string `json:"$schema,omitempty"`
	Anchor      string `json:"$anchor,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// Core
	Types   []string `json:"type,omitempty"`
	Format  string   `json:"format,omitempty"`
	Default any      `json:"default,omitempty"`
	Const   any      `json:"const,omitempty"`
	Enum    []any    `json:"enum,omitempty"`

	// Object
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	PatternProperties    map[string]*Schema `json:"patternProperties,omitempty"`
	AdditionalProperties *Schema            `json:"additionalProperties,omitempty"`

	// Array
	Items       *Schema   `json:"items,omitempty"`
	PrefixItems []*Schema `json:"prefixItems,omitempty"`
	MinItems    *int      `json:"minItems,omitempty"`
	MaxItems    *int      `json:"maxItems,omitempty"`

	// Composition
	OneOf []*Schema `json:"oneOf,omitempty"`
	AnyOf []*Schema `json:"anyOf,omitempty"`
	AllOf []*Schema `json:"allOf,omitempty"`
	Not   *Schema   `json:"not,omitempty"`

	// Conditional and applicator keywords
	If               *Schema            `json:"if,omitempty"`
	Then             *Schema            `json:"then,omitempty"`
	Else             *Schema            `json:"else,omitempty"`
	Contains         *Schema            `json:"contains,omitempty"`
	DependentSchemas map[string]*Schema `json:"dependentSchemas,omitempty"`

	Defs        map[string]*Schema `json:"$defs,omitempty"`
	Definitions map[string]*Schema `json:"definitions,omitempty"`

	Ref *Reference `json:"-"`

	// Boolean is set for the boolean schemas true and false.
	Boolean *bool `json:"-"`

	// Keywords holds standard keywords the model has no field for
	// (minimum, pattern, ...), Extensions holds x-* and unknown keywords.
	Keywords   map[string]any `json:"-"`
	Extensions map[string]any `json:"-"`

	root    *Schema
	anchors map[string]*Schema // set on document roots
}

// Root returns the root schema of the document containing s.
func (s *Schema) Root() *Schema {
	if s.root == nil {
		return s
	}
	return s.root
}

// IsRoot reports whether s is a document root.
func (s *Schema) IsRoot() bool { return s.root == nil || s.root == s }

// PropertyNames returns the property names in sorted order.
func (s *Schema) PropertyNames() []string { return sortedKeys(s.Properties) }

// HasType reports whether t is one of the declared types.
func (s *Schema) HasType(t string) bool {
	for _, x := range s.Types {
		if x == t {
			return true
		}
	}
	return false
}

// Anchors returns the plain-name anchors declared in the document of s.
func (s *Schema) Anchors() []string { return sortedKeys(s.Root().anchors) }

// Subschemas returns the direct subschemas of s in a stable order. $ref
// targets are not included.
func (s *Schema) Subschemas() []*Schema {
	var out []*Schema
	add := func(xs ...*Schema) {
		for _, x := range xs {
			if x != nil {
				out = append(out, x)
			}
		}
	}
	addMap := func(m map[string]*Schema) {
		for _, k := range sortedKeys(m) {
			add(m[k])
		}
	}
	addMap(s.Defs)
	addMap(s.Definitions)
	addMap(s.Properties)
	addMap(s.PatternProperties)
	add(s.AdditionalProperties, s.Items)
	add(s.PrefixItems...)
	add(s.OneOf...)
	add(s.AnyOf...)
	add(s.AllOf...)
	add(s.Not, s.If, s.Then, s.Else, s.Contains)
	addMap(s.DependentSchemas)
	return out
}

// References returns the $refs found below s within its document, in the
// order of Subschemas, without following them.
func (s *Schema) References() []*Reference {
	var out []*Reference
	var visit func(*Schema)
	visit = func(x *Schema) {
		if x.Ref != nil {
			out = append(out, x.Ref)
		}
		for _, c := range x.Subschemas() {
			visit(c)
		}
	}
	visit(s)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
