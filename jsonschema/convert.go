package jsonschema

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/christopherhwood/plank"
	"github.com/christopherhwood/plank/location"
)

// InvalidError reports a document that is not a well-formed schema.
type InvalidError struct {
	Location location.Location
	Pointer  string
	Message  string
}

func (e *InvalidError) Error() string {
	p := e.Pointer
	if p == "" {
		p = "/"
	}
	return fmt.Sprintf("%s#%s: %s", e.Location, p, e.Message)
}

// Convert implements plank.ConvertFunc[Schema]. It fills into with the root
// schema of doc and resolves every external $ref through resolve.
func (c *Converter) Convert(ctx context.Context, doc plank.RawDocument, loc location.Location, into *Schema, resolve plank.ResolveFunc[Schema]) error {
	cv := &conversion{ctx: ctx, c: c, loc: loc, root: into, resolve: resolve}
	c.reset(loc)
	if m, ok := doc.(map[string]any); ok {
		if d, ok := m["$schema"].(string); ok {
			cv.legacy = isLegacyDraft(d)
		}
	}
	*into = Schema{anchors: map[string]*Schema{}}
	return cv.fill(into, doc, "")
}

type conversion struct {
	ctx     context.Context
	c       *Converter
	loc     location.Location
	root    *Schema
	resolve plank.ResolveFunc[Schema]
	legacy  bool // draft-07 or older: $ref siblings are ignored
}

func (cv *conversion) invalid(ptr, format string, args ...any) error {
	return &InvalidError{Location: cv.loc, Pointer: ptr, Message: fmt.Sprintf(format, args...)}
}

func (cv *conversion) warn(ptr, format string, args ...any) error {
	w := Warning{Location: cv.loc, Pointer: ptr, Message: fmt.Sprintf(format, args...)}
	if cv.c.Strict {
		return &InvalidError{Location: w.Location, Pointer: w.Pointer, Message: w.Message}
	}
	cv.c.warnf(cv.ctx, w)
	return nil
}

func (cv *conversion) fill(s *Schema, v any, ptr string) error {
	s.Location = cv.loc
	s.Pointer = ptr
	if s != cv.root {
		s.root = cv.root
	}

	var m map[string]any
	switch t := v.(type) {
	case bool:
		s.Boolean = &t
		return nil
	case map[string]any:
		m = t
	default:
		return cv.invalid(ptr, "schema must be an object or a boolean, got %s", kindOf(v))
	}

	_, hasRef := m["$ref"]
	for _, k := range sortedKeys(m) {
		val := m[k]
		p := location.JoinPointer(ptr, k)
		if hasRef && cv.legacy && !refSiblingKept[k] {
			if err := cv.warn(p, "%s next to $ref is ignored", k); err != nil {
				return err
			}
			continue
		}
		if err := cv.keyword(s, m, k, val, p); err != nil {
			return err
		}
	}
	return nil
}

// refSiblingKept lists the keywords still honoured next to $ref in draft-07
// and older documents.
var refSiblingKept = map[string]bool{
	"$ref": true, "$id": true, "id": true, "$schema": true, "$comment": true,
	"definitions": true, "$defs": true,
}

func (cv *conversion) keyword(s *Schema, node map[string]any, k string, val any, p string) error {
	var err error
	switch k {
	case "$ref":
		err = cv.bindRef(s, val, p)
	case "$id", "id":
		if k == "id" {
			if _, ok := val.(string); !ok {
				// "id" is a legal property-like keyword in some vocabularies
				return cv.other(s, k, val, p)
			}
		}
		s.ID, err = cv.str(val, p)
		if err == nil && strings.HasPrefix(s.ID, "#") && len(s.ID) > 1 {
			err = cv.anchor(s, s.ID[1:], p)
		}
	case "$schema":
		s.Draft, err = cv.str(val, p)
	case "$anchor":
		s.Anchor, err = cv.str(val, p)
		if err == nil {
			err = cv.anchor(s, s.Anchor, p)
		}
	case "$dynamicAnchor":
		var a string
		if a, err = cv.str(val, p); err == nil {
			err = cv.anchor(s, a, p)
			setKeyword(&s.Keywords, k, val)
		}
	case "title":
		s.Title, err = cv.str(val, p)
	case "description":
		s.Description, err = cv.str(val, p)
	case "type":
		s.Types, err = cv.types(val, p)
	case "format":
		s.Format, err = cv.str(val, p)
	case "default":
		s.Default = val
	case "const":
		s.Const = val
	case "enum":
		arr, ok := val.([]any)
		if !ok {
			return cv.invalid(p, "enum must be an array, got %s", kindOf(val))
		}
		s.Enum = arr
	case "properties":
		s.Properties, err = cv.schemaMap(val, p)
	case "required":
		s.Required, err = cv.strList(val, p)
	case "patternProperties":
		s.PatternProperties, err = cv.schemaMap(val, p)
	case "additionalProperties":
		s.AdditionalProperties, err = cv.schema(val, p)
	case "items":
		if arr, ok := val.([]any); ok {
			// tuple form of older drafts
			s.PrefixItems, err = cv.schemaList(arr, p)
			return err
		}
		s.Items, err = cv.schema(val, p)
	case "additionalItems":
		if _, tuple := node["items"].([]any); tuple {
			// tuple form of older drafts: the schema for the remaining items
			s.Items, err = cv.schema(val, p)
			return err
		}
		setKeyword(&s.Keywords, k, val)
	case "prefixItems":
		arr, ok := val.([]any)
		if !ok {
			return cv.invalid(p, "prefixItems must be an array, got %s", kindOf(val))
		}
		s.PrefixItems, err = cv.schemaList(arr, p)
	case "minItems":
		s.MinItems, err = cv.count(val, p)
	case "maxItems":
		s.MaxItems, err = cv.count(val, p)
	case "oneOf", "anyOf", "allOf":
		arr, ok := val.([]any)
		if !ok {
			return cv.invalid(p, "%s must be an array, got %s", k, kindOf(val))
		}
		var list []*Schema
		if list, err = cv.schemaList(arr, p); err == nil {
			switch k {
			case "oneOf":
				s.OneOf = list
			case "anyOf":
				s.AnyOf = list
			default:
				s.AllOf = list
			}
		}
	case "not":
		s.Not, err = cv.schema(val, p)
	case "if":
		s.If, err = cv.schema(val, p)
	case "then":
		s.Then, err = cv.schema(val, p)
	case "else":
		s.Else, err = cv.schema(val, p)
	case "contains":
		s.Contains, err = cv.schema(val, p)
	case "dependentSchemas":
		s.DependentSchemas, err = cv.schemaMap(val, p)
	case "$defs":
		s.Defs, err = cv.schemaMap(val, p)
	case "definitions":
		s.Definitions, err = cv.schemaMap(val, p)
	default:
		return cv.other(s, k, val, p)
	}
	return err
}

func (cv *conversion) other(s *Schema, k string, val any, p string) error {
	if standardKeywords[k] {
		setKeyword(&s.Keywords, k, val)
		return nil
	}
	if !strings.HasPrefix(k, "x-") {
		if err := cv.warn(p, "unknown keyword %q", k); err != nil {
			return err
		}
	}
	setKeyword(&s.Extensions, k, val)
	return nil
}

func (cv *conversion) bindRef(s *Schema, val any, p string) error {
	raw, ok := val.(string)
	if !ok {
		return cv.invalid(p, "$ref must be a string, got %s", kindOf(val))
	}
	to, err := location.Resolve(cv.loc, raw)
	if err != nil {
		return &plank.Error{Code: plank.CodeInvalidReference, Location: cv.loc, Err: fmt.Errorf("%s: %w", p, err)}
	}
	ref := &Reference{Raw: raw, To: to, from: s}
	if to.Location == cv.loc {
		ref.doc = cv.root
	} else {
		doc, err := cv.resolve(cv.ctx, to.Location)
		if err != nil {
			return err
		}
		ref.doc = doc
	}
	s.Ref = ref
	return nil
}

func (cv *conversion) anchor(s *Schema, name, p string) error {
	if name == "" {
		return cv.invalid(p, "empty anchor")
	}
	if prev, ok := cv.root.anchors[name]; ok && prev != s {
		return cv.invalid(p, "duplicate anchor %q (first at %s)", name, displayPointer(prev.Pointer))
	}
	cv.root.anchors[name] = s
	return nil
}

func (cv *conversion) schema(v any, p string) (*Schema, error) {
	s := &Schema{}
	if err := cv.fill(s, v, p); err != nil {
		return nil, err
	}
	return s, nil
}

func (cv *conversion) schemaMap(v any, p string) (map[string]*Schema, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, cv.invalid(p, "want an object of schemas, got %s", kindOf(v))
	}
	out := make(map[string]*Schema, len(m))
	for _, k := range sortedKeys(m) {
		s, err := cv.schema(m[k], location.JoinPointer(p, k))
		if err != nil {
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}

func (cv *conversion) schemaList(arr []any, p string) ([]*Schema, error) {
	out := make([]*Schema, len(arr))
	for i, v := range arr {
		s, err := cv.schema(v, location.JoinPointer(p, fmt.Sprint(i)))
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (cv *conversion) str(v any, p string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", cv.invalid(p, "want a string, got %s", kindOf(v))
	}
	return s, nil
}

func (cv *conversion) strList(v any, p string) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, cv.invalid(p, "want an array of strings, got %s", kindOf(v))
	}
	out := make([]string, len(arr))
	for i, x := range arr {
		s, ok := x.(string)
		if !ok {
			return nil, cv.invalid(location.JoinPointer(p, fmt.Sprint(i)), "want a string, got %s", kindOf(x))
		}
		out[i] = s
	}
	return out, nil
}

var jsonTypes = map[string]bool{
	"null": true, "boolean": true, "object": true, "array": true,
	"number": true, "string": true, "integer": true,
}

func (cv *conversion) types(v any, p string) ([]string, error) {
	var out []string
	switch t := v.(type) {
	case string:
		out = []string{t}
	case []any:
		var err error
		if out, err = cv.strList(t, p); err != nil {
			return nil, err
		}
	default:
		return nil, cv.invalid(p, "type must be a string or an array of strings, got %s", kindOf(v))
	}
	for _, t := range out {
		if !jsonTypes[t] {
			if err := cv.warn(p, "unknown type %q", t); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (cv *conversion) count(v any, p string) (*int, error) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			if i < 0 || i > math.MaxInt32 {
				return nil, cv.invalid(p, "want a non-negative integer, got %s", t)
			}
			n := int(i)
			return &n, nil
		}
		var err error
		if f, err = t.Float64(); err != nil {
			return nil, cv.invalid(p, "want a non-negative integer, got %s", t)
		}
	case float64:
		f = t
	case int:
		f = float64(t)
	default:
		return nil, cv.invalid(p, "want a non-negative integer, got %s", kindOf(v))
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil, cv.invalid(p, "want a non-negative integer, got %v", f)
	}
	n := int(f)
	return &n, nil
}

func setKeyword(m *map[string]any, k string, v any) {
	if *m == nil {
		*m = map[string]any{}
	}
	(*m)[k] = v
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func isLegacyDraft(uri string) bool {
	for _, d := range []string{"draft-03", "draft-04", "draft-06", "draft-07"} {
		if strings.Contains(uri, d) {
			return true
		}
	}
	return false
}

func displayPointer(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

// standardKeywords are JSON Schema (and OpenAPI) keywords kept as data in
// Schema.Keywords.
var standardKeywords = map[string]bool{
	"$comment": true, "$vocabulary": true, "$dynamicRef": true, "$recursiveRef": true, "$recursiveAnchor": true,
	"multipleOf": true, "maximum": true, "exclusiveMaximum": true, "minimum": true, "exclusiveMinimum": true,
	"maxLength": true, "minLength": true, "pattern": true,
	"uniqueItems": true, "maxContains": true, "minContains": true, "unevaluatedItems": true,
	"maxProperties": true, "minProperties": true, "dependentRequired": true, "dependencies": true,
	"propertyNames": true, "unevaluatedProperties": true,
	"contentEncoding": true, "contentMediaType": true, "contentSchema": true,
	"deprecated": true, "readOnly": true, "writeOnly": true, "examples": true,
	"nullable": true, "discriminator": true, "example": true, "externalDocs": true, "xml": true,
}
