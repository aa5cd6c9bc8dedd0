// Package metaschema checks decoded schema documents against the JSON
// Schema meta-schemas before they are converted. It plugs into the loader
// with plank.WithDocumentCheck.
package metaschema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/christopherhwood/plank"
	"github.com/christopherhwood/plank/location"
)

// Meta-schema URLs of the supported drafts.
const (
	Draft4       = "http://json-schema.org/draft-04/schema"
	Draft6       = "http://json-schema.org/draft-06/schema"
	Draft7       = "http://json-schema.org/draft-07/schema"
	Draft2019    = "https://json-schema.org/draft/2019-09/schema"
	Draft2020    = "https://json-schema.org/draft/2020-12/schema"
	DefaultDraft = Draft2020
)

// CodeViolation is the issue code of meta-schema violations.
const CodeViolation = "metaschema_violation"

var knownDrafts = map[string]bool{
	Draft4: true, Draft6: true, Draft7: true, Draft2019: true, Draft2020: true,
}

// Checker validates documents against the meta-schema named by their
// $schema, or Default when they name none (or one it does not know).
// The zero value checks against DefaultDraft. It is safe for concurrent
// use.
type Checker struct {
	Default string

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

var _ plank.DocumentCheck = (*Checker)(nil)

// New returns a checker defaulting to draft.
func New(draft string) (*Checker, error) {
	if draft == "" {
		draft = DefaultDraft
	}
	draft = normalizeDraft(draft)
	if !knownDrafts[draft] {
		return nil, fmt.Errorf("unknown meta-schema %q", draft)
	}
	return &Checker{Default: draft}, nil
}

// Check implements plank.DocumentCheck. Violations are returned as
// plank.Issues located by JSON Pointer.
func (c *Checker) Check(ctx context.Context, loc location.Location, doc plank.RawDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	draft := normalizeDraft(c.Default)
	if !knownDrafts[draft] {
		draft = DefaultDraft
	}
	if m, ok := doc.(map[string]any); ok {
		if d, ok := m["$schema"].(string); ok {
			if n := normalizeDraft(d); knownDrafts[n] {
				draft = n
			} else {
				slogcontext.FromCtx(ctx).DebugContext(ctx, "unknown $schema, using default meta-schema",
					"location", loc.String(), "schema", d, "default", c.Default)
			}
		}
	}

	meta, err := c.metaSchema(draft)
	if err != nil {
		return err
	}
	err = meta.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("validating against %s: %w", draft, err)
	}
	return issues(verr)
}

func (c *Checker) metaSchema(draft string) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compiled == nil {
		c.compiled = map[string]*jsonschema.Schema{}
	}
	if s, ok := c.compiled[draft]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	s, err := compiler.Compile(draft)
	if err != nil {
		return nil, fmt.Errorf("compiling meta-schema %s: %w", draft, err)
	}
	c.compiled[draft] = s
	return s, nil
}

// issues flattens the leaves of a validation error tree.
func issues(root *jsonschema.ValidationError) plank.Issues {
	printer := message.NewPrinter(language.English)
	var out plank.Issues
	seen := map[string]bool{}
	var visit func(*jsonschema.ValidationError)
	visit = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, cause := range e.Causes {
				visit(cause)
			}
			return
		}
		is := plank.Issue{
			Path:    location.JoinPointer("", e.InstanceLocation...),
			Code:    CodeViolation,
			Message: e.ErrorKind.LocalizedString(printer),
			Offset:  -1,
		}
		key := is.Path + "\x00" + is.Message
		if !seen[key] {
			seen[key] = true
			out = append(out, is)
		}
	}
	visit(root)
	return out
}

func normalizeDraft(uri string) string {
	uri = strings.TrimSuffix(uri, "#")
	if strings.HasPrefix(uri, "https://json-schema.org/draft-0") {
		uri = "http://" + strings.TrimPrefix(uri, "https://")
	}
	return uri
}
