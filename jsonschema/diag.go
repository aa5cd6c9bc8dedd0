package jsonschema

import (
	"context"
	"fmt"
	"slices"
	"sync"

	slogcontext "github.com/veqryn/slog-context"

	"github.com/christopherhwood/plank"
	"github.com/christopherhwood/plank/location"
)

// Warning is a non-fatal finding produced during conversion.
type Warning struct {
	Location location.Location
	Pointer  string
	Message  string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s#%s: %s", w.Location, displayPointer(w.Pointer), w.Message)
}

// Diag carries non-fatal warnings produced during conversion.
type Diag interface {
	HasWarnings() bool
	Warnings() []Warning
}

// Converter converts decoded documents into Schema values. The zero value is
// ready to use and safe for concurrent conversions.
type Converter struct {
	// Strict turns warnings (unknown keywords, ignored $ref siblings,
	// unknown types) into conversion errors.
	Strict bool
	// OnWarning, when set, is called for every warning.
	OnWarning func(Warning)

	mu       sync.Mutex
	warnings map[location.Location][]Warning
}

var _ Diag = (*Converter)(nil)

// NewLoader returns a loader for Schema values wired to a new Converter.
func NewLoader(opts ...plank.Option) (*plank.Loader[Schema], *Converter) {
	c := &Converter{}
	return plank.New(c.Convert, opts...), c
}

// HasWarnings reports whether any conversion produced warnings.
func (c *Converter) HasWarnings() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ws := range c.warnings {
		if len(ws) > 0 {
			return true
		}
	}
	return false
}

// Warnings returns the warnings of the latest conversion of every document,
// ordered by location.
func (c *Converter) Warnings() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	locs := make([]location.Location, 0, len(c.warnings))
	for l := range c.warnings {
		locs = append(locs, l)
	}
	slices.Sort(locs)
	var out []Warning
	for _, l := range locs {
		out = append(out, c.warnings[l]...)
	}
	return out
}

// reset drops the warnings of an earlier attempt to convert loc.
func (c *Converter) reset(loc location.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.warnings, loc)
}

func (c *Converter) warnf(ctx context.Context, w Warning) {
	c.mu.Lock()
	if c.warnings == nil {
		c.warnings = map[location.Location][]Warning{}
	}
	c.warnings[w.Location] = append(c.warnings[w.Location], w)
	c.mu.Unlock()

	slogcontext.FromCtx(ctx).DebugContext(ctx, "schema warning",
		"location", w.Location.String(), "pointer", w.Pointer, "message", w.Message)
	if c.OnWarning != nil {
		c.OnWarning(w)
	}
}
