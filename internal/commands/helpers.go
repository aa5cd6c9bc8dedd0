package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	slogcontext "github.com/veqryn/slog-context"
	"gopkg.in/yaml.v3"

	"github.com/christopherhwood/plank"
	"github.com/christopherhwood/plank/internal/config"
	"github.com/christopherhwood/plank/jsonschema"
	"github.com/christopherhwood/plank/location"
)

// newLoader builds a schema loader from the configuration.
func newLoader(ctx context.Context, cfg *config.Config) (*plank.Loader[jsonschema.Schema], *jsonschema.Converter, error) {
	opts, err := cfg.LoaderOptions(slogcontext.FromCtx(ctx))
	if err != nil {
		return nil, nil, err
	}
	l, c := jsonschema.NewLoader(opts...)
	return l, c, nil
}

// parseLocations canonicalizes command line arguments.
func parseLocations(args []string) ([]location.Location, error) {
	locs := make([]location.Location, 0, len(args))
	for _, a := range args {
		l, err := location.Parse(a)
		if err != nil {
			return nil, err
		}
		locs = append(locs, l)
	}
	return locs, nil
}

// textWriter renders a value as plain text.
type textWriter interface {
	writeText(w io.Writer) error
}

// writeOutput renders v in the requested format.
func writeOutput(w io.Writer, format string, v textWriter) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		return v.writeText(w)
	}
}

func displayFragment(loc location.Location, ptr string) string {
	if ptr == "" {
		return loc.String()
	}
	return loc.String() + "#" + ptr
}

func joinOrDash(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ", ")
}
