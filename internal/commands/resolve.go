package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/christopherhwood/plank"
	"github.com/christopherhwood/plank/internal/config"
	"github.com/christopherhwood/plank/jsonschema"
	"github.com/christopherhwood/plank/metaschema"
)

// ResolveCmd resolves schemas and reports every document they pull in
func ResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve LOCATION...",
		Short: "Resolve schemas and everything they reference",
		Long: `Resolve loads each LOCATION (a path, file://, http(s):// or s3:// URL),
follows all $refs and prints one record per loaded document.

Examples:
  plank resolve ./schemas/user.json
  plank resolve -o json https://example.com/schemas/order.json
  plank resolve --metaschema --check-refs schemas/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), cfg)
			defer cancel()

			rep, err := runResolve(ctx, cfg, args)
			if rep != nil {
				if werr := writeOutput(cmd.OutOrStdout(), cfg.Output, rep); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().Bool("check-refs", false, "Fail when a $ref fragment names nothing in its document")
	cmd.Flags().Bool("metaschema", false, "Validate every document against its JSON Schema meta-schema")
	cmd.Flags().String("draft", metaschema.DefaultDraft, "Meta-schema for documents without $schema")
	cmd.Flags().Bool("reject-cycles", false, "Fail on documents that reference themselves while being loaded")
	cmd.Flags().Int("concurrency", 8, "Maximum number of locations resolved in parallel")

	return cmd
}

type documentRecord struct {
	Location   string   `json:"location" yaml:"location"`
	Title      string   `json:"title,omitempty" yaml:"title,omitempty"`
	Types      []string `json:"types,omitempty" yaml:"types,omitempty"`
	Properties int      `json:"properties" yaml:"properties"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`
}

type resolveReport struct {
	Documents []documentRecord `json:"documents" yaml:"documents"`
	Warnings  []string         `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Dangling  []string         `json:"dangling,omitempty" yaml:"dangling,omitempty"`
}

func runResolve(ctx context.Context, cfg *config.Config, args []string) (*resolveReport, error) {
	locs, err := parseLocations(args)
	if err != nil {
		return nil, err
	}
	l, c, err := newLoader(ctx, cfg)
	if err != nil {
		return nil, err
	}
	roots, err := l.ResolveAll(ctx, locs...)
	if err != nil {
		return nil, err
	}

	rep := &resolveReport{}
	for _, loc := range l.Locations() {
		s, _ := l.Lookup(loc)
		rep.Documents = append(rep.Documents, newDocumentRecord(s))
	}
	for _, w := range c.Warnings() {
		rep.Warnings = append(rep.Warnings, w.String())
	}

	if cfg.CheckRefs {
		seen := map[string]bool{}
		for _, root := range roots {
			iss, _ := plank.AsIssues(jsonschema.CheckReferences(root))
			for _, is := range iss {
				line := fmt.Sprintf("%s: %s", is.Path, is.Message)
				if !seen[line] {
					seen[line] = true
					rep.Dangling = append(rep.Dangling, line)
				}
			}
		}
		sort.Strings(rep.Dangling)
		if n := len(rep.Dangling); n > 0 {
			return rep, fmt.Errorf("%d dangling reference(s)", n)
		}
	}
	return rep, nil
}

func newDocumentRecord(s *jsonschema.Schema) documentRecord {
	rec := documentRecord{
		Location:   s.Location.String(),
		Title:      s.Title,
		Types:      s.Types,
		Properties: len(s.Properties),
	}
	seen := map[string]bool{}
	for _, r := range s.References() {
		t := r.String()
		if !seen[t] {
			seen[t] = true
			rec.References = append(rec.References, t)
		}
	}
	sort.Strings(rec.References)
	return rec
}

func (r *resolveReport) writeText(w io.Writer) error {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Location", "Title", "Types", "Properties", "References"})
	for _, d := range r.Documents {
		t.AppendRow(table.Row{d.Location, d.Title, joinOrDash(d.Types), d.Properties, strings.Join(d.References, "\n")})
	}
	style := table.StyleLight
	style.Options.DrawBorder = false
	t.SetStyle(style)
	t.Render()

	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for _, d := range r.Dangling {
		fmt.Fprintf(w, "dangling: %s\n", d)
	}
	_, err := fmt.Fprintf(w, "%d document(s)\n", len(r.Documents))
	return err
}
