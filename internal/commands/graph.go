package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/christopherhwood/plank/jsonschema"
)

// GraphCmd prints the reference edges reachable from one schema
func GraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph LOCATION",
		Short: "Print the $ref edges reachable from a schema",
		Long: `Graph resolves LOCATION and prints one line per $ref:

  <document>#<pointer> -> <target document>#<fragment>`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), cfg)
			defer cancel()

			locs, err := parseLocations(args)
			if err != nil {
				return err
			}
			l, _, err := newLoader(ctx, cfg)
			if err != nil {
				return err
			}
			root, err := l.Resolve(ctx, locs[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), cfg.Output, newGraph(root))
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	return cmd
}

type edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type graph struct {
	Edges []edge `json:"edges" yaml:"edges"`
}

func newGraph(root *jsonschema.Schema) *graph {
	g := &graph{Edges: []edge{}}
	for _, doc := range jsonschema.Documents(root) {
		for _, r := range doc.References() {
			src := r.Source()
			g.Edges = append(g.Edges, edge{
				From: displayFragment(src.Location, src.Pointer),
				To:   r.String(),
			})
		}
	}
	return g
}

func (g *graph) writeText(w io.Writer) error {
	for _, e := range g.Edges {
		if _, err := fmt.Fprintf(w, "%s -> %s\n", e.From, e.To); err != nil {
			return err
		}
	}
	return nil
}
