package commands_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/christopherhwood/plank/internal/commands"
	"github.com/christopherhwood/plank/location"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := commands.RootCmd()
	root.AddCommand(commands.ResolveCmd(), commands.GraphCmd())
	var out, stderr bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
	return dir
}

func fileLoc(t *testing.T, dir, name string) string {
	t.Helper()
	l, err := location.FromPath(filepath.Join(dir, name))
	require.NoError(t, err)
	return l.String()
}

var userSchemas = map[string]string{
	"user.json": `{
		"title": "User",
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"home": {"$ref": "address.yaml"},
			"work": {"$ref": "address.yaml"},
			"friends": {"type": "array", "items": {"$ref": "#"}}
		}
	}`,
	"address.yaml": "title: Address\ntype: object\nproperties:\n  street: {type: string}\n",
}

func TestResolveJSON(t *testing.T) {
	dir := writeFiles(t, userSchemas)

	out, err := run(t, "resolve", "-o", "json", filepath.Join(dir, "user.json"))
	require.NoError(t, err)

	var rep struct {
		Documents []struct {
			Location   string   `json:"location"`
			Title      string   `json:"title"`
			Types      []string `json:"types"`
			Properties int      `json:"properties"`
			References []string `json:"references"`
		} `json:"documents"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.Documents, 2)

	byTitle := map[string]int{}
	for i, d := range rep.Documents {
		byTitle[d.Title] = i
	}
	user := rep.Documents[byTitle["User"]]
	assert.Equal(t, fileLoc(t, dir, "user.json"), user.Location)
	assert.Equal(t, 4, user.Properties)
	assert.Equal(t, []string{"object"}, user.Types)
	assert.ElementsMatch(t, []string{fileLoc(t, dir, "address.yaml"), fileLoc(t, dir, "user.json")}, user.References)

	addr := rep.Documents[byTitle["Address"]]
	assert.Equal(t, 1, addr.Properties)
	assert.Empty(t, addr.References)
}

func TestResolveText(t *testing.T) {
	dir := writeFiles(t, userSchemas)

	out, err := run(t, "resolve", filepath.Join(dir, "user.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "LOCATION")
	assert.Contains(t, out, "User")
	assert.Contains(t, out, fileLoc(t, dir, "address.yaml"))
	assert.Contains(t, out, "2 document(s)")
}

func TestResolveYAML(t *testing.T) {
	dir := writeFiles(t, userSchemas)

	out, err := run(t, "resolve", "--output=yaml", filepath.Join(dir, "address.yaml"))
	require.NoError(t, err)

	var rep map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	docs, ok := rep["documents"].([]any)
	require.True(t, ok)
	assert.Len(t, docs, 1)
}

func TestResolveMissingDocument(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.json": `{"$ref": "missing.json"}`,
	})
	_, err := run(t, "resolve", filepath.Join(dir, "a.json"))
	assert.Error(t, err)
}

func TestResolveCheckRefs(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.json": `{"properties": {"x": {"$ref": "#/$defs/missing"}}}`,
	})

	_, err := run(t, "resolve", filepath.Join(dir, "a.json"))
	require.NoError(t, err)

	out, err := run(t, "resolve", "--check-refs", filepath.Join(dir, "a.json"))
	require.Error(t, err)
	assert.Contains(t, out, "dangling: /properties/x")
}

func TestResolveMetaSchema(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"bad.json": `{"type": "strnig"}`,
	})

	_, err := run(t, "resolve", filepath.Join(dir, "bad.json"))
	require.NoError(t, err)

	_, err = run(t, "resolve", "--metaschema", filepath.Join(dir, "bad.json"))
	assert.Error(t, err)
}

func TestResolveRejectCycles(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.json": `{"properties": {"b": {"$ref": "b.json"}}}`,
		"b.json": `{"properties": {"a": {"$ref": "a.json"}}}`,
	})

	_, err := run(t, "resolve", filepath.Join(dir, "a.json"))
	require.NoError(t, err)

	_, err = run(t, "resolve", "--reject-cycles", filepath.Join(dir, "a.json"))
	assert.Error(t, err)
}

func TestResolveInvalidOutput(t *testing.T) {
	dir := writeFiles(t, userSchemas)
	_, err := run(t, "resolve", "-o", "xml", filepath.Join(dir, "user.json"))
	assert.ErrorContains(t, err, "invalid output")
}

func TestGraph(t *testing.T) {
	dir := writeFiles(t, userSchemas)
	user := fileLoc(t, dir, "user.json")
	addr := fileLoc(t, dir, "address.yaml")

	out, err := run(t, "graph", filepath.Join(dir, "user.json"))
	require.NoError(t, err)
	assert.Contains(t, out, user+"#/properties/home -> "+addr+"\n")
	assert.Contains(t, out, user+"#/properties/work -> "+addr+"\n")
	assert.Contains(t, out, user+"#/properties/friends/items -> "+user+"\n")
}

func TestGraphJSON(t *testing.T) {
	dir := writeFiles(t, userSchemas)

	out, err := run(t, "graph", "-o", "json", filepath.Join(dir, "address.yaml"))
	require.NoError(t, err)

	var g struct {
		Edges []map[string]string `json:"edges"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Empty(t, g.Edges)
}
