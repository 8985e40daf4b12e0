package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/graphsite/internal/store"
)

const testQuads = `<https://example.org/repo/> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://rdfs.org/ns/void#Dataset> .
<https://example.org/repo/> <http://rdfs.org/ns/void#subset> <https://example.org/repo/id/dataset/sales> .
<https://example.org/repo/id/dataset/sales> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://rdfs.org/ns/void#Dataset> <https://example.org/repo/graph/sales> .
<https://example.org/repo/id/dataset/sales> <http://purl.org/dc/terms/title> "Sales"@en <https://example.org/repo/graph/sales> .
`

const testConfig = `
root      = "https://example.org/repo/"
out       = "public"
templates = "templates"

data {
  base = "https://example.org/repo/"
  dir  = "data"
}

page {
  base = "https://example.org/repo/"
  dir  = "page"
}

selector {
  type     = "void:Dataset"
  template = "dataset.tmpl"
}

aggregate {
  dump     = "data/repository.nq"
  overview = "index.html"
}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPublishCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "dataset.tmpl"),
		[]byte(`<h1>{{.Resource}}</h1>`), 0o644))
	cfg := filepath.Join(dir, "graphsite.hcl")
	require.NoError(t, os.WriteFile(cfg, []byte(testConfig), 0o644))
	input := filepath.Join(dir, "site.nq")
	require.NoError(t, os.WriteFile(input, []byte(testQuads), 0o644))
	metrics := filepath.Join(dir, "graphsite.prom")

	out, err := execute(t, "publish", "--config", cfg, "--input", input,
		"--metrics-file", metrics, "--strict", "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "2 processed, 2 data, 2 pages, 0 failed")

	for _, p := range []string{
		"data/index.nq",
		"data/id/dataset/sales.nq",
		"page/index.html",
		"page/id/dataset/sales.html",
		"data/repository.nq",
		"index.html",
	} {
		assert.FileExists(t, filepath.Join(dir, "public", p))
	}
	prom, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `graphsite_written_total{artifact="page"} 2`)
}

func TestImportCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "site.nq")
	require.NoError(t, os.WriteFile(input, []byte(testQuads), 0o644))
	db := filepath.Join(dir, "graph.db")

	_, err := execute(t, "import", "--store", db, input)
	require.NoError(t, err)

	st, err := store.OpenSQLite(db)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	graphs, err := st.Graphs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, graphs, "https://example.org/repo/graph/sales")

	g, err := st.Group("https://example.org/repo/id/dataset/sales")
	require.NoError(t, err)
	assert.Len(t, g.Quads, 2)
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("debug", "json")
	assert.NoError(t, err)
	_, err = newLogger("loud", "text")
	assert.ErrorContains(t, err, "--log-level")
	_, err = newLogger("info", "xml")
	assert.ErrorContains(t, err, "--log-format")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "graphsite ")
}

func TestGraphsCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "site.nq")
	require.NoError(t, os.WriteFile(input, []byte(testQuads), 0o644))
	db := filepath.Join(dir, "graph.db")

	_, err := execute(t, "import", "--store", db, input)
	require.NoError(t, err)

	out, err := execute(t, "graphs", "--store", db, "--members")
	require.NoError(t, err)
	assert.Contains(t, out, "(default)")
	assert.Contains(t, out, "https://example.org/repo/graph/sales")
	assert.Contains(t, out, "https://example.org/repo/id/dataset/sales")
}
