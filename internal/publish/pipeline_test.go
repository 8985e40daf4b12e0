package publish

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/graphsite/api"
	"github.com/agentic-research/graphsite/internal/config"
	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/store"
)

const (
	root      = "https://example.org/repo/"
	sales     = root + "id/dataset/sales"
	acme      = root + "id/org/acme"
	graphData = root + "graph/datasets"
	graphOrgs = root + "graph/orgs"
)

func fixtureQuads() []rdf.Quad {
	return []rdf.Quad{
		rdf.NewQuad(root, rdf.RDFType, rdf.IRI(rdf.VoIDDataset), ""),
		rdf.NewQuad(root, rdf.DCTermsTitle, rdf.Literal("Repository"), ""),
		rdf.NewQuad(root, rdf.VoIDSubset, rdf.IRI(sales), ""),
		rdf.NewQuad(sales, rdf.RDFType, rdf.IRI(rdf.VoIDDataset), graphData),
		rdf.NewQuad(sales, rdf.DCTermsTitle, rdf.LangLiteral("Sales", "en"), graphData),
		rdf.NewQuad(sales, rdf.DCTermsPublisher, rdf.IRI(acme), graphData),
		rdf.NewQuad(acme, rdf.RDFSLabel, rdf.Literal("ACME"), graphOrgs),
		rdf.NewQuad("https://elsewhere.example/thing", rdf.RDFSLabel, rdf.Literal("foreign"), ""),
	}
}

func testSite() *api.Site {
	site := config.DefaultConfig()
	site.Root = root
	site.DefaultTemplate = "resource.tmpl"
	site.Data = []api.Mapping{{Base: root, Dir: "data"}}
	site.Pages = []api.Mapping{{Base: root, Dir: "page"}}
	site.Selectors = []api.Selector{{Type: "void:Dataset", Template: "dataset.tmpl"}}
	site.Aggregate = &api.Aggregate{Dump: "data/repository.nq", Overview: "index.html"}
	return site
}

func templatesFS(t *testing.T) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "dataset.tmpl",
		[]byte(`<h1>dataset {{.Resource}}</h1><p>{{len .Outgoing}} facts</p>`), 0o644))
	require.NoError(t, util.WriteFile(fs, "resource.tmpl",
		[]byte(`<h1>{{.Resource}}</h1>{{range .Incoming}}<p>{{.Subject}}</p>{{end}}`), 0o644))
	return fs
}

func readFile(t *testing.T, fs billy.Filesystem, path string) string {
	t.Helper()
	data, err := util.ReadFile(fs, path)
	require.NoError(t, err, path)
	return string(data)
}

func countLines(s string) int {
	return strings.Count(strings.TrimSpace(s), "\n") + 1
}

func TestRunEndToEnd(t *testing.T) {
	out := memfs.New()
	metrics := NewMetrics()
	p, err := New(testSite(), store.NewMemoryStore(fixtureQuads()...), out,
		WithTemplates(templatesFS(t)), WithMetrics(metrics))
	require.NoError(t, err)

	rep, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.NoError(t, rep.DumpErr)
	assert.NoError(t, rep.Writer.Err())

	assert.Equal(t, 3, rep.Writer.Processed)
	assert.Equal(t, 3, rep.Writer.DataWritten)
	assert.Equal(t, 3, rep.Writer.PagesWritten)
	assert.Equal(t, 1, rep.Writer.SkippedUnmappable)

	assert.Equal(t, 3, countLines(readFile(t, out, "data/id/dataset/sales.nq")))
	assert.Contains(t, readFile(t, out, "page/id/dataset/sales.html"), "<h1>dataset "+sales+"</h1><p>3 facts</p>")
	assert.Contains(t, readFile(t, out, "page/id/org/acme.html"), "<p>"+sales+"</p>")
	assert.Equal(t, 3, countLines(readFile(t, out, "data/index.nq")))
	assert.Contains(t, readFile(t, out, "page/index.html"), "dataset "+root)

	// root plus its one subset
	assert.Equal(t, 6, countLines(readFile(t, out, "data/repository.nq")))
	assert.Contains(t, readFile(t, out, "index.html"), "dataset "+root)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.processed))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.written.WithLabelValues("data")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.written.WithLabelValues("page")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.written.WithLabelValues(ArtifactDump)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.written.WithLabelValues(ArtifactOverview)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.skipped.WithLabelValues("unmappable")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))
}

func TestRunChangeScoped(t *testing.T) {
	out := memfs.New()
	p, err := New(testSite(), store.NewMemoryStore(fixtureQuads()...), out, WithTemplates(templatesFS(t)))
	require.NoError(t, err)

	rep, err := p.Run(context.Background(), rdf.NewGraphSet(graphOrgs))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Writer.Processed)

	_, err = out.Stat("data/id/org/acme.nq")
	assert.NoError(t, err)
	_, err = out.Stat("data/id/dataset/sales.nq")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunWithSQLite(t *testing.T) {
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Load(context.Background(), fixtureQuads()))

	out := memfs.New()
	p, err := New(testSite(), st, out, WithTemplates(templatesFS(t)))
	require.NoError(t, err)

	rep, err := p.Run(context.Background(), rdf.NewGraphSet(graphData))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Writer.Processed)
	assert.Equal(t, 3, countLines(readFile(t, out, "data/id/dataset/sales.nq")))
	assert.Contains(t, readFile(t, out, "page/id/dataset/sales.html"), "3 facts")
}

func TestRunWithoutPages(t *testing.T) {
	site := testSite()
	site.Pages = nil
	site.Aggregate = &api.Aggregate{Dump: "repository.nq"}

	out := memfs.New()
	p, err := New(site, store.NewMemoryStore(fixtureQuads()...), out, WithTemplates(memfs.New()))
	require.NoError(t, err)

	rep, err := p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Writer.DataWritten)
	assert.Zero(t, rep.Writer.PagesWritten)
	_, err = out.Stat("page")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, 6, countLines(readFile(t, out, "repository.nq")))
}

func TestRunMissingTemplateIsReported(t *testing.T) {
	out := memfs.New()
	metrics := NewMetrics()
	p, err := New(testSite(), store.NewMemoryStore(fixtureQuads()...), out,
		WithTemplates(memfs.New()), WithMetrics(metrics))
	require.NoError(t, err)

	rep, err := p.Run(context.Background(), nil)
	require.NoError(t, err, "page failures do not stop the pass")
	assert.Equal(t, 3, rep.Writer.DataWritten)
	assert.Len(t, rep.Writer.Failures, 3)
	assert.Error(t, rep.Writer.Err())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.failures.WithLabelValues("page")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues(ArtifactOverview)))

	_, err = out.Stat("index.html")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunStaleOverviewIsNotCountedAsWritten(t *testing.T) {
	out := memfs.New()
	require.NoError(t, util.WriteFile(out, "index.html", []byte("old"), 0o644))
	metrics := NewMetrics()
	p, err := New(testSite(), store.NewMemoryStore(fixtureQuads()...), out,
		WithTemplates(memfs.New()), WithMetrics(metrics))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.written.WithLabelValues(ArtifactOverview)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues(ArtifactOverview)))
	assert.Equal(t, "old", readFile(t, out, "index.html"))
}

func TestRunCancelled(t *testing.T) {
	p, err := New(testSite(), store.NewMemoryStore(fixtureQuads()...), memfs.New(), WithTemplates(templatesFS(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadSelector(t *testing.T) {
	site := testSite()
	site.Selectors = []api.Selector{{JSONPath: "$[?(@.x == ", Template: "x.tmpl"}}
	_, err := New(site, store.NewMemoryStore(), memfs.New(), WithTemplates(memfs.New()))
	assert.ErrorContains(t, err, "selector[0]")
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Processed()
	m.Written("data")
	m.Skipped("filtered")

	path := filepath.Join(t.TempDir(), "graphsite.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `graphsite_written_total{artifact="data"} 1`)
	assert.Contains(t, string(data), `graphsite_skipped_total{reason="filtered"} 1`)
	assert.Contains(t, string(data), "graphsite_resources_processed_total 1")
}
