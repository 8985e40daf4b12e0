package writer

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/graphsite/internal/pathmap"
	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/render"
	"github.com/agentic-research/graphsite/internal/store"
)

const (
	repo  = "https://example.org/repo/"
	sales = repo + "id/dataset/sales"
	costs = repo + "id/dataset/costs"
	gA    = repo + "graph/a"
	gB    = repo + "graph/b"
)

func fixture() *store.MemoryStore {
	return store.NewMemoryStore(
		rdf.NewQuad(sales, rdf.RDFType, rdf.IRI(rdf.VoIDDataset), gA),
		rdf.NewQuad(sales, rdf.DCTermsTitle, rdf.Literal("Sales"), gA),
		rdf.NewQuad(costs, rdf.RDFType, rdf.IRI(rdf.VoIDDataset), gB),
		rdf.NewQuad(costs, rdf.DCTermsTitle, rdf.Literal("Costs"), gB),
		rdf.NewQuad(repo, rdf.VoIDSubset, rdf.IRI(sales), gA),
		rdf.NewQuad("https://elsewhere.org/x", rdf.RDFSLabel, rdf.Literal("foreign"), gA),
	)
}

func config() Config {
	return Config{
		Data:  pathmap.New(".nq", pathmap.Entry{Base: repo, Dir: "out/data"}),
		Pages: pathmap.New(".html", pathmap.Entry{Base: repo + "id/", Dir: "out/page"}),
	}
}

func engine(lookup store.Lookup) *render.Engine {
	return render.NewEngine(render.Options{
		Source:  render.MapSource{"page.tmpl": `<h1>{{.First "dcterms:title"}}</h1>{{range .Incoming}}<p>{{.Subject}}</p>{{end}}<a href="/{{.Extra.dataPath}}">data</a>`},
		Default: "page.tmpl",
		Lookup:  lookup,
	})
}

func run(t *testing.T, fs billy.Filesystem, st store.Store, cfg Config, opts ...Option) Report {
	t.Helper()
	w := New(fs, cfg, opts...)
	require.NoError(t, st.StreamGroups(context.Background(), nil, w.Write))
	return w.Report()
}

func readFile(t *testing.T, fs billy.Filesystem, path string) string {
	t.Helper()
	b, err := util.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func TestWriteDataAndPages(t *testing.T) {
	fs := memfs.New()
	st := fixture()
	rep := run(t, fs, st, config(), WithRenderer(engine(st)), WithLookup(st))

	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 3, rep.DataWritten)
	assert.Equal(t, 2, rep.PagesWritten, "the repository root has no page mapping")
	assert.Equal(t, 1, rep.SkippedUnmappable)
	assert.Empty(t, rep.Failures)
	assert.NoError(t, rep.Err())

	lines := strings.Split(strings.TrimSpace(readFile(t, fs, "out/data/id/dataset/sales.nq")), "\n")
	want := []string{
		rdf.NewQuad(sales, rdf.RDFType, rdf.IRI(rdf.VoIDDataset), gA).String(),
		rdf.NewQuad(sales, rdf.DCTermsTitle, rdf.Literal("Sales"), gA).String(),
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("sales.nq mismatch (-want +got):\n%s", diff)
	}

	assert.Contains(t, readFile(t, fs, "out/data/index.nq"), "<"+rdf.VoIDSubset+">")

	page := readFile(t, fs, "out/page/dataset/sales.html")
	assert.Contains(t, page, "<h1>Sales</h1>")
	assert.Contains(t, page, "<p>"+repo+"</p>", "incoming facts are rendered")
	assert.Contains(t, page, `href="/out/data/id/dataset/sales.nq"`)

	_, err := fs.Stat("out/page/index.html")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteIsIdempotent(t *testing.T) {
	fs := memfs.New()
	st := fixture()
	run(t, fs, st, config(), WithRenderer(engine(st)), WithLookup(st))
	first := readFile(t, fs, "out/data/id/dataset/sales.nq") + readFile(t, fs, "out/page/dataset/sales.html")

	run(t, fs, st, config(), WithRenderer(engine(st)), WithLookup(st))
	second := readFile(t, fs, "out/data/id/dataset/sales.nq") + readFile(t, fs, "out/page/dataset/sales.html")
	assert.Equal(t, first, second)
}

func TestChangeFilterLeavesOtherFilesUntouched(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "out/data/id/dataset/costs.nq", []byte("stale\n"), 0o644))

	cfg := config()
	cfg.Filter = rdf.NewGraphSet(gA)
	rep := run(t, fs, fixture(), cfg)

	assert.Equal(t, 1, rep.SkippedFiltered)
	assert.Equal(t, 2, rep.DataWritten)
	assert.Equal(t, "stale\n", readFile(t, fs, "out/data/id/dataset/costs.nq"))
	assert.Contains(t, readFile(t, fs, "out/data/id/dataset/sales.nq"), "Sales")
}

// failingFS rejects writes to one path.
type failingFS struct {
	billy.Filesystem
	failOn string
}

func (f failingFS) OpenFile(name string, flag int, perm os.FileMode) (billy.File, error) {
	if name == f.failOn && flag&os.O_CREATE != 0 {
		return nil, errors.New("disk full")
	}
	return f.Filesystem.OpenFile(name, flag, perm)
}

func TestDataFailureIsIsolated(t *testing.T) {
	fs := failingFS{Filesystem: memfs.New(), failOn: "out/data/id/dataset/sales.nq"}
	st := fixture()
	rep := run(t, fs, st, config(), WithRenderer(engine(st)))

	require.Len(t, rep.Failures, 1)
	assert.Equal(t, sales, rep.Failures[0].Subject)
	assert.Equal(t, ArtifactData, rep.Failures[0].Artifact)
	assert.Contains(t, rep.Failures[0].Error(), "disk full")
	assert.Equal(t, 2, rep.Processed, "the failed group is not counted")
	assert.Equal(t, 2, rep.DataWritten)
	assert.Equal(t, 1, rep.PagesWritten, "no page without its data file")

	_, err := fs.Stat("out/page/dataset/sales.html")
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, readFile(t, fs, "out/page/dataset/costs.html"), "Costs")

	err = rep.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

type stubRenderer func(resource string) (string, error)

func (s stubRenderer) Render(resource string, _, _ []rdf.Quad, _ map[string]any) (string, error) {
	return s(resource)
}

func TestPageFailureKeepsData(t *testing.T) {
	fs := memfs.New()
	r := stubRenderer(func(resource string) (string, error) {
		switch resource {
		case sales:
			return "", render.ErrNoTemplate
		case costs:
			panic("template blew up")
		}
		return "ok", nil
	})
	rep := run(t, fs, fixture(), config(), WithRenderer(r))

	require.Len(t, rep.Failures, 2)
	for _, f := range rep.Failures {
		assert.Equal(t, ArtifactPage, f.Artifact)
	}
	assert.ErrorIs(t, rep.Failures[0].Err, render.ErrNoTemplate)
	assert.Contains(t, rep.Failures[1].Err.Error(), "template blew up")

	assert.Equal(t, 3, rep.DataWritten)
	assert.Equal(t, 0, rep.PagesWritten)
	assert.Contains(t, readFile(t, fs, "out/data/id/dataset/sales.nq"), "Sales")
	assert.Contains(t, readFile(t, fs, "out/data/id/dataset/costs.nq"), "Costs")
}

func TestInvalidPathIsAFailure(t *testing.T) {
	fs := memfs.New()
	st := store.NewMemoryStore(rdf.NewQuad(repo+"id/%2E%2E/escape", rdf.RDFSLabel, rdf.Literal("x"), ""))
	rep := run(t, fs, st, config())

	require.Len(t, rep.Failures, 1)
	assert.ErrorIs(t, rep.Failures[0].Err, pathmap.ErrInvalidPath)
	assert.Equal(t, 0, rep.SkippedUnmappable)
}

type countingObserver struct {
	processed int
	written   map[string]int
	skipped   map[string]int
	failed    map[string]int
}

func (c *countingObserver) Processed()       { c.processed++ }
func (c *countingObserver) Written(a string) { c.written[a]++ }
func (c *countingObserver) Skipped(r string) { c.skipped[r]++ }
func (c *countingObserver) Failed(a string)  { c.failed[a]++ }

func TestProgressAndObserver(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	obs := &countingObserver{written: map[string]int{}, skipped: map[string]int{}, failed: map[string]int{}}

	cfg := config()
	cfg.ProgressEvery = 1
	cfg.Filter = rdf.NewGraphSet(gA)
	st := fixture()
	run(t, memfs.New(), st, cfg, WithLogger(logger), WithObserver(obs), WithRenderer(engine(st)))

	assert.Equal(t, 2, strings.Count(logs.String(), "msg=progress"))
	assert.Equal(t, 2, obs.processed)
	assert.Equal(t, map[string]int{ArtifactData: 2, ArtifactPage: 1}, obs.written)
	assert.Equal(t, map[string]int{ReasonUnmappable: 1, ReasonFiltered: 1}, obs.skipped)
	assert.Empty(t, obs.failed)
}

func TestReportErrNilWithoutFailures(t *testing.T) {
	assert.NoError(t, Report{Processed: 4}.Err())
}
