// Package writer materializes fact groups to disk: one N-Quads file per
// resource and, when a page mapping exists, one rendered HTML document.
//
// A pass never aborts because of a single resource. Unmappable and
// out-of-filter resources are skipped; I/O, serialization and template
// failures are logged, recorded in the Report, and the pass moves on.
package writer

import (
	"bytes"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/go-multierror"

	"github.com/agentic-research/graphsite/internal/pathmap"
	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/store"
)

// DefaultProgressEvery is the number of processed resources between
// progress log lines.
const DefaultProgressEvery = 250

// Artifact and skip reason labels, shared with metrics.
const (
	ArtifactData = "data"
	ArtifactPage = "page"

	ReasonUnmappable = "unmappable"
	ReasonFiltered   = "filtered"
)

// Renderer produces the page document for a resource.
type Renderer interface {
	Render(resource string, outgoing, incoming []rdf.Quad, extra map[string]any) (string, error)
}

// Observer is notified of every outcome, e.g. to feed metrics.
type Observer interface {
	Processed()
	Written(artifact string)
	Skipped(reason string)
	Failed(artifact string)
}

// Config selects what is written where.
type Config struct {
	// Data maps subjects to N-Quads files. Required.
	Data *pathmap.Mapper
	// Pages maps subjects to HTML documents. Nil disables pages.
	Pages *pathmap.Mapper
	// Filter restricts the pass to resources with a fact in one of these
	// graphs. Empty means every resource.
	Filter        rdf.GraphSet
	ProgressEvery int
	// Extra is passed to every page render, merged under "dataPath".
	Extra map[string]any
}

// Failure records one resource that could not be fully materialized.
type Failure struct {
	Subject  string
	Artifact string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Artifact, f.Subject, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report summarizes a pass.
type Report struct {
	Processed         int
	DataWritten       int
	PagesWritten      int
	SkippedUnmappable int
	SkippedFiltered   int
	Failures          []Failure
}

// Err aggregates every failure, or returns nil when there were none.
func (r Report) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures {
		result = multierror.Append(result, f)
	}
	return result.ErrorOrNil()
}

// Option customizes a Writer.
type Option func(*Writer)

func WithRenderer(r Renderer) Option { return func(w *Writer) { w.renderer = r } }

// WithLookup supplies incoming facts for pages.
func WithLookup(l store.Lookup) Option { return func(w *Writer) { w.lookup = l } }

func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.log = l } }

func WithObserver(o Observer) Option { return func(w *Writer) { w.obs = o } }

// Writer is the sink of a grouped store stream. It is not safe for
// concurrent use.
type Writer struct {
	fs       billy.Filesystem
	cfg      Config
	renderer Renderer
	lookup   store.Lookup
	log      *slog.Logger
	obs      Observer
	report   Report
}

func New(fs billy.Filesystem, cfg Config, opts ...Option) *Writer {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	w := &Writer{fs: fs, cfg: cfg, log: slog.Default(), obs: nopObserver{}}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Report returns a snapshot of the counters so far.
func (w *Writer) Report() Report {
	r := w.report
	r.Failures = append([]Failure(nil), w.report.Failures...)
	return r
}

// Write materializes one fact group. It always returns nil so that a store
// stream keeps going; outcomes are available from Report.
func (w *Writer) Write(g rdf.FactGroup) error {
	subject := g.Subject.ID()

	if !w.cfg.Data.CanMap(subject) {
		w.report.SkippedUnmappable++
		w.obs.Skipped(ReasonUnmappable)
		return nil
	}
	if !w.cfg.Filter.Touches(g) {
		w.report.SkippedFiltered++
		w.obs.Skipped(ReasonFiltered)
		return nil
	}

	dataPath, err := w.writeData(g)
	if err != nil {
		w.fail(subject, ArtifactData, err)
		return nil
	}
	w.report.DataWritten++
	w.obs.Written(ArtifactData)

	// a group counts as processed once its data file exists
	w.report.Processed++
	w.obs.Processed()
	if w.report.Processed%w.cfg.ProgressEvery == 0 {
		w.log.Info("progress", "processed", w.report.Processed,
			"data", w.report.DataWritten, "pages", w.report.PagesWritten,
			"failures", len(w.report.Failures))
	}

	if w.cfg.Pages == nil || w.renderer == nil || !w.cfg.Pages.CanMap(subject) {
		return nil
	}
	if err := w.writePage(g, dataPath); err != nil {
		// the quad file stays; only the page is missing
		w.fail(subject, ArtifactPage, err)
		return nil
	}
	w.report.PagesWritten++
	w.obs.Written(ArtifactPage)
	return nil
}

func (w *Writer) fail(subject, artifact string, err error) {
	w.log.Warn("resource failed", "subject", subject, "artifact", artifact, "error", err)
	w.report.Failures = append(w.report.Failures, Failure{Subject: subject, Artifact: artifact, Err: err})
	w.obs.Failed(artifact)
}

func (w *Writer) writeData(g rdf.FactGroup) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	path, err = w.cfg.Data.Resolve(g.Subject.ID())
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := rdf.WriteNQuads(&buf, g.Quads); err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}
	if err := writeFile(w.fs, path, buf.Bytes()); err != nil {
		return "", err
	}
	return path, nil
}

func (w *Writer) writePage(g rdf.FactGroup, dataPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	subject := g.Subject.ID()
	path, err := w.cfg.Pages.Resolve(subject)
	if err != nil {
		return err
	}

	var incoming []rdf.Quad
	if w.lookup != nil {
		if incoming, err = w.lookup.Incoming(subject); err != nil {
			return fmt.Errorf("incoming facts: %w", err)
		}
	}

	extra := make(map[string]any, len(w.cfg.Extra)+1)
	maps.Copy(extra, w.cfg.Extra)
	extra["dataPath"] = dataPath

	doc, err := w.renderer.Render(subject, g.Quads, incoming, extra)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return writeFile(w.fs, path, []byte(doc))
}

// writeFile creates the parent directory and overwrites path.
func writeFile(fs billy.Filesystem, path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := util.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

type nopObserver struct{}

func (nopObserver) Processed()     {}
func (nopObserver) Written(string) {}
func (nopObserver) Skipped(string) {}
func (nopObserver) Failed(string)  {}
