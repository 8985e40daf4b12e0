// Package publish runs one publish cycle: stream the store through the
// writer, then regenerate the repository-level aggregate outputs.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/agentic-research/graphsite/api"
	"github.com/agentic-research/graphsite/internal/aggregate"
	"github.com/agentic-research/graphsite/internal/pathmap"
	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/render"
	"github.com/agentic-research/graphsite/internal/store"
	"github.com/agentic-research/graphsite/internal/writer"
)

// Artifact labels for the aggregate outputs.
const (
	ArtifactDump     = "dump"
	ArtifactOverview = "overview"
)

// Report is the outcome of one Run.
type Report struct {
	RunID    string
	Writer   writer.Report
	Duration time.Duration
	// DumpErr is set when the aggregate dump could not be written.
	DumpErr error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.log = l } }

func WithMetrics(m *Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithTemplates reads templates from fs instead of the Templates directory
// of the site configuration.
func WithTemplates(fs billy.Filesystem) Option { return func(p *Pipeline) { p.templates = fs } }

// Pipeline wires configuration, store, renderer and writer together.
type Pipeline struct {
	site      *api.Site
	store     store.Store
	out       billy.Filesystem
	templates billy.Filesystem
	log       *slog.Logger
	metrics   *Metrics

	data   *pathmap.Mapper
	pages  *pathmap.Mapper
	engine *render.Engine
}

// New builds a pipeline writing into out. The site must already be
// validated.
func New(site *api.Site, st store.Store, out billy.Filesystem, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{site: site, store: st, out: out, log: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	if p.templates == nil {
		p.templates = osfs.New(site.Templates)
	}

	p.data = pathmap.New(site.DataSuffix)
	for _, m := range site.Data {
		p.data.Add(m.Base, m.Dir)
	}
	if len(site.Pages) > 0 {
		p.pages = pathmap.New(site.PageSuffix)
		for _, m := range site.Pages {
			p.pages.Add(m.Base, m.Dir)
		}
	}

	engine, err := buildEngine(site, st, p.templates)
	if err != nil {
		return nil, err
	}
	p.engine = engine
	return p, nil
}

func buildEngine(site *api.Site, lookup store.Lookup, templates billy.Filesystem) (*render.Engine, error) {
	prefixes := rdf.DefaultPrefixes()
	for k, v := range site.Namespaces {
		prefixes[k] = v
	}

	selectors := make([]render.Selector, 0, len(site.Selectors))
	for i, s := range site.Selectors {
		switch {
		case s.Type != "":
			selectors = append(selectors, render.ByType{Type: rdf.Expand(s.Type, prefixes), Template: s.Template})
		case s.Pattern != "":
			selectors = append(selectors, render.ByPattern{Pattern: s.Pattern, Template: s.Template})
		case s.JSONPath != "":
			sel, err := render.NewByJSONPath(s.JSONPath, s.Template)
			if err != nil {
				return nil, fmt.Errorf("selector[%d]: %w", i, err)
			}
			selectors = append(selectors, sel)
		default:
			return nil, fmt.Errorf("selector[%d]: no condition", i)
		}
	}

	return render.NewEngine(render.Options{
		Source:     render.DirSource{FS: templates, Dir: ""},
		Selectors:  selectors,
		Default:    site.DefaultTemplate,
		Namespaces: site.Namespaces,
		Lookup:     lookup,
	}), nil
}

// Metrics returns the metrics the pipeline reports into.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// ReloadTemplates drops compiled templates so edits on disk are picked up
// by the next Run.
func (p *Pipeline) ReloadTemplates() { p.engine.ClearCache() }

// Run regenerates every resource touched by filter (all resources when the
// filter is empty) and then the aggregate outputs. The returned error is
// reserved for failures that stop the pass; per-resource and aggregate
// problems are only reported.
func (p *Pipeline) Run(ctx context.Context, filter rdf.GraphSet) (*Report, error) {
	start := time.Now()
	rep := &Report{RunID: uuid.NewString()}
	log := p.log.With("run", rep.RunID)
	log.Info("publish started", "graphs", filter.Slice())

	var opts []writer.Option
	opts = append(opts, writer.WithLookup(p.store), writer.WithLogger(log), writer.WithObserver(p.metrics))
	if p.pages != nil {
		opts = append(opts, writer.WithRenderer(p.engine))
	}
	w := writer.New(p.out, writer.Config{
		Data:          p.data,
		Pages:         p.pages,
		Filter:        filter,
		ProgressEvery: p.site.ProgressEvery,
	}, opts...)

	err := p.store.StreamGroups(ctx, filter, w.Write)
	rep.Writer = w.Report()
	if err != nil {
		rep.Duration = time.Since(start)
		return rep, fmt.Errorf("stream groups: %w", err)
	}

	if a := p.site.Aggregate; a != nil && p.site.Root != "" {
		rep.DumpErr = p.writeAggregates(log, a)
	}

	rep.Duration = time.Since(start)
	p.metrics.observeRun(rep.Duration)
	log.Info("publish finished",
		"processed", rep.Writer.Processed,
		"data", rep.Writer.DataWritten,
		"pages", rep.Writer.PagesWritten,
		"skipped_unmappable", rep.Writer.SkippedUnmappable,
		"skipped_filtered", rep.Writer.SkippedFiltered,
		"failures", len(rep.Writer.Failures),
		"duration", rep.Duration)
	return rep, nil
}

func (p *Pipeline) writeAggregates(log *slog.Logger, a *api.Aggregate) error {
	prefixes := p.engine.Prefixes()
	gen := &aggregate.Generator{
		Root:               p.site.Root,
		Lookup:             p.store,
		Renderer:           p.engine,
		FS:                 p.out,
		SubsetPredicate:    rdf.Expand(a.SubsetPredicate, prefixes),
		PublisherPredicate: rdf.Expand(a.PublisherPredicate, prefixes),
		Logger:             log,
	}

	var dumpErr error
	if a.Dump != "" {
		if dumpErr = gen.WriteAggregateDump(a.Dump); dumpErr != nil {
			log.Error("aggregate dump failed", "path", a.Dump, "error", dumpErr)
			p.metrics.Failed(ArtifactDump)
		} else {
			p.metrics.Written(ArtifactDump)
		}
	}
	if a.Overview != "" {
		dumpURL := a.DumpURL
		if dumpURL == "" {
			dumpURL = a.Dump
		}
		// best effort; the dump error alone is returned
		if err := gen.WriteOverview(a.Overview, dumpURL); err != nil {
			log.Warn("overview document not written", "root", p.site.Root, "path", a.Overview, "error", err)
			p.metrics.Failed(ArtifactOverview)
		} else {
			p.metrics.Written(ArtifactOverview)
		}
	}
	return dumpErr
}
