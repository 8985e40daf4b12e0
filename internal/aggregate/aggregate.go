// Package aggregate builds the repository-level outputs: a single N-Quads
// dump describing the repository, its subsets and its publishers, and the
// rendered overview page for the repository root.
package aggregate

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/store"
)

// Renderer produces the overview document.
type Renderer interface {
	Render(resource string, outgoing, incoming []rdf.Quad, extra map[string]any) (string, error)
}

// Generator writes aggregate outputs for the resource Root.
type Generator struct {
	Root     string
	Lookup   store.Lookup
	Renderer Renderer
	FS       billy.Filesystem
	// Objects of these predicates on Root are expanded one hop into the
	// dump. Defaults: void:subset and dcterms:publisher.
	SubsetPredicate    string
	PublisherPredicate string
	Logger             *slog.Logger
}

func (g *Generator) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *Generator) expandPredicates() []string {
	subset, publisher := g.SubsetPredicate, g.PublisherPredicate
	if subset == "" {
		subset = rdf.VoIDSubset
	}
	if publisher == "" {
		publisher = rdf.DCTermsPublisher
	}
	return []string{subset, publisher}
}

// Collect returns the root's facts followed by the facts of every subset and
// every publisher of the root, each quad at most once.
func (g *Generator) Collect() ([]rdf.Quad, error) {
	root, err := g.Lookup.Group(g.Root)
	if err != nil {
		return nil, fmt.Errorf("root %s: %w", g.Root, err)
	}

	seen := make(map[string]struct{})
	var out []rdf.Quad
	add := func(quads []rdf.Quad) {
		for _, q := range quads {
			key := q.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, q)
		}
	}
	add(root.Quads)

	for _, pred := range g.expandPredicates() {
		for _, obj := range root.Objects(pred) {
			if !obj.IsResource() {
				continue
			}
			related, err := g.Lookup.Group(obj.ID())
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("expand %s: %w", obj.ID(), err)
			}
			add(related.Quads)
		}
	}
	return out, nil
}

// WriteAggregateDump writes Collect's result to path, creating parent
// directories as needed.
func (g *Generator) WriteAggregateDump(path string) error {
	quads, err := g.Collect()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := rdf.WriteNQuads(&buf, quads); err != nil {
		return fmt.Errorf("serialize dump: %w", err)
	}
	if err := ensureDir(g.FS, path); err != nil {
		return err
	}
	if err := util.WriteFile(g.FS, path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write dump %s: %w", path, err)
	}
	g.logger().Info("aggregate dump written", "path", path, "quads", len(quads))
	return nil
}

// WriteOverviewDocument renders the root resource to path. It is best
// effort: failures are logged and nil is returned.
func (g *Generator) WriteOverviewDocument(path, dumpURL string) error {
	if err := g.WriteOverview(path, dumpURL); err != nil {
		g.logger().Warn("overview document not written", "root", g.Root, "path", path, "error", err)
	}
	return nil
}

// WriteOverview is WriteOverviewDocument for callers that account for the
// outcome themselves. A file left at path by an earlier run is not touched
// on failure.
func (g *Generator) WriteOverview(path, dumpURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if g.Renderer == nil {
		return errors.New("no renderer configured")
	}
	root, err := g.Lookup.Group(g.Root)
	if err != nil {
		return fmt.Errorf("root %s: %w", g.Root, err)
	}
	doc, err := g.Renderer.Render(g.Root, root.Quads, nil, map[string]any{
		"dumpLink": dumpURL,
		"filename": filepath.Base(path),
	})
	if err != nil {
		return fmt.Errorf("render overview: %w", err)
	}
	if err := ensureDir(g.FS, path); err != nil {
		return err
	}
	if err := util.WriteFile(g.FS, path, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("write overview %s: %w", path, err)
	}
	g.logger().Info("overview document written", "path", path)
	return nil
}

func ensureDir(fs billy.Filesystem, path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}
