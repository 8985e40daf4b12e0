// Package render turns a resource's facts into an HTML document.
//
// The template for a resource is chosen by an ordered selector chain; the
// first selector returning a name wins, otherwise the default template is
// used. Templates are compiled on first use and cached by name for the
// lifetime of the Engine.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"maps"
	"sync"

	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/store"
)

// ErrNoTemplate means no selector matched and no default template is set.
var ErrNoTemplate = errors.New("no template for resource")

// Options configure an Engine.
type Options struct {
	Source    Source
	Selectors []Selector
	// Default is used when no selector matches. Empty means such resources
	// fail with ErrNoTemplate.
	Default string
	// Namespaces are merged over rdf.DefaultPrefixes.
	Namespaces map[string]string
	// Lookup backs Context.Nested. Nil disables nested lookups.
	Lookup store.Lookup
	// Funcs are added after the built-in functions and may override them.
	Funcs template.FuncMap
}

// Engine resolves, compiles and executes page templates.
type Engine struct {
	opts     Options
	prefixes map[string]string
	funcs    template.FuncMap

	mu    sync.Mutex
	cache map[string]*template.Template
}

func NewEngine(opts Options) *Engine {
	prefixes := rdf.DefaultPrefixes()
	maps.Copy(prefixes, opts.Namespaces)

	e := &Engine{
		opts:     opts,
		prefixes: prefixes,
		cache:    make(map[string]*template.Template),
	}
	e.funcs = funcMap(prefixes)
	maps.Copy(e.funcs, opts.Funcs)
	return e
}

// Prefixes returns the effective namespace table.
func (e *Engine) Prefixes() map[string]string { return maps.Clone(e.prefixes) }

// Resolve returns the template name for a resource.
func (e *Engine) Resolve(resource string, outgoing []rdf.Quad) (string, error) {
	for _, s := range e.opts.Selectors {
		if name := s.Select(resource, outgoing); name != "" {
			return name, nil
		}
	}
	if e.opts.Default != "" {
		return e.opts.Default, nil
	}
	return "", fmt.Errorf("%s: %w", resource, ErrNoTemplate)
}

// Render resolves, compiles (or reuses) and executes the template for a
// resource. A panic raised while executing the template is returned as an
// error.
func (e *Engine) Render(resource string, outgoing, incoming []rdf.Quad, extra map[string]any) (out string, err error) {
	name, err := e.Resolve(resource, outgoing)
	if err != nil {
		return "", err
	}
	tmpl, err := e.template(name)
	if err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			out, err = "", fmt.Errorf("template %s panicked: %v", name, r)
		}
	}()

	ctx := newContext(resource, outgoing, incoming, extra, e.prefixes, e.opts.Lookup)
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// ClearCache drops every compiled template so the next Render re-reads
// and re-parses from the Source.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.cache)
}

func (e *Engine) template(name string) (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.cache[name]; ok {
		return t, nil
	}
	if e.opts.Source == nil {
		return nil, fmt.Errorf("read template %s: no template source configured", name)
	}
	src, err := e.opts.Source.Read(name)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	t, err := template.New(name).Funcs(e.funcs).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	e.cache[name] = t
	return t, nil
}
