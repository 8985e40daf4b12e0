package render

import (
	"errors"
	"fmt"
	"sync"

	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/agentic-research/graphsite/internal/store"
)

// Namespace is an IRI prefix. In templates: {{.NS.dcterms.Term "title"}}.
type Namespace string

func (n Namespace) Term(local string) string { return string(n) + local }

func (n Namespace) String() string { return string(n) }

// Context is the value a template executes against.
type Context struct {
	Resource string
	Outgoing []Fact
	Incoming []Fact
	Extra    map[string]any
	NS       map[string]Namespace

	prefixes map[string]string
	lookup   store.Lookup

	mu     sync.Mutex
	nested map[string][]Fact
}

func newContext(resource string, outgoing, incoming []rdf.Quad, extra map[string]any,
	prefixes map[string]string, lookup store.Lookup,
) *Context {
	c := &Context{
		Resource: resource,
		Extra:    extra,
		NS:       make(map[string]Namespace, len(prefixes)),
		prefixes: prefixes,
		lookup:   lookup,
		nested:   make(map[string][]Fact),
	}
	if c.Extra == nil {
		c.Extra = map[string]any{}
	}
	for p, ns := range prefixes {
		c.NS[p] = Namespace(ns)
	}
	c.Outgoing = c.facts(outgoing)
	c.Incoming = c.facts(incoming)
	return c
}

func (c *Context) facts(quads []rdf.Quad) []Fact {
	out := make([]Fact, len(quads))
	for i, q := range quads {
		out[i] = Fact{quad: q, ctx: c}
	}
	return out
}

// Nested returns the facts whose subject is id, fetched on first use and
// memoized for the lifetime of this context. Nested facts carry no context
// of their own, so traversal stops after one hop. A resource with no facts
// yields an empty list.
func (c *Context) Nested(id string) ([]Fact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if facts, ok := c.nested[id]; ok {
		return facts, nil
	}
	if c.lookup == nil {
		return nil, nil
	}
	g, err := c.lookup.Group(id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("nested facts of %s: %w", id, err)
	}
	facts := make([]Fact, len(g.Quads))
	for i, q := range g.Quads {
		facts[i] = Fact{quad: q}
	}
	c.nested[id] = facts
	return facts, nil
}

// Values returns the object values of outgoing facts with the given
// predicate, which may be a full IRI or a CURIE.
func (c *Context) Values(predicate string) []string {
	pred := rdf.Expand(predicate, c.prefixes)
	var out []string
	for _, f := range c.Outgoing {
		if f.quad.Predicate.Value == pred {
			out = append(out, f.quad.Object.Value)
		}
	}
	return out
}

// First returns the first value of predicate, or "".
func (c *Context) First(predicate string) string {
	if vals := c.Values(predicate); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Types returns the rdf:type IRIs of the resource.
func (c *Context) Types() []string { return c.Values(rdf.RDFType) }

// JSON returns the resource's generic JSON projection, for use with jsonpath.
func (c *Context) JSON() map[string]any {
	quads := make([]rdf.Quad, len(c.Outgoing))
	for i, f := range c.Outgoing {
		quads[i] = f.quad
	}
	return Project(c.Resource, quads)
}

// Fact wraps a quad with the accessors templates use.
type Fact struct {
	quad rdf.Quad
	ctx  *Context // nil for nested facts
}

func (f Fact) Quad() rdf.Quad { return f.quad }

func (f Fact) Subject() string   { return f.quad.Subject.ID() }
func (f Fact) Predicate() string { return f.quad.Predicate.Value }
func (f Fact) Graph() string     { return f.quad.GraphID() }

// Object returns the object's identifier, or the lexical form for literals.
func (f Fact) Object() string {
	if f.quad.Object.IsLiteral() {
		return f.quad.Object.Value
	}
	return f.quad.Object.ID()
}

func (f Fact) SubjectKind() string   { return f.quad.Subject.Kind.String() }
func (f Fact) PredicateKind() string { return f.quad.Predicate.Kind.String() }
func (f Fact) ObjectKind() string    { return f.quad.Object.Kind.String() }

func (f Fact) IsIRI() bool     { return f.quad.Object.IsIRI() }
func (f Fact) IsBlank() bool   { return f.quad.Object.IsBlank() }
func (f Fact) IsLiteral() bool { return f.quad.Object.IsLiteral() }

// Value is the object's IRI, blank label, or lexical form.
func (f Fact) Value() string { return f.quad.Object.Value }

// Datatype is nil unless the object is a literal with an explicit datatype.
func (f Fact) Datatype() *string {
	if !f.quad.Object.IsLiteral() || f.quad.Object.Datatype == "" {
		return nil
	}
	dt := f.quad.Object.Datatype
	return &dt
}

// Lang is nil unless the object is a language-tagged literal.
func (f Fact) Lang() *string {
	if !f.quad.Object.IsLiteral() || f.quad.Object.Lang == "" {
		return nil
	}
	lang := f.quad.Object.Lang
	return &lang
}

// Nested returns the facts of the object resource. It is empty for
// literals and for facts that were themselves reached through Nested.
func (f Fact) Nested() ([]Fact, error) {
	if f.ctx == nil || !f.quad.Object.IsResource() {
		return nil, nil
	}
	return f.ctx.Nested(f.quad.Object.ID())
}

// String renders the fact as an N-Quads line.
func (f Fact) String() string { return f.quad.String() }
