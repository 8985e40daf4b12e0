package rdf

import (
	"io"
	"sort"
	"strings"
)

// Quad is a fact: subject, predicate, object and the named graph it was
// asserted into. Graph is the zero Term for the default graph.
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

// NewQuad builds a quad with IRI subject and predicate.
func NewQuad(subject, predicate string, object Term, graph string) Quad {
	q := Quad{Subject: TermFromID(subject), Predicate: IRI(predicate), Object: object}
	if graph != "" {
		q.Graph = IRI(graph)
	}
	return q
}

// String returns the N-Quads line for q, without the trailing newline.
func (q Quad) String() string {
	var sb strings.Builder
	sb.WriteString(q.Subject.String())
	sb.WriteByte(' ')
	sb.WriteString(q.Predicate.String())
	sb.WriteByte(' ')
	sb.WriteString(q.Object.String())
	if !q.Graph.IsZero() {
		sb.WriteByte(' ')
		sb.WriteString(q.Graph.String())
	}
	sb.WriteString(" .")
	return sb.String()
}

// GraphID returns the identifier of the quad's graph, "" for the default graph.
func (q Quad) GraphID() string {
	if q.Graph.IsZero() {
		return ""
	}
	return q.Graph.ID()
}

// WriteNQuads writes one line per quad, in the given order.
func WriteNQuads(w io.Writer, quads []Quad) error {
	for _, q := range quads {
		if _, err := io.WriteString(w, q.String()+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// FactGroup is every fact sharing one subject, delivered together as the
// unit of regeneration.
type FactGroup struct {
	Subject Term
	Quads   []Quad
}

// HasType reports whether the group asserts (subject, rdf:type, typeIRI).
func (g FactGroup) HasType(typeIRI string) bool {
	return HasType(g.Subject.ID(), g.Quads, typeIRI)
}

// Objects returns the objects of every fact with the given predicate.
func (g FactGroup) Objects(predicate string) []Term {
	var out []Term
	for _, q := range g.Quads {
		if q.Predicate.Value == predicate {
			out = append(out, q.Object)
		}
	}
	return out
}

// Graphs returns the distinct graph IRIs the group's facts were asserted into.
func (g FactGroup) Graphs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, q := range g.Quads {
		id := q.GraphID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasType reports whether quads contain (subject, rdf:type, typeIRI).
func HasType(subject string, quads []Quad, typeIRI string) bool {
	for _, q := range quads {
		if q.Predicate.Value == RDFType && q.Subject.ID() == subject &&
			q.Object.IsIRI() && q.Object.Value == typeIRI {
			return true
		}
	}
	return false
}

// GraphSet is a change filter: the graphs touched by an update.
// A nil or empty set means "everything changed".
type GraphSet map[string]struct{}

func NewGraphSet(graphs ...string) GraphSet {
	s := make(GraphSet, len(graphs))
	for _, g := range graphs {
		s[g] = struct{}{}
	}
	return s
}

func (s GraphSet) Empty() bool { return len(s) == 0 }

func (s GraphSet) Contains(graph string) bool {
	_, ok := s[graph]
	return ok
}

// Touches reports whether the group must be regenerated under this filter.
func (s GraphSet) Touches(g FactGroup) bool {
	if s.Empty() {
		return true
	}
	for _, q := range g.Quads {
		if s.Contains(q.GraphID()) {
			return true
		}
	}
	return false
}

// Slice returns the graphs in sorted order.
func (s GraphSet) Slice() []string {
	out := make([]string, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}
