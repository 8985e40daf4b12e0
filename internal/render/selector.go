package render

import (
	"fmt"
	"net/url"

	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/ohler55/ojg/jp"
)

// Selector inspects a resource and its outgoing facts and names the
// template to render it with, or returns "" to pass.
type Selector interface {
	Select(resource string, outgoing []rdf.Quad) string
}

// SelectorFunc adapts a plain function to Selector.
type SelectorFunc func(resource string, outgoing []rdf.Quad) string

func (f SelectorFunc) Select(resource string, outgoing []rdf.Quad) string {
	return f(resource, outgoing)
}

// ByType matches resources that assert rdf:type Type.
type ByType struct {
	Type     string
	Template string
}

func (s ByType) Select(resource string, outgoing []rdf.Quad) string {
	if rdf.HasType(resource, outgoing, s.Type) {
		return s.Template
	}
	return ""
}

// ByPattern matches the path component of the resource IRI against a
// doublestar glob, e.g. "/repo/id/dataset/*".
type ByPattern struct {
	Pattern  string
	Template string
}

func (s ByPattern) Select(resource string, _ []rdf.Quad) string {
	u, err := url.Parse(resource)
	if err != nil || u.Path == "" {
		return ""
	}
	if ok, _ := doublestar.Match(s.Pattern, u.Path); ok {
		return s.Template
	}
	return ""
}

// ByJSONPath matches when a JSONPath expression over the resource's JSON
// projection (see Project) yields at least one value.
type ByJSONPath struct {
	Expr     jp.Expr
	Template string
}

func NewByJSONPath(expr, template string) (*ByJSONPath, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	return &ByJSONPath{Expr: x, Template: template}, nil
}

func (s *ByJSONPath) Select(resource string, outgoing []rdf.Quad) string {
	if len(s.Expr.Get(Project(resource, outgoing))) > 0 {
		return s.Template
	}
	return ""
}

// Project builds the generic JSON view of a resource used by JSONPath
// selectors and the jsonpath template function:
//
//	{"id": ..., "types": [...], "props": {pred: [values]}, "facts": [{p, o, kind, datatype, lang, g}]}
func Project(resource string, outgoing []rdf.Quad) map[string]any {
	types := []any{}
	facts := []any{}
	props := map[string]any{}
	for _, q := range outgoing {
		pred := q.Predicate.Value
		if pred == rdf.RDFType && q.Object.IsIRI() {
			types = append(types, q.Object.Value)
		}
		vals, _ := props[pred].([]any)
		props[pred] = append(vals, q.Object.Value)
		facts = append(facts, map[string]any{
			"p":        pred,
			"o":        q.Object.Value,
			"kind":     q.Object.Kind.String(),
			"datatype": q.Object.Datatype,
			"lang":     q.Object.Lang,
			"g":        q.GraphID(),
		})
	}
	return map[string]any{
		"id":    resource,
		"types": types,
		"props": props,
		"facts": facts,
	}
}
