package render

import (
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/agentic-research/graphsite/internal/rdf"
	"github.com/ohler55/ojg/jp"
)

// funcMap is sprig plus the RDF helpers:
//
//	iri "dcterms" "title"   → http://purl.org/dc/terms/title
//	curie .Resource         → prefix:local when a namespace matches
//	localName .Resource     → last path segment or fragment
//	jsonpath "$.types[*]" .JSON
//	json .Extra
func funcMap(prefixes map[string]string) template.FuncMap {
	fm := sprig.FuncMap()
	fm["iri"] = func(prefix, local string) (string, error) {
		ns, ok := prefixes[prefix]
		if !ok {
			return "", fmt.Errorf("unknown namespace prefix %q", prefix)
		}
		return ns + local, nil
	}
	fm["curie"] = func(iri string) string { return rdf.Compact(iri, prefixes) }
	fm["localName"] = rdf.LocalName
	fm["jsonpath"] = func(expr string, data any) ([]any, error) {
		x, err := jp.ParseString(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
		}
		return x.Get(data), nil
	}
	fm["json"] = func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<json error: %v>", err)
		}
		return string(b)
	}
	return fm
}
