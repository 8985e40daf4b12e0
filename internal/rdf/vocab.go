package rdf

import "strings"

const (
	RDFNS         = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFType       = RDFNS + "type"
	RDFLangString = RDFNS + "langString"

	RDFSNS    = "http://www.w3.org/2000/01/rdf-schema#"
	RDFSLabel = RDFSNS + "label"

	XSDNS      = "http://www.w3.org/2001/XMLSchema#"
	XSDString  = XSDNS + "string"
	XSDInteger = XSDNS + "integer"
	XSDDecimal = XSDNS + "decimal"
	XSDBoolean = XSDNS + "boolean"
	XSDDate    = XSDNS + "date"

	VoIDNS      = "http://rdfs.org/ns/void#"
	VoIDDataset = VoIDNS + "Dataset"
	VoIDSubset  = VoIDNS + "subset"

	DCTermsNS        = "http://purl.org/dc/terms/"
	DCTermsTitle     = DCTermsNS + "title"
	DCTermsPublisher = DCTermsNS + "publisher"

	FOAFNS = "http://xmlns.com/foaf/0.1/"
	QBNS   = "http://purl.org/linked-data/cube#"
	DCATNS = "http://www.w3.org/ns/dcat#"
)

// DefaultPrefixes returns the namespace shorthands available to every
// template, keyed by prefix.
func DefaultPrefixes() map[string]string {
	return map[string]string{
		"rdf":     RDFNS,
		"rdfs":    RDFSNS,
		"xsd":     XSDNS,
		"void":    VoIDNS,
		"dcterms": DCTermsNS,
		"foaf":    FOAFNS,
		"qb":      QBNS,
		"dcat":    DCATNS,
	}
}

// Expand turns a "prefix:local" CURIE into a full IRI using prefixes.
// Absolute IRIs and unknown prefixes are returned unchanged.
func Expand(curie string, prefixes map[string]string) string {
	if strings.Contains(curie, "://") {
		return curie
	}
	prefix, local, ok := strings.Cut(curie, ":")
	if !ok {
		return curie
	}
	ns, ok := prefixes[prefix]
	if !ok {
		return curie
	}
	return ns + local
}

// Compact is the inverse of Expand; it picks the longest matching namespace.
func Compact(iri string, prefixes map[string]string) string {
	best, bestNS := "", ""
	for prefix, ns := range prefixes {
		if strings.HasPrefix(iri, ns) && len(ns) > len(bestNS) {
			best, bestNS = prefix, ns
		}
	}
	if bestNS == "" {
		return iri
	}
	return best + ":" + iri[len(bestNS):]
}

// LocalName returns the fragment or last path segment of an IRI.
func LocalName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}
