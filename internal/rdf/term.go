// Package rdf holds the quad data model shared by the store, the writer and
// the rendering engine, plus the canonical N-Quads term formatter.
package rdf

import (
	"fmt"
	"strings"
)

// Kind tags the variant held by a Term.
type Kind uint8

const (
	KindIRI Kind = iota + 1
	KindBlank
	KindLiteral
)

// String returns the lowercase name used by templates ("iri", "blank", "literal").
func (k Kind) String() string {
	switch k {
	case KindIRI:
		return "iri"
	case KindBlank:
		return "blank"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is a node in a quad: a named resource, an anonymous node, or a literal.
// For IRIs Value is the absolute IRI, for blank nodes it is the label without
// the "_:" prefix, and for literals it is the lexical form.
type Term struct {
	Kind     Kind
	Value    string
	Datatype string // literals only; empty means plain string
	Lang     string // literals only
}

func IRI(v string) Term { return Term{Kind: KindIRI, Value: v} }

func Blank(label string) Term { return Term{Kind: KindBlank, Value: strings.TrimPrefix(label, "_:")} }

func Literal(v string) Term { return Term{Kind: KindLiteral, Value: v} }

func TypedLiteral(v, datatype string) Term {
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

func LangLiteral(v, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: lang}
}

// IsZero reports whether t is the zero Term (used for the default graph).
func (t Term) IsZero() bool { return t.Kind == 0 }

func (t Term) IsIRI() bool     { return t.Kind == KindIRI }
func (t Term) IsBlank() bool   { return t.Kind == KindBlank }
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// IsResource reports whether t names something that can have its own facts.
func (t Term) IsResource() bool { return t.Kind == KindIRI || t.Kind == KindBlank }

// ID returns the identifier used to look a resource up in a store:
// the IRI itself, or "_:label" for blank nodes. Literals return their
// N-Quads form.
func (t Term) ID() string {
	switch t.Kind {
	case KindIRI:
		return t.Value
	case KindBlank:
		return "_:" + t.Value
	default:
		return t.String()
	}
}

// TermFromID is the inverse of ID for resource terms.
func TermFromID(id string) Term {
	if strings.HasPrefix(id, "_:") {
		return Blank(id)
	}
	return IRI(id)
}

// String formats t in canonical N-Quads syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + escapeIRI(t.Value) + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		lit := `"` + escapeString(t.Value) + `"`
		switch {
		case t.Lang != "":
			return lit + "@" + t.Lang
		case t.Datatype != "" && t.Datatype != XSDString:
			return lit + "^^<" + escapeIRI(t.Datatype) + ">"
		default:
			return lit
		}
	default:
		return fmt.Sprintf("<invalid term kind %d>", t.Kind)
	}
}

// escapeString escapes special characters in literals for N-Quads output.
func escapeString(s string) string {
	if !strings.ContainsAny(s, "\\\"\n\r\t") {
		return s
	}
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}

// escapeIRI replaces the characters N-Quads forbids inside IRIREF, control
// characters included, with UCHAR escapes.
func escapeIRI(s string) string {
	if !strings.ContainsFunc(s, forbiddenInIRI) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if forbiddenInIRI(r) {
			fmt.Fprintf(&sb, "\\u%04X", r)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func forbiddenInIRI(r rune) bool {
	return r <= 0x20 || strings.ContainsRune("<>\"{}|^`\\", r)
}
