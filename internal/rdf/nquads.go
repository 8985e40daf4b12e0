package rdf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every N-Quads parse error.
var ErrSyntax = errors.New("n-quads syntax error")

// Decoder reads quads from line-oriented N-Quads input.
type Decoder struct {
	sc   *bufio.Scanner
	line int
}

func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Decoder{sc: sc}
}

// Next returns the next quad, skipping blank and comment lines.
// It returns io.EOF once the input is exhausted.
func (d *Decoder) Next() (Quad, error) {
	for d.sc.Scan() {
		d.line++
		q, ok, err := ParseLine(d.sc.Text())
		if err != nil {
			return Quad{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		if ok {
			return q, nil
		}
	}
	if err := d.sc.Err(); err != nil {
		return Quad{}, err
	}
	return Quad{}, io.EOF
}

// ParseLine parses a single N-Quads statement. ok is false for blank lines
// and comments.
func ParseLine(line string) (q Quad, ok bool, err error) {
	p := &lineParser{s: line}
	p.skipWS()
	if p.eol() || p.peek() == '#' {
		return Quad{}, false, nil
	}

	if q.Subject, err = p.term(); err != nil {
		return Quad{}, false, err
	}
	if !q.Subject.IsResource() {
		return Quad{}, false, p.errorf("subject must be an IRI or blank node")
	}
	if q.Predicate, err = p.term(); err != nil {
		return Quad{}, false, err
	}
	if !q.Predicate.IsIRI() {
		return Quad{}, false, p.errorf("predicate must be an IRI")
	}
	if q.Object, err = p.term(); err != nil {
		return Quad{}, false, err
	}

	p.skipWS()
	if !p.eol() && p.peek() != '.' {
		if q.Graph, err = p.term(); err != nil {
			return Quad{}, false, err
		}
		if q.Graph.IsLiteral() {
			return Quad{}, false, p.errorf("graph label must not be a literal")
		}
		p.skipWS()
	}
	if p.eol() || p.peek() != '.' {
		return Quad{}, false, p.errorf("expected '.'")
	}
	p.i++
	p.skipWS()
	if !p.eol() && p.peek() != '#' {
		return Quad{}, false, p.errorf("trailing content")
	}
	return q, true, nil
}

type lineParser struct {
	s string
	i int
}

func (p *lineParser) eol() bool  { return p.i >= len(p.s) }
func (p *lineParser) peek() byte { return p.s[p.i] }

func (p *lineParser) skipWS() {
	for !p.eol() && (p.s[p.i] == ' ' || p.s[p.i] == '\t') {
		p.i++
	}
}

func (p *lineParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at column %d: %s", ErrSyntax, p.i+1, fmt.Sprintf(format, args...))
}

func (p *lineParser) term() (Term, error) {
	p.skipWS()
	if p.eol() {
		return Term{}, p.errorf("unexpected end of line")
	}
	switch p.peek() {
	case '<':
		v, err := p.iri()
		if err != nil {
			return Term{}, err
		}
		return IRI(v), nil
	case '_':
		return p.blank()
	case '"':
		return p.literal()
	default:
		return Term{}, p.errorf("unexpected character %q", p.peek())
	}
}

func (p *lineParser) iri() (string, error) {
	p.i++ // '<'
	end := strings.IndexByte(p.s[p.i:], '>')
	if end < 0 {
		return "", p.errorf("unterminated IRI")
	}
	raw := p.s[p.i : p.i+end]
	p.i += end + 1
	if !strings.Contains(raw, `\`) {
		return raw, nil
	}
	var sb strings.Builder
	for j := 0; j < len(raw); j++ {
		if raw[j] != '\\' {
			sb.WriteByte(raw[j])
			continue
		}
		r, n, err := unescapeUChar(raw[j:])
		if err != nil {
			return "", p.errorf("%v", err)
		}
		sb.WriteRune(r)
		j += n - 1
	}
	return sb.String(), nil
}

func (p *lineParser) blank() (Term, error) {
	if !strings.HasPrefix(p.s[p.i:], "_:") {
		return Term{}, p.errorf("malformed blank node")
	}
	p.i += 2
	start := p.i
	for !p.eol() && p.s[p.i] != ' ' && p.s[p.i] != '\t' {
		p.i++
	}
	label := p.s[start:p.i]
	// A label may not end with '.', so "_:b." is the label "b" followed by the terminator.
	for strings.HasSuffix(label, ".") {
		label = label[:len(label)-1]
		p.i--
	}
	if label == "" {
		return Term{}, p.errorf("empty blank node label")
	}
	return Blank(label), nil
}

func (p *lineParser) literal() (Term, error) {
	p.i++ // opening quote
	var sb strings.Builder
	closed := false
	for !p.eol() {
		c := p.s[p.i]
		if c == '"' {
			p.i++
			closed = true
			break
		}
		if c != '\\' {
			sb.WriteByte(c)
			p.i++
			continue
		}
		if p.i+1 >= len(p.s) {
			return Term{}, p.errorf("dangling escape")
		}
		switch e := p.s[p.i+1]; e {
		case 't':
			sb.WriteByte('\t')
		case 'b':
			sb.WriteByte('\b')
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 'f':
			sb.WriteByte('\f')
		case '"', '\'', '\\':
			sb.WriteByte(e)
		case 'u', 'U':
			r, n, err := unescapeUChar(p.s[p.i:])
			if err != nil {
				return Term{}, p.errorf("%v", err)
			}
			sb.WriteRune(r)
			p.i += n
			continue
		default:
			return Term{}, p.errorf("unknown escape \\%c", e)
		}
		p.i += 2
	}
	if !closed {
		return Term{}, p.errorf("unterminated literal")
	}

	t := Literal(sb.String())
	switch {
	case strings.HasPrefix(p.s[p.i:], "^^"):
		p.i += 2
		if p.eol() || p.peek() != '<' {
			return Term{}, p.errorf("expected datatype IRI")
		}
		dt, err := p.iri()
		if err != nil {
			return Term{}, err
		}
		t.Datatype = dt
	case !p.eol() && p.peek() == '@':
		p.i++
		start := p.i
		for !p.eol() && isLangChar(p.s[p.i]) {
			p.i++
		}
		if p.i == start {
			return Term{}, p.errorf("empty language tag")
		}
		t.Lang = p.s[start:p.i]
	}
	return t, nil
}

func isLangChar(c byte) bool {
	return c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// unescapeUChar decodes a \uXXXX or \UXXXXXXXX escape at the start of s and
// returns the rune and the number of bytes consumed.
func unescapeUChar(s string) (rune, int, error) {
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("truncated escape")
	}
	width := 4
	switch s[1] {
	case 'u':
	case 'U':
		width = 8
	default:
		return 0, 0, fmt.Errorf("unknown escape \\%c", s[1])
	}
	if len(s) < 2+width {
		return 0, 0, fmt.Errorf("truncated \\%c escape", s[1])
	}
	v, err := strconv.ParseUint(s[2:2+width], 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("bad \\%c escape: %w", s[1], err)
	}
	return rune(v), 2 + width, nil
}
