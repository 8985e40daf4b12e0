// Package pathmap translates resource identifiers into output file paths
// using an ordered list of base-IRI → directory entries.
package pathmap

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

var (
	// ErrUnmappable means no registered base is a prefix of the identifier.
	ErrUnmappable = errors.New("identifier is not under any registered base")
	// ErrInvalidPath means a base matched but the remainder cannot be turned
	// into a path inside the entry's directory.
	ErrInvalidPath = errors.New("identifier maps outside its output directory")
)

// IndexName replaces an empty final path segment.
const IndexName = "index"

// Entry maps every identifier starting with Base into Dir.
type Entry struct {
	Base string
	Dir  string
}

// Mapper holds ordered entries and the suffix appended to every path.
// Entries are matched in registration order; the first prefix match wins.
type Mapper struct {
	Suffix  string
	entries []Entry
}

func New(suffix string, entries ...Entry) *Mapper {
	m := &Mapper{Suffix: suffix}
	for _, e := range entries {
		m.Add(e.Base, e.Dir)
	}
	return m
}

// Add registers another base. Bases added earlier keep priority.
func (m *Mapper) Add(base, dir string) {
	m.entries = append(m.entries, Entry{Base: base, Dir: dir})
}

// Entries returns a copy of the registered entries.
func (m *Mapper) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

func (m *Mapper) match(id string) (Entry, bool) {
	for _, e := range m.entries {
		if strings.HasPrefix(id, e.Base) {
			return e, true
		}
	}
	return Entry{}, false
}

// CanMap reports whether some base is a prefix of id.
func (m *Mapper) CanMap(id string) bool {
	_, ok := m.match(id)
	return ok
}

// Resolve returns the output path for id.
//
// The remainder after the matched base is percent-decoded and split on "/";
// an empty remainder or a trailing slash yields IndexName as the last segment.
func (m *Mapper) Resolve(id string) (string, error) {
	e, ok := m.match(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnmappable, id)
	}
	rest, err := url.PathUnescape(id[len(e.Base):])
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidPath, id, err)
	}

	segs := strings.Split(rest, "/")
	if segs[len(segs)-1] == "" {
		segs[len(segs)-1] = IndexName
	}
	for _, s := range segs {
		switch {
		case s == "." || s == "..":
			return "", fmt.Errorf("%w: %s: segment %q", ErrInvalidPath, id, s)
		case strings.ContainsRune(s, 0):
			return "", fmt.Errorf("%w: %s: NUL byte", ErrInvalidPath, id)
		}
	}

	parts := append([]string{e.Dir}, segs...)
	return filepath.Join(parts...) + m.Suffix, nil
}

// PathFor is Resolve without the error detail; ok is false whenever no
// usable path exists.
func (m *Mapper) PathFor(id string) (string, bool) {
	p, err := m.Resolve(id)
	if err != nil {
		return "", false
	}
	return p, true
}

// Dirs returns the distinct output directories in registration order.
func (m *Mapper) Dirs() []string {
	seen := make(map[string]bool, len(m.entries))
	var out []string
	for _, e := range m.entries {
		if seen[e.Dir] {
			continue
		}
		seen[e.Dir] = true
		out = append(out, e.Dir)
	}
	return out
}
