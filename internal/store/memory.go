package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/graphsite/internal/rdf"
)

// MemoryStore keeps every quad in RAM. Subjects are streamed in first-seen
// order; duplicate quads are dropped on insert.
type MemoryStore struct {
	mu       sync.RWMutex
	subjects []string          // internal id → subject id
	subIntID map[string]uint32 // subject id → internal id
	groups   map[string][]rdf.Quad
	incoming map[string][]rdf.Quad // object id → quads pointing at it
	seen     map[string]struct{}   // canonical quad lines

	// graph IRI → subjects with at least one fact in it
	graphSubjects map[string]*roaring.Bitmap
}

func NewMemoryStore(quads ...rdf.Quad) *MemoryStore {
	s := &MemoryStore{
		subIntID:      make(map[string]uint32),
		groups:        make(map[string][]rdf.Quad),
		incoming:      make(map[string][]rdf.Quad),
		seen:          make(map[string]struct{}),
		graphSubjects: make(map[string]*roaring.Bitmap),
	}
	s.Add(quads...)
	return s
}

// Add inserts quads, ignoring exact duplicates.
func (s *MemoryStore) Add(quads ...rdf.Quad) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quads {
		key := q.String()
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}

		subj := q.Subject.ID()
		intID, ok := s.subIntID[subj]
		if !ok {
			intID = uint32(len(s.subjects))
			s.subjects = append(s.subjects, subj)
			s.subIntID[subj] = intID
		}
		s.groups[subj] = append(s.groups[subj], q)
		if q.Object.IsResource() {
			obj := q.Object.ID()
			s.incoming[obj] = append(s.incoming[obj], q)
		}

		bm, ok := s.graphSubjects[q.GraphID()]
		if !ok {
			bm = roaring.New()
			s.graphSubjects[q.GraphID()] = bm
		}
		bm.Add(intID)
	}
}

// Load implements Loader.
func (s *MemoryStore) Load(_ context.Context, quads []rdf.Quad) error {
	s.Add(quads...)
	return nil
}

// Len returns the number of distinct quads held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

func (s *MemoryStore) Group(id string) (rdf.FactGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quads, ok := s.groups[id]
	if !ok || len(quads) == 0 {
		return rdf.FactGroup{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rdf.FactGroup{Subject: rdf.TermFromID(id), Quads: append([]rdf.Quad(nil), quads...)}, nil
}

func (s *MemoryStore) Incoming(id string) ([]rdf.Quad, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]rdf.Quad(nil), s.incoming[id]...), nil
}

func (s *MemoryStore) StreamGroups(ctx context.Context, filter rdf.GraphSet, fn GroupFunc) error {
	s.mu.RLock()
	ids := s.selectSubjects(filter)
	s.mu.RUnlock()

	it := ids.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.RLock()
		subj := s.subjects[it.Next()]
		s.mu.RUnlock()

		g, err := s.Group(subj)
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
	}
	return nil
}

// selectSubjects returns the internal ids to stream. Must be called with s.mu held.
func (s *MemoryStore) selectSubjects(filter rdf.GraphSet) *roaring.Bitmap {
	if filter.Empty() {
		all := roaring.New()
		all.AddRange(0, uint64(len(s.subjects)))
		return all
	}
	bms := make([]*roaring.Bitmap, 0, len(filter))
	for g := range filter {
		if bm, ok := s.graphSubjects[g]; ok {
			bms = append(bms, bm)
		}
	}
	if len(bms) == 0 {
		return roaring.New()
	}
	return roaring.FastOr(bms...)
}

func (s *MemoryStore) Close() error { return nil }
