// Package store is the read side of the quad store: grouped streaming of
// facts by subject, on-demand lookup of a single resource, and incoming
// fact lookup. Two backends share the interface: MemoryStore for tests and
// small inputs, SQLiteStore for real repositories.
package store

import (
	"context"
	"errors"

	"github.com/agentic-research/graphsite/internal/rdf"
)

var ErrNotFound = errors.New("resource not found")

// Lookup fetches facts about individual resources. It is the only store
// surface the rendering engine sees.
type Lookup interface {
	// Group returns every fact whose subject is id. ErrNotFound when there
	// are none.
	Group(id string) (rdf.FactGroup, error)
	// Incoming returns every fact whose object is the resource id.
	Incoming(id string) ([]rdf.Quad, error)
}

// GroupFunc receives one fact group. Returning an error stops the stream.
type GroupFunc func(rdf.FactGroup) error

// Store streams grouped facts for a publish pass.
type Store interface {
	Lookup
	// StreamGroups calls fn once per subject, in a stable order. A non-empty
	// filter restricts the stream to subjects with at least one fact in one
	// of the filter's graphs.
	StreamGroups(ctx context.Context, filter rdf.GraphSet, fn GroupFunc) error
	Close() error
}

// Loader accepts quads for bulk import.
type Loader interface {
	Load(ctx context.Context, quads []rdf.Quad) error
}
