package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/agentic-research/graphsite/internal/rdf"
)

// DefaultImportBatch is the number of quads loaded per transaction.
const DefaultImportBatch = 10000

// ImportNQuads streams N-Quads from r into l in batches and returns the
// number of statements read. A parse error aborts the import; batches
// already loaded stay loaded.
func ImportNQuads(ctx context.Context, l Loader, r io.Reader, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultImportBatch
	}
	dec := rdf.NewDecoder(r)
	buf := make([]rdf.Quad, 0, batch)
	total := 0

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if err := l.Load(ctx, buf); err != nil {
			return fmt.Errorf("load batch ending at statement %d: %w", total, err)
		}
		buf = buf[:0]
		return nil
	}

	for {
		q, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, err
		}
		buf = append(buf, q)
		total++
		if len(buf) == batch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}
