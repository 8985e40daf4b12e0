package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentic-research/graphsite/internal/rdf"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS subjects (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	term TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS quads (
	subject_id  INTEGER NOT NULL,
	predicate   TEXT NOT NULL,
	object_kind INTEGER NOT NULL,
	object      TEXT NOT NULL,
	datatype    TEXT NOT NULL DEFAULT '',
	lang        TEXT NOT NULL DEFAULT '',
	graph       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (subject_id, predicate, object_kind, object, datatype, lang, graph)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS idx_quads_object ON quads(object, object_kind);

CREATE TABLE IF NOT EXISTS graph_subjects (
	graph  TEXT PRIMARY KEY,
	bitmap BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore persists quads in a single SQLite file.
//
// Besides the quads themselves it maintains a change index: for every graph,
// a roaring bitmap of the subject ids that have at least one fact in it.
// StreamGroups ORs the bitmaps of the filter's graphs, so a filtered pass
// touches only the subjects it has to regenerate.
type SQLiteStore struct {
	db   *sql.DB
	path string
	id   string
}

// OpenSQLite opens (creating if needed) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	mod, err := registerMembers()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// graph_members cursors query the database from inside a statement,
	// so more than one connection is needed.
	db.SetMaxOpenConns(4)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	id, err := storeID(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mod.registerDB(id, db)
	query := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING %s('%s')", MembersTable, membersModuleName, id)
	if _, err := db.Exec(query); err != nil {
		mod.unregisterDB(id)
		_ = db.Close()
		return nil, fmt.Errorf("create %s: %w", MembersTable, err)
	}
	return &SQLiteStore{db: db, path: path, id: id}, nil
}

// storeID returns the id recorded in the meta table, creating it on first
// open. The virtual table definition refers to it, so it must not change.
func storeID(db *sql.DB) (string, error) {
	var id string
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'store_id'").Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read store id: %w", err)
	}
	id = strings.ReplaceAll(uuid.NewString(), "-", "")
	if _, err := db.Exec("INSERT INTO meta (key, value) VALUES ('store_id', ?)", id); err != nil {
		return "", fmt.Errorf("write store id: %w", err)
	}
	return id, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	if mod, err := registerMembers(); err == nil {
		mod.unregisterDB(s.id)
	}
	return s.db.Close()
}

// Members lists the subjects the change index records for graph.
func (s *SQLiteStore) Members(ctx context.Context, graph string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT subject FROM "+MembersTable+" WHERE graph = ?", graph)
	if err != nil {
		return nil, fmt.Errorf("members of %q: %w", graph, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, err
		}
		out = append(out, subject)
	}
	return out, rows.Err()
}

// QueryMembers runs an arbitrary query that may join graph_members.
func (s *SQLiteStore) QueryMembers(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// Load inserts quads in one transaction and merges the touched subjects into
// the change index in the same transaction. Duplicate quads are ignored.
func (s *SQLiteStore) Load(ctx context.Context, quads []rdf.Quad) error {
	if len(quads) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // safe to ignore after commit

	subjStmt, err := tx.PrepareContext(ctx, "INSERT OR IGNORE INTO subjects (term) VALUES (?)")
	if err != nil {
		return fmt.Errorf("prepare subjects insert: %w", err)
	}
	defer func() { _ = subjStmt.Close() }() // safe to ignore

	idStmt, err := tx.PrepareContext(ctx, "SELECT id FROM subjects WHERE term = ?")
	if err != nil {
		return fmt.Errorf("prepare subject lookup: %w", err)
	}
	defer func() { _ = idStmt.Close() }() // safe to ignore

	quadStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO quads (subject_id, predicate, object_kind, object, datatype, lang, graph)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare quads insert: %w", err)
	}
	defer func() { _ = quadStmt.Close() }() // safe to ignore

	ids := make(map[string]int64)
	pending := make(map[string]*roaring.Bitmap)

	for _, q := range quads {
		subj := q.Subject.ID()
		id, ok := ids[subj]
		if !ok {
			if _, err := subjStmt.ExecContext(ctx, subj); err != nil {
				return fmt.Errorf("insert subject %s: %w", subj, err)
			}
			if err := idStmt.QueryRowContext(ctx, subj).Scan(&id); err != nil {
				return fmt.Errorf("lookup subject %s: %w", subj, err)
			}
			if id > math.MaxUint32 {
				return fmt.Errorf("subject id %d overflows the change index", id)
			}
			ids[subj] = id
		}

		o := q.Object
		if _, err := quadStmt.ExecContext(ctx, id, q.Predicate.Value, int(o.Kind), o.Value, o.Datatype, o.Lang, q.GraphID()); err != nil {
			return fmt.Errorf("insert quad %s: %w", q, err)
		}

		bm, ok := pending[q.GraphID()]
		if !ok {
			bm = roaring.New()
			pending[q.GraphID()] = bm
		}
		bm.Add(uint32(id))
	}

	if err := mergeIndex(ctx, tx, pending); err != nil {
		return err
	}
	return tx.Commit()
}

// mergeIndex ORs pending bitmaps into graph_subjects.
func mergeIndex(ctx context.Context, tx *sql.Tx, pending map[string]*roaring.Bitmap) error {
	var buf bytes.Buffer
	for graph, bm := range pending {
		var blob []byte
		err := tx.QueryRowContext(ctx, "SELECT bitmap FROM graph_subjects WHERE graph = ?", graph).Scan(&blob)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("read index for graph %q: %w", graph, err)
		default:
			existing := roaring.New()
			if err := existing.UnmarshalBinary(blob); err != nil {
				return fmt.Errorf("unmarshal index for graph %q: %w", graph, err)
			}
			bm.Or(existing)
		}

		bm.RunOptimize()
		buf.Reset()
		if _, err := bm.WriteTo(&buf); err != nil {
			return fmt.Errorf("serialize index for graph %q: %w", graph, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO graph_subjects (graph, bitmap) VALUES (?, ?)", graph, buf.Bytes()); err != nil {
			return fmt.Errorf("write index for graph %q: %w", graph, err)
		}
	}
	return nil
}

// RebuildIndex recomputes the change index from the quads table.
func (s *SQLiteStore) RebuildIndex(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // safe to ignore after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_subjects"); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	rows, err := tx.QueryContext(ctx, "SELECT DISTINCT graph, subject_id FROM quads")
	if err != nil {
		return fmt.Errorf("scan quads: %w", err)
	}
	pending := make(map[string]*roaring.Bitmap)
	for rows.Next() {
		var graph string
		var id int64
		if err := rows.Scan(&graph, &id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan index row: %w", err)
		}
		bm, ok := pending[graph]
		if !ok {
			bm = roaring.New()
			pending[graph] = bm
		}
		bm.Add(uint32(id))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	if err := mergeIndex(ctx, tx, pending); err != nil {
		return err
	}
	return tx.Commit()
}

// Graphs returns the graph IRIs present in the change index.
func (s *SQLiteStore) Graphs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT graph FROM graph_subjects ORDER BY graph")
	if err != nil {
		return nil, fmt.Errorf("list graphs: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Group(id string) (rdf.FactGroup, error) {
	return s.group(context.Background(), id)
}

func (s *SQLiteStore) group(ctx context.Context, id string) (rdf.FactGroup, error) {
	var subjID int64
	err := s.db.QueryRowContext(ctx, "SELECT id FROM subjects WHERE term = ?", id).Scan(&subjID)
	if errors.Is(err, sql.ErrNoRows) {
		return rdf.FactGroup{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return rdf.FactGroup{}, fmt.Errorf("lookup subject %s: %w", id, err)
	}
	return s.groupByID(ctx, id, subjID)
}

func (s *SQLiteStore) groupByID(ctx context.Context, id string, subjID int64) (rdf.FactGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT predicate, object_kind, object, datatype, lang, graph
		FROM quads WHERE subject_id = ?
		ORDER BY predicate, object_kind, object, datatype, lang, graph`, subjID)
	if err != nil {
		return rdf.FactGroup{}, fmt.Errorf("query facts of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	subject := rdf.TermFromID(id)
	g := rdf.FactGroup{Subject: subject}
	for rows.Next() {
		var pred, graph string
		var obj rdf.Term
		var kind int
		if err := rows.Scan(&pred, &kind, &obj.Value, &obj.Datatype, &obj.Lang, &graph); err != nil {
			return rdf.FactGroup{}, fmt.Errorf("scan fact of %s: %w", id, err)
		}
		obj.Kind = rdf.Kind(kind)
		g.Quads = append(g.Quads, rdf.Quad{
			Subject:   subject,
			Predicate: rdf.IRI(pred),
			Object:    obj,
			Graph:     graphTerm(graph),
		})
	}
	if err := rows.Err(); err != nil {
		return rdf.FactGroup{}, err
	}
	if len(g.Quads) == 0 {
		return rdf.FactGroup{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return g, nil
}

func (s *SQLiteStore) Incoming(id string) ([]rdf.Quad, error) {
	target := rdf.TermFromID(id)
	rows, err := s.db.Query(`
		SELECT s.term, q.predicate, q.graph
		FROM quads q JOIN subjects s ON s.id = q.subject_id
		WHERE q.object = ? AND q.object_kind = ?
		ORDER BY q.subject_id, q.predicate, q.graph`, target.Value, int(target.Kind))
	if err != nil {
		return nil, fmt.Errorf("query incoming facts of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	var out []rdf.Quad
	for rows.Next() {
		var subj, pred, graph string
		if err := rows.Scan(&subj, &pred, &graph); err != nil {
			return nil, fmt.Errorf("scan incoming fact of %s: %w", id, err)
		}
		out = append(out, rdf.Quad{
			Subject:   rdf.TermFromID(subj),
			Predicate: rdf.IRI(pred),
			Object:    target,
			Graph:     graphTerm(graph),
		})
	}
	return out, rows.Err()
}

// StreamGroups resolves the subject set first and then fetches one group at
// a time, so no cursor stays open while fn runs its own lookups.
func (s *SQLiteStore) StreamGroups(ctx context.Context, filter rdf.GraphSet, fn GroupFunc) error {
	ids, err := s.selectSubjects(ctx, filter)
	if err != nil {
		return err
	}

	it := ids.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}
		subjID := int64(it.Next())
		var term string
		if err := s.db.QueryRowContext(ctx, "SELECT term FROM subjects WHERE id = ?", subjID).Scan(&term); err != nil {
			return fmt.Errorf("lookup subject %d: %w", subjID, err)
		}
		g, err := s.groupByID(ctx, term, subjID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) selectSubjects(ctx context.Context, filter rdf.GraphSet) (*roaring.Bitmap, error) {
	if filter.Empty() {
		rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT subject_id FROM quads ORDER BY subject_id")
		if err != nil {
			return nil, fmt.Errorf("list subjects: %w", err)
		}
		defer func() { _ = rows.Close() }() // safe to ignore

		all := roaring.New()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			all.Add(uint32(id))
		}
		return all, rows.Err()
	}

	out := roaring.New()
	for _, graph := range filter.Slice() {
		var blob []byte
		err := s.db.QueryRowContext(ctx, "SELECT bitmap FROM graph_subjects WHERE graph = ?", graph).Scan(&blob)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read index for graph %q: %w", graph, err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(blob); err != nil {
			return nil, fmt.Errorf("unmarshal index for graph %q: %w", graph, err)
		}
		out.Or(bm)
	}
	return out, nil
}

func graphTerm(graph string) rdf.Term {
	if graph == "" {
		return rdf.Term{}
	}
	return rdf.TermFromID(graph)
}
