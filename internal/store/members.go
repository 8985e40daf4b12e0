package store

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"modernc.org/sqlite/vtab"
)

// MembersTable is the virtual table exposing the change index to SQL as
// (graph, subject) rows:
//
//	SELECT subject FROM graph_members WHERE graph = ?
const MembersTable = "graph_members"

const membersModuleName = "graphsite_members"

// membersModule serves every open SQLiteStore. modernc.org/sqlite registers
// modules per driver, so the module keeps a registry of databases keyed by
// the id stored in each file's meta table.
type membersModule struct {
	mu  sync.RWMutex
	dbs map[string]*sql.DB
}

var (
	membersOnce sync.Once
	members     *membersModule
	membersErr  error
)

// registerMembers registers the module with the driver once. It must run
// before the first connection to a database that uses the table.
func registerMembers() (*membersModule, error) {
	membersOnce.Do(func() {
		members = &membersModule{dbs: make(map[string]*sql.DB)}
		if err := vtab.RegisterModule(nil, membersModuleName, members); err != nil {
			membersErr = fmt.Errorf("register %s module: %w", membersModuleName, err)
			members = nil
		}
	})
	return members, membersErr
}

func (m *membersModule) registerDB(id string, db *sql.DB) {
	m.mu.Lock()
	m.dbs[id] = db
	m.mu.Unlock()
}

func (m *membersModule) unregisterDB(id string) {
	m.mu.Lock()
	delete(m.dbs, id)
	m.mu.Unlock()
}

func (m *membersModule) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	// args: module, database, table, then the USING arguments
	if len(args) < 4 {
		return nil, fmt.Errorf("%s: expected USING %s(id)", membersModuleName, membersModuleName)
	}
	// the id is passed quoted since a bare hex string may start with a digit
	id := strings.Trim(strings.TrimSpace(args[3]), `'"`)

	m.mu.RLock()
	db, ok := m.dbs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: unknown database id %q", membersModuleName, id)
	}

	if err := ctx.Declare("CREATE TABLE x(graph TEXT, subject TEXT)"); err != nil {
		return nil, err
	}
	return &membersTable{db: db}, nil
}

func (m *membersModule) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Create(ctx, args)
}

type membersTable struct {
	db *sql.DB
}

func (t *membersTable) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if c.Usable && c.Column == 0 && c.Op == vtab.OpEQ {
			c.ArgIndex = 0
			c.Omit = true
			info.IdxNum = 1
			info.EstimatedCost = 1
			info.EstimatedRows = 100
			return nil
		}
	}
	info.IdxNum = 0
	info.EstimatedCost = 1e6
	info.EstimatedRows = 1e6
	return nil
}

func (t *membersTable) Open() (vtab.Cursor, error) { return &membersCursor{db: t.db}, nil }
func (t *membersTable) Disconnect() error          { return nil }
func (t *membersTable) Destroy() error             { return nil }

type memberRow struct {
	graph   string
	subject string
}

type membersCursor struct {
	db   *sql.DB
	rows []memberRow
	pos  int
}

func (c *membersCursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.rows = c.rows[:0]
	c.pos = 0

	query := "SELECT graph, bitmap FROM graph_subjects"
	var args []any
	if idxNum == 1 {
		graph, ok := vals[0].(string)
		if !ok {
			return nil
		}
		query += " WHERE graph = ?"
		args = append(args, graph)
	}

	type entry struct {
		graph string
		blob  []byte
	}
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("%s: scan index: %w", membersModuleName, err)
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.graph, &e.blob); err != nil {
			_ = rows.Close()
			return err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// the cursor is closed before expanding, which needs a connection of its own
	_ = rows.Close()

	for _, e := range entries {
		if err := c.expand(e.graph, e.blob); err != nil {
			return err
		}
	}
	return nil
}

// expand resolves the subject ids of one bitmap to their terms.
func (c *membersCursor) expand(graph string, blob []byte) error {
	bm := roaring.New()
	if err := bm.UnmarshalBinary(blob); err != nil {
		return fmt.Errorf("%s: unmarshal index for graph %q: %w", membersModuleName, graph, err)
	}
	if bm.IsEmpty() {
		return nil
	}

	ids := bm.ToArray()
	for start := 0; start < len(ids); start += resolveChunk {
		end := min(start+resolveChunk, len(ids))
		if err := c.resolve(graph, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// resolveChunk keeps IN lists under SQLite's bound parameter limit.
const resolveChunk = 500

func (c *membersCursor) resolve(graph string, ids []uint32) error {
	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("SELECT term FROM subjects WHERE id IN (%s) ORDER BY id", strings.Join(placeholders, ","))
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("%s: resolve subjects: %w", membersModuleName, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return err
		}
		c.rows = append(c.rows, memberRow{graph: graph, subject: term})
	}
	return rows.Err()
}

func (c *membersCursor) Next() error {
	c.pos++
	return nil
}

func (c *membersCursor) Eof() bool { return c.pos >= len(c.rows) }

func (c *membersCursor) Column(col int) (vtab.Value, error) {
	if c.pos >= len(c.rows) {
		return nil, nil
	}
	switch col {
	case 0:
		return c.rows[c.pos].graph, nil
	case 1:
		return c.rows[c.pos].subject, nil
	default:
		return nil, nil
	}
}

func (c *membersCursor) Rowid() (int64, error) { return int64(c.pos), nil }

func (c *membersCursor) Close() error {
	c.rows = nil
	return nil
}
