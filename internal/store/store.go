// Package store persists the state the sync engine needs to survive a
// restart: a positions override layer consulted by the vault loader's
// positioning pass, bounded undo/redo history, and the context-node seed
// map. It is backed by a single embedded sqlite database via
// modernc.org/sqlite, following the teacher's sqlx-over-a-pooled-handle
// idiom (internal/db/connection.go, internal/repository/postgres).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/voicetree/core/internal/graphmodel"
)

const schema = `
CREATE TABLE IF NOT EXISTS node_positions (
	node_id    TEXT PRIMARY KEY,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS history_entries (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL CHECK (kind IN ('undo', 'redo')),
	delta_json TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS context_seeds (
	context_node_id TEXT PRIMARY KEY,
	seed_node_id    TEXT NOT NULL,
	radius          INTEGER NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
`

// Store wraps a sqlx handle onto the project's sqlite database.
type Store struct {
	db *sqlx.DB
}

// Open connects to (and creates if absent) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type positionRow struct {
	NodeID    string    `db:"node_id"`
	X         float64   `db:"x"`
	Y         float64   `db:"y"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UpsertPosition records a position override for nodeID, used by the
// loader's positioning pass to prefer a previously-observed position over
// deterministic reseeding.
func (s *Store) UpsertPosition(ctx context.Context, nodeID string, pos graphmodel.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_positions (node_id, x, y, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET x = excluded.x, y = excluded.y, updated_at = excluded.updated_at
	`, nodeID, pos.X, pos.Y, time.Now())
	if err != nil {
		return fmt.Errorf("upsert position for %q: %w", nodeID, err)
	}
	return nil
}

// AllPositions returns every persisted position override, keyed by node id.
func (s *Store) AllPositions(ctx context.Context) (map[string]graphmodel.Position, error) {
	var rows []positionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT node_id, x, y, updated_at FROM node_positions`); err != nil {
		return nil, fmt.Errorf("select positions: %w", err)
	}
	out := make(map[string]graphmodel.Position, len(rows))
	for _, r := range rows {
		out[r.NodeID] = graphmodel.Position{X: r.X, Y: r.Y}
	}
	return out, nil
}

// DeletePosition removes a node's position override, e.g. after the node
// itself is deleted from the graph.
func (s *Store) DeletePosition(ctx context.Context, nodeID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM node_positions WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("delete position for %q: %w", nodeID, err)
	}
	return nil
}

type historyRow struct {
	Seq       int64  `db:"seq"`
	DeltaJSON string `db:"delta_json"`
}

// PushUndo appends delta to the bounded undo history, evicting the oldest
// entry once more than maxEntries are stored.
func (s *Store) PushUndo(ctx context.Context, delta graphmodel.GraphDelta, maxEntries int) error {
	return s.pushHistory(ctx, "undo", delta, maxEntries)
}

// PushRedo appends delta to the bounded redo history.
func (s *Store) PushRedo(ctx context.Context, delta graphmodel.GraphDelta, maxEntries int) error {
	return s.pushHistory(ctx, "redo", delta, maxEntries)
}

func (s *Store) pushHistory(ctx context.Context, kind string, delta graphmodel.GraphDelta, maxEntries int) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("marshal %s delta: %w", kind, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO history_entries (kind, delta_json, created_at) VALUES (?, ?, ?)`,
		kind, string(payload), time.Now()); err != nil {
		return fmt.Errorf("push %s history: %w", kind, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM history_entries WHERE kind = ? AND seq NOT IN (
			SELECT seq FROM history_entries WHERE kind = ? ORDER BY seq DESC LIMIT ?
		)
	`, kind, kind, maxEntries); err != nil {
		return fmt.Errorf("trim %s history: %w", kind, err)
	}
	return nil
}

// PopUndo removes and returns the most recent undo entry, or ok=false if
// the history is empty.
func (s *Store) PopUndo(ctx context.Context) (graphmodel.GraphDelta, bool, error) {
	return s.popHistory(ctx, "undo")
}

// PopRedo removes and returns the most recent redo entry, or ok=false if
// the history is empty.
func (s *Store) PopRedo(ctx context.Context) (graphmodel.GraphDelta, bool, error) {
	return s.popHistory(ctx, "redo")
}

func (s *Store) popHistory(ctx context.Context, kind string) (graphmodel.GraphDelta, bool, error) {
	var row historyRow
	err := s.db.GetContext(ctx, &row,
		`SELECT seq, delta_json FROM history_entries WHERE kind = ? ORDER BY seq DESC LIMIT 1`, kind)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pop %s history: %w", kind, err)
	}

	var delta graphmodel.GraphDelta
	if err := json.Unmarshal([]byte(row.DeltaJSON), &delta); err != nil {
		return nil, false, fmt.Errorf("unmarshal %s delta: %w", kind, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE seq = ?`, row.Seq); err != nil {
		return nil, false, fmt.Errorf("remove popped %s entry: %w", kind, err)
	}
	return delta, true, nil
}

// ClearRedo drops the entire redo history, the usual policy when a new
// user-initiated delta is recorded for undo.
func (s *Store) ClearRedo(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE kind = 'redo'`); err != nil {
		return fmt.Errorf("clear redo history: %w", err)
	}
	return nil
}

// RecordContextSeed persists the anchor (seed) node id and capture radius a
// context node was created with, for context-node diffing after a restart
// or after the context node's own frontmatter has been hand-edited.
func (s *Store) RecordContextSeed(ctx context.Context, contextNodeID, seedNodeID string, radius int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_seeds (context_node_id, seed_node_id, radius, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(context_node_id) DO UPDATE SET seed_node_id = excluded.seed_node_id, radius = excluded.radius
	`, contextNodeID, seedNodeID, radius, time.Now())
	if err != nil {
		return fmt.Errorf("record context seed for %q: %w", contextNodeID, err)
	}
	return nil
}

type contextSeedRow struct {
	SeedNodeID string `db:"seed_node_id"`
	Radius     int    `db:"radius"`
}

// ContextSeed returns the seed node id and capture radius a context node
// was created with.
func (s *Store) ContextSeed(ctx context.Context, contextNodeID string) (string, int, bool, error) {
	var row contextSeedRow
	err := s.db.GetContext(ctx, &row,
		`SELECT seed_node_id, radius FROM context_seeds WHERE context_node_id = ?`, contextNodeID)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("lookup context seed for %q: %w", contextNodeID, err)
	}
	return row.SeedNodeID, row.Radius, true, nil
}
