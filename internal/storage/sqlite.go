package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/stats"
	"github.com/openingbook/repertoire/internal/tree"

	_ "modernc.org/sqlite" // SQLite driver.
)

// SQLite stores the tree in a single database file. When sourceDir is
// set, RemoveSource also deletes the backing PGN file of a superseded
// single-game source.
type SQLite struct {
	db        *sql.DB
	sourceDir string
}

// Open opens or creates the database and applies migrations.
func Open(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SetSourceDir enables deletion of superseded PGN files under dir.
func (s *SQLite) SetSourceDir(dir string) { s.sourceDir = dir }

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			position_key TEXT NOT NULL,
			parent_id TEXT,
			move_san TEXT,
			games INTEGER NOT NULL,
			wins INTEGER NOT NULL,
			draws INTEGER NOT NULL,
			losses INTEGER NOT NULL,
			rating_diff_sum INTEGER NOT NULL,
			rating_diff_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_key ON nodes(position_key);`,
		`CREATE TABLE IF NOT EXISTS node_sources (
			node_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			PRIMARY KEY (node_id, source_id)
		);`,
		`CREATE TABLE IF NOT EXISTS source_terminals (
			source_id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrStorage, err)
		}
	}
	return nil
}

// Save rewrites the whole tree in one transaction. Repertoires are
// small enough that full rewrites beat incremental diffing.
func (s *SQLite) Save(ctx context.Context, t *tree.Tree) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"nodes", "node_sources", "source_terminals"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: clear %s: %v", ErrStorage, table, err)
		}
	}

	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (id, position_key, parent_id, move_san, games, wins, draws, losses, rating_diff_sum, rating_diff_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer nodeStmt.Close()
	srcStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO node_sources (node_id, source_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer srcStmt.Close()

	for _, n := range t.Nodes() {
		var parent any
		if !n.IsRoot() {
			parent = string(n.Parent)
		}
		if _, err = nodeStmt.ExecContext(ctx,
			string(n.ID), string(n.Key), parent, n.Move,
			n.Line.Games, n.Line.Wins, n.Line.Draws, n.Line.Losses,
			n.Line.RatingDiffSum, n.Line.RatingDiffCount,
		); err != nil {
			return fmt.Errorf("%w: node %s: %v", ErrStorage, n.ID, err)
		}
		for src := range n.Sources {
			if _, err = srcStmt.ExecContext(ctx, string(n.ID), src); err != nil {
				return fmt.Errorf("%w: source %s: %v", ErrStorage, src, err)
			}
		}
	}

	for src, id := range t.Terminals() {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO source_terminals (source_id, node_id) VALUES (?, ?)`, src, string(id)); err != nil {
			return fmt.Errorf("%w: terminal %s: %v", ErrStorage, src, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return nil
}

// Load restores the persisted tree, or (nil, nil) if the database is
// empty.
func (s *SQLite) Load(ctx context.Context) (*tree.Tree, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position_key, parent_id, move_san, games, wins, draws, losses, rating_diff_sum, rating_diff_count FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	nodes := make(map[tree.NodeID]*tree.Node)
	for rows.Next() {
		var (
			id, key string
			parent  sql.NullString
			move    sql.NullString
			line    stats.Line
		)
		if err := rows.Scan(&id, &key, &parent, &move,
			&line.Games, &line.Wins, &line.Draws, &line.Losses,
			&line.RatingDiffSum, &line.RatingDiffCount); err != nil {
			return nil, fmt.Errorf("%w: scan node: %v", ErrStorage, err)
		}
		n := &tree.Node{
			ID:       tree.NodeID(id),
			Key:      board.PositionKey(key),
			Line:     line,
			Children: make(map[string]tree.NodeID),
			Sources:  make(map[string]struct{}),
		}
		if parent.Valid {
			n.Parent = tree.NodeID(parent.String)
			n.Move = move.String
		}
		nodes[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	// Rebuild child maps from parent pointers.
	for _, n := range nodes {
		if n.IsRoot() {
			continue
		}
		parent, ok := nodes[n.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: node %s has unknown parent %s", ErrStorage, n.ID, n.Parent)
		}
		parent.Children[n.Move] = n.ID
	}

	srcRows, err := s.db.QueryContext(ctx, `SELECT node_id, source_id FROM node_sources`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer srcRows.Close()
	for srcRows.Next() {
		var nodeID, src string
		if err := srcRows.Scan(&nodeID, &src); err != nil {
			return nil, fmt.Errorf("%w: scan source: %v", ErrStorage, err)
		}
		if n, ok := nodes[tree.NodeID(nodeID)]; ok {
			n.Sources[src] = struct{}{}
		}
	}
	if err := srcRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	termRows, err := s.db.QueryContext(ctx, `SELECT source_id, node_id FROM source_terminals`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer termRows.Close()
	terminals := make(map[string]tree.NodeID)
	for termRows.Next() {
		var src, nodeID string
		if err := termRows.Scan(&src, &nodeID); err != nil {
			return nil, fmt.Errorf("%w: scan terminal: %v", ErrStorage, err)
		}
		terminals[src] = tree.NodeID(nodeID)
	}
	if err := termRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	flat := make([]tree.Node, 0, len(nodes))
	for _, n := range nodes {
		flat = append(flat, *n)
	}
	t, err := tree.Restore(flat, terminals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return t, nil
}

// RemoveSource drops the bookkeeping rows for a source and, when a
// source directory is configured, deletes the backing file of a
// single-game source. Multi-game sources ("file.pgn#2") keep their
// file since other games still live in it.
func (s *SQLite) RemoveSource(ctx context.Context, sourceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM node_sources WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM source_terminals WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if s.sourceDir != "" && !strings.Contains(sourceID, "#") {
		path := filepath.Join(s.sourceDir, filepath.Base(sourceID))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove %s: %v", ErrStorage, path, err)
		}
	}
	return nil
}
