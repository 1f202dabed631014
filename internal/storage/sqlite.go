package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLite is the durable store backend. A single process owns the database
// file; writes are serialized on s.mu so change notifications go out in
// commit order.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	hub *hub
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// A second pool connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	s := &SQLite{db: db, hub: newHub()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS paths (
			path  TEXT PRIMARY KEY,
			value BLOB NOT NULL
		);
	`)
	return err
}

// subtreeWhere matches a path and everything under it. '0' is the byte after
// '/', so the range covers exactly the "prefix/" subtree.
const subtreeWhere = "(path = ? OR (path >= ? || '/' AND path < ? || '0'))"

func (s *SQLite) Put(ctx context.Context, path string, value []byte) error {
	if !ValidPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if len(value) == 0 {
		return fmt.Errorf("put %q: empty value", path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paths (path, value) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value
	`, path, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", path, err)
	}
	s.hub.notify(Event{Path: path, Value: value})
	return nil
}

func (s *SQLite) Get(ctx context.Context, path string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM paths WHERE path = ?", path).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", path, err)
	}
	return value, nil
}

func (s *SQLite) Swap(ctx context.Context, path string, fn func(old []byte) ([]byte, error)) error {
	if !ValidPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("swap %q: %w", path, err)
	}
	defer tx.Rollback()

	var old []byte
	existed := true
	err = tx.QueryRowContext(ctx, "SELECT value FROM paths WHERE path = ?", path).Scan(&old)
	if errors.Is(err, sql.ErrNoRows) {
		existed, old = false, nil
	} else if err != nil {
		return fmt.Errorf("swap %q: %w", path, err)
	}

	next, err := fn(old)
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}

	var ev Event
	if len(next) == 0 {
		if !existed {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM paths WHERE path = ?", path); err != nil {
			return fmt.Errorf("swap %q: %w", path, err)
		}
		ev = Event{Path: path}
	} else {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO paths (path, value) VALUES (?, ?)
			ON CONFLICT(path) DO UPDATE SET value = excluded.value
		`, path, next)
		if err != nil {
			return fmt.Errorf("swap %q: %w", path, err)
		}
		ev = Event{Path: path, Value: next}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("swap %q: %w", path, err)
	}
	s.hub.notify(ev)
	return nil
}

func (s *SQLite) Delete(ctx context.Context, path string) error {
	if !ValidPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT path FROM paths WHERE "+subtreeWhere, path, path, path)
	if err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	var removed []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("delete %q: %w", path, err)
		}
		removed = append(removed, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	if len(removed) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM paths WHERE "+subtreeWhere, path, path, path); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete %q: %w", path, err)
	}
	sort.Strings(removed)
	for _, p := range removed {
		s.hub.notify(Event{Path: p})
	}
	return nil
}

func (s *SQLite) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	query := "SELECT path, value FROM paths"
	args := []any{}
	if prefix != "" {
		query += " WHERE " + subtreeWhere
		args = []any{prefix, prefix, prefix}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var p string
		var v []byte
		if err := rows.Scan(&p, &v); err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		out[p] = v
	}
	return out, rows.Err()
}

func (s *SQLite) Watch(ctx context.Context, prefix string) (<-chan Event, func(), error) {
	// Hold the write lock while snapshotting so no event lands between the
	// snapshot and the subscription.
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.List(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	current := make([]Event, 0, len(entries))
	for p, v := range entries {
		current = append(current, Event{Path: p, Value: v})
	}
	sort.Slice(current, func(i, j int) bool { return current[i].Path < current[j].Path })

	w, err := s.hub.subscribe(ctx, prefix, current)
	if err != nil {
		return nil, nil, err
	}
	return w.ch, func() { s.hub.unsubscribe(w) }, nil
}

func (s *SQLite) Close() error {
	s.hub.close()
	return s.db.Close()
}
