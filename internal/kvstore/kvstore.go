// Package kvstore is the shared key-value store used for cross-process
// synchronization and small persisted scalars (quota counters, featured
// state). It is a single SQLite file that several local processes (the
// dashboard service, an overlay running inside OBS) open concurrently;
// writers are last-write-wins by design.
package kvstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
  key TEXT NOT NULL PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("kvstore: key not found")

type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the shared store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open kv store")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply kv schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy timeout")
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Path returns the backing file path, which watchers observe for changes.
func (s *Store) Path() string { return s.path }

// Get returns the value stored at key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT value FROM kv WHERE key = ?;`
	var value string
	err := s.db.QueryRowContext(ctx, q, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "get "+key)
	}
	return value, nil
}

// Set stores value at key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, q, key, value, ts)
	return errors.Wrap(err, "set "+key)
}

// Delete removes key; deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	const q = `DELETE FROM kv WHERE key = ?;`
	_, err := s.db.ExecContext(ctx, q, key)
	return errors.Wrap(err, "delete "+key)
}
