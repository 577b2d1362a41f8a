// Package store is the sqlite-backed metadata cache. A rescan only
// re-parses files whose (mtime, size) fingerprint changed since the
// cached row was written.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"comfygallery/metadata"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS file_metadata (
    path       TEXT PRIMARY KEY,
    mtime      INTEGER NOT NULL,
    size       INTEGER NOT NULL,
    metadata   TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_file_metadata_mtime ON file_metadata(mtime);
`

// Cache is a metadata cache handle. Safe for concurrent use; the
// underlying sql.DB pools connections.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached metadata blob for path when its fingerprint
// still matches.
func (c *Cache) Get(path string, mtime int64, size int64) (*metadata.Metadata, bool) {
	var blob string
	err := c.db.QueryRow(
		`SELECT metadata FROM file_metadata WHERE path = ? AND mtime = ? AND size = ?`,
		path, mtime, size,
	).Scan(&blob)
	if err != nil {
		return nil, false
	}
	var meta metadata.Metadata
	if err := json.Unmarshal([]byte(blob), &meta); err != nil {
		// A row we can no longer decode is useless; let the caller
		// re-parse and overwrite it.
		return nil, false
	}
	return &meta, true
}

// Put stores or replaces the cached metadata for path.
func (c *Cache) Put(path string, mtime int64, size int64, meta *metadata.Metadata) error {
	blob, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT INTO file_metadata (path, mtime, size, metadata, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   mtime = excluded.mtime,
		   size = excluded.size,
		   metadata = excluded.metadata,
		   updated_at = excluded.updated_at`,
		path, mtime, size, string(blob), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache row: %w", err)
	}
	return nil
}

// Forget drops the cached row for path, if any.
func (c *Cache) Forget(path string) error {
	_, err := c.db.Exec(`DELETE FROM file_metadata WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}
