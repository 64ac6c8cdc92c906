package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Cache persists store embeddings in SQLite, keyed by store name.
type Cache struct {
	db *sql.DB
}

func OpenCache(path string) (*Cache, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing cache path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := initCacheSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func initCacheSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS stores (
  name TEXT PRIMARY KEY,
  model TEXT NOT NULL,
  dimension INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
  store TEXT NOT NULL,
  position INTEGER NOT NULL,
  content_hash TEXT NOT NULL,
  content TEXT NOT NULL,
  metadata TEXT NOT NULL,
  embedding BLOB NOT NULL,
  PRIMARY KEY (store, position)
);
`)
	if err != nil {
		return fmt.Errorf("init cache schema: %w", err)
	}
	return nil
}

type cachedStore struct {
	model   string
	dim     int
	entries []Entry
}

func (c *Cache) write(ctx context.Context, name, model string, dim int, entries []Entry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE store = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO stores (name, model, dimension, updated_at_unix_ms) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET model = excluded.model, dimension = excluded.dimension, updated_at_unix_ms = excluded.updated_at_unix_ms
`, name, model, dim, time.Now().UnixMilli()); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO entries (store, position, content_hash, content, metadata, embedding) VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range entries {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, name, i, contentHash(e.Content), e.Content, string(meta), packEmbedding(e.Embedding)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// read returns nil when the store has never been persisted.
func (c *Cache) read(ctx context.Context, name string) (*cachedStore, error) {
	var out cachedStore
	err := c.db.QueryRowContext(ctx, `SELECT model, dimension FROM stores WHERE name = ?`, name).Scan(&out.model, &out.dim)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `
SELECT content, metadata, embedding FROM entries WHERE store = ? ORDER BY position ASC
`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			content, meta string
			blob          []byte
		)
		if err := rows.Scan(&content, &meta, &blob); err != nil {
			return nil, err
		}
		md := map[string]string{}
		if err := json.Unmarshal([]byte(meta), &md); err != nil {
			return nil, fmt.Errorf("parse cached metadata: %w", err)
		}
		out.entries = append(out.entries, Entry{
			ID:        EntryID(len(out.entries)),
			Content:   content,
			Metadata:  md,
			Embedding: unpackEmbedding(blob),
		})
	}
	return &out, rows.Err()
}

// Persist writes the store's entries to the cache, replacing any earlier snapshot.
func (s *Store) Persist(ctx context.Context, c *Cache) error {
	s.mu.RLock()
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	dim := s.dim
	s.mu.RUnlock()

	if err := c.write(ctx, s.name, s.embedder.ModelID(), dim, entries); err != nil {
		return fmt.Errorf("persist store %q: %w", s.name, err)
	}
	return nil
}

// Load replaces the store's entries with the cached snapshot and rebuilds the index.
// It returns the number of entries loaded; zero means no snapshot exists.
func (s *Store) Load(ctx context.Context, c *Cache) (int, error) {
	snap, err := c.read(ctx, s.name)
	if err != nil {
		return 0, fmt.Errorf("load store %q: %w", s.name, err)
	}
	if snap == nil {
		return 0, nil
	}
	if snap.model != s.embedder.ModelID() {
		return 0, fmt.Errorf("store %q was embedded with %q, current embedder is %q: %w", s.name, snap.model, s.embedder.ModelID(), ErrIncompatibleCache)
	}
	for _, e := range snap.entries {
		if len(e.Embedding) != snap.dim {
			return 0, fmt.Errorf("store %q has a %d-dimension row in a %d-dimension cache: %w", s.name, len(e.Embedding), snap.dim, ErrIncompatibleCache)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = snap.entries
	s.dim = snap.dim
	if len(s.entries) == 0 {
		s.dim = 0
	}
	for _, e := range s.entries {
		s.memo[contentHash(e.Content)] = e.Embedding
	}
	s.rebuildLocked()
	return len(s.entries), nil
}

func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
