// Package history persists generation attempts and user feedback in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Interaction is one recorded generation attempt.
type Interaction struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	Attempt     int       `json:"attempt"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	Success     bool      `json:"success"`
	Diagnostic  string    `json:"diagnostic"`
	InferenceMs int64     `json:"inference_ms"`
}

// Feedback is a user's rating of a generated project.
type Feedback struct {
	ID           string            `json:"id"`
	ProjectID    string            `json:"project_id"`
	Timestamp    time.Time         `json:"timestamp"`
	Rating       int               `json:"rating"`
	Comments     string            `json:"comments"`
	CodeSnippets map[string]string `json:"code_snippets"`
}

// Store is a single-process SQLite history database.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing history path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS interactions (
  id TEXT PRIMARY KEY,
  run_id TEXT NOT NULL,
  attempt INTEGER NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  description TEXT NOT NULL,
  prompt TEXT NOT NULL,
  response TEXT NOT NULL,
  success INTEGER NOT NULL,
  diagnostic TEXT NOT NULL,
  inference_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at_unix_ms);
CREATE TABLE IF NOT EXISTS feedback (
  id TEXT PRIMARY KEY,
  project_id TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  rating INTEGER NOT NULL,
  comments TEXT NOT NULL,
  code_snippets TEXT NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

// RecordInteraction stores rec, assigning an ID and timestamp when missing.
func (s *Store) RecordInteraction(ctx context.Context, rec Interaction) (Interaction, error) {
	if s == nil || s.db == nil {
		return rec, errors.New("history not initialized")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	success := 0
	if rec.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO interactions (id, run_id, attempt, created_at_unix_ms, description, prompt, response, success, diagnostic, inference_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.ID, rec.RunID, rec.Attempt, rec.Timestamp.UnixMilli(), rec.Description, rec.Prompt, rec.Response, success, rec.Diagnostic, rec.InferenceMs)
	if err != nil {
		return rec, fmt.Errorf("record interaction: %w", err)
	}
	return rec, nil
}

// RecentInteractions returns up to limit interactions, newest first.
func (s *Store) RecentInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, run_id, attempt, created_at_unix_ms, description, prompt, response, success, diagnostic, inference_ms
FROM interactions
ORDER BY created_at_unix_ms DESC, rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var (
			rec     Interaction
			created int64
			success int
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.Attempt, &created, &rec.Description, &rec.Prompt, &rec.Response, &success, &rec.Diagnostic, &rec.InferenceMs); err != nil {
			return nil, err
		}
		rec.Timestamp = time.UnixMilli(created)
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AddFeedback stores a rating between 1 and 5 for a project.
func (s *Store) AddFeedback(ctx context.Context, fb Feedback) (Feedback, error) {
	if s == nil || s.db == nil {
		return fb, errors.New("history not initialized")
	}
	if fb.Rating < 1 || fb.Rating > 5 {
		return fb, fmt.Errorf("rating must be between 1 and 5, got %d", fb.Rating)
	}
	if strings.TrimSpace(fb.ProjectID) == "" {
		return fb, errors.New("missing project id")
	}
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now()
	}
	if fb.CodeSnippets == nil {
		fb.CodeSnippets = map[string]string{}
	}
	snippets, err := json.Marshal(fb.CodeSnippets)
	if err != nil {
		return fb, fmt.Errorf("marshal code snippets: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO feedback (id, project_id, created_at_unix_ms, rating, comments, code_snippets)
VALUES (?, ?, ?, ?, ?, ?)
`, fb.ID, fb.ProjectID, fb.Timestamp.UnixMilli(), fb.Rating, fb.Comments, string(snippets))
	if err != nil {
		return fb, fmt.Errorf("add feedback: %w", err)
	}
	return fb, nil
}

// ListFeedback returns every feedback entry, oldest first.
func (s *Store) ListFeedback(ctx context.Context) ([]Feedback, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history not initialized")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, project_id, created_at_unix_ms, rating, comments, code_snippets
FROM feedback
ORDER BY created_at_unix_ms ASC, rowid ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var (
			fb       Feedback
			created  int64
			snippets string
		)
		if err := rows.Scan(&fb.ID, &fb.ProjectID, &created, &fb.Rating, &fb.Comments, &snippets); err != nil {
			return nil, err
		}
		fb.Timestamp = time.UnixMilli(created)
		if err := json.Unmarshal([]byte(snippets), &fb.CodeSnippets); err != nil {
			return nil, fmt.Errorf("parse code snippets: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}

// CollectSnippets reads every file with one of exts under dir, keyed by slash path
// relative to dir. Build output under target/ is skipped.
func CollectSnippets(dir string, exts []string) (map[string]string, error) {
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = struct{}{}
	}
	out := map[string]string{}
	root := filepath.Clean(dir)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && d.Name() == "target" {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(raw)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
