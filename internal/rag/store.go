package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/mwiater/codeforge/internal/embedding"
	"golang.org/x/sync/errgroup"
)

const defaultBatchConcurrency = 4

// StoreOptions configures a Store.
type StoreOptions struct {
	// Name keys the store's rows in the embedding cache.
	Name string
	// BatchConcurrency bounds concurrent embedding calls in AddBatch.
	BatchConcurrency int
}

// Store holds knowledge entries and a nearest-neighbour index over their embeddings.
// Writers are serialised; concurrent queries against a stable store are safe.
type Store struct {
	embedder embedding.Embedder
	name     string
	workers  int

	mu      sync.RWMutex
	entries []Entry
	dim     int
	index   flatIndex
	// memo maps content hashes to vectors already computed by this embedder.
	memo map[string][]float32
}

func NewStore(embedder embedding.Embedder, opts StoreOptions) *Store {
	name := opts.Name
	if name == "" {
		name = "default"
	}
	workers := opts.BatchConcurrency
	if workers <= 0 {
		workers = defaultBatchConcurrency
	}
	return &Store{
		embedder: embedder,
		name:     name,
		workers:  workers,
		memo:     make(map[string][]float32),
	}
}

func (s *Store) Name() string { return s.name }

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dimension returns the embedding dimensionality, or zero for an empty store.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Entries returns a copy of the entries in insertion order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = copyEntry(e)
	}
	return out
}

// Add embeds content, appends it and rebuilds the index.
func (s *Store) Add(ctx context.Context, content string, metadata map[string]string) (EntryID, error) {
	vec, err := s.embed(ctx, content)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkDim(len(vec)); err != nil {
		return 0, err
	}
	id := s.appendLocked(content, metadata, vec)
	s.rebuildLocked()
	return id, nil
}

// AddBatch embeds docs concurrently and appends them in input order with a single
// index rebuild. Nothing is appended if any embedding fails.
func (s *Store) AddBatch(ctx context.Context, docs []Document) ([]EntryID, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, doc := range docs {
		g.Go(func() error {
			vec, err := s.embed(gctx, doc.Content)
			if err != nil {
				return err
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, vec := range vectors {
		if err := s.checkDim(len(vec)); err != nil {
			return nil, err
		}
		if s.dim == 0 {
			s.dim = len(vec)
		}
	}
	ids := make([]EntryID, len(docs))
	for i, doc := range docs {
		ids[i] = s.appendLocked(doc.Content, doc.Metadata, vectors[i])
	}
	s.rebuildLocked()
	return ids, nil
}

// RebuildIndex recomputes the index over the current entries.
func (s *Store) RebuildIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
}

// Reset drops all entries. Memoised embeddings are kept so re-indexing unchanged
// content does not call the embedder again.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.dim = 0
	s.index = flatIndex{}
}

// Query returns up to k entries ordered by descending cosine similarity to text.
// Ties keep insertion order. An empty store yields an empty result.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Match, error) {
	if s.Len() == 0 || k <= 0 {
		return []Match{}, nil
	}
	vec, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return []Match{}, nil
	}
	if len(vec) != s.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, store has %d: %w", len(vec), s.dim, ErrDimensionMismatch)
	}
	hits := s.index.search(vec, k)
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		out = append(out, Match{Entry: copyEntry(s.entries[h.row]), Similarity: h.score})
	}
	return out, nil
}

func (s *Store) embed(ctx context.Context, content string) ([]float32, error) {
	key := contentHash(content)
	s.mu.RLock()
	cached, ok := s.memo[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}
	return s.embedQuery(ctx, content)
}

func (s *Store) embedQuery(ctx context.Context, text string) ([]float32, error) {
	raw, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	vec, err := embedding.Normalize(raw)
	if err != nil {
		return nil, &embedding.Error{Model: s.embedder.ModelID(), Err: err}
	}
	return vec, nil
}

func (s *Store) checkDim(n int) error {
	if s.dim != 0 && n != s.dim {
		return &embedding.Error{
			Model: s.embedder.ModelID(),
			Err:   fmt.Errorf("got %d dimensions, store has %d: %w", n, s.dim, ErrDimensionMismatch),
		}
	}
	return nil
}

func (s *Store) appendLocked(content string, metadata map[string]string, vec []float32) EntryID {
	if s.dim == 0 {
		s.dim = len(vec)
	}
	id := EntryID(len(s.entries))
	s.entries = append(s.entries, Entry{
		ID:        id,
		Content:   content,
		Metadata:  copyMetadata(metadata),
		Embedding: vec,
	})
	s.memo[contentHash(content)] = vec
	return id
}

func (s *Store) rebuildLocked() {
	s.index = buildIndex(s.entries, s.dim)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
