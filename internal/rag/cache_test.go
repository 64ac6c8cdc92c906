package rag

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPersistLoadRoundTrip(t *testing.T) {
	t.Parallel()

	vectors := map[string][]float32{
		"ownership": {1, 0, 0},
		"lifetimes": {0.6, 0.8, 0},
		"traits":    {0, 0, 1},
		"q":         {1, 0.2, 0},
	}
	ctx := context.Background()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "kb", "vector_cache.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	original := NewStore(newFakeEmbedder(vectors), StoreOptions{Name: "rust"})
	for _, text := range []string{"ownership", "lifetimes", "traits"} {
		if _, err := original.Add(ctx, text, map[string]string{"source": text + ".rs", "type": "code"}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	before, err := original.Query(ctx, "q", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if err := original.Persist(ctx, cache); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	emb := newFakeEmbedder(vectors)
	reloaded := NewStore(emb, StoreOptions{Name: "rust"})
	n, err := reloaded.Load(ctx, cache)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 || reloaded.Dimension() != 3 {
		t.Fatalf("loaded %d entries with %d dims", n, reloaded.Dimension())
	}
	after, err := reloaded.Query(ctx, "q", 3)
	if err != nil {
		t.Fatalf("Query after load: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("results differ after reload:\n%v\n%v", before, after)
	}

	// Re-adding cached content is served from the memo; only the query was embedded.
	reloaded.Reset()
	if _, err := reloaded.Add(ctx, "traits", nil); err != nil {
		t.Fatalf("Add after load: %v", err)
	}
	if emb.calls.Load() != 1 {
		t.Fatalf("expected 1 embed call (the query), got %d", emb.calls.Load())
	}
}

func TestLoadMissingAndIncompatibleSnapshots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	emb := newFakeEmbedder(map[string][]float32{"doc": {1, 1}})
	store := NewStore(emb, StoreOptions{Name: "s"})
	n, err := store.Load(ctx, cache)
	if err != nil || n != 0 {
		t.Fatalf("expected empty load without error, got %d %v", n, err)
	}

	if _, err := store.Add(ctx, "doc", nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Persist(ctx, cache); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	other := newFakeEmbedder(nil)
	other.model = "fake:v2"
	_, err = NewStore(other, StoreOptions{Name: "s"}).Load(ctx, cache)
	if !errors.Is(err, ErrIncompatibleCache) {
		t.Fatalf("expected ErrIncompatibleCache, got %v", err)
	}
}

func TestPackEmbedding(t *testing.T) {
	t.Parallel()

	in := []float32{0, -1.5, 3.25, 1e-7}
	if got := unpackEmbedding(packEmbedding(in)); !reflect.DeepEqual(got, in) {
		t.Fatalf("unpack(pack(%v)) = %v", in, got)
	}
}
