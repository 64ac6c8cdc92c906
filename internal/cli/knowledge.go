package codeforge

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/providerfactory"
	"github.com/mwiater/codeforge/internal/rag"
)

// knowledge bundles the store with its embedding cache for one command.
type knowledge struct {
	store  *rag.Store
	cache  *rag.Cache
	loaded int
}

// openKnowledge builds the store for the configured embedder and restores any
// compatible cached snapshot. An incompatible cache is ignored and will be
// overwritten by the next index.
func openKnowledge(ctx context.Context, cfg *appconfig.Config, status statusFunc) (*knowledge, error) {
	emb, err := providerfactory.NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store := rag.NewStore(emb, rag.StoreOptions{
		Name:             cfg.Knowledge.StoreName,
		BatchConcurrency: cfg.Knowledge.BatchConcurrency,
	})
	cache, err := rag.OpenCache(cfg.Knowledge.CachePath)
	if err != nil {
		return nil, err
	}
	n, err := store.Load(ctx, cache)
	switch {
	case errors.Is(err, rag.ErrIncompatibleCache):
		status("[KB] ignoring cached embeddings: %v", err)
		n = 0
	case err != nil:
		_ = cache.Close()
		return nil, err
	}
	if n > 0 {
		status("[KB] loaded %d cached entries (%d dims) from %s", n, store.Dimension(), cfg.Knowledge.CachePath)
	}
	return &knowledge{store: store, cache: cache, loaded: n}, nil
}

func (k *knowledge) Close() error {
	return k.cache.Close()
}

// index rebuilds the store from the knowledge directory and persists it.
// Unchanged content reuses memoised embeddings.
func (k *knowledge) index(ctx context.Context, cfg *appconfig.Config, status statusFunc) (rag.LoadReport, error) {
	k.store.Reset()
	report, err := rag.LoadDirectory(ctx, k.store, loaderOptions(cfg))
	if err != nil {
		return report, err
	}
	for _, name := range report.Skipped {
		status("[KB] skipped %s", name)
	}
	status("[KB] indexed %d entries from %d file(s) in %s", report.Entries, report.Files, cfg.Knowledge.Path)
	if err := k.store.Persist(ctx, k.cache); err != nil {
		return report, err
	}
	return report, nil
}

// ensureIndexed indexes the directory only when nothing was restored from cache.
func (k *knowledge) ensureIndexed(ctx context.Context, cfg *appconfig.Config, status statusFunc) error {
	if k.loaded > 0 {
		return nil
	}
	if _, err := k.index(ctx, cfg, status); err != nil {
		return fmt.Errorf("index knowledge base: %w", err)
	}
	return nil
}

func (k *knowledge) retriever(cfg *appconfig.Config) *rag.Retriever {
	return rag.NewRetriever(k.store, rag.RetrieverOptions{
		TopK:              cfg.Knowledge.TopK,
		ContextTokenLimit: cfg.Knowledge.ContextTokenLimit,
	})
}

func loaderOptions(cfg *appconfig.Config) rag.LoaderOptions {
	return rag.LoaderOptions{
		Dir:                cfg.Knowledge.Path,
		AllowedExtensions:  cfg.Knowledge.AllowedExtensions,
		ExcludeGlobs:       cfg.Knowledge.ExcludeGlobs,
		ChunkSizeTokens:    cfg.Knowledge.ChunkSizeTokens,
		ChunkOverlapTokens: cfg.Knowledge.ChunkOverlapTokens,
	}
}
