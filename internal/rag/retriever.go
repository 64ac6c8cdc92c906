package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/util"
)

const defaultTopK = 3

// RetrievalResult includes context text and telemetry.
type RetrievalResult struct {
	Context        string
	Matches        []Match
	RetrievalMs    int
	ContextTokens  int
	SourceCoverage int
}

type RetrieverOptions struct {
	TopK              int
	ContextTokenLimit int
}

// Retriever projects store queries into ranked context for prompts.
type Retriever struct {
	store      *Store
	topK       int
	tokenLimit int
	latency    latencyRecorder
}

func NewRetriever(store *Store, opts RetrieverOptions) *Retriever {
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Retriever{store: store, topK: topK, tokenLimit: opts.ContextTokenLimit}
}

// RetrieveRelevant returns the content of the topK nearest entries in rank order.
// A non-positive topK uses the retriever's default.
func (r *Retriever) RetrieveRelevant(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = r.topK
	}
	matches, err := r.query(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Entry.Content
	}
	return out, nil
}

// Retrieve embeds the query and returns the formatted top-k context.
func (r *Retriever) Retrieve(ctx context.Context, query string) (RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return RetrievalResult{}, fmt.Errorf("query is empty")
	}
	start := time.Now()
	matches, err := r.query(ctx, query, r.topK)
	if err != nil {
		return RetrievalResult{}, err
	}
	text, tokens, coverage := FormatContext(matches, r.tokenLimit)
	return RetrievalResult{
		Context:        text,
		Matches:        matches,
		RetrievalMs:    int(time.Since(start) / time.Millisecond),
		ContextTokens:  tokens,
		SourceCoverage: coverage,
	}, nil
}

// Stats reports latency over every query served so far.
func (r *Retriever) Stats() InferenceStats {
	return r.latency.snapshot()
}

func (r *Retriever) query(ctx context.Context, query string, k int) ([]Match, error) {
	start := time.Now()
	matches, err := r.store.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	r.latency.record(time.Since(start))
	return matches, nil
}

// ContextWords counts the words across retrieved contents.
func ContextWords(contents []string) int {
	total := 0
	for _, c := range contents {
		total += util.WordCount(c)
	}
	return total
}

// Sufficient reports whether contents carry at least minWords words.
func Sufficient(contents []string, minWords int) bool {
	return ContextWords(contents) >= minWords
}
