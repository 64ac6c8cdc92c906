package rag

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/mwiater/codeforge/internal/util"
)

// Preview runs a retrieval for query and writes the ranked matches and formatted context to out.
func Preview(ctx context.Context, out io.Writer, r *Retriever, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return fmt.Errorf("query is required")
	}

	status := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Print(msg)
		fmt.Fprintln(out, msg)
	}

	status("[KB] query: %s", query)
	status("[KB] store: %s (%d entries, %d dims)", r.store.Name(), r.store.Len(), r.store.Dimension())

	result, err := r.Retrieve(ctx, query)
	if err != nil {
		return err
	}

	status("[KB] retrieval_ms: %d", result.RetrievalMs)
	status("[KB] context_tokens: %d", result.ContextTokens)
	status("[KB] source_coverage: %d", result.SourceCoverage)
	status("[KB] matches: %d", len(result.Matches))

	for i, m := range result.Matches {
		status("[KB] match %d similarity=%.6f source=%s type=%s", i+1, m.Similarity, sourceName(m.Entry), m.Entry.Metadata["type"])
		status("[KB] match %d text: %s", i+1, util.TruncateRunes(strings.Join(strings.Fields(m.Entry.Content), " "), 240))
	}

	if result.Context != "" {
		status("[KB] context:\n%s", result.Context)
	}
	return nil
}
