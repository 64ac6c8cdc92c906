package rag

import "errors"

var (
	// ErrDimensionMismatch marks a vector whose length differs from the store's.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrIncompatibleCache marks a cache written by a different embedder or dimension.
	ErrIncompatibleCache = errors.New("incompatible embedding cache")
)

// EntryID is an entry's position in insertion order.
type EntryID int

// Entry is one unit of retrievable reference content.
type Entry struct {
	ID        EntryID
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Document is content waiting to be embedded and added.
type Document struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is an entry plus its cosine similarity to a query.
type Match struct {
	Entry      Entry
	Similarity float64
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// copyEntry detaches an entry from the store's backing arrays.
func copyEntry(e Entry) Entry {
	e.Metadata = copyMetadata(e.Metadata)
	e.Embedding = append([]float32(nil), e.Embedding...)
	return e
}
