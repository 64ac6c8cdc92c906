// Package embedding turns text into dense vectors for the knowledge store.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrEmptyInput is returned for blank text; no request is sent.
var ErrEmptyInput = errors.New("empty text")

// ErrZeroVector is returned when a vector cannot be normalised.
var ErrZeroVector = errors.New("zero-length embedding vector")

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// ModelID identifies the embedding space. Vectors from different ids must not be mixed.
	ModelID() string
}

// Error reports an unavailable embedding capability or rejected input.
type Error struct {
	Model string
	Err   error
}

func (e *Error) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("embedding: %v", e.Err)
	}
	return fmt.Sprintf("embedding (%s): %v", e.Model, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if len(v) == 0 || sum == 0 {
		return nil, ErrZeroVector
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func checkInput(model, text string) error {
	if strings.TrimSpace(model) == "" {
		return &Error{Err: errors.New("embedding model is empty")}
	}
	if strings.TrimSpace(text) == "" {
		return &Error{Model: model, Err: ErrEmptyInput}
	}
	return nil
}
