package rag

import "sort"

// flatIndex keeps every normalised embedding in one contiguous row-major matrix.
// Search is exhaustive, so results match a freshly built index exactly.
type flatIndex struct {
	dim    int
	rows   int
	matrix []float32
}

func buildIndex(entries []Entry, dim int) flatIndex {
	idx := flatIndex{dim: dim, rows: len(entries), matrix: make([]float32, 0, len(entries)*dim)}
	for _, e := range entries {
		idx.matrix = append(idx.matrix, e.Embedding...)
	}
	return idx
}

type scored struct {
	row   int
	score float64
}

// search returns up to k rows ordered by descending similarity; ties keep row order.
func (idx flatIndex) search(query []float32, k int) []scored {
	if idx.rows == 0 || k <= 0 || len(query) != idx.dim {
		return nil
	}
	results := make([]scored, idx.rows)
	for r := 0; r < idx.rows; r++ {
		row := idx.matrix[r*idx.dim : (r+1)*idx.dim]
		results[r] = scored{row: r, score: dot(query, row)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
