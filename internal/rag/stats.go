package rag

import (
	"sync"
	"time"
)

// InferenceStats summarises retrieval latency.
type InferenceStats struct {
	TotalQueries int
	Average      time.Duration
	Min          time.Duration
	Max          time.Duration
}

type latencyRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (r *latencyRecorder) record(d time.Duration) {
	r.mu.Lock()
	r.samples = append(r.samples, d)
	r.mu.Unlock()
}

func (r *latencyRecorder) snapshot() InferenceStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) == 0 {
		return InferenceStats{}
	}
	st := InferenceStats{TotalQueries: len(r.samples), Min: r.samples[0], Max: r.samples[0]}
	var total time.Duration
	for _, d := range r.samples {
		total += d
		if d < st.Min {
			st.Min = d
		}
		if d > st.Max {
			st.Max = d
		}
	}
	st.Average = total / time.Duration(len(r.samples))
	return st
}
