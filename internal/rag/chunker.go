package rag

import "strings"

// ChunkText splits text into overlapping windows using word counts as a proxy for tokens.
// A non-positive chunkSize returns the whole text as one chunk.
func ChunkText(text string, chunkSize, overlap int) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		return []Chunk{{Offset: 0, Text: text, Tokens: len(words)}}
	}
	if overlap < 0 {
		overlap = 0
	}
	step := chunkSize - overlap
	if step <= 0 {
		step = chunkSize
	}

	var chunks []Chunk
	for i := 0; i < len(words); i += step {
		end := i + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			Offset: i,
			Text:   strings.Join(words[i:end], " "),
			Tokens: end - i,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Chunk is a window of a document. Offset counts words from the document start.
type Chunk struct {
	Offset int
	Text   string
	Tokens int
}
