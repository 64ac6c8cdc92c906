package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/logging"
)

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Ollama requests embeddings from an Ollama host's /api/embeddings endpoint.
type Ollama struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
	}
}

func (o *Ollama) ModelID() string { return "ollama:" + o.model }

// Embed requests an embedding vector for text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(o.model, text); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"model":  o.model,
		"prompt": text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("marshal embedding request: %w", err)}
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("create embedding request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	logging.LogRequest("FORGE->LLM", o.baseURL, o.model, "embed", payload)
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("embedding request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("read embedding response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("embedding request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))}
	}

	var parsed ollamaEmbeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("parse embedding response: %w", err)}
	}
	if len(parsed.Embedding) == 0 {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("embedding response returned empty vector")}
	}
	logging.LogRequest("LLM->FORGE", o.baseURL, o.model, "embed", fmt.Sprintf("dims=%d", len(parsed.Embedding)))

	out := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
