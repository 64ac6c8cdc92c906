package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/logging"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI requests embeddings from an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	client  *openai.Client
	baseURL string
	model   string
}

// NewOpenAI builds an embedder; an empty baseURL keeps the library default.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), baseURL: cfg.BaseURL, model: model}
}

func (o *OpenAI) ModelID() string { return "openai:" + o.model }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkInput(o.model, text); err != nil {
		return nil, err
	}
	logging.LogRequest("FORGE->LLM", o.baseURL, o.model, "embed", text)
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &Error{Model: o.model, Err: fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)}
		}
		return nil, &Error{Model: o.model, Err: fmt.Errorf("embedding request failed: %w", err)}
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &Error{Model: o.model, Err: fmt.Errorf("embedding response returned empty vector")}
	}
	logging.LogRequest("LLM->FORGE", o.baseURL, o.model, "embed", fmt.Sprintf("dims=%d", len(resp.Data[0].Embedding)))
	return resp.Data[0].Embedding, nil
}
