// Package openai provides a Generator for OpenAI-compatible chat completion APIs.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/logging"
	"github.com/mwiater/codeforge/internal/providers"
	openai "github.com/sashabaranov/go-openai"
)

const providerName = "openai"

// Provider implements providers.Generator with go-openai.
type Provider struct {
	host   appconfig.Host
	client *openai.Client
}

// New builds a provider for host. An empty host URL keeps the library's default base URL.
func New(host appconfig.Host, apiKey string, timeout time.Duration) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if url := strings.TrimSpace(host.URL); url != "" {
		cfg.BaseURL = strings.TrimRight(url, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Provider{host: host, client: openai.NewClientWithConfig(cfg)}
}

// Generate sends one chat completion request.
func (p *Provider) Generate(ctx context.Context, req providers.GenerateRequest) (providers.Completion, error) {
	model := req.Model
	if model == "" {
		model = p.host.Model
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	request := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if t := req.Parameters.Temperature; t != nil {
		request.Temperature = float32(*t)
	}
	if tp := req.Parameters.TopP; tp != nil {
		request.TopP = float32(*tp)
	}
	if mt := req.Parameters.MaxTokens; mt != nil && *mt > 0 {
		request.MaxTokens = *mt
	}

	hostID := providers.HostIdentifier(p.host)
	logging.LogRequest("FORGE->LLM", hostID, model, "generate", request)

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, request)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return providers.Completion{}, &providers.ServiceError{Provider: providerName, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
			return providers.Completion{}, &providers.ServiceError{Provider: providerName, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
		}
		return providers.Completion{}, err
	}
	logging.LogRequest("LLM->FORGE", hostID, model, "generate", resp)

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return providers.Completion{}, &providers.ServiceError{Provider: providerName, Message: "response contained no message content"}
	}
	name := resp.Model
	if name == "" {
		name = model
	}
	return providers.Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            name,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}, nil
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error {
	return nil
}
