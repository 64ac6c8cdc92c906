// internal/providers/ollama/provider.go
// Package ollama provides a Generator backed by the Ollama /api/chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/logging"
	"github.com/mwiater/codeforge/internal/providers"
)

const providerName = "ollama"

// Provider implements providers.Generator using Ollama HTTP APIs.
type Provider struct {
	host    appconfig.Host
	client  *http.Client
	timeout time.Duration
}

// New constructs a Provider for host with the given request timeout.
func New(host appconfig.Host, timeout time.Duration) *Provider {
	return &Provider{
		host: host,
		client: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{ForceAttemptHTTP2: false},
		},
		timeout: timeout,
	}
}

// chatResponse is the non-streaming /api/chat body.
type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	TotalDuration   int64  `json:"total_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate issues a single non-streaming chat request.
func (p *Provider) Generate(ctx context.Context, req providers.GenerateRequest) (providers.Completion, error) {
	messages := make([]map[string]string, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, map[string]string{"role": providers.RoleSystem, "content": req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, map[string]string{"role": m.Role, "content": m.Content})
	}

	model := req.Model
	if model == "" {
		model = p.host.Model
	}
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"options":  buildOptions(req.Parameters),
		"stream":   false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.Completion{}, err
	}

	hostID := providers.HostIdentifier(p.host)
	logging.LogRequest("FORGE->LLM", hostID, model, "generate", body)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.host.URL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return providers.Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return providers.Completion{}, fmt.Errorf("ollama: /api/chat: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.Completion{}, fmt.Errorf("ollama: read response: %w", err)
	}
	logging.LogRequest("LLM->FORGE", hostID, model, "generate", respBody)

	if resp.StatusCode != http.StatusOK {
		return providers.Completion{}, &providers.ServiceError{
			Provider:   providerName,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return providers.Completion{}, &providers.ServiceError{Provider: providerName, Message: "malformed response body: " + err.Error()}
	}
	if result.Error != "" {
		return providers.Completion{}, &providers.ServiceError{Provider: providerName, Message: result.Error}
	}
	if strings.TrimSpace(result.Message.Content) == "" {
		return providers.Completion{}, &providers.ServiceError{Provider: providerName, Message: "response contained no message content"}
	}

	name := result.Model
	if name == "" {
		name = model
	}
	return providers.Completion{
		Text:             result.Message.Content,
		Model:            name,
		PromptTokens:     result.PromptEvalCount,
		CompletionTokens: result.EvalCount,
		Duration:         time.Since(start),
	}, nil
}

func errorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(body))
}

func buildOptions(params appconfig.Parameters) map[string]any {
	options := map[string]any{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	return options
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error {
	return nil
}
