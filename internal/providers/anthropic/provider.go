// Package anthropic provides a Generator for the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/logging"
	"github.com/mwiater/codeforge/internal/providers"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 2000
)

// Provider implements providers.Generator with anthropic-sdk-go.
type Provider struct {
	host   appconfig.Host
	client anthropic.Client
}

// New builds a provider for host. The SDK's own retries are disabled; retry
// policy belongs to the feedback loop.
func New(host appconfig.Host, apiKey string, timeout time.Duration) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	if url := strings.TrimSpace(host.URL); url != "" {
		opts = append(opts, option.WithBaseURL(url))
	}
	return &Provider{host: host, client: anthropic.NewClient(opts...)}
}

// Generate sends one Messages request. Prior assistant turns are passed through;
// every other role is sent as a user turn.
func (p *Provider) Generate(ctx context.Context, req providers.GenerateRequest) (providers.Completion, error) {
	model := req.Model
	if model == "" {
		model = p.host.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(strings.TrimSpace(model)),
		MaxTokens: int64(req.MaxTokens(defaultMaxTokens)),
		Messages:  buildMessages(req.Messages),
	}
	// Current Claude models reject temperature and top_p together; temperature wins.
	if t := req.Parameters.Temperature; t != nil {
		params.Temperature = anthropic.Float(*t)
	} else if tp := req.Parameters.TopP; tp != nil {
		params.TopP = anthropic.Float(*tp)
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	hostID := providers.HostIdentifier(p.host)
	logging.LogRequest("FORGE->LLM", hostID, model, "generate", req.Messages)

	start := time.Now()
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return providers.Completion{}, &providers.ServiceError{Provider: providerName, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
		}
		return providers.Completion{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	logging.LogRequest("LLM->FORGE", hostID, model, "generate", text.String())
	if strings.TrimSpace(text.String()) == "" {
		return providers.Completion{}, &providers.ServiceError{Provider: providerName, Message: "response contained no text content"}
	}

	name := string(msg.Model)
	if name == "" {
		name = model
	}
	return providers.Completion{
		Text:             text.String(),
		Model:            name,
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
		Duration:         time.Since(start),
	}, nil
}

func buildMessages(messages []providers.ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == providers.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}

// Close releases any resources held by the provider.
func (p *Provider) Close() error {
	return nil
}
