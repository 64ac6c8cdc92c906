// internal/providers/provider.go

// Package providers defines the boundary to remote text-generation services.
// Implementations live in subpackages (ollama, openai, anthropic) and all return
// *ServiceError for non-success responses so callers can treat them uniformly.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mwiater/codeforge/internal/appconfig"
)

// ChatMessage represents a single role-tagged message sent to a generator.
type ChatMessage struct {
	Role    string
	Content string
}

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// GenerateRequest is the opaque request crossing the generation boundary.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
	Parameters   appconfig.Parameters
}

// Completion is a successful generation.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Generator is the interface every generation provider implements.
type Generator interface {
	// Generate sends one request and waits for the complete response text.
	Generate(ctx context.Context, req GenerateRequest) (Completion, error)
	// Close releases any resources held by the provider.
	Close() error
}

// ServiceError reports a non-success status or a malformed body from a generation service.
// StatusCode is zero when the failure was not an HTTP status.
type ServiceError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "empty response"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

// MaxTokens returns the request's token budget, or fallback when unset.
func (r GenerateRequest) MaxTokens(fallback int) int {
	if r.Parameters.MaxTokens != nil && *r.Parameters.MaxTokens > 0 {
		return *r.Parameters.MaxTokens
	}
	return fallback
}

// HostIdentifier returns a label for a host, preferring the name over the URL.
func HostIdentifier(host appconfig.Host) string {
	if name := strings.TrimSpace(host.Name); name != "" {
		return name
	}
	if url := strings.TrimSpace(host.URL); url != "" {
		return url
	}
	return "unknown-host"
}
