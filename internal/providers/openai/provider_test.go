package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/providers"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"[FILE: src/main.rs]\nfn main() {}\n[END FILE]"},"finish_reason":"stop"}],"usage":{"prompt_tokens":20,"completion_tokens":9,"total_tokens":29}}`))
	}))
	defer server.Close()

	temp := 0.5
	maxTokens := 300
	p := New(appconfig.Host{Name: "cloud", URL: server.URL + "/v1", Model: "gpt-test"}, "sk-test", 5*time.Second)
	out, err := p.Generate(context.Background(), providers.GenerateRequest{
		SystemPrompt: "rules",
		Messages:     []providers.ChatMessage{{Role: providers.RoleUser, Content: "build it"}},
		Parameters:   appconfig.Parameters{Temperature: &temp, MaxTokens: &maxTokens},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Model != "gpt-test" || out.PromptTokens != 20 || out.CompletionTokens != 9 {
		t.Fatalf("unexpected completion %+v", out)
	}

	var payload struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(<-bodies, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Model != "gpt-test" || payload.Temperature != 0.5 || payload.MaxTokens != 300 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" || payload.Messages[1].Content != "build it" {
		t.Fatalf("unexpected messages %+v", payload.Messages)
	}
}

func TestGenerateAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer server.Close()

	p := New(appconfig.Host{URL: server.URL + "/v1", Model: "gpt-test"}, "sk-test", 5*time.Second)
	_, err := p.Generate(context.Background(), providers.GenerateRequest{Messages: []providers.ChatMessage{{Role: "user", Content: "x"}}})
	var serr *providers.ServiceError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusTooManyRequests || serr.Message != "rate limited" {
		t.Fatalf("expected 429 ServiceError, got %v", err)
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","choices":[]}`))
	}))
	defer server.Close()

	p := New(appconfig.Host{URL: server.URL + "/v1", Model: "gpt-test"}, "sk-test", 5*time.Second)
	_, err := p.Generate(context.Background(), providers.GenerateRequest{Messages: []providers.ChatMessage{{Role: "user", Content: "x"}}})
	var serr *providers.ServiceError
	if !errors.As(err, &serr) || serr.StatusCode != 0 {
		t.Fatalf("expected ServiceError without status, got %v", err)
	}
}
