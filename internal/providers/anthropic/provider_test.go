package anthropic

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
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "key-test" {
			t.Errorf("unexpected api key header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"[FILE: a.rs]\nfn a() {}\n[END FILE]"}],"stop_reason":"end_turn","usage":{"input_tokens":15,"output_tokens":6}}`))
	}))
	defer server.Close()

	topP := 0.9
	p := New(appconfig.Host{Name: "claude", URL: server.URL, Model: "claude-test"}, "key-test", 5*time.Second)
	out, err := p.Generate(context.Background(), providers.GenerateRequest{
		SystemPrompt: "rules",
		Messages:     []providers.ChatMessage{{Role: providers.RoleUser, Content: "build it"}},
		Parameters:   appconfig.Parameters{TopP: &topP},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out.Text != "[FILE: a.rs]\nfn a() {}\n[END FILE]" || out.PromptTokens != 15 || out.CompletionTokens != 6 {
		t.Fatalf("unexpected completion %+v", out)
	}

	var payload struct {
		Model     string  `json:"model"`
		MaxTokens int     `json:"max_tokens"`
		TopP      float64 `json:"top_p"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(<-bodies, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Model != "claude-test" || payload.MaxTokens != defaultMaxTokens || payload.TopP != 0.9 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.System) != 1 || payload.System[0].Text != "rules" {
		t.Fatalf("unexpected system blocks %+v", payload.System)
	}
	if len(payload.Messages) != 1 || payload.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages %+v", payload.Messages)
	}
}

func TestGenerateServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`))
	}))
	defer server.Close()

	p := New(appconfig.Host{URL: server.URL, Model: "claude-test"}, "key-test", 5*time.Second)
	_, err := p.Generate(context.Background(), providers.GenerateRequest{Messages: []providers.ChatMessage{{Role: "user", Content: "x"}}})
	var serr *providers.ServiceError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 ServiceError, got %v", err)
	}
}

func TestBuildMessagesRoles(t *testing.T) {
	t.Parallel()

	got := buildMessages([]providers.ChatMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: " "},
		{Role: "tool", Content: "output"},
	})
	if len(got) != 3 {
		t.Fatalf("expected blank message dropped, got %d", len(got))
	}
	if got[1].Role != "assistant" || got[2].Role != "user" {
		t.Fatalf("unexpected roles %q %q", got[1].Role, got[2].Role)
	}
}

func TestGenerateSendsTemperatureWithoutTopP(t *testing.T) {
	t.Parallel()

	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_2","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer server.Close()

	// Profile merging fills both values for every host.
	params := appconfig.ParamsForProfile("balanced")
	p := New(appconfig.Host{URL: server.URL, Model: "claude-test"}, "key-test", 5*time.Second)
	if _, err := p.Generate(context.Background(), providers.GenerateRequest{
		Messages:   []providers.ChatMessage{{Role: providers.RoleUser, Content: "x"}},
		Parameters: params,
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(<-bodies, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["temperature"] != *params.Temperature {
		t.Fatalf("expected temperature %v, got %v", *params.Temperature, payload["temperature"])
	}
	if _, ok := payload["top_p"]; ok {
		t.Fatalf("top_p must not be sent alongside temperature: %v", payload)
	}
}
