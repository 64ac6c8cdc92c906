// internal/providerfactory/factory_test.go
package providerfactory

import (
	"errors"
	"testing"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/embedding"
	"github.com/mwiater/codeforge/internal/providers/anthropic"
	"github.com/mwiater/codeforge/internal/providers/ollama"
	"github.com/mwiater/codeforge/internal/providers/openai"
)

func configWith(hosts ...appconfig.Host) *appconfig.Config {
	cfg := &appconfig.Config{Hosts: hosts}
	cfg.ApplyDefaults()
	return cfg
}

func TestNewGeneratorSelectsByHostType(t *testing.T) {
	tests := []struct {
		name  string
		host  appconfig.Host
		check func(any) bool
	}{
		{name: "default is ollama", host: appconfig.Host{Name: "local", URL: "http://localhost:11434", Model: "m"}, check: func(v any) bool { _, ok := v.(*ollama.Provider); return ok }},
		{name: "openrouter alias", host: appconfig.Host{Name: "router", Type: "openrouter", Model: "m", APIKey: "k"}, check: func(v any) bool { _, ok := v.(*openai.Provider); return ok }},
		{name: "claude alias", host: appconfig.Host{Name: "claude", Type: "claude", Model: "m", APIKey: "k"}, check: func(v any) bool { _, ok := v.(*anthropic.Provider); return ok }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen, err := NewGenerator(configWith(tt.host))
			if err != nil {
				t.Fatalf("NewGenerator: %v", err)
			}
			if !tt.check(gen) {
				t.Fatalf("unexpected provider %T", gen)
			}
		})
	}
}

func TestNewGeneratorErrors(t *testing.T) {
	if _, err := NewGenerator(nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	cfg := configWith(appconfig.Host{Name: "local", URL: "http://localhost:11434", Model: "m"})
	cfg.GenerationHost = "missing"
	var cerr *appconfig.ConfigError
	if _, err := NewGenerator(cfg); !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError for unknown host, got %v", err)
	}
}

func TestNewEmbedder(t *testing.T) {
	cfg := configWith(
		appconfig.Host{Name: "claude", Type: "anthropic", Model: "m", APIKey: "k"},
		appconfig.Host{Name: "local", URL: "http://localhost:11434", Model: "m"},
		appconfig.Host{Name: "cloud", Type: "openai", Model: "m", APIKey: "k"},
	)

	cfg.EmbeddingHost = "local"
	emb, err := NewEmbedder(cfg)
	if err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if _, ok := emb.(*embedding.Ollama); !ok || emb.ModelID() != "ollama:"+cfg.EmbeddingModel {
		t.Fatalf("unexpected embedder %T %s", emb, emb.ModelID())
	}

	cfg.EmbeddingHost = "cloud"
	if emb, err = NewEmbedder(cfg); err != nil {
		t.Fatalf("NewEmbedder: %v", err)
	}
	if _, ok := emb.(*embedding.OpenAI); !ok {
		t.Fatalf("unexpected embedder %T", emb)
	}

	cfg.EmbeddingHost = "claude"
	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatal("expected error for anthropic embedding host")
	}
}
