// internal/providerfactory/factory.go
package providerfactory

import (
	"fmt"

	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/mwiater/codeforge/internal/embedding"
	"github.com/mwiater/codeforge/internal/logging"
	"github.com/mwiater/codeforge/internal/providers"
	"github.com/mwiater/codeforge/internal/providers/anthropic"
	"github.com/mwiater/codeforge/internal/providers/ollama"
	"github.com/mwiater/codeforge/internal/providers/openai"
)

// NewGenerator selects and configures the generation provider for the
// configured generation host.
func NewGenerator(cfg *appconfig.Config) (providers.Generator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config provided to provider factory")
	}
	host, err := cfg.GenerationHostConfig()
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout()

	var gen providers.Generator
	switch appconfig.NormalizeHostType(host.Type) {
	case appconfig.HostTypeOllama:
		gen = ollama.New(host, timeout)
	case appconfig.HostTypeOpenAI:
		gen = openai.New(host, cfg.APIKey(host), timeout)
	case appconfig.HostTypeAnthropic:
		gen = anthropic.New(host, cfg.APIKey(host), timeout)
	default:
		return nil, &appconfig.ConfigError{Field: "hosts." + host.Name + ".type", Reason: fmt.Sprintf("unsupported host type %q", host.Type)}
	}
	logging.LogEvent("generation provider ready: host=%s type=%s model=%s", host.Name, appconfig.NormalizeHostType(host.Type), host.Model)
	return gen, nil
}

// NewEmbedder builds the embedder for the configured embedding host.
func NewEmbedder(cfg *appconfig.Config) (embedding.Embedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config provided to provider factory")
	}
	host, err := cfg.EmbeddingHostConfig()
	if err != nil {
		return nil, err
	}
	timeout := cfg.RequestTimeout()

	switch appconfig.NormalizeHostType(host.Type) {
	case appconfig.HostTypeOllama:
		return embedding.NewOllama(host.URL, cfg.EmbeddingModel, timeout), nil
	case appconfig.HostTypeOpenAI:
		return embedding.NewOpenAI(host.URL, cfg.APIKey(host), cfg.EmbeddingModel, timeout), nil
	default:
		return nil, &appconfig.ConfigError{Field: "embeddingHost", Reason: fmt.Sprintf("host type %q cannot serve embeddings", host.Type)}
	}
}
