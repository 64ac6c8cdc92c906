// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// legacyConfigPath is checked when the default path does not exist.
	legacyConfigPath = "codeforge.json"

	defaultRequestTimeout      = 120 * time.Second
	defaultVerificationTimeout = 300 * time.Second
	defaultMaxAttempts         = 10
	defaultOutputDir           = "generated_project"
	defaultAPIKeyEnv           = "API_KEY"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultTemperature         = 0.7
	defaultTopP                = 0.95
	defaultMaxTokens           = 2000
	defaultHistoryPath         = "codeforge.db"
	defaultLogFile             = "codeforge.log"
	defaultLogPayloadRunes     = 2000
)

// Host types understood by the provider factory.
const (
	HostTypeOllama    = "ollama"
	HostTypeOpenAI    = "openai"
	HostTypeAnthropic = "anthropic"
)

// Verification phases.
const (
	PhaseCompile = "compile"
	PhaseLint    = "lint"
)

// Config represents the top-level application configuration.
type Config struct {
	Hosts           []Host             `json:"hosts" mapstructure:"hosts"`
	GenerationHost  string             `json:"generationHost,omitempty" mapstructure:"generationHost"`
	EmbeddingHost   string             `json:"embeddingHost,omitempty" mapstructure:"embeddingHost"`
	EmbeddingModel  string             `json:"embeddingModel,omitempty" mapstructure:"embeddingModel"`
	TimeoutSeconds  int                `json:"timeout,omitempty" mapstructure:"timeout"`
	MaxAttempts     int                `json:"maxAttempts,omitempty" mapstructure:"maxAttempts"`
	OutputDir       string             `json:"outputDir,omitempty" mapstructure:"outputDir"`
	CleanOutputDir  bool               `json:"cleanOutputDir" mapstructure:"cleanOutputDir"`
	Parser          ParserConfig       `json:"parser" mapstructure:"parser"`
	Knowledge       KnowledgeConfig    `json:"knowledge" mapstructure:"knowledge"`
	Verification    VerificationConfig `json:"verification" mapstructure:"verification"`
	Manifest        ManifestConfig     `json:"manifest" mapstructure:"manifest"`
	WebSearch       WebSearchConfig    `json:"webSearch" mapstructure:"webSearch"`
	HistoryPath     string             `json:"historyPath,omitempty" mapstructure:"historyPath"`
	LogFile         string             `json:"logFile,omitempty" mapstructure:"logFile"`
	LogPayloadRunes int                `json:"logPayloadRunes,omitempty" mapstructure:"logPayloadRunes"`
	Debug           bool               `json:"debug" mapstructure:"debug"`
	ConfigPath      string             `json:"-" mapstructure:"-"`
}

// Host represents a single generation or embedding endpoint.
type Host struct {
	Name       string     `json:"name" mapstructure:"name"`
	URL        string     `json:"url" mapstructure:"url"`
	Type       string     `json:"type" mapstructure:"type"`
	Model      string     `json:"model" mapstructure:"model"`
	APIKey     string     `json:"apiKey,omitempty" mapstructure:"apiKey"`
	APIKeyEnv  string     `json:"apiKeyEnv,omitempty" mapstructure:"apiKeyEnv"`
	Profile    string     `json:"profile,omitempty" mapstructure:"profile"`
	Parameters Parameters `json:"parameters" mapstructure:"parameters"`
}

// Parameters is the sampling configuration sent with every generation request.
type Parameters struct {
	Temperature *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" mapstructure:"top_p"`
	MaxTokens   *int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

type ParserConfig struct {
	DropBlankLines bool `json:"dropBlankLines" mapstructure:"dropBlankLines"`
}

// KnowledgeConfig controls the knowledge base directory, its embedding cache and retrieval.
type KnowledgeConfig struct {
	Path               string   `json:"path,omitempty" mapstructure:"path"`
	CachePath          string   `json:"cachePath,omitempty" mapstructure:"cachePath"`
	StoreName          string   `json:"storeName,omitempty" mapstructure:"storeName"`
	TopK               int      `json:"topK,omitempty" mapstructure:"topK"`
	MinContextWords    int      `json:"minContextWords,omitempty" mapstructure:"minContextWords"`
	ChunkSizeTokens    int      `json:"chunkSizeTokens,omitempty" mapstructure:"chunkSizeTokens"`
	ChunkOverlapTokens int      `json:"chunkOverlapTokens,omitempty" mapstructure:"chunkOverlapTokens"`
	AllowedExtensions  []string `json:"allowedExtensions,omitempty" mapstructure:"allowedExtensions"`
	ExcludeGlobs       []string `json:"excludeGlobs,omitempty" mapstructure:"excludeGlobs"`
	ContextTokenLimit  int      `json:"contextTokenLimit,omitempty" mapstructure:"contextTokenLimit"`
	BatchConcurrency   int      `json:"batchConcurrency,omitempty" mapstructure:"batchConcurrency"`
}

// VerificationConfig lists the external tools run against a generated project.
type VerificationConfig struct {
	TimeoutSeconds int                `json:"timeout,omitempty" mapstructure:"timeout"`
	RequiredFiles  []string           `json:"requiredFiles,omitempty" mapstructure:"requiredFiles"`
	Steps          []VerificationStep `json:"steps,omitempty" mapstructure:"steps"`
}

type VerificationStep struct {
	Name    string   `json:"name" mapstructure:"name"`
	Phase   string   `json:"phase" mapstructure:"phase"`
	Command []string `json:"command" mapstructure:"command"`
}

type ManifestConfig struct {
	File             string   `json:"file,omitempty" mapstructure:"file"`
	Sections         []string `json:"sections,omitempty" mapstructure:"sections"`
	SourceExtensions []string `json:"sourceExtensions,omitempty" mapstructure:"sourceExtensions"`
}

type WebSearchConfig struct {
	Enabled    bool     `json:"enabled" mapstructure:"enabled"`
	Endpoint   string   `json:"endpoint,omitempty" mapstructure:"endpoint"`
	MaxResults int      `json:"maxResults,omitempty" mapstructure:"maxResults"`
	Sites      []string `json:"sites,omitempty" mapstructure:"sites"`
}

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

// ApplyDefaults fills every unset field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(defaultRequestTimeout.Seconds())
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		c.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		c.EmbeddingModel = defaultEmbeddingModel
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		c.HistoryPath = defaultHistoryPath
	}
	if c.LogPayloadRunes == 0 {
		c.LogPayloadRunes = defaultLogPayloadRunes
	}
	if strings.TrimSpace(c.GenerationHost) == "" && len(c.Hosts) > 0 {
		c.GenerationHost = c.Hosts[0].Name
	}
	if strings.TrimSpace(c.EmbeddingHost) == "" {
		c.EmbeddingHost = c.GenerationHost
	}

	for i := range c.Hosts {
		h := &c.Hosts[i]
		h.Type = NormalizeHostType(h.Type)
		if strings.TrimSpace(h.APIKeyEnv) == "" {
			h.APIKeyEnv = defaultAPIKeyEnv
		}
		h.Parameters = mergeParams(ParamsForProfile(h.Profile), h.Parameters)
	}

	k := &c.Knowledge
	if k.Path == "" {
		k.Path = "knowledge_base"
	}
	if k.CachePath == "" {
		k.CachePath = k.Path + "/vector_cache.db"
	}
	if k.StoreName == "" {
		k.StoreName = "default"
	}
	if k.TopK <= 0 {
		k.TopK = 3
	}
	if k.MinContextWords <= 0 {
		k.MinContextWords = 50
	}
	if len(k.AllowedExtensions) == 0 {
		k.AllowedExtensions = []string{".rs", ".txt", ".json", ".csv", ".md"}
	}
	if k.BatchConcurrency <= 0 {
		k.BatchConcurrency = 4
	}

	v := &c.Verification
	if v.TimeoutSeconds <= 0 {
		v.TimeoutSeconds = int(defaultVerificationTimeout.Seconds())
	}
	if v.RequiredFiles == nil {
		v.RequiredFiles = []string{"Cargo.toml"}
	}
	if len(v.Steps) == 0 {
		v.Steps = []VerificationStep{
			{Name: "build", Phase: PhaseCompile, Command: []string{"cargo", "build"}},
			{Name: "clippy", Phase: PhaseLint, Command: []string{"cargo", "clippy", "--all-targets", "--all-features", "--", "-D", "warnings"}},
			{Name: "rustfmt", Phase: PhaseLint, Command: []string{"cargo", "fmt", "--all", "--check"}},
		}
	}

	m := &c.Manifest
	if m.File == "" {
		m.File = "Cargo.toml"
	}
	if len(m.Sections) == 0 {
		m.Sections = []string{"package", "dependencies", "dev-dependencies"}
	}
	if len(m.SourceExtensions) == 0 {
		m.SourceExtensions = []string{".rs"}
	}

	w := &c.WebSearch
	if w.Endpoint == "" {
		w.Endpoint = "https://html.duckduckgo.com/html/"
	}
	if w.MaxResults <= 0 {
		w.MaxResults = 3
	}
	if len(w.Sites) == 0 {
		w.Sites = []string{"docs.rs", "doc.rust-lang.org"}
	}
}

// Validate checks the configuration once, before any generation starts.
func (c Config) Validate() error {
	if len(c.Hosts) == 0 {
		return &ConfigError{Field: "hosts", Reason: "at least one host is required"}
	}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h.Name) == "" {
			return &ConfigError{Field: "hosts.name", Reason: "host name is required"}
		}
		switch h.Type {
		case HostTypeOllama:
			if strings.TrimSpace(h.URL) == "" {
				return &ConfigError{Field: "hosts." + h.Name + ".url", Reason: "ollama hosts need a url"}
			}
		case HostTypeOpenAI, HostTypeAnthropic:
			// Only hosts that will be called need a credential.
			inUse := strings.EqualFold(h.Name, c.GenerationHost) || strings.EqualFold(h.Name, c.EmbeddingHost)
			if inUse && c.APIKey(h) == "" {
				return &ConfigError{Field: "hosts." + h.Name + ".apiKey", Reason: fmt.Sprintf("no API credential (set %s)", h.APIKeyEnv)}
			}
		default:
			return &ConfigError{Field: "hosts." + h.Name + ".type", Reason: fmt.Sprintf("unsupported host type %q", h.Type)}
		}
		if strings.TrimSpace(h.Model) == "" {
			return &ConfigError{Field: "hosts." + h.Name + ".model", Reason: "model is required"}
		}
	}
	if _, err := c.GenerationHostConfig(); err != nil {
		return err
	}
	emb, err := c.EmbeddingHostConfig()
	if err != nil {
		return err
	}
	if emb.Type == HostTypeAnthropic {
		return &ConfigError{Field: "embeddingHost", Reason: "anthropic hosts do not serve embeddings"}
	}
	if c.MaxAttempts <= 0 {
		return &ConfigError{Field: "maxAttempts", Reason: "must be positive"}
	}
	for i, step := range c.Verification.Steps {
		if len(step.Command) == 0 || strings.TrimSpace(step.Command[0]) == "" {
			return &ConfigError{Field: fmt.Sprintf("verification.steps[%d]", i), Reason: "command is required"}
		}
		if step.Phase != PhaseCompile && step.Phase != PhaseLint {
			return &ConfigError{Field: fmt.Sprintf("verification.steps[%d].phase", i), Reason: fmt.Sprintf("unknown phase %q", step.Phase)}
		}
	}
	return nil
}

// NormalizeHostType maps type aliases onto the canonical host types.
func NormalizeHostType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "ollama":
		return HostTypeOllama
	case "openai", "openrouter", "openai-compatible", "llama.cpp", "llamacpp":
		return HostTypeOpenAI
	case "anthropic", "claude":
		return HostTypeAnthropic
	default:
		return strings.ToLower(strings.TrimSpace(t))
	}
}

// APIKey resolves a host's credential from the config or its environment variable.
func (c Config) APIKey(h Host) string {
	if key := strings.TrimSpace(h.APIKey); key != "" {
		return key
	}
	env := h.APIKeyEnv
	if env == "" {
		env = defaultAPIKeyEnv
	}
	return strings.TrimSpace(os.Getenv(env))
}

// GenerationHostConfig returns the host used for code generation.
func (c Config) GenerationHostConfig() (Host, error) {
	return c.hostByName("generationHost", c.GenerationHost)
}

// EmbeddingHostConfig returns the host used for knowledge embeddings.
func (c Config) EmbeddingHostConfig() (Host, error) {
	return c.hostByName("embeddingHost", c.EmbeddingHost)
}

func (c Config) hostByName(field, name string) (Host, error) {
	for _, h := range c.Hosts {
		if strings.EqualFold(h.Name, name) {
			return h, nil
		}
	}
	return Host{}, &ConfigError{Field: field, Reason: fmt.Sprintf("no host named %q", name)}
}

// RequestTimeout returns the timeout for one generation request.
func (c Config) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// VerificationTimeout returns the timeout for each verification step.
func (c Config) VerificationTimeout() time.Duration {
	if c.Verification.TimeoutSeconds <= 0 {
		return defaultVerificationTimeout
	}
	return time.Duration(c.Verification.TimeoutSeconds) * time.Second
}

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	if path := c.LogFile; strings.TrimSpace(path) != "" {
		return path
	}
	return defaultLogFile
}

// Load reads the application configuration from the specified path, with fallback to a legacy path.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	config, err := loadFromPath(path)
	if err != nil && errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath {
		var legacyErr error
		config, legacyErr = loadFromPath(legacyConfigPath)
		if legacyErr == nil {
			path = legacyConfigPath
			err = nil
		} else if errors.Is(legacyErr, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no configuration file found (searched %q and %q)", DefaultConfigPath, legacyConfigPath)
		} else {
			return Config{}, fmt.Errorf("could not read config file %q: %w", legacyConfigPath, legacyErr)
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no configuration file found at %q", path)
		}
		return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	config.ConfigPath = path
	return config, nil
}

func loadFromPath(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}
