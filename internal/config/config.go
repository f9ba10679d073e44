package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultCompletionTimeout = 300 * time.Second
	defaultEmbeddingProvider = "openai"
	defaultEmbeddingModel    = "text-embedding-3-small"
	defaultEmbeddingDim      = 1536
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LLMConfig captures routing and authentication for the completion upstream.
type LLMConfig struct {
	// APIKey enables direct-key routing when set. Overridable via LLM_API_KEY.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// Provider selects the default completion adapter: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	// Headers are additional static headers sent with every provider request.
	Headers map[string]string `yaml:"headers"`

	// ResponseTimeoutSeconds bounds completion calls; generation latency makes
	// this deliberately longer than the 30s used for auth-flow calls.
	ResponseTimeoutSeconds int `yaml:"response_timeout_seconds"`
}

// ResponseTimeout returns the completion call timeout.
func (c LLMConfig) ResponseTimeout() time.Duration {
	if c.ResponseTimeoutSeconds <= 0 {
		return defaultCompletionTimeout
	}
	return time.Duration(c.ResponseTimeoutSeconds) * time.Second
}

// ProxyConfig controls the device-flow-authenticated proxy provider.
type ProxyConfig struct {
	Enabled bool `yaml:"enabled"`

	// EnterpriseDomain switches the derived auth endpoints and completion base
	// URL away from the public multi-tenant domain.
	EnterpriseDomain string `yaml:"enterprise_domain"`

	// TokenStorePath is where the device-flow credential record is persisted.
	TokenStorePath string `yaml:"token_store_path"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	// Provider is "openai" (remote API) or "local" (in-process model).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// Dim is the target vector width enforced on every returned embedding.
	Dim int `yaml:"dim"`

	// APIKey is a dedicated embedding key. Overridable via EMBEDDING_API_KEY;
	// when empty the general LLM key is used for the remote provider.
	APIKey string `yaml:"api_key"`

	// CacheDir is where the local provider materializes model files.
	CacheDir string `yaml:"cache_dir"`

	// AddPrefix applies phase-specific prefixes ("query: ", "passage: ") for
	// local models trained with them.
	AddPrefix bool `yaml:"add_prefix"`
}

// Load reads YAML configuration from disk, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = strings.Trim(v, "'\"")
	}
	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		c.Embedding.APIKey = strings.Trim(v, "'\"")
	}
}

func (c *Config) applyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = defaultEmbeddingProvider
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = defaultEmbeddingModel
	}
	if c.Embedding.Dim == 0 {
		c.Embedding.Dim = defaultEmbeddingDim
	}
	if c.Proxy.TokenStorePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Proxy.TokenStorePath = filepath.Join(home, ".modelgate", "proxy-token.json")
		}
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider %q must be one of %q or %q", c.LLM.Provider, "openai", "anthropic")
	}

	if strings.TrimSpace(c.LLM.APIKey) == "" && !c.Proxy.Enabled {
		return fmt.Errorf("either llm.api_key or proxy.enabled must be set")
	}
	if strings.TrimSpace(c.LLM.APIKey) != "" && strings.TrimSpace(c.LLM.BaseURL) == "" {
		return fmt.Errorf("llm.base_url must be provided when llm.api_key is set")
	}

	for headerKey := range c.LLM.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("llm.headers: %q is not a valid canonical HTTP header", headerKey)
		}
	}

	switch c.Embedding.Provider {
	case "openai", "local":
	default:
		return fmt.Errorf("embedding.provider %q must be one of %q or %q", c.Embedding.Provider, "openai", "local")
	}
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}

	if c.Proxy.Enabled && strings.TrimSpace(c.Proxy.TokenStorePath) == "" {
		return fmt.Errorf("proxy.token_store_path must be provided when proxy is enabled")
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}
	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
