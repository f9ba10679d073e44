package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
llm:
  api_key: sk-test
  base_url: https://api.openai.com/v1
  provider: openai
  headers:
    X-Custom: value
  response_timeout_seconds: 120
proxy:
  enabled: false
embedding:
  provider: local
  model: BAAI/bge-small-en-v1.5
  dim: 384
  add_prefix: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 120*time.Second, cfg.LLM.ResponseTimeout())
	assert.Equal(t, "value", cfg.LLM.Headers["X-Custom"])
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.True(t, cfg.Embedding.AddPrefix)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
llm:
  api_key: sk-test
  base_url: https://api.openai.com/v1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 300*time.Second, cfg.LLM.ResponseTimeout())
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dim)
	assert.NotEmpty(t, cfg.Proxy.TokenStorePath)
}

func TestLoadEnvOverridesStripQuotes(t *testing.T) {
	t.Setenv("LLM_API_KEY", `"sk-from-env"`)
	t.Setenv("EMBEDDING_API_KEY", "'sk-embed-env'")

	path := writeConfig(t, `
server:
  port: 8080
llm:
  api_key: sk-from-file
  base_url: https://api.openai.com/v1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "sk-embed-env", cfg.Embedding.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:    ServerConfig{Port: 8080},
			LLM:       LLMConfig{APIKey: "sk", BaseURL: "https://api.openai.com/v1", Provider: "openai"},
			Embedding: EmbeddingConfig{Provider: "openai", Model: "m", Dim: 1536},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad llm provider", func(c *Config) { c.LLM.Provider = "mistral" }, "llm.provider"},
		{"no key no proxy", func(c *Config) { c.LLM.APIKey = "" }, "proxy.enabled"},
		{"key without base url", func(c *Config) { c.LLM.BaseURL = "" }, "llm.base_url"},
		{"bad header", func(c *Config) { c.LLM.Headers = map[string]string{"X Bad": "v"} }, "llm.headers"},
		{"bad embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"bad dim", func(c *Config) { c.Embedding.Dim = -1 }, "embedding.dim"},
		{
			"proxy without store path",
			func(c *Config) {
				c.LLM.APIKey = ""
				c.LLM.BaseURL = ""
				c.Proxy.Enabled = true
			},
			"proxy.token_store_path",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateProxyOnlyConfig(t *testing.T) {
	cfg := Config{
		Server:    ServerConfig{Port: 8080},
		LLM:       LLMConfig{Provider: "openai"},
		Proxy:     ProxyConfig{Enabled: true, TokenStorePath: "/tmp/token.json"},
		Embedding: EmbeddingConfig{Provider: "local", Model: "m", Dim: 384},
	}
	assert.NoError(t, cfg.Validate())
}
