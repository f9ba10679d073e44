package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"modelgate/internal/config"
	"modelgate/internal/embedding"
	"modelgate/internal/gateway"
	"modelgate/internal/models"
	"modelgate/internal/provider"
)

type stubAdapter struct {
	result *models.CompletionResult
	err    error
}

func (s *stubAdapter) Name() string { return "openai" }

func (s *stubAdapter) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func testServer(t *testing.T, stub *stubAdapter) *Server {
	t.Helper()

	cfg := config.Config{
		Server:    config.ServerConfig{Port: 8080},
		LLM:       config.LLMConfig{APIKey: "sk", BaseURL: "https://api.openai.com/v1", Provider: "openai"},
		Embedding: config.EmbeddingConfig{Provider: "local", Model: "BAAI/bge-small-en-v1.5", Dim: 384},
	}

	registry := provider.NewRegistry()
	registry.Register("openai", func() (provider.Adapter, error) { return stub, nil })
	completion := gateway.NewCompletion(registry, cfg.LLM.Provider)

	local := embedding.NewLocal(embedding.NewCache(embedding.DefaultLoader()), "", cfg.Embedding.Dim, false)
	embeddings := gateway.NewEmbedding(cfg, nil, local)

	srv, err := New(cfg, completion, embeddings)
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.app.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := testServer(t, &stubAdapter{result: &models.CompletionResult{Text: "x"}})

	rec := do(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
}

func TestCompleteEndpoint(t *testing.T) {
	srv := testServer(t, &stubAdapter{result: &models.CompletionResult{
		Role:  "assistant",
		Text:  "hello back",
		Usage: models.Usage{PromptTokens: 3, TotalTokens: 5},
	}})

	rec := do(srv, http.MethodPost, "/v1/complete", `{"model":"gpt-4o-mini","user_prompt":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "hello back", gjson.Get(rec.Body.String(), "text").String())
	assert.Equal(t, int64(5), gjson.Get(rec.Body.String(), "usage.total_tokens").Int())
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestCompleteEndpointEchoesCorrelationID(t *testing.T) {
	srv := testServer(t, &stubAdapter{result: &models.CompletionResult{Text: "x"}})

	rec := do(srv, http.MethodPost, "/v1/complete", `{"model":"m","user_prompt":"hi","correlation_id":"corr-42"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "corr-42", rec.Header().Get("X-Correlation-Id"))
}

func TestCompleteEndpointEmptyRequest(t *testing.T) {
	srv := testServer(t, &stubAdapter{result: &models.CompletionResult{Text: "never"}})

	rec := do(srv, http.MethodPost, "/v1/complete", `{"model":"m"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_error", gjson.Get(rec.Body.String(), "error.type").String())
}

func TestCompleteEndpointUnknownProvider(t *testing.T) {
	srv := testServer(t, &stubAdapter{result: &models.CompletionResult{Text: "x"}})

	rec := do(srv, http.MethodPost, "/v1/complete", `{"provider":"mistral","model":"m","user_prompt":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteEndpointUpstreamFailure(t *testing.T) {
	srv := testServer(t, &stubAdapter{err: provider.ErrUpstreamTransport})

	rec := do(srv, http.MethodPost, "/v1/complete", `{"model":"m","user_prompt":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_error", gjson.Get(rec.Body.String(), "error.type").String())
}

func TestCompleteEndpointInvalidJSON(t *testing.T) {
	srv := testServer(t, &stubAdapter{})

	rec := do(srv, http.MethodPost, "/v1/complete", `{"model":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteEndpointEmptyBody(t *testing.T) {
	srv := testServer(t, &stubAdapter{})

	rec := do(srv, http.MethodPost, "/v1/complete", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), "required")
}

func TestCompleteEndpointTrailingGarbage(t *testing.T) {
	srv := testServer(t, &stubAdapter{})

	rec := do(srv, http.MethodPost, "/v1/complete", `{"model":"m","user_prompt":"hi"}{"again":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error.message").String(), "single JSON object")
}

func TestEmbeddingsEndpoint(t *testing.T) {
	srv := testServer(t, &stubAdapter{})

	rec := do(srv, http.MethodPost, "/v1/embeddings", `{"texts":["hello","world"],"provider":"local","model":"BAAI/bge-small-en-v1.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Equal(t, "local", gjson.Get(body, "provider").String())
	assert.Equal(t, int64(2), gjson.Get(body, "vectors.#").Int())
	assert.Equal(t, int64(384), gjson.Get(body, "vectors.0.#").Int())
}

func TestEmbeddingsEndpointEmptyTexts(t *testing.T) {
	srv := testServer(t, &stubAdapter{})

	rec := do(srv, http.MethodPost, "/v1/embeddings", `{"texts":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbeddingsEndpointFailureIsBadGateway(t *testing.T) {
	srv := testServer(t, &stubAdapter{})

	// the remote adapter is nil here, so asking for it must fail cleanly
	rec := do(srv, http.MethodPost, "/v1/embeddings", `{"texts":["a"],"provider":"openai"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream_error", gjson.Get(rec.Body.String(), "error.type").String())
}

func TestNewRequiresGateways(t *testing.T) {
	_, err := New(config.Config{}, nil, nil)
	assert.Error(t, err)
}
