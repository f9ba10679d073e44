package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"modelgate/internal/models"
)

const (
	defaultRemoteBaseURL  = "https://api.openai.com/v1"
	defaultRequestTimeout = 60 * time.Second
)

// NewHTTPClient returns a client tuned for embedding calls. Batches are
// cheaper than completions, so the timeout is much shorter.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultRequestTimeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        50,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Remote calls the remote embeddings API.
type Remote struct {
	apiKey        string
	embeddingsURL string
	client        *http.Client
}

// NewRemote creates the remote provider adapter. baseURL may be empty, in
// which case the public API host is used.
func NewRemote(baseURL, apiKey string, client *http.Client) (*Remote, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	if baseURL == "" {
		baseURL = defaultRemoteBaseURL
	}
	return &Remote{
		apiKey:        apiKey,
		embeddingsURL: strings.TrimRight(baseURL, "/") + "/embeddings",
		client:        client,
	}, nil
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Embed requests embeddings for the batch. Phase is accepted for interface
// parity; the remote API applies no phase-specific handling.
func (r *Remote) Embed(ctx context.Context, model string, texts []string, phase models.EmbeddingPhase) (*models.EmbeddingResult, error) {
	body, err := json.Marshal(embeddingsRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.embeddingsURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	start := time.Now()
	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		if msg := gjson.GetBytes(respBody, "error.message"); msg.Exists() {
			return nil, fmt.Errorf("embedding API error (status %d): %s", httpResp.StatusCode, msg.String())
		}
		return nil, fmt.Errorf("embedding API error (status %d): %s", httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var resp embeddingsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response carried %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	logrus.WithFields(logrus.Fields{
		"model":       model,
		"batch":       len(texts),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("remote embedding")

	return &models.EmbeddingResult{
		Vectors:      vectors,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		Model:        model,
	}, nil
}
