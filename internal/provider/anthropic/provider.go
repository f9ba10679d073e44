// Package anthropic implements the message-block wire protocol of the
// alternate completion upstream.
package anthropic

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
	"modelgate/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "modelgate/0.1"
	apiVersion      = "2023-06-01"

	defaultMaxTokens = 1024

	// appended to the system prompt under json_mode; this protocol has no
	// structured-output flag
	jsonModeInstruction = "Please respond with valid JSON only, don't wrap the json with ```json"
)

// Options configures the adapter.
type Options struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
}

// Client implements provider.Adapter for the message-block protocol.
type Client struct {
	apiKey      string
	headers     map[string]string
	client      *http.Client
	messagesURL string
}

// New creates an adapter handle.
func New(opts Options, client *http.Client) (*Client, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Client{
		apiKey:      opts.APIKey,
		headers:     opts.Headers,
		client:      client,
		messagesURL: baseURL + "/v1/messages",
	}, nil
}

func (c *Client) Name() string {
	return "anthropic"
}

// Complete sends the normalized request over the message-block protocol.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	// required headers win over configured ones on collision
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		logrus.WithField("correlation_id", req.CorrelationID).WithError(err).Error("completion request failed")
		return nil, fmt.Errorf("%w: %v", provider.ErrUpstreamTransport, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", provider.ErrUpstreamTransport, err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, upstreamError(httpResp.StatusCode, respBody)
	}

	var resp messageResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", provider.ErrUpstreamProtocol, err)
	}

	result, err := resp.toResult(respBody)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"correlation_id": req.CorrelationID,
		"model":          req.Model,
		"cached_tokens":  result.Usage.CachedTokens,
		"prompt_tokens":  result.Usage.PromptTokens,
		"total_tokens":   result.Usage.TotalTokens,
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Info("completion")

	if req.JSONMode && result.Text != "" {
		if json.Valid([]byte(result.Text)) {
			result.ParsedJSON = json.RawMessage(result.Text)
		} else {
			logrus.WithField("correlation_id", req.CorrelationID).Warnf("json_mode response is not valid JSON: %.200s", result.Text)
		}
	}

	return result, nil
}

type messagePayload struct {
	Model     string           `json:"model"`
	Messages  []models.Message `json:"messages"`
	System    string           `json:"system,omitempty"`
	MaxTokens int              `json:"max_tokens"`
	Tools     []toolSpec       `json:"tools,omitempty"`
}

// toolSpec is this protocol's {name, description, input_schema} tool shape,
// translated from the generic definition.
type toolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

func buildPayload(req models.CompletionRequest) (*messagePayload, error) {
	msgs := make([]models.Message, 0, len(req.History)+1)
	msgs = append(msgs, req.History...)
	if req.UserPrompt != "" {
		msgs = append(msgs, models.TextMessage("user", req.UserPrompt))
	}
	if len(msgs) == 0 && req.SystemPrompt == "" {
		return nil, provider.ErrNoMessages
	}
	if len(msgs) == 0 {
		return nil, errors.New("message-block requests require at least one non-system message")
	}

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	system := req.SystemPrompt
	if req.JSONMode {
		system = strings.TrimSpace(system + "\n" + jsonModeInstruction)
	}

	payload := &messagePayload{
		Model:     req.Model,
		Messages:  msgs,
		System:    system,
		MaxTokens: maxTokens,
	}

	for _, t := range req.Tools {
		schema := t.ParameterSchema
		if len(schema) == 0 {
			schema = json.RawMessage("{}")
		}
		payload.Tools = append(payload.Tools, toolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	return payload, nil
}

type messageResponse struct {
	ID      string         `json:"id"`
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens          int `json:"input_tokens"`
		OutputTokens         int `json:"output_tokens"`
		CacheReadInputTokens int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// toResult concatenates text blocks in order and converts each tool_use block
// into one tool call with its input serialized as a JSON object string. Other
// block kinds carry nothing the normalized schema represents and are skipped.
func (r messageResponse) toResult(raw []byte) (*models.CompletionResult, error) {
	var text strings.Builder
	var toolCalls []models.ToolCall

	for _, block := range r.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := block.Input
			if len(args) == 0 || string(args) == "null" {
				args = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		default:
			logrus.WithField("block_type", block.Type).Debug("skipping unrecognized content block")
		}
	}

	if text.Len() == 0 && len(toolCalls) == 0 {
		return nil, fmt.Errorf("%w: response carried neither text nor tool calls", provider.ErrUpstreamProtocol)
	}

	role := r.Role
	if role == "" {
		role = "assistant"
	}

	return &models.CompletionResult{
		Role:      role,
		Text:      text.String(),
		ToolCalls: toolCalls,
		Usage: models.Usage{
			PromptTokens:     r.Usage.InputTokens,
			CachedTokens:     r.Usage.CacheReadInputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
		RawResponse: raw,
	}, nil
}

func upstreamError(status int, body []byte) error {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return fmt.Errorf("%w: status %d: %s", provider.ErrUpstreamProtocol, status, msg.String())
	}
	return fmt.Errorf("%w: status %d: %s", provider.ErrUpstreamProtocol, status, strings.TrimSpace(string(body)))
}
