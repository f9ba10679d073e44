// Package openai implements the chat-completion wire protocol shared by the
// direct-key upstream and the device-flow proxy.
package openai

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

	"modelgate/internal/credential"
	"modelgate/internal/models"
	"modelgate/internal/provider"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "modelgate/0.1"

	defaultMaxTokens = 1024
)

// Options configures the adapter. A non-nil Credentials routes the request
// through the device-flow proxy: the static key stays empty and the bearer
// token is derived per request.
type Options struct {
	BaseURL     string
	APIKey      string
	Headers     map[string]string
	Credentials *credential.Manager
}

// Client implements provider.Adapter for the chat-completion protocol.
type Client struct {
	baseURL string
	apiKey  string
	headers map[string]string
	creds   *credential.Manager
	client  *http.Client
	chatURL string
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
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		headers: opts.Headers,
		creds:   opts.Credentials,
		client:  client,
		chatURL: baseURL + "/chat/completions",
	}, nil
}

func (c *Client) Name() string {
	return "openai"
}

// Complete sends the normalized request over the chat-completion protocol.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	msgs := req.AssembleMessages()
	if len(msgs) == 0 {
		return nil, provider.ErrNoMessages
	}

	payload := buildPayload(req, msgs)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.chatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}
	if err := c.setHeaders(ctx, httpReq, msgs); err != nil {
		return nil, err
	}

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

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", provider.ErrUpstreamProtocol, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: response did not include choices", provider.ErrUpstreamProtocol)
	}

	choice := resp.Choices[0]
	result := &models.CompletionResult{
		Role:        choice.Message.Role,
		Text:        choice.Message.Content,
		Usage:       resp.usage(),
		RawResponse: respBody,
	}
	for _, tc := range choice.Message.ToolCalls {
		// the wire format carries arguments as a JSON-encoded string
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		if !json.Valid(args) {
			return nil, fmt.Errorf("%w: tool call %s carried invalid arguments", provider.ErrUpstreamProtocol, tc.ID)
		}
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	if result.Text == "" && len(result.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: response carried neither text nor tool calls", provider.ErrUpstreamProtocol)
	}

	logrus.WithFields(logrus.Fields{
		"correlation_id": req.CorrelationID,
		"model":          req.Model,
		"cached_tokens":  result.Usage.CachedTokens,
		"prompt_tokens":  result.Usage.PromptTokens,
		"total_tokens":   result.Usage.TotalTokens,
		"duration_ms":    time.Since(start).Milliseconds(),
	}).Info("completion")

	if req.JSONMode {
		result.ParsedJSON = parseJSONContent(result.Text, req.CorrelationID)
	}

	return result, nil
}

// setHeaders applies static headers, then the per-request proxy headers when
// routed through the device-flow credential path. Proxy-required headers win
// on collision, and any caller-supplied api-key or authorization header is
// stripped first: the proxy bearer token is authoritative.
func (c *Client) setHeaders(ctx context.Context, httpReq *http.Request, msgs []models.Message) error {
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)
	httpReq.Header.Set("User-Agent", userAgent)

	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	if c.creds == nil {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		return nil
	}

	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		return err
	}

	httpReq.Header.Del("X-Api-Key")
	httpReq.Header.Del("Authorization")
	for k, v := range credential.DefaultHeaders {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Openai-Intent", "conversation-edits")
	httpReq.Header.Set("X-Initiator", initiator(msgs))
	if isVisionRequest(msgs) {
		httpReq.Header.Set("Copilot-Vision-Request", "true")
	}
	return nil
}

// initiator classifies the request: agent-initiated when any message comes
// from a tool or the assistant, user-initiated otherwise.
func initiator(msgs []models.Message) string {
	for _, m := range msgs {
		if m.Role == "tool" || m.Role == "assistant" {
			return "agent"
		}
	}
	return "user"
}

// isVisionRequest reports whether any message content is a block list holding
// an image reference.
func isVisionRequest(msgs []models.Message) bool {
	for _, m := range msgs {
		parsed := gjson.ParseBytes(m.Content)
		if !parsed.IsArray() {
			continue
		}
		if parsed.Get(`#(type=="image_url")`).Exists() {
			return true
		}
	}
	return false
}

func buildPayload(req models.CompletionRequest, msgs []models.Message) map[string]any {
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	payload := map[string]any{
		"model":      req.Model,
		"messages":   msgs,
		"max_tokens": maxTokens,
	}
	if req.JSONMode {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.ParameterSchema,
				},
			})
		}
		payload["tools"] = tools
	}
	for k, v := range req.ProviderExtra {
		payload[k] = v
	}
	return payload
}

// parseJSONContent attempts the json_mode parse. A failure is downgraded to a
// warning and nil; the completion itself still succeeds.
func parseJSONContent(text, correlationID string) json.RawMessage {
	if !json.Valid([]byte(text)) {
		logrus.WithField("correlation_id", correlationID).Warnf("json_mode response is not valid JSON: %.200s", text)
		return nil
	}
	return json.RawMessage(text)
}

func upstreamError(status int, body []byte) error {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return fmt.Errorf("%w: status %d: %s", provider.ErrUpstreamProtocol, status, msg.String())
	}
	return fmt.Errorf("%w: status %d: %s", provider.ErrUpstreamProtocol, status, strings.TrimSpace(string(body)))
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage"`
}

type chatChoice struct {
	Message responseMessage `json:"message"`
}

type responseMessage struct {
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []responseToolCall `json:"tool_calls"`
}

type responseToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type usageBlock struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

func (r chatResponse) usage() models.Usage {
	if r.Usage == nil {
		return models.Usage{}
	}
	return models.Usage{
		PromptTokens:     r.Usage.PromptTokens,
		CachedTokens:     r.Usage.PromptTokensDetails.CachedTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		TotalTokens:      r.Usage.TotalTokens,
	}
}
