package models

import "encoding/json"

// Message represents a single conversational message in the normalized schema.
// Content is kept as raw JSON because upstream providers accept either a plain
// string or a list of typed content blocks (text, image references).
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TextMessage builds a message whose content is a plain string.
func TextMessage(role, text string) Message {
	content, _ := json.Marshal(text)
	return Message{Role: role, Content: content}
}

// Text returns the content as a string when it is a plain JSON string,
// otherwise the empty string.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return ""
	}
	return s
}

// ToolSpec describes a tool offered to the model, in the generic
// {name, description, parameter schema} shape.
type ToolSpec struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	ParameterSchema json.RawMessage `json:"parameter_schema"`
}

// ToolCall is a tool invocation requested by the model. Arguments is always a
// serialized JSON object.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionRequest is the canonical representation of a completion call.
type CompletionRequest struct {
	Model           string         `json:"model"`
	SystemPrompt    string         `json:"system_prompt,omitempty"`
	History         []Message      `json:"history,omitempty"`
	UserPrompt      string         `json:"user_prompt,omitempty"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	JSONMode        bool           `json:"json_mode,omitempty"`
	Tools           []ToolSpec     `json:"tools,omitempty"`
	ProviderExtra   map[string]any `json:"provider_extra,omitempty"`

	// CorrelationID is threaded through for log correlation. Supplied by the
	// caller; the HTTP layer mints one when absent.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// AssembleMessages builds the ordered message list sent upstream:
// optional system message, then history, then the optional user prompt.
func (r CompletionRequest) AssembleMessages() []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if r.SystemPrompt != "" {
		msgs = append(msgs, TextMessage("system", r.SystemPrompt))
	}
	msgs = append(msgs, r.History...)
	if r.UserPrompt != "" {
		msgs = append(msgs, TextMessage("user", r.UserPrompt))
	}
	return msgs
}

// CompletionResult captures a provider response in the normalized schema.
// On success at least one of Text or ToolCalls is non-empty.
type CompletionResult struct {
	Role      string     `json:"role"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ParsedJSON is set only when json_mode was requested and Text parsed
	// cleanly; a parse failure leaves it nil without failing the request.
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"`

	Usage Usage `json:"usage"`

	// RawResponse is the unmodified upstream response body.
	RawResponse json.RawMessage `json:"-"`
}

// Usage records token accounting for a completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CachedTokens     int `json:"cached_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EmbeddingResult holds embedding vectors aligned 1:1 with the input texts.
// Every vector has exactly the configured target dimension. Provider and Model
// report what was actually used after any fallback substitution.
type EmbeddingResult struct {
	Vectors      [][]float32 `json:"vectors"`
	PromptTokens int         `json:"prompt_tokens"`
	TotalTokens  int         `json:"total_tokens"`
	Provider     string      `json:"provider"`
	Model        string      `json:"model"`
}

// EmbeddingPhase distinguishes query texts from stored documents; some local
// models apply a phase-specific prefix.
type EmbeddingPhase string

const (
	PhaseQuery    EmbeddingPhase = "query"
	PhaseDocument EmbeddingPhase = "document"
)
