// Package wire defines the JSON wire shapes for both upstream-facing
// protocols (Anthropic Messages, the vendor's Cloud Code dialect) and the
// OpenAI Chat Completions shape the adapter translates. Field shapes are
// grounded on the Anthropic types used throughout the pack's goclaw/
// antigravity-proxy-go reference fragments (pkg/anthropic.MessagesRequest
// and friends), adapted to match this design's exact block/event set.
package wire

import "encoding/json"

// MessagesRequest is the inbound/outbound Anthropic Messages shape (§6).
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	Stream        bool            `json:"stream,omitempty"`
	System        json.RawMessage `json:"system,omitempty"` // string or []ContentBlock
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Thinking      *ThinkingParam  `json:"thinking,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
}

type ThinkingParam struct {
	BudgetTokens *int `json:"budget_tokens,omitempty"`
}

type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	// Some callers nest under "function" (OpenAI-adapter-origin tools).
	Function *ToolFunction `json:"function,omitempty"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Message is one turn. Content is either a plain string or a ContentBlock
// sequence; callers type-switch on RawContent.
type Message struct {
	Role       string          `json:"role"`
	RawContent json.RawMessage `json:"content"`
}

// ContentBlock is the tagged-union wire shape for a single content block.
type ContentBlock struct {
	Type string `json:"type"`

	// text / thinking
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image / document
	Source *ContentSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"` // string or []ContentBlock

	// redacted_thinking
	Data string `json:"data,omitempty"`
}

type ContentSource struct {
	Type      string `json:"type"` // "base64" | "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// MessagesResponse is the non-streaming Anthropic response shape.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// ErrorResponse is the Anthropic-shaped error envelope (§7).
type ErrorResponse struct {
	Type  string             `json:"type"`
	Error ErrorResponseBody `json:"error"`
}

type ErrorResponseBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// --- Streaming event payloads ---

type SSEEvent struct {
	Type         string         `json:"-"`
	Message      *MessagesResponse `json:"message,omitempty"`
	Index        int            `json:"index,omitempty"`
	ContentBlock *ContentBlock  `json:"content_block,omitempty"`
	Delta        interface{}    `json:"delta,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
}

type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ThinkingDelta struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

type SignatureDelta struct {
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

type InputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

type MessageDelta struct {
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence"`
}
