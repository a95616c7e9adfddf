package openaiadapter

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/yansir/cc-relayer/internal/wire"
)

// FromAnthropicResponse collects an Anthropic non-streaming response into
// the OpenAI shape (§4.8, outgoing non-streaming).
func FromAnthropicResponse(resp wire.MessagesResponse) ChatCompletionResponse {
	var content string
	for _, b := range resp.Content {
		if b.Type == "text" {
			content += b.Text
		}
	}
	toolCalls := buildToolCalls(resp.Content)

	return ChatCompletionResponse{
		ID:     "chatcmpl-" + uuid.NewString(),
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatChoiceMsg{Role: "assistant", Content: content, ToolCalls: toolCalls},
			FinishReason: MapStopReason(resp.StopReason),
		}},
		Usage: ChatUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func buildToolCalls(blocks []wire.ContentBlock) []ChatToolCall {
	var out []ChatToolCall
	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		input := nonEmptyOrObject(b.Input)
		out = append(out, ChatToolCall{
			ID:   b.ID,
			Type: "function",
			Function: ChatToolCallFunc{
				Name:      b.Name,
				Arguments: string(input),
			},
		})
	}
	return out
}

func nonEmptyOrObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// MapStopReason maps an Anthropic stop_reason to an OpenAI finish_reason
// (§4.8).
func MapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return "stop"
	}
}
