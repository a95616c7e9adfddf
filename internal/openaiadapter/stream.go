package openaiadapter

import (
	"github.com/google/uuid"

	"github.com/yansir/cc-relayer/internal/convert"
	"github.com/yansir/cc-relayer/internal/wire"
)

// StreamState tracks the per-response-id mapping from Anthropic content
// block index to OpenAI tool-call index, and emits zero-or-one chunk per
// Anthropic event (§4.8, outgoing streaming).
type StreamState struct {
	id    string
	model string

	toolIndexByBlock map[int]int
	nextToolIndex    int
}

func NewStreamState(model string) *StreamState {
	return &StreamState{
		id:               "chatcmpl-" + uuid.NewString(),
		model:            model,
		toolIndexByBlock: map[int]int{},
	}
}

// Feed consumes one Anthropic StreamEvent and returns zero or one
// ChatCompletionChunk, or nil if the event has no OpenAI-visible effect
// (thinking deltas, signature deltas, block-stop events).
func (s *StreamState) Feed(ev convert.StreamEvent) *ChatCompletionChunk {
	data, _ := ev.Data.(map[string]interface{})

	switch ev.Name {
	case "message_start":
		return s.chunk(ChatChunkDelta{Role: "assistant"}, nil)

	case "content_block_start":
		index, _ := data["index"].(int)
		block, _ := data["content_block"].(map[string]interface{})
		kind, _ := block["type"].(string)

		switch kind {
		case "text":
			return s.chunk(ChatChunkDelta{Content: ""}, nil)
		case "tool_use":
			toolIdx := s.nextToolIndex
			s.nextToolIndex++
			s.toolIndexByBlock[index] = toolIdx
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			return s.chunk(ChatChunkDelta{ToolCalls: []ChatToolCallDelta{{
				Index: toolIdx, ID: id, Type: "function",
				Function: ChatToolCallFunc{Name: name, Arguments: ""},
			}}}, nil)
		}
		return nil

	case "content_block_delta":
		index, _ := data["index"].(int)
		return s.feedDelta(index, data["delta"])

	case "message_delta":
		if delta, ok := data["delta"].(wire.MessageDelta); ok && delta.StopReason != "" {
			mapped := MapStopReason(delta.StopReason)
			return s.chunk(ChatChunkDelta{}, &mapped)
		}
		return nil

	case "message_stop":
		stop := "stop"
		return s.chunk(ChatChunkDelta{}, &stop)
	}
	return nil
}

func (s *StreamState) feedDelta(blockIndex int, delta interface{}) *ChatCompletionChunk {
	switch d := delta.(type) {
	case wire.TextDelta:
		return s.chunk(ChatChunkDelta{Content: d.Text}, nil)

	case wire.InputJSONDelta:
		toolIdx := s.toolIndexByBlock[blockIndex]
		return s.chunk(ChatChunkDelta{ToolCalls: []ChatToolCallDelta{{
			Index:    toolIdx,
			Function: ChatToolCallFunc{Arguments: d.PartialJSON},
		}}}, nil)

	case wire.ThinkingDelta, wire.SignatureDelta:
		return nil
	}
	return nil
}

func (s *StreamState) chunk(delta ChatChunkDelta, finishReason *string) *ChatCompletionChunk {
	return &ChatCompletionChunk{
		ID:     s.id,
		Object: "chat.completion.chunk",
		Model:  s.model,
		Choices: []ChatChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// DonePayload is the literal sentinel terminating an OpenAI SSE stream.
const DonePayload = "[DONE]"
