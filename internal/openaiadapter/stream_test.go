package openaiadapter

import (
	"testing"

	"github.com/yansir/cc-relayer/internal/convert"
	"github.com/yansir/cc-relayer/internal/wire"
)

func TestStreamStateMessageStartEmitsRoleChunk(t *testing.T) {
	s := NewStreamState("gpt-4o")
	chunk := s.Feed(convert.StreamEvent{Name: "message_start"})
	if chunk == nil || chunk.Choices[0].Delta.Role != "assistant" {
		t.Fatalf("expected a role=assistant chunk, got %#v", chunk)
	}
	if chunk.Object != "chat.completion.chunk" {
		t.Fatalf("unexpected object field: %q", chunk.Object)
	}
}

func TestStreamStateTextDeltaPassesThroughContent(t *testing.T) {
	s := NewStreamState("gpt-4o")
	chunk := s.Feed(convert.StreamEvent{
		Name: "content_block_delta",
		Data: map[string]interface{}{"index": 0, "delta": wire.TextDelta{Type: "text_delta", Text: "hi"}},
	})
	if chunk == nil || chunk.Choices[0].Delta.Content != "hi" {
		t.Fatalf("expected content delta \"hi\", got %#v", chunk)
	}
}

func TestStreamStateThinkingAndSignatureDeltasProduceNoChunk(t *testing.T) {
	s := NewStreamState("gpt-4o")
	if chunk := s.Feed(convert.StreamEvent{
		Name: "content_block_delta",
		Data: map[string]interface{}{"index": 0, "delta": wire.ThinkingDelta{Type: "thinking_delta", Thinking: "..."}},
	}); chunk != nil {
		t.Fatalf("expected no OpenAI-visible chunk for a thinking delta, got %#v", chunk)
	}
	if chunk := s.Feed(convert.StreamEvent{
		Name: "content_block_delta",
		Data: map[string]interface{}{"index": 0, "delta": wire.SignatureDelta{Type: "signature_delta", Signature: "sig"}},
	}); chunk != nil {
		t.Fatalf("expected no OpenAI-visible chunk for a signature delta, got %#v", chunk)
	}
}

// Tool-call block indices must map stably to OpenAI's own 0-based tool index
// regardless of the Anthropic content_block index they arrived under.
func TestStreamStateToolUseIndexMapping(t *testing.T) {
	s := NewStreamState("gpt-4o")

	start := s.Feed(convert.StreamEvent{
		Name: "content_block_start",
		Data: map[string]interface{}{"index": 2, "content_block": map[string]interface{}{
			"type": "tool_use", "id": "call_1", "name": "search",
		}},
	})
	if start == nil || len(start.Choices[0].Delta.ToolCalls) != 1 {
		t.Fatalf("expected a tool_calls delta on block start, got %#v", start)
	}
	tc := start.Choices[0].Delta.ToolCalls[0]
	if tc.Index != 0 || tc.ID != "call_1" || tc.Type != "function" || tc.Function.Name != "search" {
		t.Fatalf("unexpected tool call delta: %#v", tc)
	}

	delta := s.Feed(convert.StreamEvent{
		Name: "content_block_delta",
		Data: map[string]interface{}{"index": 2, "delta": wire.InputJSONDelta{Type: "input_json_delta", PartialJSON: `{"q":"x"}`}},
	})
	if delta == nil || len(delta.Choices[0].Delta.ToolCalls) != 1 {
		t.Fatalf("expected a tool_calls argument delta, got %#v", delta)
	}
	argDelta := delta.Choices[0].Delta.ToolCalls[0]
	if argDelta.Index != 0 || argDelta.Function.Arguments != `{"q":"x"}` {
		t.Fatalf("unexpected argument delta: %#v", argDelta)
	}
}

func TestStreamStateMessageDeltaMapsStopReason(t *testing.T) {
	s := NewStreamState("gpt-4o")
	chunk := s.Feed(convert.StreamEvent{
		Name: "message_delta",
		Data: map[string]interface{}{"delta": wire.MessageDelta{StopReason: "tool_use"}},
	})
	if chunk == nil || chunk.Choices[0].FinishReason == nil || *chunk.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("expected finish_reason=tool_calls, got %#v", chunk)
	}
}

func TestStreamStateMessageStopEmitsStopFinishReason(t *testing.T) {
	s := NewStreamState("gpt-4o")
	chunk := s.Feed(convert.StreamEvent{Name: "message_stop"})
	if chunk == nil || chunk.Choices[0].FinishReason == nil || *chunk.Choices[0].FinishReason != "stop" {
		t.Fatalf("expected finish_reason=stop, got %#v", chunk)
	}
}

func TestStreamStateContentBlockStopHasNoOpenAIEffect(t *testing.T) {
	s := NewStreamState("gpt-4o")
	if chunk := s.Feed(convert.StreamEvent{Name: "content_block_stop", Data: map[string]interface{}{"index": 0}}); chunk != nil {
		t.Fatalf("expected no chunk for content_block_stop, got %#v", chunk)
	}
}
