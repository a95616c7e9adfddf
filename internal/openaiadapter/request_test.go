package openaiadapter

import (
	"encoding/json"
	"testing"

	"github.com/yansir/cc-relayer/internal/wire"
)

func TestToAnthropicRequestMergesSystemAndDeveloperMessages(t *testing.T) {
	req := ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []ChatMessage{
			{Role: "system", Content: json.RawMessage(`"be concise"`)},
			{Role: "developer", Content: json.RawMessage(`"never lie"`)},
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	}
	out, err := ToAnthropicRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sys string
	if err := json.Unmarshal(out.System, &sys); err != nil {
		t.Fatalf("expected system to decode as a string: %v", err)
	}
	if sys != "be concise\n\nnever lie" {
		t.Fatalf("unexpected merged system text: %q", sys)
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Fatalf("expected system/developer messages excluded from Messages, got %#v", out.Messages)
	}
}

func TestToAnthropicRequestToolMessageBecomesToolResult(t *testing.T) {
	req := ChatCompletionRequest{
		Messages: []ChatMessage{
			{Role: "tool", ToolCallID: "call_1", Content: json.RawMessage(`"42"`)},
		},
	}
	out, err := ToAnthropicRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Fatalf("expected a tool message remapped to role=user, got %#v", out.Messages)
	}
	var blocks []wire.ContentBlock
	if err := json.Unmarshal(out.Messages[0].RawContent, &blocks); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	if len(blocks) != 1 || blocks[0].Type != "tool_result" || blocks[0].ToolUseID != "call_1" {
		t.Fatalf("unexpected tool_result block: %#v", blocks)
	}
}

func TestToAnthropicRequestAssistantToolCallsBecomeToolUseBlocks(t *testing.T) {
	req := ChatCompletionRequest{
		Messages: []ChatMessage{
			{
				Role:    "assistant",
				Content: json.RawMessage(`"let me check"`),
				ToolCalls: []ChatToolCall{
					{ID: "call_1", Type: "function", Function: ChatToolCallFunc{Name: "search", Arguments: `{"q":"x"}`}},
				},
			},
		},
	}
	out, err := ToAnthropicRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var blocks []wire.ContentBlock
	if err := json.Unmarshal(out.Messages[0].RawContent, &blocks); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	if len(blocks) != 2 || blocks[0].Type != "text" || blocks[1].Type != "tool_use" {
		t.Fatalf("expected text block followed by tool_use block, got %#v", blocks)
	}
	if blocks[1].ID != "call_1" || blocks[1].Name != "search" {
		t.Fatalf("unexpected tool_use block: %#v", blocks[1])
	}
}

func TestToAnthropicRequestImageURLPart(t *testing.T) {
	req := ChatCompletionRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: json.RawMessage(`[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]`)},
		},
	}
	out, err := ToAnthropicRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var blocks []wire.ContentBlock
	if err := json.Unmarshal(out.Messages[0].RawContent, &blocks); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	if len(blocks) != 2 || blocks[1].Type != "image" || blocks[1].Source.URL != "https://x/y.png" {
		t.Fatalf("unexpected blocks: %#v", blocks)
	}
}

func TestToAnthropicRequestToolsAndToolChoice(t *testing.T) {
	req := ChatCompletionRequest{
		Tools: []ChatTool{
			{Type: "function", Function: ChatToolFunction{Name: "search", Parameters: json.RawMessage(`{"type":"object"}`)}},
		},
		ToolChoice: json.RawMessage(`{"type":"function","function":{"name":"search"}}`),
	}
	out, err := ToAnthropicRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Tools) != 1 || out.Tools[0].Name != "search" {
		t.Fatalf("unexpected tools: %#v", out.Tools)
	}
	var tc map[string]string
	if err := json.Unmarshal(out.ToolChoice, &tc); err != nil {
		t.Fatalf("failed to decode tool choice: %v", err)
	}
	if tc["type"] != "tool" || tc["name"] != "search" {
		t.Fatalf("expected tool_choice remapped to {type:tool,name}, got %#v", tc)
	}
}

func TestToAnthropicRequestToolChoiceStringPassesThrough(t *testing.T) {
	req := ChatCompletionRequest{ToolChoice: json.RawMessage(`"none"`)}
	out, err := ToAnthropicRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s string
	if err := json.Unmarshal(out.ToolChoice, &s); err != nil || s != "none" {
		t.Fatalf("expected tool_choice=\"none\" to pass through unchanged, got %s (%v)", out.ToolChoice, err)
	}
}

func TestToAnthropicRequestStopSequences(t *testing.T) {
	single, err := ToAnthropicRequest(ChatCompletionRequest{Stop: json.RawMessage(`"END"`)})
	if err != nil || len(single.StopSequences) != 1 || single.StopSequences[0] != "END" {
		t.Fatalf("unexpected single stop sequence: %#v err=%v", single.StopSequences, err)
	}

	many, err := ToAnthropicRequest(ChatCompletionRequest{Stop: json.RawMessage(`["A","B"]`)})
	if err != nil || len(many.StopSequences) != 2 {
		t.Fatalf("unexpected multi stop sequence: %#v err=%v", many.StopSequences, err)
	}
}
