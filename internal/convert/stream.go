package convert

import (
	"encoding/json"

	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/thinking"
	"github.com/yansir/cc-relayer/internal/wire"
)

// blockKind tracks which Anthropic content-block type is currently open in
// the streaming state machine (§4.7 streaming, step 2).
type blockKind int

const (
	blockNone blockKind = iota
	blockThinking
	blockText
	blockToolUse
)

// StreamEvent is one emitted SSE event: Name is the `event:` line, Data
// marshals to the `data:` line.
type StreamEvent struct {
	Name string
	Data interface{}
}

// StreamState accumulates the pure, bounded per-response state the SSE
// converter needs across vendor `data:` lines: open block bookkeeping, the
// longest thinking signature seen, usage, and the running stop reason.
type StreamState struct {
	cache *sigcache.Cache

	model       string
	messageID   string
	started     bool
	sawAnyPart  bool

	blockIndex   int
	current      blockKind
	curSignature string
	curToolID    string

	stopReason string
	usage      wire.Usage
}

// NewStreamState starts a converter for one response; model names the
// client-visible model field echoed in message_start.
func NewStreamState(model string, cache *sigcache.Cache) *StreamState {
	return &StreamState{model: model, cache: cache, current: blockNone, stopReason: "end_turn"}
}

// Feed processes one decoded vendor response object (one `data:` line,
// already unwrapped of any outer "response" envelope) and returns the
// Anthropic events it produces.
func (s *StreamState) Feed(raw wire.VendorResponse) []StreamEvent {
	vr := unwrap(&raw)
	if vr == nil || len(vr.Candidates) == 0 {
		return nil
	}

	var events []StreamEvent
	cand := vr.Candidates[0]

	for _, part := range cand.Content.Parts {
		events = append(events, s.feedPart(part)...)
	}

	if vr.UsageMetadata != nil {
		u := vr.UsageMetadata
		s.usage.InputTokens = u.PromptTokenCount - u.CachedContentTokenCount
		s.usage.CacheReadInputTokens = u.CachedContentTokenCount
		s.usage.OutputTokens = u.CandidatesTokenCount
	}

	if cand.FinishReason != "" {
		hasToolUse := s.current == blockToolUse
		s.stopReason = StopReason(cand.FinishReason, hasToolUse)
	}

	return events
}

func (s *StreamState) feedPart(part wire.VendorPart) []StreamEvent {
	var events []StreamEvent

	if !s.started {
		s.started = true
		s.messageID = NewMessageID()
		events = append(events, StreamEvent{Name: "message_start", Data: startPayload(s.messageID, s.model)})
	}

	kind := partKind(part)
	if kind == blockNone {
		return events
	}
	s.sawAnyPart = true

	if s.current != blockNone && s.current != kind {
		events = append(events, s.closeCurrentBlock()...)
	}
	if s.current != kind {
		s.current = kind
		s.curSignature = ""
		s.curToolID = ""
		if kind == blockToolUse {
			s.curToolID = toolUseID(part)
			if thinking.ValidSignature(part.ThoughtSignature, true) {
				s.curSignature = part.ThoughtSignature
			}
		}
		events = append(events, StreamEvent{
			Name: "content_block_start",
			Data: map[string]interface{}{"index": s.blockIndex, "content_block": startBlockFor(kind, part, s.curToolID, s.curSignature)},
		})
	}

	switch kind {
	case blockThinking:
		if len(part.ThoughtSignature) > len(s.curSignature) {
			s.curSignature = part.ThoughtSignature
		}
		events = append(events, StreamEvent{
			Name: "content_block_delta",
			Data: map[string]interface{}{"index": s.blockIndex, "delta": wire.ThinkingDelta{Type: "thinking_delta", Thinking: part.Text}},
		})

	case blockText:
		if part.Text == "" {
			break
		}
		events = append(events, StreamEvent{
			Name: "content_block_delta",
			Data: map[string]interface{}{"index": s.blockIndex, "delta": wire.TextDelta{Type: "text_delta", Text: part.Text}},
		})

	case blockToolUse:
		if thinking.ValidSignature(part.ThoughtSignature, true) {
			s.curSignature = part.ThoughtSignature
			s.cache.Put(s.curToolID, part.ThoughtSignature)
		}
		args := part.FunctionCall.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		events = append(events, StreamEvent{
			Name: "content_block_delta",
			Data: map[string]interface{}{"index": s.blockIndex, "delta": wire.InputJSONDelta{Type: "input_json_delta", PartialJSON: string(args)}},
		})
		s.stopReason = "tool_use"
	}

	return events
}

// closeCurrentBlock emits the pending signature_delta (thinking only) and
// content_block_stop for whatever block is open, advancing blockIndex.
func (s *StreamState) closeCurrentBlock() []StreamEvent {
	var events []StreamEvent
	if s.current == blockThinking && s.curSignature != "" {
		events = append(events, StreamEvent{
			Name: "content_block_delta",
			Data: map[string]interface{}{"index": s.blockIndex, "delta": wire.SignatureDelta{Type: "signature_delta", Signature: s.curSignature}},
		})
	}
	events = append(events, StreamEvent{Name: "content_block_stop", Data: map[string]interface{}{"index": s.blockIndex}})
	s.blockIndex++
	return events
}

// Finish emits the closing event sequence once the vendor stream ends
// (§4.7 streaming, step 7), or synthesizes a minimal placeholder message if
// no part ever arrived (step 8).
// Usage returns the usage totals accumulated so far.
func (s *StreamState) Usage() wire.Usage {
	return s.usage
}

func (s *StreamState) Finish() []StreamEvent {
	if !s.sawAnyPart {
		return s.emptyFallback()
	}

	var events []StreamEvent
	if s.current != blockNone {
		events = append(events, s.closeCurrentBlock()...)
	}
	events = append(events, StreamEvent{
		Name: "message_delta",
		Data: map[string]interface{}{
			"delta": wire.MessageDelta{StopReason: s.stopReason},
			"usage": map[string]interface{}{
				"output_tokens":               s.usage.OutputTokens,
				"cache_read_input_tokens":     s.usage.CacheReadInputTokens,
				"cache_creation_input_tokens": 0,
			},
		},
	})
	events = append(events, StreamEvent{Name: "message_stop", Data: map[string]interface{}{}})
	return events
}

func (s *StreamState) emptyFallback() []StreamEvent {
	id := s.messageID
	if id == "" {
		id = NewMessageID()
	}
	resp := EmptyResponseFallback(s.model)
	resp.ID = id
	return []StreamEvent{
		{Name: "message_start", Data: startPayload(id, s.model)},
		{Name: "content_block_start", Data: map[string]interface{}{"index": 0, "content_block": map[string]interface{}{"type": "text", "text": ""}}},
		{Name: "content_block_stop", Data: map[string]interface{}{"index": 0}},
		{Name: "message_delta", Data: map[string]interface{}{
			"delta": wire.MessageDelta{StopReason: "end_turn"},
			"usage": map[string]interface{}{"output_tokens": 0, "cache_read_input_tokens": 0, "cache_creation_input_tokens": 0},
		}},
		{Name: "message_stop", Data: map[string]interface{}{}},
	}
}

func startPayload(id, model string) map[string]interface{} {
	return map[string]interface{}{
		"message": wire.MessagesResponse{
			ID: id, Type: "message", Role: "assistant", Model: model,
			Content: []wire.ContentBlock{},
		},
	}
}

func partKind(part wire.VendorPart) blockKind {
	switch {
	case part.Thought:
		return blockThinking
	case part.FunctionCall != nil:
		return blockToolUse
	case part.Text != "":
		return blockText
	default:
		return blockNone
	}
}

func toolUseID(part wire.VendorPart) string {
	if part.FunctionCall != nil && part.FunctionCall.ID != "" {
		return part.FunctionCall.ID
	}
	return NewToolUseID()
}

func startBlockFor(kind blockKind, part wire.VendorPart, toolID, signature string) map[string]interface{} {
	switch kind {
	case blockThinking:
		return map[string]interface{}{"type": "thinking", "thinking": "", "signature": ""}
	case blockText:
		return map[string]interface{}{"type": "text", "text": ""}
	case blockToolUse:
		name := ""
		if part.FunctionCall != nil {
			name = part.FunctionCall.Name
		}
		block := map[string]interface{}{"type": "tool_use", "id": toolID, "name": name, "input": map[string]interface{}{}}
		if signature != "" {
			block["thoughtSignature"] = signature
		}
		return block
	}
	return map[string]interface{}{}
}
