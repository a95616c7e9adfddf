package convert

import (
	"encoding/json"

	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/thinking"
	"github.com/yansir/cc-relayer/internal/wire"
)

// unwrap descends through a vendor response's optional outer "response"
// envelope (seen on some SSE lines) to the object actually carrying
// candidates/usageMetadata.
func unwrap(vr *wire.VendorResponse) *wire.VendorResponse {
	for vr != nil && vr.Response != nil && len(vr.Candidates) == 0 {
		vr = vr.Response
	}
	return vr
}

// StopReason maps a vendor finishReason (or a tool_use override) to the
// Anthropic stop_reason vocabulary (§4.7).
func StopReason(finishReason string, hasToolUse bool) string {
	if hasToolUse {
		return "tool_use"
	}
	switch finishReason {
	case "MAX_TOKENS":
		return "max_tokens"
	case "TOOL_USE":
		return "tool_use"
	case "STOP", "":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// BuildMessagesResponse runs the non-streaming C7 converter over one vendor
// response object.
func BuildMessagesResponse(raw wire.VendorResponse, model string, cache *sigcache.Cache) wire.MessagesResponse {
	vr := unwrap(&raw)

	resp := wire.MessagesResponse{
		ID:    NewMessageID(),
		Type:  "message",
		Role:  "assistant",
		Model: model,
	}

	if vr == nil || len(vr.Candidates) == 0 {
		resp.StopReason = "end_turn"
		return resp
	}

	cand := vr.Candidates[0]
	hasToolUse := false

	for _, part := range cand.Content.Parts {
		switch {
		case part.Thought:
			resp.Content = append(resp.Content, wire.ContentBlock{
				Type:      "thinking",
				Thinking:  part.Text,
				Signature: part.ThoughtSignature,
			})

		case part.FunctionCall != nil:
			hasToolUse = true
			id := part.FunctionCall.ID
			if id == "" {
				id = NewToolUseID()
			}
			input := part.FunctionCall.Args
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			block := wire.ContentBlock{Type: "tool_use", ID: id, Name: part.FunctionCall.Name, Input: input}
			if thinking.ValidSignature(part.ThoughtSignature, true) {
				block.Signature = part.ThoughtSignature
				cache.Put(id, part.ThoughtSignature)
			}
			resp.Content = append(resp.Content, block)

		case part.Text != "":
			resp.Content = append(resp.Content, wire.ContentBlock{Type: "text", Text: part.Text})
		}
	}

	resp.StopReason = StopReason(cand.FinishReason, hasToolUse)

	if vr.UsageMetadata != nil {
		u := vr.UsageMetadata
		resp.Usage = wire.Usage{
			InputTokens:          u.PromptTokenCount - u.CachedContentTokenCount,
			OutputTokens:         u.CandidatesTokenCount,
			CacheReadInputTokens: u.CachedContentTokenCount,
		}
	}

	return resp
}

// EmptyResponseFallback synthesizes the minimal Anthropic-shaped response
// when the upstream produced no parts at all, grounded on the teacher's own
// empty-response handling for the non-streaming case.
func EmptyResponseFallback(model string) wire.MessagesResponse {
	return wire.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		Content:    []wire.ContentBlock{{Type: "text", Text: ""}},
		StopReason: "end_turn",
	}
}
