package convert

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/wire"
)

func TestStopReasonToolUseOverridesFinishReason(t *testing.T) {
	if got := StopReason("STOP", true); got != "tool_use" {
		t.Fatalf("expected tool_use override, got %q", got)
	}
}

func TestStopReasonMapsKnownFinishReasons(t *testing.T) {
	cases := map[string]string{
		"MAX_TOKENS": "max_tokens",
		"TOOL_USE":   "tool_use",
		"STOP":       "end_turn",
		"":           "end_turn",
		"SAFETY":     "end_turn",
	}
	for in, want := range cases {
		if got := StopReason(in, false); got != want {
			t.Fatalf("StopReason(%q, false) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildMessagesResponseNoCandidatesYieldsEndTurn(t *testing.T) {
	resp := BuildMessagesResponse(wire.VendorResponse{}, "claude-x", sigcache.New())
	if resp.StopReason != "end_turn" || resp.Role != "assistant" || resp.Type != "message" {
		t.Fatalf("unexpected empty-candidate response: %#v", resp)
	}
	if resp.ID == "" {
		t.Fatalf("expected a generated message id")
	}
}

func TestBuildMessagesResponseUnwrapsOuterResponseEnvelope(t *testing.T) {
	inner := wire.VendorResponse{
		Candidates: []wire.VendorCandidate{{
			Content:      wire.VendorContent{Parts: []wire.VendorPart{{Text: "hi"}}},
			FinishReason: "STOP",
		}},
	}
	outer := wire.VendorResponse{Response: &inner}
	resp := BuildMessagesResponse(outer, "claude-x", sigcache.New())
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi" {
		t.Fatalf("expected unwrapped candidate content, got %#v", resp.Content)
	}
}

func TestBuildMessagesResponseToolUseGeneratesIDAndCachesValidSignature(t *testing.T) {
	longSig := strings.Repeat("s", 60)
	vr := wire.VendorResponse{
		Candidates: []wire.VendorCandidate{{
			Content: wire.VendorContent{Parts: []wire.VendorPart{
				{FunctionCall: &wire.VendorFuncCall{Name: "search", Args: json.RawMessage(`{"q":"x"}`)}, ThoughtSignature: longSig},
			}},
			FinishReason: "STOP",
		}},
	}
	cache := sigcache.New()
	resp := BuildMessagesResponse(vr, "claude-x", cache)

	if resp.StopReason != "tool_use" {
		t.Fatalf("expected tool_use stop reason when a tool_use block is present, got %q", resp.StopReason)
	}
	if len(resp.Content) != 1 {
		t.Fatalf("expected one content block, got %#v", resp.Content)
	}
	block := resp.Content[0]
	if block.Type != "tool_use" || block.ID == "" || block.Name != "search" {
		t.Fatalf("unexpected tool_use block: %#v", block)
	}
	if block.Signature != longSig {
		t.Fatalf("expected the valid signature to be carried on the block, got %q", block.Signature)
	}
	got, ok := cache.Get(block.ID)
	if !ok || got != longSig {
		t.Fatalf("expected the signature cached under the generated tool id, got %q ok=%v", got, ok)
	}
}

func TestBuildMessagesResponseToolUseDropsShortSignature(t *testing.T) {
	vr := wire.VendorResponse{
		Candidates: []wire.VendorCandidate{{
			Content: wire.VendorContent{Parts: []wire.VendorPart{
				{FunctionCall: &wire.VendorFuncCall{Name: "search", ID: "t1"}, ThoughtSignature: "short"},
			}},
		}},
	}
	cache := sigcache.New()
	resp := BuildMessagesResponse(vr, "claude-x", cache)
	if resp.Content[0].Signature != "" {
		t.Fatalf("expected an invalid signature to be dropped, got %q", resp.Content[0].Signature)
	}
	if _, ok := cache.Get("t1"); ok {
		t.Fatalf("expected no signature cached for an invalid signature")
	}
}

func TestBuildMessagesResponseUsageSubtractsCachedTokens(t *testing.T) {
	vr := wire.VendorResponse{
		Candidates: []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{Text: "hi"}}}}},
		UsageMetadata: &wire.VendorUsage{
			PromptTokenCount:        100,
			CachedContentTokenCount: 30,
			CandidatesTokenCount:    20,
		},
	}
	resp := BuildMessagesResponse(vr, "claude-x", sigcache.New())
	if resp.Usage.InputTokens != 70 {
		t.Fatalf("expected input tokens net of cached tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.CacheReadInputTokens != 30 || resp.Usage.OutputTokens != 20 {
		t.Fatalf("unexpected usage: %#v", resp.Usage)
	}
}

func TestEmptyResponseFallback(t *testing.T) {
	resp := EmptyResponseFallback("claude-x")
	if resp.StopReason != "end_turn" || len(resp.Content) != 1 || resp.Content[0].Text != "" {
		t.Fatalf("unexpected empty fallback: %#v", resp)
	}
}
