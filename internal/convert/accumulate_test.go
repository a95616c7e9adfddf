package convert

import (
	"testing"

	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/wire"
)

func TestPartAccumulatorMergesAdjacentSameKindParts(t *testing.T) {
	acc := NewPartAccumulator()
	acc.Feed(wire.VendorResponse{Candidates: []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{Thought: true, Text: "a"}}}}}})
	acc.Feed(wire.VendorResponse{Candidates: []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{Thought: true, Text: "b", ThoughtSignature: "sig"}}}}}})
	acc.Feed(wire.VendorResponse{Candidates: []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{Text: "c"}}}}}})
	acc.Feed(wire.VendorResponse{Candidates: []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{Text: "d"}}}, FinishReason: "STOP"}}})

	vr := acc.Build()
	parts := vr.Candidates[0].Content.Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 merged parts, got %d: %+v", len(parts), parts)
	}
	if !parts[0].Thought || parts[0].Text != "ab" || parts[0].ThoughtSignature != "sig" {
		t.Fatalf("thinking parts not merged correctly: %+v", parts[0])
	}
	if parts[1].Text != "cd" {
		t.Fatalf("text parts not merged correctly: %+v", parts[1])
	}
	if vr.Candidates[0].FinishReason != "STOP" {
		t.Fatalf("finish reason lost: %q", vr.Candidates[0].FinishReason)
	}
}

func TestPartAccumulatorFlushesOnFunctionCall(t *testing.T) {
	acc := NewPartAccumulator()
	acc.Feed(wire.VendorResponse{Candidates: []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{Text: "before"}}}}}})
	acc.Feed(wire.VendorResponse{Candidates: []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{FunctionCall: &wire.VendorFuncCall{Name: "lookup"}}}}, FinishReason: "STOP"}}})

	vr := acc.Build()
	parts := vr.Candidates[0].Content.Parts
	if len(parts) != 2 {
		t.Fatalf("expected text flushed before the function call, got %+v", parts)
	}
	if parts[0].Text != "before" {
		t.Fatalf("unexpected first part: %+v", parts[0])
	}
	if parts[1].FunctionCall == nil || parts[1].FunctionCall.Name != "lookup" {
		t.Fatalf("unexpected second part: %+v", parts[1])
	}
}

func TestPartAccumulatorBuildUsesFinalUsage(t *testing.T) {
	acc := NewPartAccumulator()
	acc.Feed(wire.VendorResponse{
		Candidates:    []wire.VendorCandidate{{Content: wire.VendorContent{Parts: []wire.VendorPart{{Text: "hi"}}}, FinishReason: "STOP"}},
		UsageMetadata: &wire.VendorUsage{PromptTokenCount: 10, CandidatesTokenCount: 5},
	})

	vr := acc.Build()
	msg := BuildMessagesResponse(vr, "m", sigcache.New())
	if msg.Usage.InputTokens != 10 || msg.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage: %+v", msg.Usage)
	}
}
