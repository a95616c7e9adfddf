package convert

import (
	"github.com/yansir/cc-relayer/internal/wire"
)

// PartAccumulator reconstructs a single non-streaming vendor response from a
// sequence of streamed chunks, for models that only expose full content over
// SSE (§4.7, "non-streaming for thinking-capable models"). Adjacent parts of
// the same kind are merged — a thinking buffer flushes when a non-thinking
// part arrives, a text buffer flushes when a function call arrives — so the
// reconstructed object can be run through the ordinary non-streaming
// converter as if the vendor had answered in one shot.
type PartAccumulator struct {
	parts        []wire.VendorPart
	bufKind      blockKind
	bufText      string
	bufSignature string

	finishReason string
	usage        *wire.VendorUsage
	modelVersion string
}

func NewPartAccumulator() *PartAccumulator {
	return &PartAccumulator{bufKind: blockNone}
}

// Feed absorbs one decoded vendor response chunk.
func (a *PartAccumulator) Feed(raw wire.VendorResponse) {
	vr := unwrap(&raw)
	if vr == nil || len(vr.Candidates) == 0 {
		return
	}
	cand := vr.Candidates[0]
	for _, part := range cand.Content.Parts {
		a.feedPart(part)
	}
	if cand.FinishReason != "" {
		a.finishReason = cand.FinishReason
	}
	if vr.UsageMetadata != nil {
		a.usage = vr.UsageMetadata
	}
	if vr.ModelVersion != "" {
		a.modelVersion = vr.ModelVersion
	}
}

func (a *PartAccumulator) feedPart(part wire.VendorPart) {
	kind := partKind(part)

	switch kind {
	case blockThinking:
		if a.bufKind != blockThinking {
			a.flush()
			a.bufKind = blockThinking
		}
		a.bufText += part.Text
		if len(part.ThoughtSignature) > len(a.bufSignature) {
			a.bufSignature = part.ThoughtSignature
		}

	case blockText:
		if a.bufKind != blockText {
			a.flush()
			a.bufKind = blockText
		}
		a.bufText += part.Text

	case blockToolUse:
		a.flush()
		a.parts = append(a.parts, part)

	default:
		a.flush()
	}
}

func (a *PartAccumulator) flush() {
	switch a.bufKind {
	case blockThinking:
		a.parts = append(a.parts, wire.VendorPart{Thought: true, Text: a.bufText, ThoughtSignature: a.bufSignature})
	case blockText:
		a.parts = append(a.parts, wire.VendorPart{Text: a.bufText})
	}
	a.bufKind = blockNone
	a.bufText = ""
	a.bufSignature = ""
}

// Build finalizes the buffer and returns the reconstructed vendor response,
// suitable for BuildMessagesResponse.
func (a *PartAccumulator) Build() wire.VendorResponse {
	a.flush()
	return wire.VendorResponse{
		Candidates: []wire.VendorCandidate{{
			Content:      wire.VendorContent{Role: "model", Parts: a.parts},
			FinishReason: a.finishReason,
		}},
		UsageMetadata: a.usage,
		ModelVersion:  a.modelVersion,
	}
}
