// Package thinking implements the thinking-block utilities (component C4):
// filtering, reordering, signature restoration, and conversation-state
// analysis over an assistant message's content blocks. Adapted from the
// signature-handling pass in the teacher's internal/identity/transform.go,
// generalized from session+text-keyed Claude-Code-specific restoration to
// the block-level rules the design specifies.
package thinking

import (
	"strings"
)

// MinSignatureLength is the minimum length for a signature to be considered
// valid, unless it matches a family-V placeholder.
const MinSignatureLength = 50

// SkipSignature is the sentinel thoughtSignature value attached to a
// functionCall part when neither the block itself nor the signature cache
// holds a real one, so family V's strict signature validator does not
// reject the turn outright.
const SkipSignature = "skip_thought_signature_validator"

// BlockKind tags a content block's type.
type BlockKind string

const (
	KindText             BlockKind = "text"
	KindImage            BlockKind = "image"
	KindDocument         BlockKind = "document"
	KindToolUse          BlockKind = "tool_use"
	KindToolResult       BlockKind = "tool_result"
	KindThinking         BlockKind = "thinking"
	KindRedactedThinking BlockKind = "redacted_thinking"
)

// Block is a tagged-union content block, matching §3's Conversation model.
type Block struct {
	Kind BlockKind

	// text / thinking
	Text      string
	Signature string

	// image / document
	Source      string // "base64" or "url"
	Data        string
	MediaType   string

	// tool_use
	ToolUseID      string
	ToolName       string
	ToolInput      map[string]interface{}
	ReasoningToken string

	// tool_result
	ToolUseRefID string
	ResultName   string
	ResultBlocks []Block // when content is itself a block sequence
	ResultText   string  // when content is a plain string

	// redacted_thinking
	Opaque string
}

// placeholderPrefix identifies a family-V sentinel signature (e.g.
// "gemini-..." placeholders the vendor sometimes emits in lieu of a real
// cryptographic signature).
const placeholderPrefix = "gemini-"

// ValidSignature reports whether sig is acceptable for forFamilyV.
func ValidSignature(sig string, forFamilyV bool) bool {
	if len(sig) >= MinSignatureLength {
		return true
	}
	if forFamilyV && strings.HasPrefix(sig, placeholderPrefix) {
		return true
	}
	return false
}

// RestoreSignatures keeps only thinking blocks with valid signatures,
// sanitizing survivors to carry only kind/text/signature. Non-thinking
// blocks pass through unchanged.
func RestoreSignatures(content []Block, forFamilyV bool) []Block {
	out := make([]Block, 0, len(content))
	for _, b := range content {
		if b.Kind != KindThinking {
			out = append(out, b)
			continue
		}
		if ValidSignature(b.Signature, forFamilyV) {
			out = append(out, Block{Kind: KindThinking, Text: b.Text, Signature: b.Signature})
		}
	}
	return out
}

// RemoveTrailingUnsigned strips thinking blocks at the tail whose signature
// is invalid, stopping at the first non-thinking block or first validly
// signed thinking block encountered walking from the end.
func RemoveTrailingUnsigned(content []Block) []Block {
	end := len(content)
	for end > 0 {
		b := content[end-1]
		if b.Kind != KindThinking {
			break
		}
		if ValidSignature(b.Signature, true) || ValidSignature(b.Signature, false) {
			break
		}
		end--
	}
	return content[:end]
}

// Reorder partitions content into thinking, text, tool_use buckets
// (concatenated in that order), dropping empty-after-trim text blocks and
// preserving relative order within each bucket. Other block kinds
// (image/document/tool_result/redacted_thinking) are appended after
// tool_use, preserving their relative order, since the design only
// specifies ordering among the three named buckets.
func Reorder(content []Block) []Block {
	var thinkingB, textB, toolUseB, otherB []Block
	for _, b := range content {
		switch b.Kind {
		case KindThinking:
			thinkingB = append(thinkingB, b)
		case KindText:
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			textB = append(textB, b)
		case KindToolUse:
			toolUseB = append(toolUseB, b)
		default:
			otherB = append(otherB, b)
		}
	}
	out := make([]Block, 0, len(thinkingB)+len(textB)+len(toolUseB)+len(otherB))
	out = append(out, thinkingB...)
	out = append(out, textB...)
	out = append(out, toolUseB...)
	out = append(out, otherB...)
	return out
}

// Part is the minimal view of a vendor "thought" part needed to apply
// filterUnsignedInParts without importing the convert package (avoids an
// import cycle; convert adapts its own part type to/from this).
type Part struct {
	Thought   bool
	Signature string
}

// FilterUnsignedInParts removes thought parts lacking a valid signature,
// defense-in-depth at the vendor-dialect level (§4.6 step 6).
func FilterUnsignedInParts(parts []Part, forFamilyV bool) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		if p.Thought && !ValidSignature(p.Signature, forFamilyV) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Message is the minimal per-turn view conversation-state analysis needs.
type Message struct {
	Role    string // "user", "assistant", "system"
	Content []Block
}

// State captures the diagnostic conversation-state predicates (§4.4). These
// are exposed for logging only; the core must never mutate history based on
// them (the deprecated "close tool loop" recovery path stays disabled, §9).
type State struct {
	InToolLoop        bool
	InterruptedTool   bool
	TurnHasValidThinking bool
}

// AnalyzeState computes State over the full message sequence.
func AnalyzeState(messages []Message) State {
	lastAssistantIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "assistant" {
			lastAssistantIdx = i
			break
		}
	}
	if lastAssistantIdx == -1 {
		return State{}
	}

	last := messages[lastAssistantIdx]
	hasToolUse := false
	for _, b := range last.Content {
		if b.Kind == KindToolUse {
			hasToolUse = true
			break
		}
	}

	hasSubsequentToolResult := false
	hasSubsequentPlainUser := false
	for i := lastAssistantIdx + 1; i < len(messages); i++ {
		m := messages[i]
		for _, b := range m.Content {
			if b.Kind == KindToolResult {
				hasSubsequentToolResult = true
			}
		}
		if m.Role == "user" && !hasSubsequentToolResult {
			hasPlainText := false
			for _, b := range m.Content {
				if b.Kind == KindText {
					hasPlainText = true
				}
			}
			if hasPlainText {
				hasSubsequentPlainUser = true
			}
		}
	}

	turnHasValidThinking := false
	for _, b := range last.Content {
		if b.Kind == KindThinking && (ValidSignature(b.Signature, true) || ValidSignature(b.Signature, false)) {
			turnHasValidThinking = true
			break
		}
	}

	return State{
		InToolLoop:           hasToolUse && hasSubsequentToolResult,
		InterruptedTool:      hasToolUse && !hasSubsequentToolResult && hasSubsequentPlainUser,
		TurnHasValidThinking: turnHasValidThinking,
	}
}
