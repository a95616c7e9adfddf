package convert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yansir/cc-relayer/internal/schema"
	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/thinking"
	"github.com/yansir/cc-relayer/internal/wire"
)

// interleavedReasoningHint is appended to the system prompt for thinking-
// capable family-C models carrying tools, so the model interleaves its
// reasoning with tool calls rather than emitting one thinking block upfront.
const interleavedReasoningHint = "You may interleave brief reasoning between tool calls as you work through multi-step tasks."

const maxOutputTokensCapFamilyV = 16384
const defaultThinkingBudgetFamilyV = 16000

// ModelInfo is the result of normalizing and classifying a model name.
type ModelInfo struct {
	NormalizedName string
	Family         schema.Family
	IsThinking     bool
}

var majorVersionDigit = regexp.MustCompile(`(\d+)`)

// ClassifyModel strips prefix (if present) and derives family + thinking
// predicate (§4.6 step 1).
func ClassifyModel(model, stripPrefix string) ModelInfo {
	name := model
	if stripPrefix != "" {
		name = strings.TrimPrefix(name, stripPrefix)
	}
	lower := strings.ToLower(name)

	var fam schema.Family
	switch {
	case strings.Contains(lower, "claude"):
		fam = schema.FamilyC
	case strings.Contains(lower, "gemini"):
		fam = schema.FamilyV
	default:
		fam = schema.FamilyOther
	}

	isThinking := false
	switch fam {
	case schema.FamilyC:
		isThinking = strings.Contains(lower, "thinking")
	case schema.FamilyV:
		if strings.Contains(lower, "thinking") {
			isThinking = true
		} else if m := majorVersionDigit.FindString(lower); m != "" {
			if n, err := strconv.Atoi(m); err == nil && n >= 3 {
				isThinking = true
			}
		}
	}

	return ModelInfo{NormalizedName: name, Family: fam, IsThinking: isThinking}
}

// GenerationParams carries the caller-supplied optional sampling parameters
// and tool-choice directive through to the request builder.
type GenerationParams struct {
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	TopK          *int
	StopSequences []string
	ThinkingBudget *int
	ToolChoiceNone bool
}

// ToolMeta is the normalized shape of one tool definition plus its
// approximate token cost, independent of whichever wire shape it arrived in
// (top-level name/description/input_schema, or nested under "function").
type ToolMeta struct {
	Name             string
	Description      string
	Parameters       json.RawMessage
	ApproxTokenCount int
}

// NormalizeTool extracts name/description/parameters from either tool shape
// (§4.6 step 9).
func NormalizeTool(t wire.Tool) ToolMeta {
	name, desc, params := t.Name, t.Description, t.InputSchema
	if t.Function != nil {
		if name == "" {
			name = t.Function.Name
		}
		if desc == "" {
			desc = t.Function.Description
		}
		if len(params) == 0 {
			params = t.Function.Parameters
		}
	}
	name = restrictToolName(name)
	return ToolMeta{Name: name, Description: desc, Parameters: params}
}

var invalidToolNameChar = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func restrictToolName(name string) string {
	name = invalidToolNameChar.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// ApproxTokenCount estimates a tool definition's token cost: ceil(len/4)
// over name + description + schema JSON, plus fixed overhead (§4.6 step 10).
func ApproxTokenCount(name, description string, schemaJSON json.RawMessage) int {
	total := len(name) + len(description) + len(schemaJSON)
	return int(math.Ceil(float64(total)/4.0)) + 10
}

// BuildTools converts and sanitizes the caller's tool list into the vendor
// shape, honoring tool_choice = "none" (§4.6 step 9).
func BuildTools(tools []wire.Tool, fam schema.Family, toolChoiceNone bool) []wire.VendorTool {
	if toolChoiceNone || len(tools) == 0 {
		return nil
	}
	decls := make([]wire.VendorFunctionDecl, 0, len(tools))
	for _, t := range tools {
		meta := NormalizeTool(t)
		var params schema.Schema
		if len(meta.Parameters) > 0 {
			_ = json.Unmarshal(meta.Parameters, &params)
		}
		cleaned := schema.Clean(fam, params)
		cleanedJSON, _ := json.Marshal(cleaned)
		decls = append(decls, wire.VendorFunctionDecl{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  cleanedJSON,
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []wire.VendorTool{{FunctionDeclarations: decls}}
}

// DeriveSessionID hashes the first user message's text, or generates a
// random id if there is none (§4.6, "Session identifier").
func DeriveSessionID(messages []wire.Message) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		blocks := DecodeContent(m.RawContent)
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		if sb.Len() == 0 {
			continue
		}
		sum := sha256.Sum256([]byte(sb.String()))
		return hex.EncodeToString(sum[:])[:32]
	}
	return uuid.NewString()
}

// BuildSystemInstruction assembles the systemInstruction content from the
// request's system field (string or block sequence), appending the
// interleaved-reasoning hint when applicable (§4.6 steps 2-3).
func BuildSystemInstruction(rawSystem json.RawMessage, info ModelInfo, hasTools bool) *wire.VendorContent {
	var parts []wire.VendorPart

	if len(rawSystem) > 0 {
		var s string
		if err := json.Unmarshal(rawSystem, &s); err == nil {
			if s != "" {
				parts = append(parts, wire.VendorPart{Text: s})
			}
		} else {
			var blocks []wire.ContentBlock
			if err := json.Unmarshal(rawSystem, &blocks); err == nil {
				for _, b := range blocks {
					if b.Type == "text" && b.Text != "" {
						parts = append(parts, wire.VendorPart{Text: b.Text})
					}
				}
			}
		}
	}

	if info.Family == schema.FamilyC && info.IsThinking && hasTools {
		parts = append(parts, wire.VendorPart{Text: interleavedReasoningHint})
	}

	if len(parts) == 0 {
		return nil
	}
	return &wire.VendorContent{Parts: parts}
}

// BuildContents converts the message history into vendor contents, applying
// the assistant-turn thinking-block passes and the defense-in-depth
// unsigned-part filter (§4.6 steps 4-6).
func BuildContents(messages []wire.Message, targetC, targetV bool, cache *sigcache.Cache) []wire.VendorContent {
	idToName := BuildToolNameMap(messages)
	contents := make([]wire.VendorContent, 0, len(messages))

	for _, m := range messages {
		blocks := DecodeContent(m.RawContent)

		if m.Role == "assistant" {
			tb := toThinkingBlocks(blocks)
			tb = thinking.RestoreSignatures(tb, targetV)
			tb = thinking.RemoveTrailingUnsigned(tb)
			tb = thinking.Reorder(tb)
			blocks = fromThinkingBlocks(tb, blocks)
		}

		parts := ToVendorParts(blocks, targetC, targetV, idToName, cache)
		if len(parts) == 0 {
			parts = []wire.VendorPart{{Text: ""}}
		}
		contents = append(contents, wire.VendorContent{Role: VendorRole(m.Role), Parts: parts})
	}

	if targetC || targetV {
		for i := range contents {
			contents[i].Parts = filterUnsignedParts(contents[i].Parts, targetV)
		}
	}

	return contents
}

func filterUnsignedParts(parts []wire.VendorPart, forFamilyV bool) []wire.VendorPart {
	tp := make([]thinking.Part, len(parts))
	for i, p := range parts {
		tp[i] = thinking.Part{Thought: p.Thought, Signature: p.ThoughtSignature}
	}
	kept := thinking.FilterUnsignedInParts(tp, forFamilyV)
	if len(kept) == len(parts) {
		return parts
	}
	out := make([]wire.VendorPart, 0, len(kept))
	i := 0
	for _, p := range parts {
		if p.Thought {
			if i < len(kept) && kept[i].Thought && kept[i].Signature == p.ThoughtSignature {
				out = append(out, p)
				i++
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

// toThinkingBlocks/fromThinkingBlocks bridge wire.ContentBlock and the
// thinking package's own Block type for the three-pass reorder pipeline,
// threading non-thinking/non-text/non-tool_use blocks through untouched.
func toThinkingBlocks(blocks []wire.ContentBlock) []thinking.Block {
	out := make([]thinking.Block, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "thinking":
			out = append(out, thinking.Block{Kind: thinking.KindThinking, Text: b.Thinking, Signature: b.Signature})
		case "text":
			out = append(out, thinking.Block{Kind: thinking.KindText, Text: b.Text})
		case "tool_use":
			out = append(out, thinking.Block{Kind: thinking.KindToolUse, ToolUseID: b.ID})
		default:
			out = append(out, thinking.Block{Kind: thinking.BlockKind(b.Type)})
		}
	}
	return out
}

// fromThinkingBlocks rebuilds the wire blocks in the order the thinking
// pipeline settled on. Thinking blocks are built directly from the settled
// thinking.Block's own Text/Signature rather than looked up positionally in
// original: RestoreSignatures/RemoveTrailingUnsigned can drop thinking
// blocks from anywhere in the sequence (not just a shared prefix/suffix), so
// a parallel index into the unfiltered thinking blocks of original would
// recover the wrong survivor. Text and tool_use blocks are never dropped by
// the thinking pass except for the same blank-text trim Reorder applies, so
// those are still safe to recover positionally from original.
func fromThinkingBlocks(ordered []thinking.Block, original []wire.ContentBlock) []wire.ContentBlock {
	var textSrc, toolUseSrc, otherSrc []wire.ContentBlock
	for _, b := range original {
		switch b.Type {
		case "thinking":
			// handled directly from ordered below
		case "text":
			if strings.TrimSpace(b.Text) != "" {
				textSrc = append(textSrc, b)
			}
		case "tool_use":
			toolUseSrc = append(toolUseSrc, b)
		default:
			otherSrc = append(otherSrc, b)
		}
	}

	out := make([]wire.ContentBlock, 0, len(ordered))
	xi, ui := 0, 0
	for _, ob := range ordered {
		switch ob.Kind {
		case thinking.KindThinking:
			out = append(out, wire.ContentBlock{Type: "thinking", Thinking: ob.Text, Signature: ob.Signature})
		case thinking.KindText:
			if xi < len(textSrc) {
				out = append(out, textSrc[xi])
				xi++
			}
		case thinking.KindToolUse:
			if ui < len(toolUseSrc) {
				out = append(out, toolUseSrc[ui])
				ui++
			}
		}
	}
	out = append(out, otherSrc...)
	return out
}

// BuildGenerationConfig populates sampling parameters and thinkingConfig
// (§4.6 steps 7-8).
func BuildGenerationConfig(params GenerationParams, info ModelInfo) *wire.GenerationConfig {
	gc := &wire.GenerationConfig{
		MaxOutputTokens: params.MaxTokens,
		Temperature:     params.Temperature,
		TopP:            params.TopP,
		TopK:            params.TopK,
		StopSequences:   params.StopSequences,
	}
	if info.Family == schema.FamilyV && gc.MaxOutputTokens > maxOutputTokensCapFamilyV {
		gc.MaxOutputTokens = maxOutputTokensCapFamilyV
	}

	if info.IsThinking {
		switch info.Family {
		case schema.FamilyC:
			gc.ThinkingConfig = &wire.ThinkingConfig{IncludeThoughtsC: true, ThinkingBudgetC: params.ThinkingBudget}
		case schema.FamilyV:
			budget := defaultThinkingBudgetFamilyV
			if params.ThinkingBudget != nil {
				budget = *params.ThinkingBudget
			}
			gc.ThinkingConfig = &wire.ThinkingConfig{IncludeThoughtsV: true, ThinkingBudgetV: &budget}
		}
	}

	return gc
}

// BuildVendorRequest runs the full C6 pipeline over an Anthropic request.
func BuildVendorRequest(req wire.MessagesRequest, modelPrefix string, cache *sigcache.Cache) (wire.VendorRequest, ModelInfo) {
	info := ClassifyModel(req.Model, modelPrefix)
	targetC := info.Family == schema.FamilyC
	targetV := info.Family == schema.FamilyV

	sysInstr := BuildSystemInstruction(req.System, info, len(req.Tools) > 0)
	contents := BuildContents(req.Messages, targetC, targetV, cache)

	toolChoiceNone := false
	if len(req.ToolChoice) > 0 {
		var s string
		if err := json.Unmarshal(req.ToolChoice, &s); err == nil && s == "none" {
			toolChoiceNone = true
		}
	}
	tools := BuildTools(req.Tools, info.Family, toolChoiceNone)

	params := GenerationParams{
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
	}
	if req.Thinking != nil {
		params.ThinkingBudget = req.Thinking.BudgetTokens
	}
	gc := BuildGenerationConfig(params, info)

	return wire.VendorRequest{
		Contents:          contents,
		SystemInstruction: sysInstr,
		Tools:             tools,
		GenerationConfig:  gc,
		SessionID:         DeriveSessionID(req.Messages),
	}, info
}
