// Package convert implements the content/role converter (C5), request
// converter (C6), and response/stream converters (C7): the bidirectional
// translation between the Anthropic Messages dialect and the vendor's
// "parts" dialect. Grounded on the conversion table and pipeline in the
// design's request/response sections, following the shape of the provider
// translators in the goclaw and ai-gateway reference fragments (per-block
// type switch building a parts slice, sticky id→name maps threaded through
// the whole conversation).
package convert

import (
	"encoding/json"
	"strings"

	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/thinking"
	"github.com/yansir/cc-relayer/internal/wire"
)

// DecodeContent normalizes a message's raw JSON content (a plain string or a
// content-block sequence) into a block slice.
func DecodeContent(raw json.RawMessage) []wire.ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []wire.ContentBlock{{Type: "text", Text: s}}
	}
	var blocks []wire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return blocks
	}
	return nil
}

// VendorRole maps an Anthropic role to the vendor's role vocabulary (§4.5).
func VendorRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// BuildToolNameMap scans every message's tool_use and tool_result blocks to
// build a stable id→name lookup, consulted when a later tool_result omits
// its own name (§4.5, §4.6 step 4).
func BuildToolNameMap(messages []wire.Message) map[string]string {
	names := map[string]string{}
	var decoded [][]wire.ContentBlock
	for _, m := range messages {
		decoded = append(decoded, DecodeContent(m.RawContent))
	}
	for _, blocks := range decoded {
		for _, b := range blocks {
			if b.Type == "tool_use" && b.Name != "" && b.ID != "" {
				names[b.ID] = b.Name
			}
		}
	}
	for _, blocks := range decoded {
		for _, b := range blocks {
			if b.Type == "tool_result" && b.Name != "" && b.ToolUseID != "" {
				if _, exists := names[b.ToolUseID]; !exists {
					names[b.ToolUseID] = b.Name
				}
			}
		}
	}
	return names
}

const (
	defaultImageMime    = "image/jpeg"
	defaultDocumentMime = "application/pdf"
)

// ToVendorParts converts one message's content blocks into vendor parts,
// per the §4.5 conversion table. targetC/targetV select the destination
// model family; idToName resolves tool_result names; cache supplies a
// fallback thoughtSignature for tool_use blocks missing their own.
func ToVendorParts(blocks []wire.ContentBlock, targetC, targetV bool, idToName map[string]string, cache *sigcache.Cache) []wire.VendorPart {
	var out []wire.VendorPart
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			out = append(out, wire.VendorPart{Text: b.Text})

		case "image":
			out = append(out, imageOrDocumentPart(b, defaultImageMime))

		case "document":
			out = append(out, imageOrDocumentPart(b, defaultDocumentMime))

		case "tool_use":
			part := wire.VendorPart{FunctionCall: &wire.VendorFuncCall{
				Name: b.Name,
				Args: rawOrEmptyObject(b.Input),
			}}
			if targetC {
				part.FunctionCall.ID = b.ID
			}
			if targetV {
				sig := b.Signature
				if sig == "" && cache != nil {
					sig, _ = cache.Get(b.ID)
				}
				if sig == "" {
					sig = thinking.SkipSignature
				}
				part.ThoughtSignature = sig
			}
			out = append(out, part)

		case "tool_result":
			out = append(out, toolResultParts(b, targetC, idToName)...)

		case "thinking":
			if thinking.ValidSignature(b.Signature, targetV) {
				out = append(out, wire.VendorPart{Text: b.Thinking, Thought: true, ThoughtSignature: b.Signature})
			}
		}
	}
	return out
}

func imageOrDocumentPart(b wire.ContentBlock, defaultMime string) wire.VendorPart {
	mime := defaultMime
	if b.Source != nil && b.Source.MediaType != "" {
		mime = b.Source.MediaType
	}
	if b.Source != nil && b.Source.Type == "url" {
		return wire.VendorPart{FileData: &wire.VendorFileRef{MimeType: mime, FileURI: b.Source.URL}}
	}
	data := ""
	if b.Source != nil {
		data = b.Source.Data
	}
	return wire.VendorPart{InlineData: &wire.VendorBlob{MimeType: mime, Data: data}}
}

func rawOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// toolResultParts implements the tool_result row of §4.5's table, including
// the family-C text workaround and extracted inline images.
func toolResultParts(b wire.ContentBlock, targetC bool, idToName map[string]string) []wire.VendorPart {
	name := resolveToolName(b, idToName)
	if name == "" {
		return nil
	}

	text, images := flattenToolResultContent(b.Content)

	if targetC {
		parts := []wire.VendorPart{{Text: "[Tool Result for '" + name + "': " + text + "]"}}
		parts = append(parts, images...)
		return parts
	}

	wrapped, _ := json.Marshal(map[string]string{"result": text})
	parts := []wire.VendorPart{{FunctionResponse: &wire.VendorFuncResult{
		Name:     name,
		ID:       b.ToolUseID,
		Response: wrapped,
	}}}
	parts = append(parts, images...)
	return parts
}

func resolveToolName(b wire.ContentBlock, idToName map[string]string) string {
	if b.Name != "" {
		return b.Name
	}
	return idToName[b.ToolUseID]
}

// flattenToolResultContent reduces a tool_result's content (string or block
// sequence) to a single text string plus any extracted base64 images.
func flattenToolResultContent(raw json.RawMessage) (string, []wire.VendorPart) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []wire.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}
	var texts []string
	var images []wire.VendorPart
	for _, b := range blocks {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "image":
			if b.Source != nil && b.Source.Type == "base64" {
				mime := b.Source.MediaType
				if mime == "" {
					mime = defaultImageMime
				}
				images = append(images, wire.VendorPart{InlineData: &wire.VendorBlob{MimeType: mime, Data: b.Source.Data}})
			}
		}
	}
	return strings.Join(texts, "\n"), images
}
