package openaiadapter

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/yansir/cc-relayer/internal/wire"
)

// ToAnthropicRequest translates an OpenAI Chat Completions request into the
// Anthropic Messages shape the rest of the core consumes (§4.8, incoming).
func ToAnthropicRequest(req ChatCompletionRequest) (wire.MessagesRequest, error) {
	out := wire.MessagesRequest{
		Model:     req.Model,
		Stream:    req.Stream,
		MaxTokens: req.MaxTokens,
		TopP:      req.TopP,
	}
	if req.Temperature != nil {
		out.Temperature = req.Temperature
	}

	var systemParts []string
	for _, m := range req.Messages {
		if m.Role != "system" && m.Role != "developer" {
			continue
		}
		if text := extractPlainText(m.Content); text != "" {
			systemParts = append(systemParts, text)
		}
	}
	if len(systemParts) > 0 {
		sysJSON, _ := json.Marshal(strings.Join(systemParts, "\n\n"))
		out.System = sysJSON
	}

	for _, m := range req.Messages {
		if m.Role == "system" || m.Role == "developer" {
			continue
		}
		am, err := convertMessage(m)
		if err != nil {
			return out, err
		}
		out.Messages = append(out.Messages, am)
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]wire.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, wire.Tool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: t.Function.Parameters,
			})
		}
	}

	if len(req.ToolChoice) > 0 {
		out.ToolChoice = convertToolChoice(req.ToolChoice)
	}

	if len(req.Stop) > 0 {
		var single string
		if json.Unmarshal(req.Stop, &single) == nil {
			if single != "" {
				out.StopSequences = []string{single}
			}
		} else {
			var many []string
			if json.Unmarshal(req.Stop, &many) == nil {
				out.StopSequences = many
			}
		}
	}

	return out, nil
}

// convertToolChoice maps {type:function, function:{name}} to {type:tool,
// name}, passing "none"/"auto" through unchanged (§4.8).
func convertToolChoice(raw json.RawMessage) json.RawMessage {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return raw
	}
	var tc ChatToolChoice
	if json.Unmarshal(raw, &tc) == nil && tc.Function.Name != "" {
		out, err := sjson.SetBytes([]byte(`{}`), "type", "tool")
		if err != nil {
			return raw
		}
		out, err = sjson.SetBytes(out, "name", tc.Function.Name)
		if err != nil {
			return raw
		}
		return out
	}
	return raw
}

func convertMessage(m ChatMessage) (wire.Message, error) {
	role := m.Role
	if role == "tool" {
		role = "user"
	}

	var blocks []wire.ContentBlock

	if role == "assistant" && len(m.ToolCalls) > 0 {
		if text := extractPlainText(m.Content); text != "" {
			blocks = append(blocks, wire.ContentBlock{Type: "text", Text: text})
		}
		for _, tc := range m.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			blocks = append(blocks, wire.ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
		}
	} else if m.Role == "tool" {
		contentJSON, _ := json.Marshal(extractPlainText(m.Content))
		blocks = append(blocks, wire.ContentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: contentJSON})
	} else {
		blocks = decodeChatContent(m.Content)
	}

	raw, err := json.Marshal(blocks)
	if err != nil {
		return wire.Message{}, err
	}
	return wire.Message{Role: role, RawContent: raw}, nil
}

// decodeChatContent handles both the plain-string and multi-part content
// shapes, mapping image_url parts to Anthropic image blocks (§4.8).
func decodeChatContent(raw json.RawMessage) []wire.ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return nil
		}
		return []wire.ContentBlock{{Type: "text", Text: s}}
	}
	var parts []ChatContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var blocks []wire.ContentBlock
	for _, p := range parts {
		switch p.Type {
		case "text":
			if p.Text != "" {
				blocks = append(blocks, wire.ContentBlock{Type: "text", Text: p.Text})
			}
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			blocks = append(blocks, wire.ContentBlock{Type: "image", Source: &wire.ContentSource{Type: "url", URL: p.ImageURL.URL}})
		}
	}
	return blocks
}

func extractPlainText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var parts []ChatContentPart
	if json.Unmarshal(raw, &parts) == nil {
		var texts []string
		for _, p := range parts {
			if p.Type == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
