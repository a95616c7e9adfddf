// Package schema implements the JSON-Schema sanitizer (component C3): two
// pure, idempotent rewrite profiles that project a rich tool-parameter
// schema dialect onto the reduced dialect each upstream model family
// accepts. Grounded on the provider-dispatched schema-cleaning call site
// seen in goclaw's Anthropic provider (CleanSchemaForProvider) and the
// envoyproxy ai-gateway translator's per-family request shaping.
package schema

import (
	"fmt"
	"sort"
)

// Schema is a JSON Schema represented as a generic map, matching how tool
// parameter schemas arrive over the wire.
type Schema = map[string]interface{}

// Family selects which sanitizer profile a tool schema is rewritten for.
type Family int

const (
	FamilyOther Family = iota
	FamilyC            // Claude-shaped model family: permissive profile P2
	FamilyV            // Gemini-shaped model family: aggressive profile P1
)

// Clean dispatches to the profile appropriate for fam. Family C uses P2;
// family V and any unrecognized family use P1 (§4.6 step 9: "sanitize ...
// through profile P1 (family V) or P2 (family C) or P1 (other)").
func Clean(fam Family, s Schema) Schema {
	out := cleanInternal(fam, s)
	delete(out, "__nullable")
	// The empty-object placeholder (§4.3 P2) applies only to the tool's own
	// root parameter schema, which is what upstream rejects when empty — not
	// to nested object properties, which legitimately can be free-form and
	// empty (e.g. an undeclared metadata bag). Apply it here, once, after
	// the full recursive pass, rather than inside every P2 call.
	if fam == FamilyC {
		applyEmptyObjectPlaceholder(out)
	}
	return out
}

// applyEmptyObjectPlaceholder synthesizes a single "reason" property on an
// object schema with no declared properties, so family C never receives a
// bare `{"type":"object"}` tool schema.
func applyEmptyObjectPlaceholder(out Schema) {
	t, _ := out["type"].(string)
	if t != "object" {
		return
	}
	props, _ := out["properties"].(map[string]interface{})
	if len(props) != 0 {
		return
	}
	out["properties"] = map[string]interface{}{
		"reason": map[string]interface{}{
			"type":        "string",
			"description": "Reason for calling this tool",
		},
	}
	out["required"] = []interface{}{"reason"}
}

// cleanInternal preserves the internal "__nullable" marker so a caller
// recursing into properties/items can observe and consume it before it's
// stripped at the true top-level boundary.
func cleanInternal(fam Family, s Schema) Schema {
	if fam == FamilyC {
		return P2(s)
	}
	return P1(s)
}

var constraintKeys = []string{"minLength", "maxLength", "pattern", "minimum", "maximum", "minItems", "maxItems", "format"}

// P1 is the aggressive profile for model family V.
func P1(s Schema) Schema {
	if s == nil {
		return nil
	}
	out := cloneShallow(s)

	if ref, ok := out["$ref"].(string); ok {
		delete(out, "$ref")
		desc, _ := out["description"].(string)
		hint := "See: " + lastPathSegment(ref)
		if desc != "" {
			out["description"] = desc + "; " + hint
		} else {
			out["description"] = hint
		}
		out["type"] = "object"
		return out
	}

	var hints []string

	if enumVals, ok := out["enum"].([]interface{}); ok && len(enumVals) >= 2 && len(enumVals) <= 10 {
		parts := make([]string, 0, len(enumVals))
		for _, v := range enumVals {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		hints = append(hints, "Allowed: "+joinComma(parts))
	}
	if ap, ok := out["additionalProperties"]; ok {
		if b, isBool := ap.(bool); isBool && !b {
			hints = append(hints, "No extra properties allowed")
		}
	}
	for _, k := range constraintKeys {
		if v, ok := out[k]; ok {
			hints = append(hints, fmt.Sprintf("%s: %v", k, v))
		}
	}

	if allOf, ok := out["allOf"].([]interface{}); ok {
		out = mergeAllOf(out, allOf)
	}

	if anyOf, ok := anyOfOrOneOf(out); ok {
		chosen, multiTypes := flattenUnion(anyOf)
		if chosen != nil {
			for k, v := range chosen {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		}
		if len(multiTypes) > 1 {
			hints = append(hints, "Accepts: "+joinPipe(multiTypes))
		}
	}

	if t, ok := out["type"].([]interface{}); ok {
		first, nullable := flattenTypeArray(t)
		out["type"] = first
		if nullable {
			hints = append(hints, "nullable")
			out["__nullable"] = true
		}
	}

	if len(hints) > 0 {
		desc, _ := out["description"].(string)
		if desc != "" {
			out["description"] = desc + "; " + joinSemicolon(hints)
		} else {
			out["description"] = joinSemicolon(hints)
		}
	}

	for _, k := range []string{"$schema", "$defs", "definitions", "$id", "$comment", "title", "default", "examples", "allOf", "anyOf", "oneOf"} {
		delete(out, k)
	}
	for _, k := range constraintKeys {
		delete(out, k)
	}
	delete(out, "additionalProperties")
	delete(out, "enum")

	if fmtVal, ok := out["format"].(string); ok {
		typ, _ := out["type"].(string)
		if typ == "string" && (fmtVal == "enum" || fmtVal == "date-time") {
			out["format"] = fmtVal
		} else {
			delete(out, "format")
		}
	}

	recurseProperties(out, FamilyV)
	validateRequired(out)

	return out
}

// P2 is the permissive profile for model family C.
func P2(s Schema) Schema {
	if s == nil {
		return nil
	}
	out := cloneShallow(s)

	for _, k := range []string{"$ref", "$defs", "$id", "$schema", "$comment", "definitions"} {
		delete(out, k)
	}

	if allOf, ok := out["allOf"].([]interface{}); ok {
		out = mergeAllOf(out, allOf)
		delete(out, "allOf")
	}
	if anyOf, ok := anyOfOrOneOf(out); ok {
		chosen, _ := flattenUnion(anyOf)
		if chosen != nil {
			for k, v := range chosen {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		}
		delete(out, "anyOf")
		delete(out, "oneOf")
	}

	if _, hasType := out["type"]; !hasType {
		if _, hasProps := out["properties"]; hasProps {
			out["type"] = "object"
		} else if _, hasItems := out["items"]; hasItems {
			out["type"] = "array"
		} else {
			out["type"] = "object"
		}
	} else if arr, ok := out["type"].([]interface{}); ok {
		first, _ := flattenTypeArray(arr)
		out["type"] = first
	}

	recurseProperties(out, FamilyC)
	validateRequired(out)

	return out
}

func recurseProperties(out Schema, fam Family) {
	if props, ok := out["properties"].(map[string]interface{}); ok {
		cleaned := make(map[string]interface{}, len(props))
		var becameNullable []string
		for k, v := range props {
			if sub, ok := v.(map[string]interface{}); ok {
				c := cleanInternal(fam, sub)
				if c["__nullable"] == true {
					becameNullable = append(becameNullable, k)
					delete(c, "__nullable")
				}
				cleaned[k] = c
			} else {
				cleaned[k] = v
			}
		}
		out["properties"] = cleaned
		for _, k := range becameNullable {
			removeFromRequired(out, k)
		}
	}
	if items, ok := out["items"].(map[string]interface{}); ok {
		cleaned := cleanInternal(fam, items)
		delete(cleaned, "__nullable")
		out["items"] = cleaned
	}
}

func validateRequired(out Schema) {
	req, ok := out["required"].([]interface{})
	if !ok {
		return
	}
	props, _ := out["properties"].(map[string]interface{})
	kept := make([]interface{}, 0, len(req))
	for _, r := range req {
		name, _ := r.(string)
		if _, exists := props[name]; exists {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(out, "required")
		return
	}
	out["required"] = kept
}

func removeFromRequired(out Schema, key string) {
	if key == "" {
		return
	}
	req, ok := out["required"].([]interface{})
	if !ok {
		return
	}
	kept := make([]interface{}, 0, len(req))
	for _, r := range req {
		if s, _ := r.(string); s != key {
			kept = append(kept, r)
		}
	}
	out["required"] = kept
}

func mergeAllOf(parent Schema, allOf []interface{}) Schema {
	mergedProps := map[string]interface{}{}
	mergedRequired := map[string]bool{}
	other := map[string]interface{}{}

	for _, sub := range allOf {
		sm, ok := sub.(map[string]interface{})
		if !ok {
			continue
		}
		if props, ok := sm["properties"].(map[string]interface{}); ok {
			for k, v := range props {
				mergedProps[k] = v // later siblings override
			}
		}
		if req, ok := sm["required"].([]interface{}); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					mergedRequired[s] = true
				}
			}
		}
		for k, v := range sm {
			if k == "properties" || k == "required" {
				continue
			}
			if _, exists := other[k]; !exists {
				other[k] = v // first-occurrence wins
			}
		}
	}

	for k, v := range other {
		if _, exists := parent[k]; !exists {
			parent[k] = v
		}
	}
	if len(mergedProps) > 0 {
		existing, _ := parent["properties"].(map[string]interface{})
		for k, v := range existing {
			mergedProps[k] = v // parent's own keys take precedence
		}
		parent["properties"] = mergedProps
	}
	if len(mergedRequired) > 0 {
		existing, _ := parent["required"].([]interface{})
		set := map[string]bool{}
		for _, r := range existing {
			if s, ok := r.(string); ok {
				set[s] = true
			}
		}
		for k := range mergedRequired {
			set[k] = true
		}
		merged := make([]interface{}, 0, len(set))
		for k := range set {
			merged = append(merged, k)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].(string) < merged[j].(string) })
		parent["required"] = merged
	}
	delete(parent, "allOf")
	return parent
}

func anyOfOrOneOf(s Schema) ([]interface{}, bool) {
	if v, ok := s["anyOf"].([]interface{}); ok {
		return v, true
	}
	if v, ok := s["oneOf"].([]interface{}); ok {
		return v, true
	}
	return nil, false
}

// flattenUnion scores each option (object-with-properties=3 > array-with-
// items=2 > any typed non-null=1 > null/unknown=0) and returns the
// highest-scoring option plus the distinct non-null type names seen.
func flattenUnion(opts []interface{}) (Schema, []string) {
	var best Schema
	bestScore := -1
	seenTypes := map[string]bool{}
	var order []string

	for _, o := range opts {
		om, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		typ, _ := om["type"].(string)
		score := scoreOption(om, typ)
		if typ != "" && typ != "null" && !seenTypes[typ] {
			seenTypes[typ] = true
			order = append(order, typ)
		}
		if score > bestScore {
			bestScore = score
			best = om
		}
	}
	return best, order
}

func scoreOption(om Schema, typ string) int {
	if typ == "object" {
		if _, ok := om["properties"]; ok {
			return 3
		}
	}
	if typ == "array" {
		if _, ok := om["items"]; ok {
			return 2
		}
	}
	if typ != "" && typ != "null" {
		return 1
	}
	return 0
}

func flattenTypeArray(types []interface{}) (first string, nullable bool) {
	for _, t := range types {
		s, _ := t.(string)
		if s == "null" {
			nullable = true
			continue
		}
		if first == "" {
			first = s
		}
	}
	if first == "" {
		first = "object"
	}
	return first, nullable
}

func cloneShallow(s Schema) Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

func lastPathSegment(ref string) string {
	last := ref
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '/' {
			last = ref[i+1:]
			break
		}
	}
	return last
}

func joinComma(parts []string) string { return join(parts, ", ") }
func joinPipe(parts []string) string  { return join(parts, " | ") }
func joinSemicolon(parts []string) string { return join(parts, "; ") }

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
