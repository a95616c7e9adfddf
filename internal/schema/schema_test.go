package schema

import "testing"

func TestCleanFamilyCSynthesizesTopLevelPlaceholder(t *testing.T) {
	s := Schema{"type": "object"}
	out := Clean(FamilyC, s)

	props, ok := out["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected synthesized properties, got %#v", out["properties"])
	}
	if _, ok := props["reason"]; !ok {
		t.Fatalf("expected synthesized %q property, got %#v", "reason", props)
	}
	req, ok := out["required"].([]interface{})
	if !ok || len(req) != 1 || req[0] != "reason" {
		t.Fatalf("expected required=[reason], got %#v", out["required"])
	}
}

// Regression test for the review fix: the empty-object placeholder must only
// apply at the schema's own top level, never to a nested object property
// reached through recursion, even when that nested property is itself an
// empty object.
func TestCleanFamilyCDoesNotSynthesizePlaceholderOnNestedEmptyObject(t *testing.T) {
	s := Schema{
		"type": "object",
		"properties": map[string]interface{}{
			"metadata": map[string]interface{}{
				"type": "object",
			},
			"name": map[string]interface{}{
				"type": "string",
			},
		},
		"required": []interface{}{"name"},
	}
	out := Clean(FamilyC, s)

	props, ok := out["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected properties, got %#v", out["properties"])
	}
	meta, ok := props["metadata"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected metadata sub-schema, got %#v", props["metadata"])
	}
	if _, ok := meta["properties"]; ok {
		t.Fatalf("nested empty object must not receive a synthesized property, got %#v", meta)
	}
	if _, ok := meta["required"]; ok {
		t.Fatalf("nested empty object must not receive a synthesized required list, got %#v", meta)
	}

	// The top-level required list (which names a real property) must survive
	// untouched.
	req, ok := out["required"].([]interface{})
	if !ok || len(req) != 1 || req[0] != "name" {
		t.Fatalf("expected required=[name] untouched, got %#v", out["required"])
	}
}

func TestCleanFamilyCLeavesNonEmptyTopLevelObjectAlone(t *testing.T) {
	s := Schema{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
	}
	out := Clean(FamilyC, s)
	props, _ := out["properties"].(map[string]interface{})
	if _, ok := props["reason"]; ok {
		t.Fatalf("placeholder must not be synthesized when real properties already exist: %#v", props)
	}
}

// P1 must be idempotent: re-running it on its own output is a no-op.
func TestP1Idempotent(t *testing.T) {
	s := Schema{
		"type":                 []interface{}{"string", "null"},
		"enum":                 []interface{}{"a", "b", "c"},
		"minLength":             1,
		"additionalProperties":  false,
		"$schema":               "http://json-schema.org/draft-07/schema#",
		"properties": map[string]interface{}{
			"nested": map[string]interface{}{
				"type": "integer",
				"minimum": 0,
			},
		},
	}

	once := P1(s)
	twice := P1(once)

	if !schemasEqual(once, twice) {
		t.Fatalf("P1 not idempotent:\n once=%#v\n twice=%#v", once, twice)
	}
}

func TestP1ResolvesRefToObjectWithHint(t *testing.T) {
	s := Schema{"$ref": "#/$defs/Widget", "description": "a widget"}
	out := P1(s)
	if _, ok := out["$ref"]; ok {
		t.Fatalf("$ref must be stripped, got %#v", out)
	}
	if out["type"] != "object" {
		t.Fatalf("expected type=object fallback, got %#v", out["type"])
	}
	desc, _ := out["description"].(string)
	if desc == "" || desc == "a widget" {
		t.Fatalf("expected description to carry a $ref hint, got %q", desc)
	}
}

func TestP2DefaultsMissingTypeFromPropertiesOrItems(t *testing.T) {
	withProps := P2(Schema{"properties": map[string]interface{}{"x": map[string]interface{}{"type": "string"}}})
	if withProps["type"] != "object" {
		t.Fatalf("expected inferred type=object, got %#v", withProps["type"])
	}

	withItems := P2(Schema{"items": map[string]interface{}{"type": "string"}})
	if withItems["type"] != "array" {
		t.Fatalf("expected inferred type=array, got %#v", withItems["type"])
	}
}

// required must always be a subset of the keys present in properties after
// cleaning, for both profiles.
func TestRequiredIsSubsetOfPropertiesAfterClean(t *testing.T) {
	cases := []struct {
		name string
		fam  Family
		s    Schema
	}{
		{
			name: "P1 drops required for a property removed via allOf merge mismatch",
			fam:  FamilyV,
			s: Schema{
				"type":     "object",
				"required": []interface{}{"missing", "present"},
				"properties": map[string]interface{}{
					"present": map[string]interface{}{"type": "string"},
				},
			},
		},
		{
			name: "P2 drops required for an undeclared property",
			fam:  FamilyC,
			s: Schema{
				"type":     "object",
				"required": []interface{}{"ghost"},
				"properties": map[string]interface{}{
					"real": map[string]interface{}{"type": "string"},
				},
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := Clean(c.fam, c.s)
			props, _ := out["properties"].(map[string]interface{})
			req, ok := out["required"].([]interface{})
			if !ok {
				return
			}
			for _, r := range req {
				name, _ := r.(string)
				if _, exists := props[name]; !exists {
					t.Fatalf("required contains %q which is not in properties: %#v", name, out)
				}
			}
		})
	}
}

func TestCleanNilSchema(t *testing.T) {
	if out := Clean(FamilyC, nil); out != nil {
		t.Fatalf("expected nil passthrough for family C, got %#v", out)
	}
	if out := Clean(FamilyV, nil); out != nil {
		t.Fatalf("expected nil passthrough for family V, got %#v", out)
	}
}

func schemasEqual(a, b Schema) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !valuesEqual(v, bv) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		return ok && schemasEqual(av, bv)
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
