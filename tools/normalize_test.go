package tools

import (
	"reflect"
	"testing"
)

func TestNormalizeSchemaNil(t *testing.T) {
	got := NormalizeSchema(nil)
	if got["type"] != "object" {
		t.Errorf("type = %v, want object", got["type"])
	}
	if _, ok := got["properties"].(map[string]any); !ok {
		t.Error("nil schema should normalize to an empty object schema")
	}
}

func TestNormalizeSchemaAddsObjectType(t *testing.T) {
	got := NormalizeSchema(map[string]any{
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	})
	if got["type"] != "object" {
		t.Errorf("type = %v, want object", got["type"])
	}
}

func TestNormalizeSchemaStripsKeywords(t *testing.T) {
	got := NormalizeSchema(map[string]any{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"$defs":   map[string]any{"x": map[string]any{}},
		"properties": map[string]any{
			"data": map[string]any{
				"type":            "string",
				"contentEncoding": "base64",
				"const":           "fixed",
			},
			"ref": map[string]any{"$ref": "#/$defs/x"},
		},
	})

	for _, k := range []string{"$schema", "$defs"} {
		if _, ok := got[k]; ok {
			t.Errorf("top-level %s survived normalization", k)
		}
	}
	props := got["properties"].(map[string]any)
	data := props["data"].(map[string]any)
	if _, ok := data["contentEncoding"]; ok {
		t.Error("nested contentEncoding survived")
	}
	if _, ok := data["const"]; ok {
		t.Error("nested const survived")
	}
	ref := props["ref"].(map[string]any)
	if _, ok := ref["$ref"]; ok {
		t.Error("nested $ref survived")
	}
}

func TestNormalizeSchemaFlattensUnion(t *testing.T) {
	got := NormalizeSchema(map[string]any{
		"anyOf": []any{
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "string"},
				},
				"required": []any{"a"},
			},
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"a": map[string]any{"type": "string"},
					"b": map[string]any{"type": "integer"},
				},
				"required": []any{"a", "b"},
			},
		},
	})

	if got["type"] != "object" {
		t.Fatalf("type = %v, want object", got["type"])
	}
	if _, ok := got["anyOf"]; ok {
		t.Error("anyOf survived flattening")
	}

	props := got["properties"].(map[string]any)
	if len(props) != 2 {
		t.Errorf("properties = %v, want union of a and b", props)
	}

	// Only fields required by every branch stay required.
	required, _ := got["required"].([]string)
	if !reflect.DeepEqual(required, []string{"a"}) {
		t.Errorf("required = %v, want [a]", required)
	}
}

func TestNormalizeSchemaLeavesMixedUnionAlone(t *testing.T) {
	in := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
	got := NormalizeSchema(in)
	if _, ok := got["anyOf"]; !ok {
		t.Error("a union with non-object branches must not be flattened")
	}
}

func TestNormalizeSchemaDoesNotMutateInput(t *testing.T) {
	in := map[string]any{
		"$schema": "x",
		"type":    "object",
		"properties": map[string]any{
			"p": map[string]any{"const": "v"},
		},
	}
	_ = NormalizeSchema(in)
	if _, ok := in["$schema"]; !ok {
		t.Error("input schema was mutated")
	}
	if _, ok := in["properties"].(map[string]any)["p"].(map[string]any)["const"]; !ok {
		t.Error("nested input schema was mutated")
	}
}
