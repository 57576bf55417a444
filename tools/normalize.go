package tools

import "sort"

// Schema normalization for provider compatibility. Providers disagree on
// which JSON Schema keywords they accept for tool parameters, so every
// definition is reduced to a common subset before export: a top-level
// object, no reference keywords, and unions of objects flattened into a
// single object whose required list is the conservative intersection of
// the branches.

// strippedKeywords are removed everywhere in the schema tree. Providers
// either reject them or silently misinterpret them.
var strippedKeywords = map[string]bool{
	"$schema":         true,
	"$ref":            true,
	"$defs":           true,
	"definitions":     true,
	"const":           true,
	"contentEncoding": true,
}

// NormalizeSchema returns a provider-safe copy of a tool parameter schema.
// The input is never modified. A nil schema becomes an empty object schema.
func NormalizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	out := normalizeMap(schema)

	if variants, ok := objectUnion(out); ok {
		out = flattenUnion(variants)
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if _, ok := out["properties"]; !ok && out["type"] == "object" {
		out["properties"] = map[string]any{}
	}
	return out
}

func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if strippedKeywords[k] {
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// objectUnion reports whether the schema is a union (anyOf or oneOf) in
// which every branch is an object schema.
func objectUnion(schema map[string]any) ([]map[string]any, bool) {
	raw, ok := schema["anyOf"].([]any)
	if !ok {
		raw, ok = schema["oneOf"].([]any)
	}
	if !ok || len(raw) == 0 {
		return nil, false
	}
	variants := make([]map[string]any, 0, len(raw))
	for _, b := range raw {
		branch, ok := b.(map[string]any)
		if !ok {
			return nil, false
		}
		if t, hasType := branch["type"]; hasType && t != "object" {
			return nil, false
		}
		if _, hasProps := branch["properties"]; !hasProps {
			return nil, false
		}
		variants = append(variants, branch)
	}
	return variants, true
}

// flattenUnion merges union branches into one object schema. Properties
// are unioned (first branch wins on name conflicts); the required list
// keeps only fields required by every branch, so no valid branch payload
// is rejected by the merged schema.
func flattenUnion(variants []map[string]any) map[string]any {
	merged := map[string]any{}
	required := requiredSet(variants[0])

	for _, branch := range variants {
		props, _ := branch["properties"].(map[string]any)
		for name, prop := range props {
			if _, exists := merged[name]; !exists {
				merged[name] = prop
			}
		}
		br := requiredSet(branch)
		for name := range required {
			if !br[name] {
				delete(required, name)
			}
		}
	}

	out := map[string]any{
		"type":       "object",
		"properties": merged,
	}
	if len(required) > 0 {
		names := make([]string, 0, len(required))
		for name := range required {
			names = append(names, name)
		}
		sort.Strings(names)
		out["required"] = names
	}
	return out
}

func requiredSet(schema map[string]any) map[string]bool {
	out := map[string]bool{}
	raw, _ := schema["required"].([]any)
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out[s] = true
		}
	}
	return out
}
