package providers

import "strings"

// geminiUnsupportedKeys are JSON Schema keywords Gemini's function-calling
// endpoint rejects outright (observed via OpenRouter's gemini-* models and
// the native Gemini API alike).
var geminiUnsupportedKeys = []string{"default", "$schema", "additionalProperties", "examples"}

// CleanToolSchemas sanitizes every tool's input schema for the quirks of
// the named provider before it is sent on the wire.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []ToolDefinition {
	out := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		cleaned := t
		cleaned.Function.Parameters = CleanSchemaForProvider(providerName, t.Function.Parameters)
		out[i] = cleaned
	}
	return out
}

// CleanSchemaForProvider strips JSON Schema keywords the given provider's
// function-calling endpoint does not tolerate. Unknown providers pass the
// schema through unchanged.
func CleanSchemaForProvider(providerName string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	if !strings.Contains(strings.ToLower(providerName), "gemini") {
		return schema
	}
	return stripKeys(schema, geminiUnsupportedKeys)
}

func stripKeys(schema map[string]interface{}, drop []string) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if contains(drop, k) {
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = stripKeys(val, drop)
		case []interface{}:
			out[k] = stripKeysSlice(val, drop)
		default:
			out[k] = v
		}
	}
	return out
}

func stripKeysSlice(items []interface{}, drop []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out[i] = stripKeys(m, drop)
		} else {
			out[i] = item
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
