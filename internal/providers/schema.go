package providers

// draft-2020-12 keywords that some providers' structured tool-calling
// validators reject outright; stripping them is a best-effort
// compatibility shim, not a general JSON Schema subset implementation.
var unsupportedSchemaKeywords = map[string]bool{
	"$schema":  true,
	"$id":      true,
	"examples": true,
}

// CleanSchemaForProvider strips JSON Schema keywords that provider rejects
// from a single tool parameter schema, recursing into nested
// object/array schemas.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if unsupportedSchemaKeywords[k] {
			continue
		}
		switch k {
		case "properties":
			if props, ok := v.(map[string]interface{}); ok {
				cleaned := make(map[string]interface{}, len(props))
				for name, raw := range props {
					if sub, ok := raw.(map[string]interface{}); ok {
						cleaned[name] = CleanSchemaForProvider(provider, sub)
					} else {
						cleaned[name] = raw
					}
				}
				out[k] = cleaned
				continue
			}
		case "items":
			if sub, ok := v.(map[string]interface{}); ok {
				out[k] = CleanSchemaForProvider(provider, sub)
				continue
			}
		}
		out[k] = v
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

// CleanToolSchemas converts ToolDefinitions into the OpenAI-compatible
// function-tool wire shape, cleaning each parameter schema along the way.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}
