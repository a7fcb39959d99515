package providers

// Option keys recognized in ChatRequest.Options. Not every provider honors
// every key; unsupported keys are silently ignored by that provider's
// buildRequestBody.
const (
	OptMaxTokens   = "max_tokens"
	OptTemperature = "temperature"

	// OptResponseSchema requests structured output matching a JSON Schema
	// object (map[string]interface{}). OpenAI honors it natively via
	// response_format; Anthropic has no native structured-output mode, so
	// it's emulated by forcing a single synthetic tool call whose
	// arguments are the schema-shaped answer (see structuredResponseTool
	// in anthropic.go).
	OptResponseSchema = "response_schema"
)
