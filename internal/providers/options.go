package providers

// ChatRequest.Options keys. Every provider implementation reads only the
// subset it understands and ignores the rest, so a single options map can
// be built once per turn regardless of which provider ends up handling it.
const (
	OptMaxTokens       = "max_tokens"
	OptTemperature     = "temperature"
	OptThinkingLevel   = "thinking_level"   // "off", "low", "medium", "high"
	OptReasoningEffort = "reasoning_effort" // OpenAI o-series passthrough key
	OptEnableThinking  = "enable_thinking"  // DashScope-style passthrough
	OptThinkingBudget  = "thinking_budget"  // DashScope-style passthrough
)
