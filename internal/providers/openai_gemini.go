package providers

// Gemini 2.5+ rejects replayed tool_call messages whose thought_signature
// is missing (HTTP 400). Session history written before signatures were
// captured has none, so those tool cycles must be folded away before the
// history is resent: the assistant's visible text survives, the tool
// calls and their matching tool-result messages do not.

// dropUnsignedToolCycles returns msgs with every unsigned tool cycle
// folded down to its plain assistant text.
func dropUnsignedToolCycles(msgs []Message) []Message {
	doomed := unsignedCallIDs(msgs)
	if len(doomed) == 0 {
		return msgs
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0 && doomed[m.ToolCalls[0].ID]:
			if m.Content != "" {
				out = append(out, Message{Role: "assistant", Content: m.Content})
			}
		case m.Role == "tool" && doomed[m.ToolCallID]:
			// Result of a folded call; dropping it keeps the history
			// free of tool messages with no matching tool_call.
		default:
			out = append(out, m)
		}
	}
	return out
}

// unsignedCallIDs collects the ids of every tool call in an assistant
// turn where at least one call lacks a thought_signature. The whole
// turn's calls are doomed together: Gemini validates them as a unit.
func unsignedCallIDs(msgs []Message) map[string]bool {
	doomed := make(map[string]bool)
	for _, m := range msgs {
		if m.Role != "assistant" || len(m.ToolCalls) == 0 {
			continue
		}
		signed := true
		for _, tc := range m.ToolCalls {
			if tc.Metadata["thought_signature"] == "" {
				signed = false
				break
			}
		}
		if !signed {
			for _, tc := range m.ToolCalls {
				doomed[tc.ID] = true
			}
		}
	}
	return doomed
}
