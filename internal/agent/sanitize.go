package agent

import (
	"regexp"
	"strings"
)

// The chat hosts this server points at (OpenRouter routing to whatever is
// cheap, local Ollama/LM Studio models) regularly leak machinery into the
// reply text: reasoning blocks in pseudo-XML tags, tool-call syntax from
// hosts that downgrade tool calling to plain text, echoed system-prompt
// headers, and repetition loops. SanitizeAssistantContent removes those
// artifacts before a reply is persisted or shown to a user.
//
// The pipeline is deliberately conservative: every pass removes only text
// matching a known leak shape, and a reply that is machinery from start
// to end collapses to "" (the orchestrator treats an empty terminal reply
// as "nothing to say").

// reasoningTagRe matches <think>/<thinking>/<thought>/<reasoning> blocks,
// including an unterminated opening tag at the end of a truncated reply.
var reasoningTagRe = regexp.MustCompile(`(?is)<(think|thinking|thought|reasoning)>.*?(</(think|thinking|thought|reasoning)>|\z)`)

// leakedToolCallRes match the textual tool-call encodings seen from hosts
// without native tool support: XML-ish wrappers and bracketed transcript
// lines.
var leakedToolCallRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<tool_call>.*?(</tool_call>|\z)`),
	regexp.MustCompile(`(?is)<function_call>.*?(</function_call>|\z)`),
	regexp.MustCompile(`(?is)<invoke\b.*?(</invoke>|\z)`),
	regexp.MustCompile(`(?im)^\[Tool (Call|Result)[^\]]*\].*$`),
}

// echoedPromptLineRe matches a line that parrots a system-prompt header
// back at the user ("[System Message] ...", "Systemnachricht: ...").
var echoedPromptLineRe = regexp.MustCompile(`(?im)^\[?(system message|systemnachricht)\]?:?[^\n]*$`)

// SanitizeAssistantContent strips known model-leak artifacts from a
// terminal reply. Order matters: reasoning blocks can wrap leaked tool
// calls, and duplicate collapsing only works on already-clean paragraphs.
func SanitizeAssistantContent(content string) string {
	if content == "" {
		return ""
	}

	content = reasoningTagRe.ReplaceAllString(content, "")
	for _, re := range leakedToolCallRes {
		content = re.ReplaceAllString(content, "")
	}
	content = echoedPromptLineRe.ReplaceAllString(content, "")
	content = collapseRepeatedParagraphs(content)

	return strings.TrimSpace(content)
}

// collapseRepeatedParagraphs drops a paragraph that is identical to the
// one before it — the visible symptom of a sampling repetition loop.
// Distinct paragraphs, and repeats with anything in between, are kept.
func collapseRepeatedParagraphs(content string) string {
	paragraphs := strings.Split(content, "\n\n")
	if len(paragraphs) < 2 {
		return content
	}

	kept := paragraphs[:1:1]
	for _, p := range paragraphs[1:] {
		if strings.TrimSpace(p) != "" && strings.TrimSpace(p) == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "\n\n")
}
