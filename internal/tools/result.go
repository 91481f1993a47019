package tools

import "github.com/opengunther/guenther/internal/providers"

// MediaKind identifies which reserved media key a tool result carries,
// matching the ToolDescriptor.handler media record contract.
type MediaKind string

const (
	MediaImage     MediaKind = "image_base64"
	MediaAudio     MediaKind = "audio_base64"
	MediaPPTX      MediaKind = "pptx_base64"
	MediaHTML      MediaKind = "html_content"
	MediaLocalFile MediaKind = "local_file_path"
)

// MediaPayload is the blob a tool handler hands back when its result is a
// media record. The orchestrator intercepts it, copies
// it into the turn's collected_media, and sends the provider a sanitized
// response built from Extra instead of the blob.
type MediaPayload struct {
	Kind     MediaKind
	Data     string // base64 blob, or an absolute path for MediaLocalFile/MediaHTML-as-file
	MIME     string
	Filename string // used for MediaPPTX's "<filename>::<b64>" marker
}

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the LLM
	ForUser string `json:"for_user,omitempty"` // content shown to the user
	Silent  bool   `json:"silent"`             // suppress user message
	IsError bool   `json:"is_error"`           // marks error
	Async   bool   `json:"async"`              // running asynchronously
	Err     error  `json:"-"`                  // internal error (not serialized)

	// Media, when non-nil, marks this as a media record:
	// the orchestrator intercepts Media instead of forwarding it verbatim.
	Media *MediaPayload `json:"-"`
	// Extra carries non-blob fields from the handler's result mapping
	// (e.g. width/height) that must still reach the model after the blob
	// is stripped out during sanitization.
	Extra map[string]interface{} `json:"-"`

	// Usage holds token usage from tools that make internal LLM calls (e.g. read_image).
	// When set, the agent loop records these on the tool span for tracing.
	Usage    *providers.Usage `json:"-"`
	Provider string           `json:"-"` // provider name (for tool span metadata)
	Model    string           `json:"-"` // model used (for tool span metadata)
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
