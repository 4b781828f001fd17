package novasonic

import "encoding/json"

// envelope is the outer shape of every message on the wire:
// {"event": {"<eventName>": {...fields}}}. Parsing it first lets the
// dispatcher pick the right typed struct for the payload.
type envelope struct {
	Event map[string]json.RawMessage `json:"event"`
}

// Role identifies who a content block or text turn belongs to.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	RoleTool      Role = "TOOL"
)

// ContentType is the modality of a content block.
type ContentType string

const (
	ContentText  ContentType = "TEXT"
	ContentAudio ContentType = "AUDIO"
	ContentTool  ContentType = "TOOL"
)

// Stop reasons carried by contentEnd and completionEnd events.
const (
	StopEndTurn     = "END_TURN"
	StopPartialTurn = "PARTIAL_TURN"
	StopInterrupted = "INTERRUPTED" // barge-in: flush queued playback
)

// Generation stages carried inside contentStart additionalModelFields for
// TEXT blocks. SPECULATIVE text precedes the audio rendering of the same
// turn and may be revised; FINAL text is transcript-worthy.
const (
	StageSpeculative = "SPECULATIVE"
	StageFinal       = "FINAL"
)

// CompletionStart opens a model response cycle. The session is considered
// initialized once this arrives; local capture pauses because the remote
// side is about to speak.
type CompletionStart struct {
	SessionID    string `json:"sessionId,omitempty"` // Gateway session identifier
	PromptName   string `json:"promptName"`          // Echo of the prompt this completion answers
	CompletionID string `json:"completionId"`        // Unique identifier for this completion
}

// ContentStart announces a new inbound content block.
type ContentStart struct {
	SessionID    string      `json:"sessionId,omitempty"`
	PromptName   string      `json:"promptName"`
	CompletionID string      `json:"completionId"`
	ContentID    string      `json:"contentId"` // Identifier payload events refer back to
	Type         ContentType `json:"type"`      // TEXT, AUDIO or TOOL
	Role         Role        `json:"role"`      // Who is producing this block

	// AdditionalModelFields is a JSON document in string form. For TEXT
	// blocks it may carry {"generationStage":"SPECULATIVE"|"FINAL"}.
	AdditionalModelFields string `json:"additionalModelFields,omitempty"`

	// AudioOutputConfiguration is present on AUDIO blocks and declares the
	// codec of the audioOutput payloads that follow.
	AudioOutputConfiguration *AudioConfiguration `json:"audioOutputConfiguration,omitempty"`

	// TextOutputConfiguration is present on TEXT blocks.
	TextOutputConfiguration *TextConfiguration `json:"textOutputConfiguration,omitempty"`
}

// GenerationStage extracts the generation stage from AdditionalModelFields.
// Returns an empty string when the field is absent.
func (e ContentStart) GenerationStage() string {
	return generationStage(e.AdditionalModelFields)
}

// TextOutput carries a text chunk for an open TEXT block.
type TextOutput struct {
	CompletionID string `json:"completionId"`
	ContentID    string `json:"contentId"`
	Role         Role   `json:"role"`
	Content      string `json:"content"`
}

// AudioOutput carries one base64-encoded PCM16 chunk for an open AUDIO block.
type AudioOutput struct {
	CompletionID string `json:"completionId"`
	ContentID    string `json:"contentId"`
	Content      string `json:"content"` // base64 PCM16LE at the negotiated playback rate
}

// ToolUse is the model requesting a local tool invocation. The matching TOOL
// contentEnd hands the request to the tool bridge.
type ToolUse struct {
	CompletionID string `json:"completionId"`
	ContentID    string `json:"contentId"`
	ToolName     string `json:"toolName"`
	ToolUseID    string `json:"toolUseId"` // Correlation id echoed back in the result block
	Content      string `json:"content"`   // Raw JSON input for the tool
}

// ContentEnd closes an inbound content block.
type ContentEnd struct {
	CompletionID string      `json:"completionId"`
	ContentID    string      `json:"contentId"`
	Type         ContentType `json:"type"`
	StopReason   string      `json:"stopReason,omitempty"` // END_TURN, PARTIAL_TURN or INTERRUPTED
}

// CompletionEnd closes a model response cycle. Capture resumes; a new prompt
// is never auto-started.
type CompletionEnd struct {
	SessionID    string `json:"sessionId,omitempty"`
	PromptName   string `json:"promptName"`
	CompletionID string `json:"completionId"`
	StopReason   string `json:"stopReason,omitempty"`
}

// UsageEvent reports token consumption. It is informational; the session
// records the totals in its metrics and otherwise ignores it.
type UsageEvent struct {
	CompletionID      string          `json:"completionId"`
	TotalInputTokens  int64           `json:"totalInputTokens"`
	TotalOutputTokens int64           `json:"totalOutputTokens"`
	TotalTokens       int64           `json:"totalTokens"`
	Details           json.RawMessage `json:"details,omitempty"`
}
