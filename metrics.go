package novasonic

// SessionMetrics tracks per-session activity counters. A copy is returned
// by Session.Metrics, so readers never race the live counters.
type SessionMetrics struct {
	// Capture path
	FramesSent int64 `json:"frames_sent"`
	BytesSent  int64 `json:"bytes_sent"`

	// Playback path
	ChunksReceived int64 `json:"chunks_received"`
	BytesReceived  int64 `json:"bytes_received"`

	// Conversation
	TextChunks    int64 `json:"text_chunks"`
	Turns         int64 `json:"turns"` // completed model response cycles
	Interruptions int64 `json:"interruptions"`

	// Tool bridge
	ToolInvocations int64 `json:"tool_invocations"`
	ToolFailures    int64 `json:"tool_failures"`

	// Reported by the gateway in usage events
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
