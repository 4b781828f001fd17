package novasonic

import "github.com/tidwall/gjson"

// Outbound wire shapes. Every outbound message is wrapped in the protocol
// envelope by event(); the structs below are the payloads under each key.

// wsEvent wraps a payload under {"event":{<name>:payload}}.
func wsEvent(name string, payload any) map[string]any {
	return map[string]any{"event": map[string]any{name: payload}}
}

// authorizationMessage is the first message sent after the socket opens,
// before any protocol event.
type authorizationMessage struct {
	Type  string `json:"type"`  // always "authorization"
	Token string `json:"token"` // "Bearer <token>"
}

// Endpointing sensitivity values accepted by the gateway. Higher sensitivity
// means the service declares end-of-turn on shorter silences.
const (
	EndpointingLow    = "LOW"
	EndpointingMedium = "MEDIUM"
	EndpointingHigh   = "HIGH"
)

// InferenceConfiguration carries the sampling parameters sent in sessionStart.
type InferenceConfiguration struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// DefaultInferenceConfiguration holds the service defaults.
var DefaultInferenceConfiguration = InferenceConfiguration{
	MaxTokens:   1024,
	TopP:        0.9,
	Temperature: 0.7,
}

// TurnDetectionConfiguration tunes the gateway's endpointing.
type TurnDetectionConfiguration struct {
	EndpointingSensitivity string `json:"endpointingSensitivity,omitempty"` // LOW, MEDIUM or HIGH
}

// TextConfiguration declares the media type of a text payload stream.
type TextConfiguration struct {
	MediaType string `json:"mediaType"` // "text/plain" or "application/json"
}

// AudioConfiguration declares the codec of an audio payload stream.
type AudioConfiguration struct {
	MediaType       string `json:"mediaType"`         // "audio/lpcm"
	SampleRateHertz int    `json:"sampleRateHertz"`   // 16000 for input, 24000 for output
	SampleSizeBits  int    `json:"sampleSizeBits"`    // 16
	ChannelCount    int    `json:"channelCount"`      // mono
	VoiceID         string `json:"voiceId,omitempty"` // output only
	Encoding        string `json:"encoding"`          // "base64"
	AudioType       string `json:"audioType"`         // "SPEECH"
}

// DefaultAudioInputConfiguration is the microphone codec declared when a
// USER AUDIO block opens.
func DefaultAudioInputConfiguration(sampleRate int) AudioConfiguration {
	if sampleRate <= 0 {
		sampleRate = DefaultCaptureRate
	}
	return AudioConfiguration{
		MediaType:       "audio/lpcm",
		SampleRateHertz: sampleRate,
		SampleSizeBits:  16,
		ChannelCount:    1,
		Encoding:        "base64",
		AudioType:       "SPEECH",
	}
}

// DefaultAudioOutputConfiguration is the assistant voice codec negotiated at
// prompt start.
func DefaultAudioOutputConfiguration(voiceID string) AudioConfiguration {
	return AudioConfiguration{
		MediaType:       "audio/lpcm",
		SampleRateHertz: DefaultPlaybackRate,
		SampleSizeBits:  16,
		ChannelCount:    1,
		VoiceID:         voiceID,
		Encoding:        "base64",
		AudioType:       "SPEECH",
	}
}

// ToolSpec describes one locally supported tool in the promptStart catalog.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema carries a JSON Schema document as a string, as the wire
// format requires.
type ToolInputSchema struct {
	JSON string `json:"json"`
}

// ToolConfiguration is the tool catalog section of promptStart.
type ToolConfiguration struct {
	Tools []toolSpecEntry `json:"tools"`
}

type toolSpecEntry struct {
	ToolSpec ToolSpec `json:"toolSpec"`
}

// ToolResultInputConfiguration correlates an outbound TOOL content block
// with the toolUse request it answers.
type ToolResultInputConfiguration struct {
	ToolUseID              string             `json:"toolUseId"`
	Type                   ContentType        `json:"type"` // TEXT
	TextInputConfiguration *TextConfiguration `json:"textInputConfiguration,omitempty"`
}

type sessionStartEvent struct {
	InferenceConfiguration     InferenceConfiguration      `json:"inferenceConfiguration"`
	TurnDetectionConfiguration *TurnDetectionConfiguration `json:"turnDetectionConfiguration,omitempty"`
}

type promptStartEvent struct {
	PromptName                 string              `json:"promptName"`
	TextOutputConfiguration    TextConfiguration   `json:"textOutputConfiguration"`
	AudioOutputConfiguration   AudioConfiguration  `json:"audioOutputConfiguration"`
	ToolUseOutputConfiguration *TextConfiguration  `json:"toolUseOutputConfiguration,omitempty"`
	ToolConfiguration          *ToolConfiguration  `json:"toolConfiguration,omitempty"`
}

type contentStartEvent struct {
	PromptName                   string                        `json:"promptName"`
	ContentName                  string                        `json:"contentName"`
	Type                         ContentType                   `json:"type"`
	Interactive                  bool                          `json:"interactive"`
	Role                         Role                          `json:"role"`
	TextInputConfiguration       *TextConfiguration            `json:"textInputConfiguration,omitempty"`
	AudioInputConfiguration      *AudioConfiguration           `json:"audioInputConfiguration,omitempty"`
	ToolResultInputConfiguration *ToolResultInputConfiguration `json:"toolResultInputConfiguration,omitempty"`
}

type textInputEvent struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

type audioInputEvent struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"` // base64 PCM16LE
}

type toolResultEvent struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"` // result document as a JSON string
}

type contentEndEvent struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
}

type promptEndEvent struct {
	PromptName string `json:"promptName"`
}

type sessionEndEvent struct{}

// generationStage pulls the generation stage out of an additionalModelFields
// document. The field arrives as JSON-in-a-string, so it is fished out rather
// than unmarshaled into a struct.
func generationStage(additionalModelFields string) string {
	if additionalModelFields == "" {
		return ""
	}
	return gjson.Get(additionalModelFields, "generationStage").String()
}
