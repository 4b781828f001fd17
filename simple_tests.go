package novasonic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// Simple tests that focus on argument validation and wire shapes without mock infrastructure

func TestSendMethods_Validation(t *testing.T) {
	// A zero client is enough: validation runs before the connection is touched.
	client := &Client{}

	t.Run("TextInput validation", func(t *testing.T) {
		// Valid arguments still fail on a dead connection
		err := client.TextInput(context.TODO(), "p1", "c1", "hello")
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed without a connection, got %v", err)
		}

		// Missing prompt name
		err = client.TextInput(context.Background(), "", "c1", "hello")
		if err == nil || !strings.Contains(err.Error(), "no active prompt") {
			t.Error("Expected no active prompt error")
		}

		// Missing content name
		err = client.TextInput(context.Background(), "p1", "", "hello")
		if err == nil || !strings.Contains(err.Error(), "content name is required") {
			t.Error("Expected content name error")
		}
	})

	t.Run("AudioInput validation", func(t *testing.T) {
		// Odd byte count cannot be PCM16
		err := client.AudioInput(context.Background(), "p1", "c1", []byte{0x00, 0x01, 0x02})
		if err == nil || !strings.Contains(err.Error(), "even number of bytes") {
			t.Error("Expected even byte count error")
		}

		// Empty frame is a no-op and needs no connection
		if err := client.AudioInput(context.Background(), "p1", "c1", nil); err != nil {
			t.Errorf("Empty frame should be a no-op, got %v", err)
		}
	})

	t.Run("ToolResult validation", func(t *testing.T) {
		err := client.ToolResult(context.Background(), "", "c1", `{"ok":true}`)
		if err == nil || !strings.Contains(err.Error(), "no active prompt") {
			t.Error("Expected no active prompt error")
		}
	})

	t.Run("ContentEnd requires connection", func(t *testing.T) {
		err := client.ContentEnd(context.TODO(), "p1", "c1")
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed without a connection, got %v", err)
		}
	})

	t.Run("SessionEnd requires connection", func(t *testing.T) {
		err := client.SessionEnd(context.TODO())
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Expected ErrClosed without a connection, got %v", err)
		}
	})
}

func TestWireShapes_JSON(t *testing.T) {
	t.Run("event envelope", func(t *testing.T) {
		data, err := json.Marshal(wsEvent("promptEnd", promptEndEvent{PromptName: "p1"}))
		if err != nil {
			t.Fatalf("Failed to marshal: %v", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("Failed to unmarshal envelope: %v", err)
		}
		raw, ok := env.Event["promptEnd"]
		if !ok {
			t.Fatalf("Envelope missing promptEnd key: %s", data)
		}
		var pe promptEndEvent
		if err := json.Unmarshal(raw, &pe); err != nil {
			t.Fatalf("Failed to unmarshal payload: %v", err)
		}
		if pe.PromptName != "p1" {
			t.Errorf("Wrong prompt name: %q", pe.PromptName)
		}
	})

	t.Run("authorization message", func(t *testing.T) {
		data, err := json.Marshal(authorizationMessage{Type: "authorization", Token: "Bearer abc123"})
		if err != nil {
			t.Fatalf("Failed to marshal: %v", err)
		}

		want := `{"type":"authorization","token":"Bearer abc123"}`
		if string(data) != want {
			t.Errorf("Authorization message = %s, want %s", data, want)
		}
	})

	t.Run("sessionStart payload", func(t *testing.T) {
		data, err := json.Marshal(sessionStartEvent{
			InferenceConfiguration: DefaultInferenceConfiguration,
		})
		if err != nil {
			t.Fatalf("Failed to marshal: %v", err)
		}

		if !strings.Contains(string(data), `"maxTokens":1024`) {
			t.Errorf("Missing inference configuration: %s", data)
		}
		// Turn detection is omitted entirely when unset
		if strings.Contains(string(data), "turnDetectionConfiguration") {
			t.Errorf("Empty turn detection should be omitted: %s", data)
		}
	})

	t.Run("tool catalog entry", func(t *testing.T) {
		cfg := ToolConfiguration{Tools: []toolSpecEntry{{
			ToolSpec: ToolSpec{
				Name:        "getWeather",
				Description: "weather lookup",
				InputSchema: ToolInputSchema{JSON: `{"type":"object"}`},
			},
		}}}

		data, err := json.Marshal(cfg)
		if err != nil {
			t.Fatalf("Failed to marshal: %v", err)
		}

		// The schema travels as a JSON string, not a nested object
		want := `{"tools":[{"toolSpec":{"name":"getWeather","description":"weather lookup","inputSchema":{"json":"{\"type\":\"object\"}"}}}]}`
		if string(data) != want {
			t.Errorf("Tool catalog = %s, want %s", data, want)
		}
	})
}

func TestDefaultAudioConfigurations(t *testing.T) {
	t.Run("input", func(t *testing.T) {
		cfg := DefaultAudioInputConfiguration(16000)
		if cfg.MediaType != "audio/lpcm" || cfg.SampleRateHertz != 16000 ||
			cfg.SampleSizeBits != 16 || cfg.ChannelCount != 1 ||
			cfg.Encoding != "base64" || cfg.AudioType != "SPEECH" {
			t.Errorf("Unexpected input configuration: %+v", cfg)
		}
		if cfg.VoiceID != "" {
			t.Error("Input configuration must not carry a voice")
		}
	})

	t.Run("input falls back to default rate", func(t *testing.T) {
		cfg := DefaultAudioInputConfiguration(0)
		if cfg.SampleRateHertz != DefaultCaptureRate {
			t.Errorf("SampleRateHertz = %d, want %d", cfg.SampleRateHertz, DefaultCaptureRate)
		}
	})

	t.Run("output", func(t *testing.T) {
		cfg := DefaultAudioOutputConfiguration("matthew")
		if cfg.SampleRateHertz != DefaultPlaybackRate {
			t.Errorf("SampleRateHertz = %d, want %d", cfg.SampleRateHertz, DefaultPlaybackRate)
		}
		if cfg.VoiceID != "matthew" {
			t.Errorf("VoiceID = %q, want matthew", cfg.VoiceID)
		}
	})
}

func TestEventHandlerRegistration(t *testing.T) {
	client := &Client{}

	// All handlers can be registered and re-registered without panicking,
	// even on a client that never connected.
	registrations := []func(){
		func() { client.OnCompletionStart(func(CompletionStart) {}) },
		func() { client.OnContentStart(func(ContentStart) {}) },
		func() { client.OnTextOutput(func(TextOutput) {}) },
		func() { client.OnAudioOutput(func(AudioOutput) {}) },
		func() { client.OnToolUse(func(ToolUse) {}) },
		func() { client.OnContentEnd(func(ContentEnd) {}) },
		func() { client.OnCompletionEnd(func(CompletionEnd) {}) },
		func() { client.OnUsage(func(UsageEvent) {}) },
		func() { client.OnDisconnect(func(error) {}) },
	}

	for _, register := range registrations {
		register()
		register()
	}

	var got ToolUse
	client.OnToolUse(func(e ToolUse) { got = e })
	client.dispatch("toolUse", []byte(`{"toolName":"getWeather","toolUseId":"tu-7","content":"{}"}`))
	if got.ToolUseID != "tu-7" {
		t.Errorf("Handler not invoked through dispatch: %+v", got)
	}

	// Unknown events and malformed payloads never panic.
	client.dispatch("unknownEvent", []byte(`{}`))
	client.dispatch("toolUse", []byte(`{malformed}`))
}
