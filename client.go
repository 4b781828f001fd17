package novasonic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// Client is the transport half of a speech-to-speech session: it owns the
// WebSocket connection, sends protocol events, and dispatches inbound events
// to registered handlers. The state machine that coordinates capture,
// playback and tools lives in Session; use Client directly only when you
// want raw protocol access.
//
// The client is safe for concurrent use. Handlers run on the read loop
// goroutine in strict arrival order, so they must not block.
type Client struct {
	cfg Config // Configuration used to create this client

	// Connection state
	conn       *websocket.Conn    // Underlying WebSocket connection
	writeMu    sync.Mutex         // Protects writes to the WebSocket
	readCancel context.CancelFunc // Cancels the read loop when closing
	closedCh   chan struct{}      // Signals when the client is closed
	closeOnce  sync.Once          // Ensures closedCh is only closed once

	// Event handlers, one per inbound event key
	handlerMu         sync.RWMutex
	onCompletionStart func(CompletionStart)
	onContentStart    func(ContentStart)
	onTextOutput      func(TextOutput)
	onAudioOutput     func(AudioOutput)
	onToolUse         func(ToolUse)
	onContentEnd      func(ContentEnd)
	onCompletionEnd   func(CompletionEnd)
	onUsage           func(UsageEvent)
	onDisconnect      func(error)
}

// Dial connects to the speech gateway. It validates the configuration,
// resolves the bearer credential (failing fast with ErrNoCredential or
// ErrCredentialExpired before any socket is opened), dials, transmits the
// authorization message, and starts the read and keepalive loops.
//
// The returned client is ready to use. Call Close() when finished to
// properly clean up resources.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	// Credential resolution comes first: no token, no connection attempt.
	token, err := cfg.Credential.Token(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, NewConfigError("Endpoint", cfg.Endpoint, "invalid URL format")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws" // mainly for testing
	}

	h := http.Header{}
	if cfg.HandshakeHeaders != nil {
		for k, vals := range cfg.HandshakeHeaders {
			for _, v := range vals {
				h.Add(k, v)
			}
		}
	}

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, u.String(), &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return nil, NewConnectionError(u.String(), "dial", err)
	}

	c := &Client{cfg: cfg, conn: ws, closedCh: make(chan struct{})}

	// The authorization message must be the first thing on the wire,
	// before any protocol event.
	if err := c.send(dialCtx, authorizationMessage{Type: "authorization", Token: "Bearer " + token}); err != nil {
		_ = c.Close()
		return nil, NewConnectionError(u.String(), "authorize", err)
	}
	c.log("ws_connected", map[string]any{"url": u.String()})

	rcCtx, cancel := context.WithCancel(context.Background())
	c.readCancel = cancel
	go c.readLoop(rcCtx)
	go c.pingLoop()
	return c, nil
}

// Close gracefully shuts down the client and cleans up all resources.
// This method is safe to call multiple times and will not block.
// After calling Close(), the client should not be used for further operations.
func (c *Client) Close() error {
	if c.readCancel != nil {
		c.readCancel()
	}

	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "closing")
		c.conn = nil
	}
	c.writeMu.Unlock()

	c.closeOnce.Do(func() {
		close(c.closedCh)
	})
	return nil
}

// Done returns a channel that is closed once the connection is gone, whether
// by Close() or by the remote end.
func (c *Client) Done() <-chan struct{} { return c.closedCh }

// Event handler registration methods. Callbacks are executed in the read
// loop goroutine, so they should not block.

// OnCompletionStart registers a callback for completionStart events.
func (c *Client) OnCompletionStart(fn func(CompletionStart)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onCompletionStart = fn
}

// OnContentStart registers a callback for inbound contentStart events.
func (c *Client) OnContentStart(fn func(ContentStart)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onContentStart = fn
}

// OnTextOutput registers a callback for textOutput events.
func (c *Client) OnTextOutput(fn func(TextOutput)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onTextOutput = fn
}

// OnAudioOutput registers a callback for audioOutput events.
func (c *Client) OnAudioOutput(fn func(AudioOutput)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onAudioOutput = fn
}

// OnToolUse registers a callback for toolUse events.
func (c *Client) OnToolUse(fn func(ToolUse)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onToolUse = fn
}

// OnContentEnd registers a callback for inbound contentEnd events.
func (c *Client) OnContentEnd(fn func(ContentEnd)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onContentEnd = fn
}

// OnCompletionEnd registers a callback for completionEnd events.
func (c *Client) OnCompletionEnd(fn func(CompletionEnd)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onCompletionEnd = fn
}

// OnUsage registers a callback for usageEvent events.
func (c *Client) OnUsage(fn func(UsageEvent)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onUsage = fn
}

// OnDisconnect registers a callback invoked once when the read loop exits,
// with the read error that ended it (nil on clean shutdown).
func (c *Client) OnDisconnect(fn func(error)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onDisconnect = fn
}

// Protocol event senders. These are the low-level building blocks; Session
// sequences them according to the content-block lifecycle.

// SessionStart issues the session handshake with inference parameters and an
// optional endpointing sensitivity.
func (c *Client) SessionStart(ctx context.Context, inf InferenceConfiguration, td *TurnDetectionConfiguration) error {
	if ctx == nil {
		return NewSendError("sessionStart", errors.New("context cannot be nil"))
	}
	return c.send(ctx, wsEvent("sessionStart", sessionStartEvent{
		InferenceConfiguration:     inf,
		TurnDetectionConfiguration: td,
	}))
}

// PromptStartOptions configures the prompt handshake.
type PromptStartOptions struct {
	PromptName  string
	AudioOutput AudioConfiguration // assistant voice codec
	Tools       []ToolSpec         // catalog advertised to the model
}

// PromptStart declares the negotiated output codecs and the tool catalog for
// a fresh prompt.
func (c *Client) PromptStart(ctx context.Context, opts PromptStartOptions) error {
	if ctx == nil {
		return NewSendError("promptStart", errors.New("context cannot be nil"))
	}
	if opts.PromptName == "" {
		return NewSendError("promptStart", errors.New("prompt name is required"))
	}
	ev := promptStartEvent{
		PromptName:               opts.PromptName,
		TextOutputConfiguration:  TextConfiguration{MediaType: "text/plain"},
		AudioOutputConfiguration: opts.AudioOutput,
	}
	if len(opts.Tools) > 0 {
		ev.ToolUseOutputConfiguration = &TextConfiguration{MediaType: "application/json"}
		entries := make([]toolSpecEntry, len(opts.Tools))
		for i, t := range opts.Tools {
			entries[i] = toolSpecEntry{ToolSpec: t}
		}
		ev.ToolConfiguration = &ToolConfiguration{Tools: entries}
	}
	return c.send(ctx, wsEvent("promptStart", ev))
}

// ContentStartText opens a TEXT content block for the given role.
func (c *Client) ContentStartText(ctx context.Context, promptName, contentName string, role Role) error {
	if err := validateContentArgs(ctx, "contentStart", promptName, contentName); err != nil {
		return err
	}
	return c.send(ctx, wsEvent("contentStart", contentStartEvent{
		PromptName:             promptName,
		ContentName:            contentName,
		Type:                   ContentText,
		Interactive:            true,
		Role:                   role,
		TextInputConfiguration: &TextConfiguration{MediaType: "text/plain"},
	}))
}

// ContentStartAudio opens an AUDIO content block for the given role with the
// declared input codec.
func (c *Client) ContentStartAudio(ctx context.Context, promptName, contentName string, role Role, cfg AudioConfiguration) error {
	if err := validateContentArgs(ctx, "contentStart", promptName, contentName); err != nil {
		return err
	}
	return c.send(ctx, wsEvent("contentStart", contentStartEvent{
		PromptName:              promptName,
		ContentName:             contentName,
		Type:                    ContentAudio,
		Interactive:             true,
		Role:                    role,
		AudioInputConfiguration: &cfg,
	}))
}

// ContentStartTool opens a TOOL content block answering the given toolUseId.
func (c *Client) ContentStartTool(ctx context.Context, promptName, contentName, toolUseID string) error {
	if err := validateContentArgs(ctx, "contentStart", promptName, contentName); err != nil {
		return err
	}
	if toolUseID == "" {
		return NewSendError("contentStart", errors.New("tool use ID is required"))
	}
	return c.send(ctx, wsEvent("contentStart", contentStartEvent{
		PromptName:  promptName,
		ContentName: contentName,
		Type:        ContentTool,
		Interactive: false,
		Role:        RoleTool,
		ToolResultInputConfiguration: &ToolResultInputConfiguration{
			ToolUseID:              toolUseID,
			Type:                   ContentText,
			TextInputConfiguration: &TextConfiguration{MediaType: "text/plain"},
		},
	}))
}

// TextInput sends a complete text payload into an open TEXT block.
func (c *Client) TextInput(ctx context.Context, promptName, contentName, content string) error {
	if err := validateContentArgs(ctx, "textInput", promptName, contentName); err != nil {
		return err
	}
	return c.send(ctx, wsEvent("textInput", textInputEvent{
		PromptName:  promptName,
		ContentName: contentName,
		Content:     content,
	}))
}

// AudioInput base64-encodes one PCM16 frame and sends it into an open AUDIO
// block. Frames are sent immediately, one event per frame; the gateway owns
// voice-activity detection.
func (c *Client) AudioInput(ctx context.Context, promptName, contentName string, pcmLE []byte) error {
	if err := validateContentArgs(ctx, "audioInput", promptName, contentName); err != nil {
		return err
	}
	if len(pcmLE) == 0 {
		return nil // Empty frame is valid (no-op)
	}
	encoded, err := EncodeAudioChunk(pcmLE)
	if err != nil {
		return NewSendError("audioInput", err)
	}
	return c.send(ctx, wsEvent("audioInput", audioInputEvent{
		PromptName:  promptName,
		ContentName: contentName,
		Content:     encoded,
	}))
}

// ToolResult sends a tool result document into an open TOOL block.
func (c *Client) ToolResult(ctx context.Context, promptName, contentName, content string) error {
	if err := validateContentArgs(ctx, "toolResult", promptName, contentName); err != nil {
		return err
	}
	return c.send(ctx, wsEvent("toolResult", toolResultEvent{
		PromptName:  promptName,
		ContentName: contentName,
		Content:     content,
	}))
}

// ContentEnd closes an open content block.
func (c *Client) ContentEnd(ctx context.Context, promptName, contentName string) error {
	if err := validateContentArgs(ctx, "contentEnd", promptName, contentName); err != nil {
		return err
	}
	return c.send(ctx, wsEvent("contentEnd", contentEndEvent{
		PromptName:  promptName,
		ContentName: contentName,
	}))
}

// PromptEnd closes the prompt.
func (c *Client) PromptEnd(ctx context.Context, promptName string) error {
	if ctx == nil {
		return NewSendError("promptEnd", errors.New("context cannot be nil"))
	}
	if promptName == "" {
		return NewSendError("promptEnd", errors.New("prompt name is required"))
	}
	return c.send(ctx, wsEvent("promptEnd", promptEndEvent{PromptName: promptName}))
}

// SessionEnd closes the session. The socket stays open until Close().
func (c *Client) SessionEnd(ctx context.Context) error {
	if ctx == nil {
		return NewSendError("sessionEnd", errors.New("context cannot be nil"))
	}
	return c.send(ctx, wsEvent("sessionEnd", sessionEndEvent{}))
}

func validateContentArgs(ctx context.Context, eventType, promptName, contentName string) error {
	if ctx == nil {
		return NewSendError(eventType, errors.New("context cannot be nil"))
	}
	if promptName == "" {
		return NewSendError(eventType, ErrNoActivePrompt)
	}
	if contentName == "" {
		return NewSendError(eventType, errors.New("content name is required"))
	}
	return nil
}

// readLoop continuously reads messages from the WebSocket connection.
// It runs in a separate goroutine and handles message parsing and event
// dispatching. The loop terminates when the context is canceled or the
// connection fails; malformed messages are dropped individually and never
// end the session.
func (c *Client) readLoop(ctx context.Context) {
	var readErr error
	defer func() {
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "reader_exit")
			c.conn = nil
		}
		c.writeMu.Unlock()
		c.closeOnce.Do(func() {
			close(c.closedCh)
		})
		c.handlerMu.RLock()
		fn := c.onDisconnect
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(readErr)
		}
	}()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				readErr = err
			}
			return
		}

		// Only process text messages (JSON events)
		if typ != websocket.MessageText {
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logError("bad_event_json", map[string]any{"err": err, "raw_data": string(data)})
			continue
		}
		if len(env.Event) == 0 {
			c.logError("empty_event", map[string]any{"raw_data": string(data)})
			continue
		}

		// An envelope carries one event key in practice; handle whatever
		// keys are present in case the gateway ever packs more.
		for name, raw := range env.Event {
			c.dispatch(name, raw)
		}
	}
}

func (c *Client) pingLoop() {
	t := time.NewTicker(20 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-c.closedCh:
			return
		case <-t.C:
			c.writeMu.Lock()
			if c.conn != nil {
				_ = c.conn.Ping(context.Background())
			}
			c.writeMu.Unlock()
		}
	}
}

func (c *Client) dispatch(name string, raw json.RawMessage) {
	switch name {
	case "completionStart":
		var e CompletionStart
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onCompletionStart != nil {
			c.onCompletionStart(e)
		}
		c.handlerMu.RUnlock()
	case "contentStart":
		var e ContentStart
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onContentStart != nil {
			c.onContentStart(e)
		}
		c.handlerMu.RUnlock()
	case "textOutput":
		var e TextOutput
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onTextOutput != nil {
			c.onTextOutput(e)
		}
		c.handlerMu.RUnlock()
	case "audioOutput":
		var e AudioOutput
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onAudioOutput != nil {
			c.onAudioOutput(e)
		}
		c.handlerMu.RUnlock()
	case "toolUse":
		var e ToolUse
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onToolUse != nil {
			c.onToolUse(e)
		}
		c.handlerMu.RUnlock()
	case "contentEnd":
		var e ContentEnd
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onContentEnd != nil {
			c.onContentEnd(e)
		}
		c.handlerMu.RUnlock()
	case "completionEnd":
		var e CompletionEnd
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onCompletionEnd != nil {
			c.onCompletionEnd(e)
		}
		c.handlerMu.RUnlock()
	case "usageEvent":
		var e UsageEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logError("bad_event", map[string]any{"type": name, "err": err})
			return
		}
		c.handlerMu.RLock()
		if c.onUsage != nil {
			c.onUsage(e)
		}
		c.handlerMu.RUnlock()
	default:
		// Unrecognized keys are logged and ignored so protocol additions
		// never break an existing client.
		c.log("unknown_event", map[string]any{"type": name})
	}
}

func (c *Client) send(ctx context.Context, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return NewSendError("unknown", fmt.Errorf("marshal payload: %w", err))
	}

	// Apply send timeout
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	err = c.conn.Write(ctx, websocket.MessageText, b)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return NewSendError("unknown", ErrSendTimeout)
		}
		return NewSendError("unknown", err)
	}

	return nil
}

func (c *Client) log(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Info(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger(event, fields)
	}
}

func (c *Client) logError(event string, fields map[string]any) {
	if c.cfg.StructuredLogger != nil {
		c.cfg.StructuredLogger.Error(event, fields)
	} else if c.cfg.Logger != nil {
		c.cfg.Logger("ERROR: "+event, fields)
	}
}
