package novasonic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Status describes where a session is in its lifecycle. Transitions are
// delivered through SessionOptions.OnStatus.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusAuthRequired Status = "authentication required"
	StatusConnecting   Status = "connecting"
	StatusReady        Status = "ready"
	StatusListening    Status = "listening"
	StatusSpeaking     Status = "speaking"
	StatusError        Status = "error"
)

// Defaults applied by Open when the corresponding option is zero.
const (
	// DefaultVoice is the assistant voice used when none is configured.
	DefaultVoice = "matthew"

	// DefaultResumeDelay is how long after assistant audio ends before
	// microphone forwarding resumes. It is a tunable, not a protocol
	// constant.
	DefaultResumeDelay = 800 * time.Millisecond

	// DefaultToolTimeout bounds a single tool invocation.
	DefaultToolTimeout = 10 * time.Second

	// DefaultSpeakingThreshold is the normalized RMS level above which the
	// local speaking indicator reports activity.
	DefaultSpeakingThreshold = 0.02
)

// CaptureConfig describes the microphone stream the session forwards.
// EchoCancellation, NoiseSuppression and AutoGainControl are advisory:
// capturers that control such processing should honor them, others may
// ignore them.
type CaptureConfig struct {
	SampleRate int // default DefaultCaptureRate
	FrameMS    int // default DefaultFrameMS

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// SpeakingThreshold drives the OnSpeakingChange indicator. It never
	// gates what is transmitted; every captured frame is forwarded while
	// capture is unpaused. Default: DefaultSpeakingThreshold.
	SpeakingThreshold float64
}

// SessionOptions configures a speech-to-speech session. The zero value is
// usable: Open fills in defaults.
type SessionOptions struct {
	// SystemPrompt is sent as a SYSTEM text block right after the prompt
	// handshake, before any audio flows.
	SystemPrompt string

	// Voice selects the assistant voice. Default: DefaultVoice.
	Voice string

	// Endpointing selects how aggressively the gateway detects the end of
	// a user turn: EndpointingLow, EndpointingMedium or EndpointingHigh.
	// Empty leaves the gateway default in place.
	Endpointing string

	// Inference overrides the default sampling parameters.
	Inference *InferenceConfiguration

	// Tools is the catalog advertised to the model. Nil means no tools.
	Tools *ToolRegistry

	// ToolTimeout bounds each tool invocation. Default: DefaultToolTimeout.
	ToolTimeout time.Duration

	// Capturer supplies microphone frames. Nil disables local capture;
	// the session can still be driven with SendText.
	Capturer Capturer

	// Player receives decoded assistant audio. Nil discards it.
	Player Player

	// Capture configures the microphone stream.
	Capture CaptureConfig

	// ResumeDelay is how long after assistant audio ends before capture
	// resumes. Default: DefaultResumeDelay.
	ResumeDelay time.Duration

	// Callback hooks. All hooks run on session-internal goroutines and
	// must not block.
	OnStatus         func(Status)
	OnTranscript     func(TranscriptEntry)
	OnTextOutput     func(role Role, text string, speculative bool)
	OnSpeakingChange func(bool)
	OnAudioLevel     func(float64) // normalized RMS per capture frame
	OnInterrupted    func()
	OnUsage          func(UsageEvent)
	OnError          func(error)
}

// ValidateSessionOptions checks session options for invalid values.
// Open calls it after defaults are applied.
func ValidateSessionOptions(opts SessionOptions) error {
	switch opts.Endpointing {
	case "", EndpointingLow, EndpointingMedium, EndpointingHigh:
	default:
		return NewConfigError("Endpointing", opts.Endpointing, "must be LOW, MEDIUM or HIGH")
	}
	if opts.ResumeDelay < 0 {
		return NewConfigError("ResumeDelay", opts.ResumeDelay.String(), "cannot be negative")
	}
	if opts.ToolTimeout < 0 {
		return NewConfigError("ToolTimeout", opts.ToolTimeout.String(), "cannot be negative")
	}
	if opts.Capture.SampleRate < 0 {
		return NewConfigError("Capture.SampleRate", fmt.Sprintf("%d", opts.Capture.SampleRate), "cannot be negative")
	}
	if opts.Capture.SpeakingThreshold < 0 || opts.Capture.SpeakingThreshold > 1 {
		return NewConfigError("Capture.SpeakingThreshold", fmt.Sprintf("%v", opts.Capture.SpeakingThreshold), "must be between 0.0 and 1.0")
	}
	if inf := opts.Inference; inf != nil {
		if inf.MaxTokens < 0 {
			return NewConfigError("Inference.MaxTokens", fmt.Sprintf("%d", inf.MaxTokens), "cannot be negative")
		}
		if inf.TopP < 0 || inf.TopP > 1 {
			return NewConfigError("Inference.TopP", fmt.Sprintf("%v", inf.TopP), "must be between 0.0 and 1.0")
		}
		if inf.Temperature < 0 || inf.Temperature > 2 {
			return NewConfigError("Inference.Temperature", fmt.Sprintf("%v", inf.Temperature), "must be between 0.0 and 2.0")
		}
	}
	return nil
}

func normalizeSessionOptions(opts SessionOptions) SessionOptions {
	if opts.Voice == "" {
		opts.Voice = DefaultVoice
	}
	if opts.ResumeDelay == 0 {
		opts.ResumeDelay = DefaultResumeDelay
	}
	if opts.ToolTimeout == 0 {
		opts.ToolTimeout = DefaultToolTimeout
	}
	if opts.Capture.SampleRate == 0 {
		opts.Capture.SampleRate = DefaultCaptureRate
	}
	if opts.Capture.FrameMS == 0 {
		opts.Capture.FrameMS = DefaultFrameMS
	}
	if opts.Capture.SpeakingThreshold == 0 {
		opts.Capture.SpeakingThreshold = DefaultSpeakingThreshold
	}
	if opts.Tools == nil {
		opts.Tools = NewToolRegistry()
	}
	return opts
}

// Session drives one speech-to-speech conversation end to end: it owns the
// transport client, enforces the content-block lifecycle, coordinates
// microphone capture against assistant turns, and bridges tool-use requests
// to local tools.
//
// All inbound events are handled strictly in arrival order on the client's
// read loop. Capture frames are forwarded in capture order with no
// batching. Pausing capture always wins over resuming: a pending resume is
// canceled the moment anything pauses, so capture is never active while
// assistant audio is playing.
type Session struct {
	client *Client
	opts   SessionOptions

	audioCfg AudioConfiguration // outbound input codec

	// bgCtx outlives the ctx passed to Open and is canceled at teardown.
	// Capture forwarding and tool invocations run under it.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	done     chan struct{}

	toolMu sync.Mutex // serializes tool-result triples on the wire

	mu           sync.Mutex
	status       Status
	promptName   string
	initialized  bool // completionStart seen
	activeRole   Role
	capturing    bool // capture goroutine running
	paused       bool // capture gate: frames dropped while true
	playing      bool // assistant audio in flight
	speaking     bool // local mic level indicator state
	closed       bool
	resumeTimer  *time.Timer // at most one pending resume
	pendingTool  *ToolUse
	toolCancels  map[string]context.CancelFunc // keyed by tool-use id
	inboundRoles map[string]Role               // inbound content id -> role
	remoteAudio  *AudioConfiguration
	open         *contentTable

	transcript *TranscriptAssembler

	metricsMu sync.Mutex
	metrics   SessionMetrics
}

// Open connects to the gateway and performs the full session bootstrap:
// credential resolution, socket dial, authorization, sessionStart,
// promptStart with the tool catalog, the system-prompt text block, and
// finally the USER audio block with capture running. The returned session
// is live; Close tears everything down.
//
// When the credential store has no usable credential, no socket is opened
// and the status hook observes StatusAuthRequired.
func Open(ctx context.Context, cfg Config, opts SessionOptions) (*Session, error) {
	opts = normalizeSessionOptions(opts)
	if err := ValidateSessionOptions(opts); err != nil {
		return nil, err
	}

	emit := func(st Status) {
		if opts.OnStatus != nil {
			opts.OnStatus(st)
		}
	}

	emit(StatusConnecting)
	client, err := Dial(ctx, cfg)
	if err != nil {
		if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrCredentialExpired) {
			emit(StatusAuthRequired)
		} else {
			emit(StatusError)
		}
		return nil, err
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Session{
		client:       client,
		opts:         opts,
		audioCfg:     DefaultAudioInputConfiguration(opts.Capture.SampleRate),
		bgCtx:        bgCtx,
		bgCancel:     bgCancel,
		done:         make(chan struct{}),
		status:       StatusConnecting,
		toolCancels:  make(map[string]context.CancelFunc),
		inboundRoles: make(map[string]Role),
		open:         newContentTable(),
		transcript:   NewTranscriptAssembler(),
	}

	client.OnCompletionStart(s.handleCompletionStart)
	client.OnContentStart(s.handleContentStart)
	client.OnTextOutput(s.handleTextOutput)
	client.OnAudioOutput(s.handleAudioOutput)
	client.OnToolUse(s.handleToolUse)
	client.OnContentEnd(s.handleContentEnd)
	client.OnCompletionEnd(s.handleCompletionEnd)
	client.OnUsage(s.handleUsage)
	client.OnDisconnect(s.handleDisconnect)

	if err := s.bootstrap(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// bootstrap sends the handshake events in the order the protocol requires:
// sessionStart, promptStart, the system text block, then the audio block.
// No audio frame is transmitted before all of them are on the wire.
func (s *Session) bootstrap(ctx context.Context) error {
	inf := DefaultInferenceConfiguration
	if s.opts.Inference != nil {
		inf = *s.opts.Inference
	}
	var td *TurnDetectionConfiguration
	if s.opts.Endpointing != "" {
		td = &TurnDetectionConfiguration{EndpointingSensitivity: s.opts.Endpointing}
	}
	if err := s.client.SessionStart(ctx, inf, td); err != nil {
		return err
	}

	prompt := newPromptName()
	s.mu.Lock()
	s.promptName = prompt
	s.mu.Unlock()

	if err := s.client.PromptStart(ctx, PromptStartOptions{
		PromptName:  prompt,
		AudioOutput: DefaultAudioOutputConfiguration(s.opts.Voice),
		Tools:       s.opts.Tools.Specs(),
	}); err != nil {
		return err
	}

	if s.opts.SystemPrompt != "" {
		if err := s.sendTextBlock(ctx, RoleSystem, s.opts.SystemPrompt); err != nil {
			return err
		}
	}

	s.setStatus(StatusReady)
	return s.StartAudioContent(ctx)
}

// Client exposes the underlying transport for raw protocol access.
func (s *Session) Client() *Client { return s.client }

// Done returns a channel closed once the session is fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ActiveRole reports who the inbound stream says is currently speaking.
func (s *Session) ActiveRole() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRole
}

// RemoteAudioConfiguration reports the assistant output codec announced at
// contentStart, or nil if none arrived yet.
func (s *Session) RemoteAudioConfiguration() *AudioConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAudio
}

// Transcript returns the finalized conversation so far.
func (s *Session) Transcript() []TranscriptEntry { return s.transcript.Entries() }

// TranscriptText renders the transcript as plain text.
func (s *Session) TranscriptText() string { return s.transcript.String() }

// Metrics returns a copy of the session's activity counters.
func (s *Session) Metrics() SessionMetrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.metrics
}

func (s *Session) count(update func(*SessionMetrics)) {
	s.metricsMu.Lock()
	update(&s.metrics)
	s.metricsMu.Unlock()
}

// StartAudioContent opens the USER audio block and starts forwarding
// capture frames. It is a no-op when the block is already open and capture
// is running, and returns ErrNoActivePrompt before the prompt handshake.
// A capturer failure tears the whole session down: a session that cannot
// hear is not worth keeping.
func (s *Session) StartAudioContent(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prompt := s.promptName
	capturing := s.capturing
	s.mu.Unlock()
	if prompt == "" {
		return ErrNoActivePrompt
	}

	if _, ok := s.open.name(ContentAudio, RoleUser); !ok {
		name := newContentName()
		if err := s.open.openBlock(ContentAudio, RoleUser, name); err != nil {
			return err
		}
		if err := s.client.ContentStartAudio(ctx, prompt, name, RoleUser, s.audioCfg); err != nil {
			s.open.closeBlock(ContentAudio, RoleUser)
			return err
		}
	}

	if s.opts.Capturer != nil && !capturing {
		frames, err := s.opts.Capturer.Start(s.bgCtx)
		if err != nil {
			_ = s.Close()
			return fmt.Errorf("audio capture failed: %w", err)
		}
		s.mu.Lock()
		s.capturing = true
		s.mu.Unlock()
		go s.captureLoop(frames)
	}

	s.setStatus(StatusListening)
	return nil
}

// captureLoop forwards microphone frames while capture is unpaused. Frames
// arriving while paused are read and dropped so the capturer never blocks.
func (s *Session) captureLoop(frames <-chan []byte) {
	for frame := range frames {
		s.mu.Lock()
		closed := s.closed
		paused := s.paused
		prompt := s.promptName
		s.mu.Unlock()
		if closed {
			return
		}
		if paused || prompt == "" {
			s.updateSpeaking(0)
			continue
		}
		name, ok := s.open.name(ContentAudio, RoleUser)
		if !ok {
			continue
		}

		// Level tracking drives the UI indicator only; the frame is
		// forwarded regardless.
		s.updateSpeaking(RMS(frame))

		if err := s.client.AudioInput(s.bgCtx, prompt, name, frame); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			s.client.logError("audio_input_failed", map[string]any{"err": err})
			continue
		}
		s.count(func(m *SessionMetrics) {
			m.FramesSent++
			m.BytesSent += int64(len(frame))
		})
	}
}

func (s *Session) updateSpeaking(level float64) {
	if s.opts.OnAudioLevel != nil {
		s.opts.OnAudioLevel(level)
	}
	hook := s.opts.OnSpeakingChange
	if hook == nil {
		return
	}
	now := level >= s.opts.Capture.SpeakingThreshold
	s.mu.Lock()
	changed := now != s.speaking
	s.speaking = now
	s.mu.Unlock()
	if changed {
		hook(now)
	}
}

// Pause stops forwarding microphone frames without closing the audio block.
// Idempotent. A pending resume is canceled: pausing always wins.
func (s *Session) Pause() { s.pauseCapture("manual") }

// Resume restarts microphone forwarding, reopening the audio block if it
// was closed. It is guarded: it does nothing before the first completion
// arrives, while assistant audio is playing, or when capture is not paused.
func (s *Session) Resume() { s.tryResume() }

func (s *Session) pauseCapture(reason string) {
	s.mu.Lock()
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	already := s.paused
	s.paused = true
	s.mu.Unlock()
	if !already {
		s.client.log("capture_paused", map[string]any{"reason": reason})
	}
}

// scheduleResume arms the resume timer, replacing any pending one so at
// most a single resume is ever outstanding.
func (s *Session) scheduleResume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
	}
	s.resumeTimer = time.AfterFunc(s.opts.ResumeDelay, s.tryResume)
}

// tryResume re-checks eligibility at the moment it runs, because a pause
// may have won in the meantime.
func (s *Session) tryResume() {
	s.mu.Lock()
	if s.closed || !s.initialized || s.playing || !s.paused {
		s.mu.Unlock()
		return
	}
	s.paused = false
	s.resumeTimer = nil
	prompt := s.promptName
	s.mu.Unlock()
	if prompt == "" {
		return
	}

	// Reopen the audio block if something closed it while paused; an
	// ordinary pause leaves the block name and role untouched.
	if _, ok := s.open.name(ContentAudio, RoleUser); !ok {
		name := newContentName()
		if err := s.open.openBlock(ContentAudio, RoleUser, name); err == nil {
			if err := s.client.ContentStartAudio(s.bgCtx, prompt, name, RoleUser, s.audioCfg); err != nil {
				s.open.closeBlock(ContentAudio, RoleUser)
				s.client.logError("audio_restart_failed", map[string]any{"err": err})
				return
			}
		}
	}
	s.client.log("capture_resumed", nil)
	s.setStatus(StatusListening)
}

// SendText sends a complete USER text block into the live prompt.
func (s *Session) SendText(ctx context.Context, text string) error {
	s.mu.Lock()
	closed := s.closed
	prompt := s.promptName
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if prompt == "" {
		return ErrNoActivePrompt
	}
	return s.sendTextBlock(ctx, RoleUser, text)
}

// sendTextBlock runs one contentStart/textInput/contentEnd triple.
func (s *Session) sendTextBlock(ctx context.Context, role Role, text string) error {
	s.mu.Lock()
	prompt := s.promptName
	s.mu.Unlock()

	name := newContentName()
	if err := s.open.openBlock(ContentText, role, name); err != nil {
		return err
	}
	if err := s.client.ContentStartText(ctx, prompt, name, role); err != nil {
		s.open.closeBlock(ContentText, role)
		return err
	}
	if err := s.client.TextInput(ctx, prompt, name, text); err != nil {
		s.open.closeBlock(ContentText, role)
		return err
	}
	s.open.closeBlock(ContentText, role)
	return s.client.ContentEnd(ctx, prompt, name)
}

// EndPrompt closes the open audio block and ends the prompt. The session
// and socket stay up.
func (s *Session) EndPrompt(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prompt := s.promptName
	s.mu.Unlock()
	if prompt == "" {
		return ErrNoActivePrompt
	}

	if name, ok := s.open.closeBlock(ContentAudio, RoleUser); ok {
		if err := s.client.ContentEnd(ctx, prompt, name); err != nil {
			s.client.logError("content_end_failed", map[string]any{"err": err, "content": name})
		}
	}
	err := s.client.PromptEnd(ctx, prompt)
	s.mu.Lock()
	s.promptName = ""
	s.mu.Unlock()
	return err
}

// Close tears the session down: it stops audio hardware, clears timers,
// cancels in-flight tools, resets state, sends a best-effort wire closeout
// (contentEnd for open blocks, promptEnd, sessionEnd) and finally closes
// the socket. It is idempotent and callable from any state; a second call
// returns immediately and sends nothing.
func (s *Session) Close() error {
	return s.cleanup(true, StatusDisconnected)
}

func (s *Session) cleanup(sendCloseout bool, final Status) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.resumeTimer != nil {
		s.resumeTimer.Stop()
		s.resumeTimer = nil
	}
	cancels := make([]context.CancelFunc, 0, len(s.toolCancels))
	for _, cancel := range s.toolCancels {
		cancels = append(cancels, cancel)
	}
	s.toolCancels = make(map[string]context.CancelFunc)
	s.pendingTool = nil
	s.paused = false
	s.playing = false
	s.speaking = false
	s.capturing = false
	prompt := s.promptName
	s.promptName = ""
	s.mu.Unlock()

	// Hardware first: resource release must not be blocked on socket state.
	if s.opts.Capturer != nil {
		if err := s.opts.Capturer.Stop(); err != nil {
			s.client.logError("capturer_stop_failed", map[string]any{"err": err})
		}
	}
	if s.opts.Player != nil {
		if err := s.opts.Player.Close(); err != nil {
			s.client.logError("player_close_failed", map[string]any{"err": err})
		}
	}
	for _, cancel := range cancels {
		cancel()
	}

	openNames := s.open.reset()
	if sendCloseout && prompt != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for _, name := range openNames {
			_ = s.client.ContentEnd(ctx, prompt, name)
		}
		_ = s.client.PromptEnd(ctx, prompt)
		_ = s.client.SessionEnd(ctx)
		cancel()
	}

	s.bgCancel()
	err := s.client.Close()
	s.setStatus(final)
	close(s.done)
	return err
}

// Inbound event handlers. All of them run on the client's read loop, so
// events are observed strictly in arrival order.

func (s *Session) handleCompletionStart(e CompletionStart) {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	// The model is about to respond; stop feeding it microphone audio.
	s.pauseCapture("completion_start")
	s.client.log("completion_start", map[string]any{"completion": e.CompletionID})
}

func (s *Session) handleContentStart(e ContentStart) {
	s.mu.Lock()
	s.activeRole = e.Role
	s.inboundRoles[e.ContentID] = e.Role
	if e.Type == ContentAudio && e.AudioOutputConfiguration != nil {
		s.remoteAudio = e.AudioOutputConfiguration
	}
	s.mu.Unlock()

	s.transcript.OnContentStart(e)

	if e.Type == ContentAudio && e.Role == RoleAssistant {
		s.pauseCapture("assistant_audio")
	}
}

func (s *Session) handleTextOutput(e TextOutput) {
	s.count(func(m *SessionMetrics) { m.TextChunks++ })

	entry, final := s.transcript.OnText(e)
	if final && s.opts.OnTranscript != nil {
		s.opts.OnTranscript(entry)
	}
	if s.opts.OnTextOutput != nil {
		s.opts.OnTextOutput(e.Role, e.Content, !final)
	}
}

func (s *Session) handleAudioOutput(e AudioOutput) {
	pcm, err := DecodeAudioChunk(e.Content)
	if err != nil {
		s.client.logError("bad_audio_chunk", map[string]any{"err": err})
		return
	}

	s.mu.Lock()
	first := !s.playing
	s.playing = true
	s.mu.Unlock()

	// Capture must be paused before the first playback buffer is queued,
	// or the microphone would hear the assistant.
	if first {
		s.pauseCapture("assistant_speaking")
		s.setStatus(StatusSpeaking)
	}

	if s.opts.Player != nil {
		s.opts.Player.Enqueue(pcm)
	}
	s.count(func(m *SessionMetrics) {
		m.ChunksReceived++
		m.BytesReceived += int64(len(pcm))
	})
}

func (s *Session) handleToolUse(e ToolUse) {
	s.mu.Lock()
	s.pendingTool = &e
	s.mu.Unlock()
	s.client.log("tool_use", map[string]any{"tool": e.ToolName, "tool_use_id": e.ToolUseID})
}

func (s *Session) handleContentEnd(e ContentEnd) {
	s.mu.Lock()
	role := s.inboundRoles[e.ContentID]
	delete(s.inboundRoles, e.ContentID)
	s.mu.Unlock()

	switch e.Type {
	case ContentText:
		s.transcript.OnContentEnd(e)
		if e.StopReason == StopInterrupted {
			s.handleInterruption()
		}
		s.tryResume()
	case ContentAudio:
		if role == RoleAssistant {
			s.mu.Lock()
			s.playing = false
			s.mu.Unlock()
			s.scheduleResume()
		}
	case ContentTool:
		s.mu.Lock()
		tu := s.pendingTool
		s.pendingTool = nil
		s.mu.Unlock()
		if tu == nil {
			s.client.log("tool_end_without_use", map[string]any{"content": e.ContentID})
			return
		}
		// Handled entirely by the bridge; not forwarded to hooks.
		s.invokeTool(*tu)
	}
}

// handleInterruption is the barge-in path: queued playback is flushed
// immediately so the assistant goes quiet, and capture becomes eligible to
// resume.
func (s *Session) handleInterruption() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()

	if s.opts.Player != nil {
		s.opts.Player.Flush()
	}
	s.count(func(m *SessionMetrics) { m.Interruptions++ })
	s.client.log("interrupted", nil)
	if s.opts.OnInterrupted != nil {
		s.opts.OnInterrupted()
	}
}

func (s *Session) handleCompletionEnd(e CompletionEnd) {
	s.mu.Lock()
	s.playing = false
	s.activeRole = ""
	s.mu.Unlock()
	s.count(func(m *SessionMetrics) { m.Turns++ })
	s.tryResume()
	s.client.log("completion_end", map[string]any{"completion": e.CompletionID, "stop_reason": e.StopReason})
}

func (s *Session) handleUsage(e UsageEvent) {
	s.count(func(m *SessionMetrics) {
		m.InputTokens += e.TotalInputTokens
		m.OutputTokens += e.TotalOutputTokens
	})
	if s.opts.OnUsage != nil {
		s.opts.OnUsage(e)
	}
}

func (s *Session) handleDisconnect(err error) {
	if err != nil {
		s.client.logError("ws_disconnected", map[string]any{"err": err})
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		_ = s.cleanup(false, StatusError)
		return
	}
	_ = s.cleanup(false, StatusDisconnected)
}

// invokeTool runs the tool bridge for one tool-use request. The invocation
// runs off the dispatch loop under its own timeout context, registered so
// teardown can cancel it. A result that completes after teardown is
// discarded rather than sent on a dead socket.
func (s *Session) invokeTool(tu ToolUse) {
	tool, ok := s.opts.Tools.Lookup(tu.ToolName)
	if !ok {
		s.client.log("unknown_tool", map[string]any{"tool": tu.ToolName, "tool_use_id": tu.ToolUseID})
		return
	}

	ctx, cancel := context.WithTimeout(s.bgCtx, s.opts.ToolTimeout)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.toolCancels[tu.ToolUseID] = cancel
	s.mu.Unlock()

	s.count(func(m *SessionMetrics) { m.ToolInvocations++ })

	go func() {
		defer cancel()
		result, invokeErr := tool.Invoke(ctx, tu.Content)

		s.mu.Lock()
		delete(s.toolCancels, tu.ToolUseID)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			s.client.log("tool_result_discarded", map[string]any{"tool_use_id": tu.ToolUseID})
			return
		}

		payload := marshalToolResult(result, invokeErr)
		if invokeErr != nil {
			s.count(func(m *SessionMetrics) { m.ToolFailures++ })
			s.client.logError("tool_failed", map[string]any{"tool": tu.ToolName, "err": invokeErr})
		}
		if err := s.sendToolResult(tu.ToolUseID, payload); err != nil {
			s.client.logError("tool_result_send_failed", map[string]any{"tool_use_id": tu.ToolUseID, "err": err})
		}
	}()
}

// marshalToolResult renders the result document the model sees. Failures
// become an error field inside the payload, never a protocol fault.
func marshalToolResult(result any, invokeErr error) string {
	if invokeErr != nil {
		b, _ := json.Marshal(map[string]string{"error": invokeErr.Error()})
		return string(b)
	}
	b, err := json.Marshal(result)
	if err != nil {
		eb, _ := json.Marshal(map[string]string{"error": fmt.Sprintf("marshal tool result: %v", err)})
		return string(eb)
	}
	return string(b)
}

// sendToolResult runs the contentStart/toolResult/contentEnd triple for one
// tool answer. Triples are serialized so two tools finishing together never
// interleave their blocks.
func (s *Session) sendToolResult(toolUseID, payload string) error {
	s.toolMu.Lock()
	defer s.toolMu.Unlock()

	s.mu.Lock()
	prompt := s.promptName
	closed := s.closed
	s.mu.Unlock()
	if closed || prompt == "" {
		return ErrClosed
	}

	name := newContentName()
	if err := s.client.ContentStartTool(s.bgCtx, prompt, name, toolUseID); err != nil {
		return err
	}
	if err := s.client.ToolResult(s.bgCtx, prompt, name, payload); err != nil {
		return err
	}
	return s.client.ContentEnd(s.bgCtx, prompt, name)
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	if s.status == st {
		s.mu.Unlock()
		return
	}
	if s.closed && st != StatusDisconnected && st != StatusError {
		s.mu.Unlock()
		return
	}
	s.status = st
	hook := s.opts.OnStatus
	s.mu.Unlock()
	if hook != nil {
		hook(st)
	}
}
