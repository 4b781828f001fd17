// Package novasonic provides a production-ready Go client for real-time
// bidirectional speech-to-speech conversations over the Nova Sonic WebSocket
// protocol.
//
// The package has two layers. Client is the raw transport: it owns the
// socket, sends protocol events and dispatches inbound events to callback
// handlers. Session sits on top and runs a whole conversation: the
// session/prompt/content handshake, microphone capture coordinated against
// assistant turns (pause while the assistant speaks, resume after it
// finishes, flush on barge-in), transcript assembly, and asynchronous tool
// invocation.
//
// Key Features:
//   - WebSocket client for the Nova Sonic bidirectional streaming protocol
//   - Event-driven architecture with callback handlers
//   - Content-block lifecycle enforcement (one open block per type and role)
//   - PCM16 audio streaming with immediate per-frame forwarding
//   - Barge-in handling with playback flush
//   - Cancellable tool bridge with per-invocation timeouts
//   - Connection resilience with ping/pong keepalives and dial retry
//
// Basic Usage:
//
//	cfg := novasonic.Config{
//		Endpoint:   "wss://gateway.example.com/speech",
//		Credential: novasonic.StaticToken("your-bearer-token"),
//	}
//	session, err := novasonic.Open(ctx, cfg, novasonic.SessionOptions{
//		SystemPrompt: "You are a helpful voice assistant.",
//		Capturer:     mic,
//		Player:       speaker,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//	<-session.Done()
//
// Sessions report progress through hooks on SessionOptions:
//   - OnStatus: lifecycle transitions (connecting, listening, speaking, ...)
//   - OnTranscript: finalized utterances from both sides
//   - OnInterrupted: barge-in notifications
//   - OnError: transport failures
//
// This package is designed for production use with proper error handling,
// logging support, and resource cleanup.
package novasonic
