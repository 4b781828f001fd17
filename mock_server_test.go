package novasonic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// MockGateway is a test WebSocket server that speaks the speech gateway's
// envelope protocol. It enforces the authorization handshake, records every
// event the client sends, and lets tests push inbound events at controlled
// moments. One client per gateway.
type MockGateway struct {
	server *httptest.Server
	t      *testing.T

	mu        sync.Mutex
	conn      *websocket.Conn
	auth      string
	events    []GatewayEvent
	connected chan struct{}
}

// GatewayEvent is one outbound event received from the client.
type GatewayEvent struct {
	Name string
	Raw  json.RawMessage
}

// NewMockGateway creates a new mock gateway for testing.
func NewMockGateway(t *testing.T) *MockGateway {
	g := &MockGateway{t: t, connected: make(chan struct{})}
	g.server = httptest.NewServer(http.HandlerFunc(g.handleWebSocket))
	return g
}

// Close shuts down the mock gateway.
func (g *MockGateway) Close() {
	g.server.Close()
}

// URL returns the WebSocket URL for the mock gateway.
func (g *MockGateway) URL() string {
	return "ws" + strings.TrimPrefix(g.server.URL, "http") + "/speech"
}

// WaitConnected blocks until a client completes the authorization exchange.
func (g *MockGateway) WaitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-g.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client to connect")
	}
}

// Authorization returns the token carried by the authorization message.
func (g *MockGateway) Authorization() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.auth
}

// Events returns a snapshot of the events received so far, in arrival order.
func (g *MockGateway) Events() []GatewayEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]GatewayEvent, len(g.events))
	copy(out, g.events)
	return out
}

// EventNames returns just the names of received events, in arrival order.
func (g *MockGateway) EventNames() []string {
	events := g.Events()
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	return names
}

// WaitEvent blocks until an event with the given name arrives and returns
// the first match.
func (g *MockGateway) WaitEvent(t *testing.T, name string) GatewayEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range g.Events() {
			if ev.Name == name {
				return ev
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event; got %v", name, g.EventNames())
	return GatewayEvent{}
}

// CountEvents reports how many events with the given name have arrived.
func (g *MockGateway) CountEvents(name string) int {
	n := 0
	for _, ev := range g.Events() {
		if ev.Name == name {
			n++
		}
	}
	return n
}

// Send pushes one inbound event envelope to the connected client.
func (g *MockGateway) Send(t *testing.T, name string, payload any) {
	t.Helper()
	b, err := json.Marshal(map[string]any{"event": map[string]any{name: payload}})
	if err != nil {
		t.Fatalf("marshal %s event: %v", name, err)
	}
	g.SendRaw(t, b)
}

// SendRaw pushes raw bytes to the connected client, for malformed-message
// tests.
func (g *MockGateway) SendRaw(t *testing.T, data []byte) {
	t.Helper()
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		t.Fatal("no client connected")
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write to client: %v", err)
	}
}

// Disconnect closes the server side of the socket abruptly.
func (g *MockGateway) Disconnect() {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "server closing")
	}
}

func (g *MockGateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // For testing only
	})
	if err != nil {
		g.t.Errorf("failed to upgrade to websocket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The first message on the wire must be the authorization handshake.
	_, data, err := conn.Read(r.Context())
	if err != nil {
		return
	}
	var auth authorizationMessage
	if err := json.Unmarshal(data, &auth); err != nil || auth.Type != "authorization" || !strings.HasPrefix(auth.Token, "Bearer ") {
		g.t.Errorf("first message was not a valid authorization message: %s", data)
		_ = conn.Close(websocket.StatusPolicyViolation, "unauthorized")
		return
	}

	g.mu.Lock()
	g.conn = conn
	g.auth = auth.Token
	g.mu.Unlock()
	close(g.connected)

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		g.mu.Lock()
		for name, raw := range env.Event {
			g.events = append(g.events, GatewayEvent{Name: name, Raw: raw})
		}
		g.mu.Unlock()
	}
}

// mockConfig creates a valid config pointing at the mock gateway.
func mockConfig(serverURL string) Config {
	return Config{
		Endpoint:   serverURL,
		Credential: StaticToken("test-token"),
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestHelper provides common test utilities
type TestHelper struct {
	t *testing.T
}

func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

func (th *TestHelper) AssertNoError(err error) {
	th.t.Helper()
	if err != nil {
		th.t.Fatalf("unexpected error: %v", err)
	}
}

func (th *TestHelper) AssertError(err error) {
	th.t.Helper()
	if err == nil {
		th.t.Fatal("expected error but got nil")
	}
}

func (th *TestHelper) AssertEqual(expected, actual interface{}) {
	th.t.Helper()
	if expected != actual {
		th.t.Errorf("expected %v, got %v", expected, actual)
	}
}

func (th *TestHelper) AssertContains(haystack, needle string) {
	th.t.Helper()
	if !strings.Contains(haystack, needle) {
		th.t.Errorf("expected %q to contain %q", haystack, needle)
	}
}
