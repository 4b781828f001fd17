package novasonic

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialStore resolves the bearer credential used to authorize a session.
// The token is sent as the first socket message after the connection opens:
// {"type":"authorization","token":"Bearer <token>"}. When no credential can
// be resolved, Dial fails fast with ErrNoCredential and never opens a socket.
type CredentialStore interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer credential.
type StaticToken string

// Token returns the stored value, or ErrNoCredential when empty.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", ErrNoCredential
	}
	return string(t), nil
}

// EnvCredential resolves the bearer credential from the named environment
// variable on every connect, so rotated tokens are picked up without a
// restart.
type EnvCredential string

// Token reads the environment variable, or returns ErrNoCredential when unset.
func (e EnvCredential) Token(ctx context.Context) (string, error) {
	v := os.Getenv(string(e))
	if v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrNoCredential, string(e))
	}
	return v, nil
}

// JWTCredential wraps a JWT bearer token and rejects it client-side once
// expired, so a stale token fails before any socket is opened instead of
// being bounced by the gateway. The signature is not verified here; only
// the gateway can do that.
type JWTCredential struct {
	Raw string
	// Leeway widens the expiry check to tolerate clock skew.
	Leeway time.Duration
}

// Token parses the claims and checks expiry.
func (j JWTCredential) Token(ctx context.Context) (string, error) {
	if j.Raw == "" {
		return "", ErrNoCredential
	}
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(j.Raw, &claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time.Add(j.Leeway)) {
		return "", fmt.Errorf("%w: expired at %s", ErrCredentialExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	return j.Raw, nil
}

// Config holds the transport-level options for connecting to a speech
// gateway. Session behavior (voice, tools, capture) lives in SessionOptions.
type Config struct {
	// Endpoint is the gateway WebSocket URL. http(s) schemes are rewritten
	// to ws(s).
	// Required: Yes
	Endpoint string

	// Credential resolves the bearer token sent as the authorization
	// message. Resolution happens before dialing; a missing credential
	// fails fast with no connection attempt.
	// Required: Yes
	Credential CredentialStore

	// DialTimeout sets the maximum time to wait for WebSocket connection establishment.
	// If zero, no timeout is applied (not recommended for production).
	// Recommended: 15-30 seconds
	// Required: No
	DialTimeout time.Duration

	// HandshakeHeaders allows adding custom headers to the WebSocket handshake request.
	// Useful for proxy authentication, tracing headers, etc.
	// Required: No
	HandshakeHeaders http.Header

	// Logger is called for significant events and can be used for debugging and monitoring.
	// Events include: ws_connected, bad_event_json, and other operational events.
	// The fields parameter contains structured data relevant to each event.
	// Required: No (if nil, no logging occurs)
	Logger func(event string, fields map[string]any)

	// StructuredLogger provides advanced structured logging with configurable levels.
	// If both Logger and StructuredLogger are provided, StructuredLogger takes precedence.
	// Use NewLogger() or NewLoggerFromEnv() to create a structured logger.
	// Required: No (if nil, falls back to Logger or no logging)
	StructuredLogger *Logger
}
