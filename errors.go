package novasonic

import (
	"errors"
	"fmt"
	"net/url"
)

// Common error variables
var (
	// ErrClosed is returned when attempting to use a client that has been closed.
	// This error indicates that the WebSocket connection has been terminated and
	// the client is no longer usable. Create a new client to resume operations.
	ErrClosed = errors.New("novasonic: connection is closed")

	// ErrInvalidConfig is returned when required configuration fields are missing.
	ErrInvalidConfig = errors.New("novasonic: invalid configuration")

	// ErrConnectionFailed is returned when the WebSocket connection cannot be established.
	ErrConnectionFailed = errors.New("novasonic: connection failed")

	// ErrSendTimeout is returned when sending a message times out.
	ErrSendTimeout = errors.New("novasonic: send timeout")

	// ErrInvalidEventData is returned when event data cannot be parsed.
	ErrInvalidEventData = errors.New("novasonic: invalid event data")

	// ErrNoCredential is returned when no bearer credential can be resolved.
	// Connection is never attempted in this case.
	ErrNoCredential = errors.New("novasonic: no credential available")

	// ErrCredentialExpired is returned when a stored JWT credential is past its
	// expiry. Like ErrNoCredential, it fails before any socket is opened.
	ErrCredentialExpired = errors.New("novasonic: credential expired")

	// ErrNoActivePrompt is returned when a content operation is attempted
	// before the prompt handshake has completed.
	ErrNoActivePrompt = errors.New("novasonic: no active prompt")

	// ErrContentOpen is returned when opening a content block would violate
	// the one-open-block-per-modality-and-role rule.
	ErrContentOpen = errors.New("novasonic: content block already open")
)

// ConfigError represents a configuration validation error.
// It provides detailed information about which configuration field is invalid.
type ConfigError struct {
	Field   string // The configuration field that is invalid
	Value   string // The invalid value (if safe to log)
	Message string // Detailed error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("novasonic: invalid config field %q (value: %q): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("novasonic: invalid config field %q: %s", e.Field, e.Message)
}

// Is implements error matching for ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ConnectionError represents a WebSocket connection error.
// It wraps underlying network errors with additional context.
type ConnectionError struct {
	URL       string // The WebSocket URL that failed to connect
	Cause     error  // The underlying error
	Operation string // The operation that failed (e.g., "dial", "authorize")
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("novasonic: %s failed for %q: %v", e.Operation, e.URL, e.Cause)
	}
	return fmt.Sprintf("novasonic: %s failed for %q", e.Operation, e.URL)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// SendError represents an error that occurred while sending an event to the gateway.
type SendError struct {
	EventType string // The protocol event being sent (e.g., "audioInput")
	Cause     error  // The underlying error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("novasonic: failed to send %s event: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SendError) Unwrap() error {
	return e.Cause
}

// IsTimeout returns true if the error was caused by a timeout.
func (e *SendError) IsTimeout() bool {
	return errors.Is(e.Cause, ErrSendTimeout)
}

// EventError represents an error in processing an inbound event.
type EventError struct {
	EventType string // The event key that caused the error
	RawData   []byte // The raw JSON data (if available)
	Cause     error  // The underlying parsing error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("novasonic: failed to process %s event: %v", e.EventType, e.Cause)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for EventError.
func (e *EventError) Is(target error) bool {
	return target == ErrInvalidEventData
}

// StateError reports a rejected session state transition, for example opening
// a second AUDIO block for a role that already has one open.
type StateError struct {
	Op      string // The operation that was rejected
	Message string // What the state machine objected to
}

func (e *StateError) Error() string {
	return fmt.Sprintf("novasonic: %s rejected: %s", e.Op, e.Message)
}

// Is implements error matching for StateError.
func (e *StateError) Is(target error) bool {
	return target == ErrContentOpen
}

// Helper functions for creating specific errors

// NewConfigError creates a new configuration error.
func NewConfigError(field, value, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewConnectionError creates a new connection error.
func NewConnectionError(url, operation string, cause error) *ConnectionError {
	return &ConnectionError{
		URL:       url,
		Operation: operation,
		Cause:     cause,
	}
}

// NewSendError creates a new send error.
func NewSendError(eventType string, cause error) *SendError {
	return &SendError{
		EventType: eventType,
		Cause:     cause,
	}
}

// NewEventError creates a new event processing error.
func NewEventError(eventType string, rawData []byte, cause error) *EventError {
	return &EventError{
		EventType: eventType,
		RawData:   rawData,
		Cause:     cause,
	}
}

// NewStateError creates a new state transition error.
func NewStateError(op, message string) *StateError {
	return &StateError{Op: op, Message: message}
}

// Validation helper functions

// ValidateConfig performs comprehensive configuration validation.
func ValidateConfig(cfg Config) error {
	if cfg.Endpoint == "" {
		return NewConfigError("Endpoint", "", "cannot be empty")
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return NewConfigError("Endpoint", cfg.Endpoint, "invalid URL format")
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return NewConfigError("Endpoint", cfg.Endpoint, "scheme must be ws, wss, http or https")
	}

	if cfg.Credential == nil {
		return NewConfigError("Credential", "", "cannot be nil")
	}

	// Validate DialTimeout if specified
	if cfg.DialTimeout < 0 {
		return NewConfigError("DialTimeout", cfg.DialTimeout.String(), "cannot be negative")
	}

	return nil
}
