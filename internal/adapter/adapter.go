// Package adapter defines the capability interface over the external
// messaging network client. The session manager is the sole consumer of a
// handle's event stream; transport failures surface as events, never as
// panics or stray errors in caller state.
package adapter

import (
	"context"
	"fmt"
)

// EventType enumerates the lifecycle events a handle can emit.
type EventType string

const (
	EventQR           EventType = "qr"
	EventReady        EventType = "ready"
	EventMessage      EventType = "message"
	EventDisconnected EventType = "disconnected"
	EventAuthFailure  EventType = "auth_failure"
)

// MessageEvent is a normalized inbound or echoed message.
type MessageEvent struct {
	ExternalChatID    string
	ExternalMessageID string
	ChatDisplayName   string
	ContactNumber     string
	IsGroup           bool
	FromAddress       string
	ToAddress         string
	Kind              string
	TextContent       string
	MediaRef          string
	IsFromMe          bool
	SentAt            int64
}

// Event is one entry of a handle's ordered event stream. Seq increases
// monotonically per handle.
type Event struct {
	Seq         uint64
	Type        EventType
	QRPayload   string        // EventQR
	PhoneNumber string        // EventReady
	Reason      string        // EventDisconnected, EventAuthFailure
	Message     *MessageEvent // EventMessage
}

// SendContent is the payload of an outbound send.
type SendContent struct {
	Kind     string
	Text     string
	MediaRef string
}

// SendError wraps a failed send with a retryability hint.
type SendError struct {
	Retryable bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed (retryable=%v): %v", e.Retryable, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Handle is a live connection to the messaging network for one session.
type Handle interface {
	// Events returns the handle's ordered event stream. The channel is
	// closed when the handle is closed.
	Events() <-chan Event
	// Send delivers a message. externalMessageID is the caller-chosen id
	// the network will echo back, so local sends dedup against echoes.
	Send(ctx context.Context, toAddress string, content SendContent, externalMessageID string) error
	// Close releases all resources. Idempotent.
	Close()
}

// Adapter opens connections to the messaging network. Stored credentials
// for the session, when present, are restored transparently; otherwise the
// handle emits QR events until the handshake completes.
type Adapter interface {
	// Open begins establishing a connection. It may be long-running and
	// honors ctx cancellation. Resource-level failures (e.g. an unreadable
	// credential store) return an error; transport-level failures after a
	// successful open arrive as events.
	Open(ctx context.Context, sessionID string) (Handle, error)
	// NewMessageID mints a network-compatible message id for local sends.
	NewMessageID() string
}
