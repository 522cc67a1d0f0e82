// Package transport defines the capability surface of the paired chat
// channel. The protocol itself lives behind the Dialer: this service only
// opens connections, consumes typed events, and sends text.
package transport

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by Send after the connection is closed.
var ErrConnClosed = errors.New("transport connection closed")

// EventKind discriminates the events a connection emits.
type EventKind string

const (
	// EventPairing carries a fresh pairing artifact (QR payload) the user
	// must scan to authorize the session. Artifacts rotate; only the most
	// recent one is valid.
	EventPairing EventKind = "pairing"
	// EventConnected signals a fully established, authenticated session.
	EventConnected EventKind = "connected"
	// EventDisconnected signals the connection dropped. Terminal reports
	// whether the credentials were revoked (no reconnect is possible).
	EventDisconnected EventKind = "disconnected"
	// EventMessage carries one inbound text message.
	EventMessage EventKind = "message"
)

// Event is one typed occurrence on a paired connection.
type Event struct {
	Kind EventKind

	// Pairing artifact bytes (EventPairing).
	PairingArtifact []byte

	// Channel-side address of the authenticated account (EventConnected).
	Address string

	// Terminal is true when the drop is a credential revocation
	// (EventDisconnected). Non-terminal drops are retried with backoff.
	Terminal bool
	// Reason is the transport's description of the drop (EventDisconnected).
	Reason string

	// Inbound message fields (EventMessage).
	SenderID   string
	SenderName string
	MessageID  string
	Text       string
}

// Conn is one live paired connection. Events returns a channel that is
// closed when the connection terminates; Send may be called concurrently
// with event consumption.
type Conn interface {
	Events() <-chan Event
	Send(ctx context.Context, address string, text string) (externalID string, err error)
	Close() error
}

// Dialer opens paired connections. The credential path identifies the
// durable authentication blob for the integration; a dialer given an empty
// blob starts a fresh pairing flow and emits EventPairing.
type Dialer interface {
	Dial(ctx context.Context, credentialPath string) (Conn, error)
}
