// Package chat provides the room: sessions, ordering, presence fan-out and the CSRF handshake.
package chat

import (
	"context"

	"github.com/omochice/room-chat/pkg/protocol"
)

// Conn abstracts a bidirectional, message-framed connection to one client.
// This interface isolates transport details from room logic.
type Conn interface {
	// Read reads a single frame. It returns an error once the connection is closed
	// or ctx is done, and an error wrapping ErrFrameTooLarge for an oversized frame.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame. Write is never called concurrently.
	Write(ctx context.Context, data []byte) error

	// Close sends a close frame with code and reason, then releases the connection.
	Close(code protocol.CloseCode, reason string) error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
