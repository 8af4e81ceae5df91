package client

import (
	"context"

	"github.com/omochice/room-chat/pkg/protocol"
)

// Channel is the client end of one session connection.
type Channel interface {
	// Read returns the next inbound frame. A close frame from the server is
	// reported as *protocol.CloseError.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one frame to the server.
	Write(ctx context.Context, data []byte) error

	// Close sends a close frame with code and drops the connection. It is idempotent.
	Close(code protocol.CloseCode, reason string) error
}

// Dialer opens a Channel joined under name.
type Dialer func(ctx context.Context, name string) (Channel, error)
