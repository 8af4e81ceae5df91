// Package ws provides the WebSocket transport for the room server.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/omochice/room-chat/internal/chat"
	"github.com/omochice/room-chat/pkg/protocol"
)

// maxReasonLen is the room left for a close reason in a control frame.
const maxReasonLen = 123

const closeWait = time.Second

// Conn adapts gorilla/websocket to the chat.Conn interface.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps a websocket.Conn with empty remote address.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// NewConnWithAddr wraps a websocket.Conn with the specified remote address.
func NewConnWithAddr(conn *websocket.Conn, addr string) *Conn {
	return &Conn{conn: conn, remoteAddr: addr}
}

// Read implements chat.Conn.
// Cancelling ctx interrupts a pending read; the connection is unusable afterwards.
// A close frame from the peer is returned as *protocol.CloseError, and a frame
// over the read limit as an error wrapping chat.ErrFrameTooLarge.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: %w", chat.ErrFrameTooLarge, err)
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &protocol.CloseError{Code: protocol.CloseCode(ce.Code), Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
// Writes a text message, bounded by the deadline of ctx if it has one.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements chat.Conn.
// Sends a close frame carrying code and reason, then drops the connection.
func (c *Conn) Close(code protocol.CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		if len(reason) > maxReasonLen {
			reason = reason[:maxReasonLen]
		}
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(int(code), reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
