// Package ws provides the WebSocket channel used by the chat client.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/omochice/room-chat/internal/client"
	"github.com/omochice/room-chat/pkg/protocol"
)

// maxFrameSize bounds a single inbound message.
const maxFrameSize = 1 << 20

const closeWait = time.Second

// ErrInterrupted is returned by every Read after a cancelled Read stopped in the
// middle of a message; the stream position is lost and the connection must be closed.
var ErrInterrupted = errors.New("websocket read interrupted mid-message")

// Conn is a client-side WebSocket connection built on gobwas/ws.
// Control frames are answered inline while reading. Reads are not concurrent.
type Conn struct {
	conn net.Conn
	r    *countingReader

	// boundary is the stream offset of the last complete message or control frame.
	boundary int64
	broken   bool

	wmu       sync.Mutex
	closeOnce sync.Once
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Dialer returns a client.Dialer that joins the room served at baseURL.
func Dialer(baseURL string) client.Dialer {
	return func(ctx context.Context, name string) (client.Channel, error) {
		return Dial(ctx, baseURL, name)
	}
}

// Dial opens /ws/{name} on the server at baseURL (ws:// or wss://; http(s) is rewritten).
func Dial(ctx context.Context, baseURL, name string) (*Conn, error) {
	u, err := joinURL(baseURL, name)
	if err != nil {
		return nil, err
	}

	conn, br, _, err := ws.Dial(ctx, u)
	if err != nil {
		var status ws.StatusError
		if errors.As(err, &status) && int(status) == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: join refused by server", client.ErrRateLimited)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", client.ErrTransport, u, err)
	}

	c := &Conn{conn: conn, r: &countingReader{r: conn}}
	if br != nil {
		c.r.r = br
	}
	return c, nil
}

func joinURL(baseURL, name string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String() + "/ws/" + url.PathEscape(name), nil
}

// Read implements client.Channel.
// It returns the next text or binary message. A close frame from the server is
// returned as *protocol.CloseError after it has been echoed. Cancelling ctx
// between messages leaves the connection usable; cancelling it mid-message does not.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.broken {
		return nil, ErrInterrupted
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	data, err := c.readMessage()
	if err != nil && ctx.Err() != nil {
		if c.r.n != c.boundary {
			c.broken = true
		}
		return nil, ctx.Err()
	}
	return data, err
}

func (c *Conn) readMessage() ([]byte, error) {
	var msg []byte
	for {
		h, err := ws.ReadHeader(c.r)
		if err != nil {
			return nil, err
		}
		if h.Length > maxFrameSize || int64(len(msg))+h.Length > maxFrameSize {
			return nil, fmt.Errorf("frame of %d bytes exceeds limit", h.Length)
		}
		payload := make([]byte, h.Length)
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return nil, err
		}
		if h.Masked {
			ws.Cipher(payload, h.Mask, 0)
		}

		if h.OpCode.IsControl() && len(msg) == 0 {
			c.boundary = c.r.n
		}

		switch h.OpCode {
		case ws.OpPing:
			if err := c.writeFrame(ws.NewPongFrame(payload)); err != nil {
				return nil, err
			}
		case ws.OpPong:
		case ws.OpClose:
			code, reason := ws.ParseCloseFrameData(payload)
			_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(code, "")))
			return nil, &protocol.CloseError{Code: protocol.CloseCode(code), Reason: reason}
		case ws.OpText, ws.OpBinary, ws.OpContinuation:
			msg = append(msg, payload...)
			if h.Fin {
				c.boundary = c.r.n
				return msg, nil
			}
		}
	}
}

func (c *Conn) writeFrame(f ws.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return ws.WriteFrame(c.conn, ws.MaskFrame(f))
}

// Write implements client.Channel.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewTextFrame(data)))
}

// Close implements client.Channel. Only the first call has an effect.
func (c *Conn) Close(code protocol.CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWait))
		body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
		_ = ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(body)))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// compile-time check
var _ client.Channel = (*Conn)(nil)
