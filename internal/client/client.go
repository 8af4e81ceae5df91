// Package client implements the participant side of the room protocol: the
// session state machine, the event multiplexer and the transcript reconciler.
package client

import (
	"context"
	"errors"
)

// Client is a joined participant: a Session feeding a Reconciler through a Multiplexer.
type Client struct {
	session *Session
	rec     *Reconciler
	mux     *Multiplexer
	view    View
}

// Join connects to the room as name. Updates are reported to view as they are applied.
func Join(ctx context.Context, dial Dialer, name string, render Renderer, view View) (*Client, error) {
	session, err := Connect(ctx, dial, name)
	if err != nil {
		return nil, err
	}
	if view == nil {
		view = nopView{}
	}
	rec := NewReconciler(name, render, view)
	return &Client{
		session: session,
		rec:     rec,
		mux:     NewMultiplexer(session, rec),
		view:    view,
	}, nil
}

// Run consumes events until the session ends. A local Leave returns nil.
// Any other end is also reported to the view as a notice.
func (c *Client) Run(ctx context.Context) error {
	err := c.session.Run(ctx, c.mux)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.view.Notice(Notice{Kind: NoticeDisconnected, Text: err.Error()})
	}
	return err
}

// Send posts content to the room. Content rejected locally never reaches the
// channel and is reported to the view as a validation notice.
func (c *Client) Send(ctx context.Context, content string) error {
	err := c.session.Send(ctx, content)
	if errors.Is(err, ErrValidation) {
		c.view.Notice(Notice{Kind: NoticeValidation, Text: err.Error()})
	}
	return err
}

// Leave ends the session. It is safe to call more than once.
func (c *Client) Leave(ctx context.Context) error {
	return c.session.Leave(ctx)
}

// Name returns the joined display name.
func (c *Client) Name() string {
	return c.session.Name()
}

// Session returns the underlying session.
func (c *Client) Session() *Session {
	return c.session
}

// Reconciler returns the client's reconciled view of the room.
func (c *Client) Reconciler() *Reconciler {
	return c.rec
}
