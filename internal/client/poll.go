package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// Poller feeds a Reconciler from the read-only HTTP endpoints instead of a
// live session. Each poll asks for messages after the last applied sequence number
// and replaces the roster.
type Poller struct {
	base     string
	http     *http.Client
	rec      *Reconciler
	interval time.Duration
}

// NewPoller creates a Poller against the server at baseURL.
func NewPoller(baseURL string, rec *Reconciler, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		base:     strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		rec:      rec,
		interval: interval,
	}
}

// Poll fetches one batch of messages and the current roster and applies both.
// It returns the number of messages received.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	var batch []protocol.Message
	after := url.Values{"after": {strconv.FormatUint(p.rec.LastSeq(), 10)}}
	if err := p.get(ctx, "/api/messages", after, &batch); err != nil {
		return 0, err
	}
	p.rec.ApplyMessages(batch)

	var names []string
	if err := p.get(ctx, "/api/active_users", nil, &names); err != nil {
		return len(batch), err
	}
	p.rec.ApplyRoster(names)
	return len(batch), nil
}

func (p *Poller) get(ctx context.Context, path string, query url.Values, v any) error {
	u := p.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %s returned %s", ErrTransport, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrTransport, path, err)
	}
	return nil
}

// Run polls every interval until ctx is done. Failed polls are reported as
// notices and retried on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Msg("[poll] fetch room state")
			p.rec.Notify(Notice{Kind: NoticeDisconnected, Text: err.Error()})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
