package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/omochice/room-chat/pkg/protocol"
)

var (
	ErrNameConflict = errors.New("name is already in use")
	ErrTokenInvalid = errors.New("csrf token rejected by server")
	ErrTransport    = errors.New("connection failed")
	ErrValidation   = errors.New("message rejected")
	ErrRateLimited  = errors.New("rate limited")
	ErrNotReady     = errors.New("session has not received its csrf token")
	ErrClosed       = errors.New("session closed")
)

// classify maps a channel error onto the client error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNameConflict, ErrTokenInvalid, ErrTransport, ErrRateLimited, ErrClosed} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ce *protocol.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case protocol.CloseNameConflict:
			return fmt.Errorf("%w: %w", ErrNameConflict, err)
		case protocol.CloseTokenInvalid:
			return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		case protocol.CloseNormal, protocol.CloseGoingAway:
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
