package chat

import "errors"

var (
	ErrTokenMismatch = errors.New("csrf token mismatch")
	ErrEmptyContent  = errors.New("message content is empty")
	ErrTooLong       = errors.New("message content is too long")
	ErrRateLimited   = errors.New("message rate exceeded")
	ErrSlowConsumer  = errors.New("session send queue is full")
	ErrLeft          = errors.New("session left the room")
	// ErrFrameTooLarge is wrapped by Conn.Read when an inbound frame exceeds the transport's limit.
	ErrFrameTooLarge = errors.New("inbound frame exceeds read limit")
)
