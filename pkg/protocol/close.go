package protocol

import "fmt"

// CloseCode is a WebSocket close status observed by clients.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	ClosePolicyViolation CloseCode = 1008
	CloseMessageTooBig   CloseCode = 1009
	CloseInternalError   CloseCode = 1011

	// CloseNameConflict means the requested name is invalid or already in use.
	CloseNameConflict CloseCode = 4000
	// CloseTokenInvalid means an action carried a missing or wrong CSRF token.
	CloseTokenInvalid CloseCode = 4001
)

// String returns the string representation of CloseCode
func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "NORMAL"
	case CloseGoingAway:
		return "GOING_AWAY"
	case ClosePolicyViolation:
		return "POLICY_VIOLATION"
	case CloseMessageTooBig:
		return "MESSAGE_TOO_BIG"
	case CloseInternalError:
		return "INTERNAL_ERROR"
	case CloseNameConflict:
		return "NAME_CONFLICT"
	case CloseTokenInvalid:
		return "TOKEN_INVALID"
	default:
		return fmt.Sprintf("CLOSE_%d", int(c))
	}
}

// CloseError is returned by channel reads once the peer has closed the connection.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed: %s", e.Code)
	}
	return fmt.Sprintf("connection closed: %s: %s", e.Code, e.Reason)
}
