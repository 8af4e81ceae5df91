// Package protocol defines the JSON envelope exchanged between room clients and the server.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the string discriminator carried in every envelope.
type Type string

const (
	TypeMessage     Type = "message"
	TypeJoin        Type = "join"
	TypeLeave       Type = "leave"
	TypeActiveUsers Type = "active_users"
	TypeCSRFToken   Type = "csrf_token"
	TypePing        Type = "ping"
	TypePong        Type = "pong"
	TypeError       Type = "error"
)

// known lists the tags this version of the protocol understands.
var known = map[Type]bool{
	TypeMessage:     true,
	TypeJoin:        true,
	TypeLeave:       true,
	TypeActiveUsers: true,
	TypeCSRFToken:   true,
	TypePing:        true,
	TypePong:        true,
	TypeError:       true,
}

// Known reports whether t is a tag this version of the protocol understands.
// Receivers ignore unknown tags instead of failing.
func (t Type) Known() bool {
	return known[t]
}

// SystemAuthor is the reserved identity used for join and leave notices.
const SystemAuthor = "System"

// Error codes carried by TypeError events.
const (
	ErrorCodeRateLimited = "rate_limited"
	ErrorCodeValidation  = "validation"
)

// ErrMissingType is returned by Decode for frames without a type discriminator.
var ErrMissingType = errors.New("envelope has no type")

// Envelope is the flat wire object used for both server events and client actions.
// Only the fields relevant to Type are populated.
type Envelope struct {
	Type    Type      `json:"type"`
	Seq     uint64    `json:"seq,omitempty"`
	Author  string    `json:"author,omitempty"`
	Content string    `json:"content,omitempty"`
	Name    string    `json:"name,omitempty"`
	Names   []string  `json:"names,omitempty"`
	Token   string    `json:"token,omitempty"`
	Code    string    `json:"code,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Time    time.Time `json:"time,omitzero"`
}

// Message is one record of the room's ordered message log.
type Message struct {
	Seq     uint64    `json:"seq"`
	Author  string    `json:"author"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Encode encodes the envelope as a single JSON object.
// HTML escaping is disabled so content reaches clients byte-for-byte.
func (e Envelope) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", e.Type, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode decodes a JSON frame into an envelope.
// Unknown tags decode successfully; callers decide whether to ignore them.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return e, nil
}

// MessageEvent builds the event announcing a logged chat message.
func MessageEvent(m Message) Envelope {
	return Envelope{Type: TypeMessage, Seq: m.Seq, Author: m.Author, Content: m.Content, Time: m.Time}
}

// JoinEvent builds the presence event for a participant entering the room.
func JoinEvent(seq uint64, name string, at time.Time) Envelope {
	return Envelope{Type: TypeJoin, Seq: seq, Name: name, Time: at}
}

// LeaveEvent builds the presence event for a participant leaving the room.
func LeaveEvent(seq uint64, name string, at time.Time) Envelope {
	return Envelope{Type: TypeLeave, Seq: seq, Name: name, Time: at}
}

// ActiveUsersEvent builds a full roster snapshot.
func ActiveUsersEvent(names []string) Envelope {
	return Envelope{Type: TypeActiveUsers, Names: names}
}

// CSRFTokenEvent hands a session its anti-forgery token.
func CSRFTokenEvent(token string) Envelope {
	return Envelope{Type: TypeCSRFToken, Token: token}
}

// PingEvent asks the client to answer with a pong action.
func PingEvent() Envelope {
	return Envelope{Type: TypePing}
}

// ErrorEvent reports a rejected action without ending the session.
func ErrorEvent(code, detail string) Envelope {
	return Envelope{Type: TypeError, Code: code, Detail: detail}
}

// MessageAction builds the client action that posts content to the room.
func MessageAction(author, content, token string) Envelope {
	return Envelope{Type: TypeMessage, Author: author, Content: content, Token: token}
}

// LeaveAction builds the client action announcing departure.
func LeaveAction() Envelope {
	return Envelope{Type: TypeLeave}
}

// PongAction builds the keepalive reply.
func PongAction() Envelope {
	return Envelope{Type: TypePong}
}

// JoinNotice is the transcript text recorded when name enters the room.
func JoinNotice(name string) string {
	return name + " has joined the chat."
}

// LeaveNotice is the transcript text recorded when name leaves the room.
func LeaveNotice(name string) string {
	return name + " has left the chat."
}
