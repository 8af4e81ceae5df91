package client

import (
	"context"

	"github.com/omochice/room-chat/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// Multiplexer routes inbound frames to the session or the reconciler.
// Dispatch is synchronous: a ping is answered before the next frame is read.
type Multiplexer struct {
	session *Session
	rec     *Reconciler
}

// NewMultiplexer wires a session to a reconciler.
func NewMultiplexer(session *Session, rec *Reconciler) *Multiplexer {
	return &Multiplexer{session: session, rec: rec}
}

// Dispatch implements Dispatcher. Only a failure to answer a ping ends the session.
func (m *Multiplexer) Dispatch(ctx context.Context, data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		m.rec.Notify(Notice{Kind: NoticeMalformed, Text: err.Error()})
		return nil
	}

	switch env.Type {
	case protocol.TypeMessage:
		m.rec.ApplyMessage(protocol.Message{Seq: env.Seq, Author: env.Author, Content: env.Content, Time: env.Time})
	case protocol.TypeJoin:
		m.rec.ApplyJoin(env.Seq, env.Name, env.Time)
	case protocol.TypeLeave:
		m.rec.ApplyLeave(env.Seq, env.Name, env.Time)
	case protocol.TypeActiveUsers:
		m.rec.ApplyRoster(env.Names)
	case protocol.TypeCSRFToken:
		m.session.setToken(env.Token)
	case protocol.TypePing:
		return m.session.pong(ctx)
	case protocol.TypeError:
		m.rec.Notify(errorNotice(env))
	default:
		log.Debug().Str("type", string(env.Type)).Msg("[mux] ignoring event")
	}
	return nil
}

func errorNotice(env protocol.Envelope) Notice {
	switch env.Code {
	case protocol.ErrorCodeRateLimited:
		return Notice{Kind: NoticeRateLimited, Text: env.Detail}
	case protocol.ErrorCodeValidation:
		return Notice{Kind: NoticeValidation, Text: env.Detail}
	default:
		return Notice{Kind: NoticeError, Text: env.Code + ": " + env.Detail}
	}
}
