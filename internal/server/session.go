package server

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/time/rate"

	"github.com/valerioisufi/battleship-SO-project/internal/metrics"
	"github.com/valerioisufi/battleship-SO-project/internal/protocol"
)

// errFlooded closes clients that exceed the per-session message budget.
var errFlooded = errors.New("message rate limit exceeded")

// Session is one connected client. The lobby creates it on accept and
// owns it until the session is handed to a game worker; at any moment
// exactly one goroutine reads its socket. Username and game id are
// written through the registry wrappers under the user slot lock.
type Session struct {
	id       uint32
	conn     net.Conn
	username string
	gameID   uint32
	limiter  *rate.Limiter // nil when flood protection is disabled
}

func (s *Session) send(msg protocol.ServerMsg, p protocol.Payload) error {
	if err := protocol.WriteMsg(s.conn, uint16(msg), p); err != nil {
		return fmt.Errorf("sending %s to user %d: %w", msg, s.id, err)
	}
	return nil
}

func (s *Session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// clientEvent is one received frame, or a read failure, attributed to
// the session it came from.
type clientEvent struct {
	sess    *Session
	msgType uint16
	payload protocol.Payload
	err     error
}

// readEvent blocks until one frame arrives on the session's socket.
// A frame over the flood budget is reported as an error so the owner
// takes its normal cleanup path.
func readEvent(s *Session) clientEvent {
	msgType, payload, err := protocol.ReadMsg(s.conn)
	if err == nil {
		if s.allow() {
			metrics.MessagesReceived.WithLabelValues(clientMsgLabel(msgType)).Inc()
		} else {
			err = errFlooded
		}
	}
	return clientEvent{sess: s, msgType: msgType, payload: payload, err: err}
}

// clientMsgLabel keeps the metric label set bounded: every unknown code
// collapses into one label instead of minting a series per raw value.
func clientMsgLabel(msgType uint16) string {
	if msgType <= uint16(protocol.MsgSetupFleet) {
		return protocol.ClientMsg(msgType).String()
	}
	return "unknown"
}
