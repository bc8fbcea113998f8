package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/valerioisufi/battleship-SO-project/internal/config"
	"github.com/valerioisufi/battleship-SO-project/internal/protocol"
)

// lobby is the single goroutine owning every connection that is not yet
// inside a game. It logs users in, creates games and hands joined
// sessions over to game workers. Sockets are read by one-shot reader
// goroutines: one frame per arm, re-armed only after the frame has been
// handled, so a hand-off never races a pending read.
type lobby struct {
	cfg config.Server
	reg *Registries

	accepted chan net.Conn
	events   chan clientEvent
	done     chan struct{}

	wg      *sync.WaitGroup
	watched map[uint32]*Session
}

func newLobby(cfg config.Server, reg *Registries) *lobby {
	return &lobby{
		cfg:      cfg,
		reg:      reg,
		accepted: make(chan net.Conn),
		events:   make(chan clientEvent),
		done:     make(chan struct{}),
		watched:  make(map[uint32]*Session),
	}
}

// run loops until ctx is done. Game workers are spawned on wg so the
// server can wait for every goroutine on shutdown.
func (l *lobby) run(ctx context.Context, wg *sync.WaitGroup) {
	l.wg = wg
	slog.Info("lobby started")
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case conn := <-l.accepted:
			l.admit(conn)
		case ev := <-l.events:
			l.dispatch(ctx, ev)
		}
	}
}

// shutdown closes every lobby-owned connection. Pending one-shot readers
// unblock on their closed sockets and exit through the done channel.
func (l *lobby) shutdown() {
	for _, s := range l.watched {
		_ = s.conn.Close()
		l.reg.releaseUser(s.id)
	}
	clear(l.watched)
	close(l.done)
	slog.Info("lobby stopped")
}

func (l *lobby) admit(conn net.Conn) {
	s := &Session{conn: conn}
	if l.cfg.FloodProtection {
		s.limiter = rate.NewLimiter(rate.Limit(l.cfg.MessagesPerSecond), l.cfg.MessageBurst)
	}
	id, err := l.reg.addUser(s)
	if err != nil {
		slog.Warn("rejecting connection, user registry full", "remote", conn.RemoteAddr())
		conn.Close()
		return
	}
	s.id = id
	l.watched[id] = s
	go l.readOne(s)
	slog.Info("new connection", "remote", conn.RemoteAddr(), "user_id", id)
}

// readOne posts exactly one frame event and exits. The dispatcher re-arms
// it for sessions that stay in the lobby.
func (l *lobby) readOne(s *Session) {
	ev := readEvent(s)
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *lobby) dispatch(ctx context.Context, ev clientEvent) {
	s := ev.sess
	if _, ok := l.watched[s.id]; !ok {
		return
	}
	if ev.err != nil {
		if errors.Is(ev.err, protocol.ErrDisconnected) {
			slog.Info("client disconnected", "user_id", s.id)
		} else {
			slog.Warn("dropping client", "user_id", s.id, "error", ev.err)
		}
		l.drop(s)
		return
	}

	var rearm bool
	switch protocol.ClientMsg(ev.msgType) {
	case protocol.MsgLogin:
		rearm = l.onLogin(s, ev.payload)
	case protocol.MsgCreateGame:
		rearm = l.onCreateGame(ctx, s, ev.payload)
	case protocol.MsgJoinGame:
		rearm = l.onJoinGame(ctx, s, ev.payload)
	default:
		rearm = l.onUnexpected(s, ev.msgType)
	}
	if rearm {
		go l.readOne(s)
	}
}

func (l *lobby) drop(s *Session) {
	delete(l.watched, s.id)
	_ = s.conn.Close()
	l.reg.releaseUser(s.id)
}

// reply answers on a lobby socket. A failed write drops the client, and
// the caller must not re-arm in that case.
func (l *lobby) reply(s *Session, msg protocol.ServerMsg, p protocol.Payload) bool {
	if err := s.send(msg, p); err != nil {
		slog.Warn("lobby reply failed", "user_id", s.id, "error", err)
		l.drop(s)
		return false
	}
	return true
}

// onLogin stores the username and replies WELCOME. Logging in again just
// overwrites the name; the user id does not change.
func (l *lobby) onLogin(s *Session, p protocol.Payload) bool {
	username, ok := p.Value(0, "username")
	if !ok || username == "" {
		return l.reply(s, protocol.MsgErrorMalformedMessage, nil)
	}
	l.reg.setUsername(s.id, username)
	slog.Info("user logged in", "user_id", s.id, "username", username)

	var resp protocol.Payload
	resp.Add("username", username)
	resp.AddInt("user_id", int(s.id))
	return l.reply(s, protocol.MsgWelcome, resp)
}

func (l *lobby) onCreateGame(ctx context.Context, s *Session, p protocol.Payload) bool {
	if l.reg.username(s.id) == "" {
		return l.reply(s, protocol.MsgErrorNotAuthenticated, nil)
	}
	name, ok := p.Value(0, "game_name")
	if !ok || name == "" {
		return l.reply(s, protocol.MsgErrorMalformedMessage, nil)
	}

	gameID, g, err := l.reg.createGame(name, s.id)
	if err != nil {
		slog.Warn("create game failed", "user_id", s.id, "error", err)
		return l.reply(s, protocol.MsgErrorCreateGame, nil)
	}
	l.reg.setUserGame(s.id, gameID)

	w := newWorker(l.cfg, l.reg, gameID, g)
	l.wg.Go(func() {
		w.run(ctx)
	})
	slog.Info("game created", "game_id", gameID, "game_name", name, "owner_id", s.id)

	var resp protocol.Payload
	resp.AddInt("game_id", int(gameID))
	if err := s.send(protocol.MsgGameCreated, resp); err != nil {
		// The worker already owns the game; hand the session over anyway
		// and let its reader observe the dead socket.
		slog.Warn("lobby reply failed", "user_id", s.id, "error", err)
	}
	l.transfer(ctx, s, g.admit, g.done)
	return false
}

func (l *lobby) onJoinGame(ctx context.Context, s *Session, p protocol.Payload) bool {
	if l.reg.username(s.id) == "" {
		return l.reply(s, protocol.MsgErrorNotAuthenticated, nil)
	}
	gameID, err := p.Int(0, "game_id")
	if err != nil {
		return l.reply(s, protocol.MsgErrorMalformedMessage, nil)
	}
	if gameID < 0 {
		return l.reply(s, protocol.MsgErrorJoinGame, nil)
	}

	name, admit, done, ok := l.reg.joinGame(uint32(gameID), s.id)
	if !ok {
		return l.reply(s, protocol.MsgErrorJoinGame, nil)
	}
	l.reg.setUserGame(s.id, uint32(gameID))
	slog.Info("user joined game", "user_id", s.id, "game_id", gameID)

	var resp protocol.Payload
	resp.Add("game_name", name)
	if err := s.send(protocol.MsgGameJoined, resp); err != nil {
		slog.Warn("lobby reply failed", "user_id", s.id, "error", err)
	}
	l.transfer(ctx, s, admit, done)
	return false
}

// transfer moves a session from the lobby to a game worker. The admit
// channel is unbuffered, so a completed send means the worker has the
// session. A worker that exited in the meantime has closed done, and the
// session is torn down here instead.
func (l *lobby) transfer(ctx context.Context, s *Session, admit chan<- *Session, done <-chan struct{}) {
	delete(l.watched, s.id)
	select {
	case admit <- s:
	case <-done:
		slog.Warn("game gone before hand-off", "user_id", s.id)
		_ = s.conn.Close()
		l.reg.releaseUser(s.id)
	case <-ctx.Done():
		_ = s.conn.Close()
		l.reg.releaseUser(s.id)
	}
}

func (l *lobby) onUnexpected(s *Session, msgType uint16) bool {
	if l.reg.username(s.id) == "" {
		return l.reply(s, protocol.MsgErrorNotAuthenticated, nil)
	}
	slog.Warn("unexpected lobby message", "user_id", s.id, "msg", protocol.ClientMsg(msgType).String())
	return l.reply(s, protocol.MsgErrorUnexpectedMessage, nil)
}
