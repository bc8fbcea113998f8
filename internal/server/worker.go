package server

import (
	"context"
	"errors"
	"log/slog"
	mathrand "math/rand/v2"
	"time"

	"github.com/valerioisufi/battleship-SO-project/internal/config"
	"github.com/valerioisufi/battleship-SO-project/internal/game"
	"github.com/valerioisufi/battleship-SO-project/internal/metrics"
	"github.com/valerioisufi/battleship-SO-project/internal/protocol"
)

// gamePhase is the lifecycle stage of one game.
type gamePhase int

const (
	phaseWaitingForPlayers gamePhase = iota
	phaseWaitingFleetSetup
	phaseInProgress
	phaseFinished
)

func (p gamePhase) String() string {
	switch p {
	case phaseWaitingForPlayers:
		return "WAITING_FOR_PLAYERS"
	case phaseWaitingFleetSetup:
		return "WAITING_FLEET_SETUP"
	case phaseInProgress:
		return "IN_PROGRESS"
	case phaseFinished:
		return "FINISHED"
	}
	return "UNKNOWN"
}

// player is the worker-local state of one seated session.
type player struct {
	id        uint32
	username  string
	sess      *Session
	board     game.Board
	fleet     []game.Ship // nil until a fleet has been committed
	shipsLeft int
}

// worker runs one game. It is the only goroutine that touches the game
// state; seated players' sockets are read by per-session reader
// goroutines that funnel frames into events. An eliminated player keeps
// its seat in turnOrder as -1 and stays connected as a spectator.
type worker struct {
	cfg config.Server
	reg *Registries
	log *slog.Logger

	id   uint32
	name string

	admit  chan *Session
	events chan clientEvent
	done   chan struct{}

	phase     gamePhase
	players   []*player
	turnOrder []int32 // user ids in play order, -1 marks an eliminated seat
	turnIndex int

	deadline time.Time
	timerSet bool

	seated   bool // at least one player was admitted
	finished bool
}

func newWorker(cfg config.Server, reg *Registries, id uint32, g *Game) *worker {
	return &worker{
		cfg:    cfg,
		reg:    reg,
		log:    slog.With("game_id", id, "game_name", g.name),
		id:     id,
		name:   g.name,
		admit:  g.admit,
		events: make(chan clientEvent),
		done:   g.done,
		phase:  phaseWaitingForPlayers,
	}
}

func (w *worker) run(ctx context.Context) {
	metrics.GamesActive.Inc()
	defer metrics.GamesActive.Dec()
	w.log.Info("game worker started")

	for {
		var timer *time.Timer
		var timerC <-chan time.Time
		if w.timerSet {
			timer = time.NewTimer(time.Until(w.deadline))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			w.stop()
			return
		case <-timerC:
			w.timerSet = false
			w.onTimeout()
		case sess := <-w.admit:
			w.onAdmit(sess)
		case ev := <-w.events:
			w.onEvent(ev)
		}
		if timer != nil {
			timer.Stop()
		}

		if w.finished || (w.seated && len(w.players) == 0) {
			w.stop()
			return
		}
	}
}

// stop tears the game down: every remaining socket is closed, its user
// slot released, and the game slot freed. done closes last so a lobby
// blocked on a hand-off always gets an answer.
func (w *worker) stop() {
	for _, p := range w.players {
		_ = p.sess.conn.Close()
		w.reg.releaseUser(p.id)
	}
	w.players = nil
	w.reg.releaseGame(w.id)
	close(w.done)
	w.log.Info("game worker stopped", "phase", w.phase.String())
}

// readLoop feeds one seated session's frames into the worker. It exits
// on the first read failure or once the worker is gone.
func (w *worker) readLoop(s *Session) {
	for {
		ev := readEvent(s)
		select {
		case w.events <- ev:
		case <-w.done:
			return
		}
		if ev.err != nil {
			return
		}
	}
}

func (w *worker) onAdmit(sess *Session) {
	if w.phase != phaseWaitingForPlayers {
		w.log.Info("rejecting late join", "user_id", sess.id, "phase", w.phase.String())
		_ = sess.conn.Close()
		w.reg.removeGamePlayer(w.id, sess.id)
		w.reg.releaseUser(sess.id)
		return
	}
	p := &player{
		id:        sess.id,
		username:  w.reg.username(sess.id),
		sess:      sess,
		board:     game.NewBoard(),
		shipsLeft: game.FleetSize,
	}
	w.players = append(w.players, p)
	w.seated = true
	go w.readLoop(sess)
	w.log.Info("player seated", "user_id", p.id, "username", p.username)
}

func (w *worker) onEvent(ev clientEvent) {
	p := w.playerByID(ev.sess.id)
	if p == nil {
		return // already removed; a final error event trails every cleanup
	}
	if ev.err != nil {
		if errors.Is(ev.err, protocol.ErrDisconnected) {
			w.log.Info("player disconnected", "user_id", p.id)
		} else {
			w.log.Warn("dropping player", "user_id", p.id, "error", ev.err)
		}
		w.removePlayer(p.id)
		return
	}

	switch protocol.ClientMsg(ev.msgType) {
	case protocol.MsgReadyToPlay:
		w.onReady(p)
	case protocol.MsgSetupFleet:
		w.onSetupFleet(p, ev.payload)
	case protocol.MsgStartGame:
		w.onStartGame(p)
	case protocol.MsgAttack:
		w.onAttack(p, ev.payload)
	case protocol.MsgLeaveGame:
		w.log.Info("player left", "user_id", p.id)
		w.removePlayer(p.id)
	default:
		w.log.Warn("unexpected game message", "user_id", p.id,
			"msg", protocol.ClientMsg(ev.msgType).String(), "phase", w.phase.String())
		w.reply(p, protocol.MsgErrorUnexpectedMessage, nil)
	}
}

func (w *worker) onTimeout() {
	switch w.phase {
	case phaseWaitingFleetSetup:
		w.log.Info("fleet setup time expired")
		w.evictFleetless()
		if len(w.players) > 0 {
			w.startPlaying()
		}
	case phaseInProgress:
		w.log.Info("turn time expired", "turn", w.turnIndex)
		w.advanceTurn()
	}
}

func (w *worker) evictFleetless() {
	var evict []uint32
	for _, p := range w.players {
		if p.fleet == nil {
			evict = append(evict, p.id)
		}
	}
	for _, id := range evict {
		w.log.Info("evicting player without fleet", "user_id", id)
		w.removePlayer(id)
	}
}

// onReady answers with the full game description and tells every other
// player that this one is here.
func (w *worker) onReady(p *player) {
	var joined protocol.Payload
	joined.AddInt("player_id", int(p.id))
	joined.Add("username", p.username)

	var state protocol.Payload
	state.Add("type", "game_info")
	state.AddInt("game_id", int(w.id))
	state.Add("game_name", w.name)
	for _, other := range w.players {
		if other.id == p.id {
			continue
		}
		state.AddRecord()
		state.Add("type", "player_info")
		state.AddInt("player_id", int(other.id))
		state.Add("username", other.username)

		if err := other.sess.send(protocol.MsgPlayerJoined, joined); err != nil {
			w.log.Warn("broadcast failed", "user_id", other.id,
				"msg", protocol.MsgPlayerJoined.String(), "error", err)
		}
	}
	w.reply(p, protocol.MsgGameStateUpdate, state)
}

func (w *worker) onSetupFleet(p *player, pl protocol.Payload) {
	if w.phase != phaseWaitingForPlayers && w.phase != phaseWaitingFleetSetup {
		w.reply(p, protocol.MsgErrorUnexpectedMessage, nil)
		return
	}
	ships, ok := parseFleet(pl)
	if !ok {
		w.reply(p, protocol.MsgErrorMalformedMessage, nil)
		return
	}
	board, err := game.SetupFleet(ships)
	if err != nil {
		w.log.Info("fleet rejected", "user_id", p.id, "error", err)
		p.board = game.NewBoard()
		p.fleet = nil
		w.reply(p, protocol.MsgErrorPlayerAction, nil)
		return
	}
	p.board = board
	p.fleet = ships
	p.shipsLeft = game.FleetSize
	w.log.Info("fleet committed", "user_id", p.id)

	if w.phase == phaseWaitingFleetSetup && w.allFleetsSet() {
		w.startPlaying()
	}
}

// parseFleet reads one ship record per payload record. A wrong record
// count or a missing/non-integer field is a schema failure, distinct
// from a placement failure.
func parseFleet(pl protocol.Payload) ([]game.Ship, bool) {
	if len(pl) != game.FleetSize {
		return nil, false
	}
	ships := make([]game.Ship, 0, game.FleetSize)
	for i := range pl {
		dim, err := pl.Int(i, "dim")
		if err != nil {
			return nil, false
		}
		vertical, err := pl.Int(i, "vertical")
		if err != nil {
			return nil, false
		}
		x, err := pl.Int(i, "x")
		if err != nil {
			return nil, false
		}
		y, err := pl.Int(i, "y")
		if err != nil {
			return nil, false
		}
		ships = append(ships, game.Ship{Dim: dim, Vertical: vertical != 0, X: x, Y: y})
	}
	return ships, true
}

func (w *worker) allFleetsSet() bool {
	for _, p := range w.players {
		if p.fleet == nil {
			return false
		}
	}
	return true
}

func (w *worker) onStartGame(p *player) {
	owner, ok := w.reg.gameOwner(w.id)
	if w.phase != phaseWaitingForPlayers || !ok || owner != p.id {
		w.reply(p, protocol.MsgErrorPlayerAction, nil)
		return
	}
	w.reg.setGameStarted(w.id)
	if w.allFleetsSet() {
		w.startPlaying()
		return
	}
	w.phase = phaseWaitingFleetSetup
	w.armTimer(w.cfg.FleetSetupTimeout())
	w.log.Info("waiting for fleets", "timeout", w.cfg.FleetSetupTimeout())
}

// startPlaying moves the game to IN_PROGRESS. The first actor is the
// first seat of the shuffled order; clients learn it from the record
// order of GAME_STARTED, no separate turn notice is sent.
func (w *worker) startPlaying() {
	if w.turnOrder == nil {
		w.turnOrder = make([]int32, 0, len(w.players))
		for _, p := range w.players {
			w.turnOrder = append(w.turnOrder, int32(p.id))
		}
		mathrand.Shuffle(len(w.turnOrder), func(i, j int) {
			w.turnOrder[i], w.turnOrder[j] = w.turnOrder[j], w.turnOrder[i]
		})
		w.turnIndex = 0
	}
	w.phase = phaseInProgress

	var started protocol.Payload
	for _, seat := range w.turnOrder {
		started.AddRecord()
		started.AddInt("player_id", int(seat))
	}
	w.broadcast(protocol.MsgGameStarted, started)
	w.armTimer(w.cfg.TurnTimeout())
	w.log.Info("game started", "players", len(w.players))
}

func (w *worker) onAttack(p *player, pl protocol.Payload) {
	if w.phase != phaseInProgress || w.turnOrder[w.turnIndex] != int32(p.id) {
		w.reply(p, protocol.MsgErrorNotYourTurn, nil)
		return
	}
	targetID, err := pl.Int(0, "player_id")
	if err != nil {
		w.reply(p, protocol.MsgErrorMalformedMessage, nil)
		return
	}
	x, err := pl.Int(0, "x")
	if err != nil {
		w.reply(p, protocol.MsgErrorMalformedMessage, nil)
		return
	}
	y, err := pl.Int(0, "y")
	if err != nil {
		w.reply(p, protocol.MsgErrorMalformedMessage, nil)
		return
	}

	var target *player
	if targetID >= 0 {
		target = w.playerByID(uint32(targetID))
	}
	if target == nil {
		w.reply(p, protocol.MsgErrorPlayerAction, nil)
		return
	}
	result, err := game.Attack(&target.board, target.fleet, x, y)
	if err != nil {
		w.log.Info("attack rejected", "user_id", p.id, "target_id", target.id,
			"x", x, "y", y, "error", err)
		w.reply(p, protocol.MsgErrorPlayerAction, nil)
		return
	}
	metrics.Attacks.WithLabelValues(result.String()).Inc()
	w.log.Info("attack resolved", "user_id", p.id, "target_id", target.id,
		"x", x, "y", y, "result", result.String())

	var update protocol.Payload
	update.AddInt("attacker_id", int(p.id))
	update.AddInt("attacked_id", int(target.id))
	update.AddInt("x", x)
	update.AddInt("y", y)
	update.Add("result", result.String())
	w.broadcast(protocol.MsgAttackUpdate, update)

	if result == game.Sunk {
		target.shipsLeft--
		if target.shipsLeft == 0 {
			w.eliminate(target)
			if winner, over := w.gameOver(p.id); over {
				w.finishGame(winner)
				return
			}
		}
	}
	w.advanceTurn()
}

func (w *worker) eliminate(p *player) {
	for i, seat := range w.turnOrder {
		if seat == int32(p.id) {
			w.turnOrder[i] = -1
		}
	}
	w.log.Info("player eliminated", "user_id", p.id)
}

// gameOver reports whether the attack ended the game. One living seat
// left makes that seat the winner; none left means the lone survivor
// sank their own last ship, and the attacker takes the win.
func (w *worker) gameOver(attacker uint32) (uint32, bool) {
	living := 0
	winner := int32(-1)
	for _, seat := range w.turnOrder {
		if seat != -1 {
			living++
			winner = seat
		}
	}
	switch living {
	case 0:
		return attacker, true
	case 1:
		return uint32(winner), true
	}
	return 0, false
}

// advanceTurn moves to the next living seat, tells the new actor and
// everyone else, and restarts the turn timer.
func (w *worker) advanceTurn() {
	n := len(w.turnOrder)
	if n == 0 {
		return
	}
	for range n {
		w.turnIndex = (w.turnIndex + 1) % n
		if w.turnOrder[w.turnIndex] != -1 {
			break
		}
	}
	actor := w.turnOrder[w.turnIndex]

	var update protocol.Payload
	update.AddInt("player_turn", w.turnIndex)
	for _, p := range w.players {
		var err error
		if int32(p.id) == actor {
			err = p.sess.send(protocol.MsgYourTurn, nil)
		} else {
			err = p.sess.send(protocol.MsgTurnOrderUpdate, update)
		}
		if err != nil {
			w.log.Warn("turn notify failed", "user_id", p.id, "error", err)
		}
	}
	w.armTimer(w.cfg.TurnTimeout())
}

func (w *worker) finishGame(winner uint32) {
	var pl protocol.Payload
	pl.AddInt("winner_id", int(winner))
	w.broadcast(protocol.MsgGameFinished, pl)
	metrics.GamesFinished.Inc()
	w.phase = phaseFinished
	w.finished = true
	w.log.Info("game finished", "winner_id", winner)
}

// removePlayer is the cleanup path for one seat: socket closed, user and
// roster entries released, seat marked dead, departure broadcast to the
// players still here. The current turn is not advanced; the turn timer
// recovers an in-progress game whose actor just vanished.
func (w *worker) removePlayer(id uint32) {
	idx := -1
	for i, p := range w.players {
		if p.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	p := w.players[idx]
	w.players = append(w.players[:idx], w.players[idx+1:]...)
	for i, seat := range w.turnOrder {
		if seat == int32(id) {
			w.turnOrder[i] = -1
		}
	}
	_ = p.sess.conn.Close()
	w.reg.removeGamePlayer(w.id, id)
	w.reg.releaseUser(id)

	var left protocol.Payload
	left.AddInt("player_id", int(id))
	w.broadcast(protocol.MsgPlayerLeft, left)
}

// reply answers one player directly. A failed write removes the player,
// so callers must treat reply as the last touch of p in their path.
func (w *worker) reply(p *player, msg protocol.ServerMsg, pl protocol.Payload) {
	if err := p.sess.send(msg, pl); err != nil {
		w.log.Warn("reply failed", "user_id", p.id, "error", err)
		w.removePlayer(p.id)
	}
}

// broadcast sends one message to every seated player. Write failures are
// logged and left for the player's own reader to clean up.
func (w *worker) broadcast(msg protocol.ServerMsg, pl protocol.Payload) {
	for _, p := range w.players {
		if err := p.sess.send(msg, pl); err != nil {
			w.log.Warn("broadcast failed", "user_id", p.id, "msg", msg.String(), "error", err)
		}
	}
}

func (w *worker) playerByID(id uint32) *player {
	for _, p := range w.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

func (w *worker) armTimer(d time.Duration) {
	w.deadline = time.Now().Add(d)
	w.timerSet = true
}
