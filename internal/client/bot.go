package client

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand/v2"

	"github.com/valerioisufi/battleship-SO-project/internal/protocol"
)

// Bot plays one full game unattended: it logs in, creates or joins a
// game, commits the canonical fleet and answers every YOUR_TURN with a
// random cell it has not tried yet, until GAME_FINISHED arrives.
type Bot struct {
	Address  string
	Username string

	// JoinID is the game to join; a negative value creates GameName
	// instead and starts it once Opponents players have shown up.
	JoinID    int
	GameName  string
	Opponents int

	cli        *Client
	seats      []int       // living opponents, from GAME_STARTED
	sunk       map[int]int // ships sunk per board
	tried      map[int]map[[2]int]bool
	lastTarget int
	waiting    int // players still to join before the bot starts the game
}

func (b *Bot) Run(ctx context.Context) error {
	cli, err := Dial(b.Address)
	if err != nil {
		return err
	}
	defer cli.Close()
	b.cli = cli
	b.sunk = make(map[int]int)
	b.tried = make(map[int]map[[2]int]bool)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cli.Close()
		case <-done:
		}
	}()

	id, err := cli.Login(b.Username)
	if err != nil {
		return err
	}
	slog.Info("logged in", "user_id", id, "username", b.Username)

	if b.JoinID < 0 {
		gameID, err := cli.CreateGame(b.GameName)
		if err != nil {
			return err
		}
		b.waiting = b.Opponents
		slog.Info("game created", "game_id", gameID, "waiting_for", b.waiting)
	} else {
		name, err := cli.JoinGame(b.JoinID)
		if err != nil {
			return err
		}
		slog.Info("game joined", "game_id", b.JoinID, "game_name", name)
	}

	if err := cli.Ready(); err != nil {
		return err
	}
	if err := cli.SetupFleet(CanonicalFleet()); err != nil {
		return err
	}
	if b.JoinID < 0 && b.waiting == 0 {
		slog.Info("starting game with no opponents")
		if err := cli.StartGame(); err != nil {
			return err
		}
	}

	for {
		msg, payload, err := cli.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receiving: %w", err)
		}
		finished, err := b.handle(msg, payload)
		if err != nil {
			return err
		}
		if finished {
			return nil
		}
	}
}

func (b *Bot) handle(msg protocol.ServerMsg, payload protocol.Payload) (bool, error) {
	switch msg {
	case protocol.MsgGameStateUpdate:
		for i := 1; i < len(payload); i++ {
			username, _ := payload.Value(i, "username")
			playerID, err := payload.Int(i, "player_id")
			if err != nil {
				continue
			}
			slog.Info("player already here", "player_id", playerID, "username", username)
		}

	case protocol.MsgPlayerJoined:
		playerID, _ := payload.Int(0, "player_id")
		username, _ := payload.Value(0, "username")
		slog.Info("player joined", "player_id", playerID, "username", username)
		if b.waiting > 0 {
			b.waiting--
			if b.waiting == 0 {
				slog.Info("starting game")
				if err := b.cli.StartGame(); err != nil {
					return false, err
				}
			}
		}

	case protocol.MsgPlayerLeft:
		playerID, _ := payload.Int(0, "player_id")
		slog.Info("player left", "player_id", playerID)
		b.forget(playerID)

	case protocol.MsgGameStarted:
		b.seats = b.seats[:0]
		for i := range payload {
			seat, err := payload.Int(i, "player_id")
			if err != nil {
				continue
			}
			if seat != b.cli.UserID() {
				b.seats = append(b.seats, seat)
			}
		}
		slog.Info("game started", "opponents", len(b.seats))
		// The first seat in record order acts first.
		if first, err := payload.Int(0, "player_id"); err == nil && first == b.cli.UserID() {
			return false, b.attack()
		}

	case protocol.MsgYourTurn:
		return false, b.attack()

	case protocol.MsgAttackUpdate:
		b.recordAttack(payload)

	case protocol.MsgGameFinished:
		winner, _ := payload.Int(0, "winner_id")
		if winner == b.cli.UserID() {
			slog.Info("game finished, we won", "winner_id", winner)
		} else {
			slog.Info("game finished", "winner_id", winner)
		}
		return true, nil

	case protocol.MsgErrorPlayerAction:
		// Most likely a dead target; give up on it and shoot elsewhere.
		b.forget(b.lastTarget)
		return false, b.attack()

	case protocol.MsgTurnOrderUpdate, protocol.MsgErrorNotYourTurn:
		// Someone else's move.

	default:
		slog.Debug("ignoring message", "msg", msg.String())
	}
	return false, nil
}

// recordAttack remembers every resolved cell, whoever fired: striking a
// resolved cell again would be rejected as a repeat.
func (b *Bot) recordAttack(payload protocol.Payload) {
	targetID, err := payload.Int(0, "attacked_id")
	if err != nil {
		return
	}
	x, errX := payload.Int(0, "x")
	y, errY := payload.Int(0, "y")
	if errX != nil || errY != nil {
		return
	}
	cells := b.tried[targetID]
	if cells == nil {
		cells = make(map[[2]int]bool)
		b.tried[targetID] = cells
	}
	cells[[2]int{x, y}] = true

	if result, _ := payload.Value(0, "result"); result == "sunk" {
		b.sunk[targetID]++
		if b.sunk[targetID] >= 5 {
			b.forget(targetID)
		}
	}
}

func (b *Bot) forget(playerID int) {
	for i, seat := range b.seats {
		if seat == playerID {
			b.seats = append(b.seats[:i], b.seats[i+1:]...)
			return
		}
	}
}

// attack fires at a random untried cell of a random living opponent.
func (b *Bot) attack() error {
	if len(b.seats) == 0 {
		slog.Info("no opponents left to attack")
		return nil
	}
	target := b.seats[mathrand.IntN(len(b.seats))]
	x, y, ok := b.pickCell(target)
	if !ok {
		b.forget(target)
		return b.attack()
	}
	b.lastTarget = target
	slog.Info("attacking", "target_id", target, "x", x, "y", y)
	return b.cli.Attack(target, x, y)
}

func (b *Bot) pickCell(target int) (int, int, bool) {
	tried := b.tried[target]
	var free [][2]int
	for x := range 10 {
		for y := range 10 {
			if !tried[[2]int{x, y}] {
				free = append(free, [2]int{x, y})
			}
		}
	}
	if len(free) == 0 {
		return 0, 0, false
	}
	cell := free[mathrand.IntN(len(free))]
	return cell[0], cell[1], true
}
