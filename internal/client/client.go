// Package client is a headless battleship wire client. It speaks the
// framed payload protocol and exposes one call per client message, so
// both the probe bot and the integration tests drive the server through
// the same code path a real player would.
package client

import (
	"fmt"
	"net"
	"time"

	"github.com/valerioisufi/battleship-SO-project/internal/game"
	"github.com/valerioisufi/battleship-SO-project/internal/protocol"
)

const dialTimeout = 5 * time.Second

// Client is one connection to a battleship server.
type Client struct {
	conn    net.Conn
	userID  int
	timeout time.Duration // per-read deadline, 0 means block forever
}

// Dial connects to addr ("host:port").
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// SetTimeout bounds every following Recv. Zero restores blocking reads.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// UserID returns the id assigned by the last WELCOME, -1 before login.
func (c *Client) UserID() int {
	if c.conn == nil {
		return -1
	}
	return c.userID
}

// Send writes one client message.
func (c *Client) Send(msg protocol.ClientMsg, p protocol.Payload) error {
	if err := protocol.WriteMsg(c.conn, uint16(msg), p); err != nil {
		return fmt.Errorf("sending %s: %w", msg, err)
	}
	return nil
}

// Recv blocks for the next server message.
func (c *Client) Recv() (protocol.ServerMsg, protocol.Payload, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, nil, fmt.Errorf("set read deadline: %w", err)
		}
	}
	msgType, payload, err := protocol.ReadMsg(c.conn)
	if err != nil {
		return 0, nil, err
	}
	return protocol.ServerMsg(msgType), payload, nil
}

// Expect reads the next message and fails unless it is want.
func (c *Client) Expect(want protocol.ServerMsg) (protocol.Payload, error) {
	msg, payload, err := c.Recv()
	if err != nil {
		return nil, err
	}
	if msg != want {
		return nil, fmt.Errorf("expected %s, got %s", want, msg)
	}
	return payload, nil
}

// Login sends LOGIN and waits for WELCOME, returning the assigned user id.
func (c *Client) Login(username string) (int, error) {
	var p protocol.Payload
	p.Add("username", username)
	if err := c.Send(protocol.MsgLogin, p); err != nil {
		return 0, err
	}
	resp, err := c.Expect(protocol.MsgWelcome)
	if err != nil {
		return 0, fmt.Errorf("login: %w", err)
	}
	id, err := resp.Int(0, "user_id")
	if err != nil {
		return 0, fmt.Errorf("login: %w", err)
	}
	c.userID = id
	return id, nil
}

// CreateGame sends CREATE_GAME and waits for GAME_CREATED, returning the
// new game id.
func (c *Client) CreateGame(name string) (int, error) {
	var p protocol.Payload
	p.Add("game_name", name)
	if err := c.Send(protocol.MsgCreateGame, p); err != nil {
		return 0, err
	}
	resp, err := c.Expect(protocol.MsgGameCreated)
	if err != nil {
		return 0, fmt.Errorf("create game: %w", err)
	}
	id, err := resp.Int(0, "game_id")
	if err != nil {
		return 0, fmt.Errorf("create game: %w", err)
	}
	return id, nil
}

// JoinGame sends JOIN_GAME and waits for GAME_JOINED, returning the
// game's name.
func (c *Client) JoinGame(gameID int) (string, error) {
	var p protocol.Payload
	p.AddInt("game_id", gameID)
	if err := c.Send(protocol.MsgJoinGame, p); err != nil {
		return "", err
	}
	resp, err := c.Expect(protocol.MsgGameJoined)
	if err != nil {
		return "", fmt.Errorf("join game %d: %w", gameID, err)
	}
	name, _ := resp.Value(0, "game_name")
	return name, nil
}

// Ready announces readiness. The GAME_STATE_UPDATE reply is left for the
// caller, which may be racing other broadcasts.
func (c *Client) Ready() error {
	return c.Send(protocol.MsgReadyToPlay, nil)
}

// SetupFleet submits a fleet, one record per ship. The server stays
// silent on success.
func (c *Client) SetupFleet(ships []game.Ship) error {
	var p protocol.Payload
	for _, s := range ships {
		p.AddRecord()
		p.AddInt("dim", s.Dim)
		vertical := 0
		if s.Vertical {
			vertical = 1
		}
		p.AddInt("vertical", vertical)
		p.AddInt("x", s.X)
		p.AddInt("y", s.Y)
	}
	return c.Send(protocol.MsgSetupFleet, p)
}

// StartGame asks the server to start the game. Only the creator may.
func (c *Client) StartGame() error {
	return c.Send(protocol.MsgStartGame, nil)
}

// Attack fires at (x, y) on the target player's board.
func (c *Client) Attack(targetID, x, y int) error {
	var p protocol.Payload
	p.AddInt("player_id", targetID)
	p.AddInt("x", x)
	p.AddInt("y", y)
	return c.Send(protocol.MsgAttack, p)
}

// LeaveGame tells a game worker to drop this player cleanly.
func (c *Client) LeaveGame() error {
	return c.Send(protocol.MsgLeaveGame, nil)
}

// CanonicalFleet is a fixed legal fleet: every ship in the top-left
// region, no overlaps. Handy for bots and tests that need any valid
// placement.
func CanonicalFleet() []game.Ship {
	return []game.Ship{
		{Dim: 5, Vertical: true, X: 0, Y: 0},
		{Dim: 4, Vertical: false, X: 0, Y: 6},
		{Dim: 3, Vertical: true, X: 3, Y: 0},
		{Dim: 3, Vertical: false, X: 4, Y: 6},
		{Dim: 2, Vertical: true, X: 8, Y: 0},
	}
}
