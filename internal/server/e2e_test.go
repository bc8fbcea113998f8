package server_test

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/valerioisufi/battleship-SO-project/internal/client"
	"github.com/valerioisufi/battleship-SO-project/internal/config"
	"github.com/valerioisufi/battleship-SO-project/internal/game"
	"github.com/valerioisufi/battleship-SO-project/internal/protocol"
	"github.com/valerioisufi/battleship-SO-project/internal/server"
	"github.com/valerioisufi/battleship-SO-project/internal/testutil"
)

// serve brings a full server up on a loopback listener, the way main
// does minus the metrics endpoint.
func serve(t *testing.T, cfg config.Server) string {
	t.Helper()

	srv := server.New(cfg)
	ln, addr := testutil.ListenTCP(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return addr
}

func connect(t *testing.T, addr string) *client.Client {
	t.Helper()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	c.SetTimeout(5 * time.Second)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

// seatTwo runs the shared opening of the two-player scenarios: a creates
// the game, b joins, both announce READY.
func seatTwo(t *testing.T, addr string) (a, b *client.Client, idA, idB, gameID int) {
	t.Helper()

	a = connect(t, addr)
	idA, err := a.Login("a")
	require.NoError(t, err)

	b = connect(t, addr)
	idB, err = b.Login("b")
	require.NoError(t, err)

	gameID, err = a.CreateGame("g")
	require.NoError(t, err)
	require.NoError(t, a.Ready())
	_, err = a.Expect(protocol.MsgGameStateUpdate)
	require.NoError(t, err)

	_, err = b.JoinGame(gameID)
	require.NoError(t, err)
	require.NoError(t, b.Ready())
	_, err = b.Expect(protocol.MsgGameStateUpdate)
	require.NoError(t, err)
	_, err = a.Expect(protocol.MsgPlayerJoined)
	require.NoError(t, err)

	return a, b, idA, idB, gameID
}

// startTwo takes a seated pair through fleets and START_GAME, returning
// the clients ordered by the announced turn order.
func startTwo(t *testing.T, a, b *client.Client, idA, idB int) (first, second *client.Client, firstID, secondID int) {
	t.Helper()

	require.NoError(t, a.SetupFleet(client.CanonicalFleet()))
	require.NoError(t, b.SetupFleet(client.CanonicalFleet()))
	require.NoError(t, a.StartGame())

	started, err := a.Expect(protocol.MsgGameStarted)
	require.NoError(t, err)
	require.Len(t, started, 2)
	_, err = b.Expect(protocol.MsgGameStarted)
	require.NoError(t, err)

	lead, err := started.Int(0, "player_id")
	require.NoError(t, err)
	if lead == idA {
		return a, b, idA, idB
	}
	require.Equal(t, idB, lead)
	return b, a, idB, idA
}

// A lone player who starts a game and never commits a fleet is evicted
// at the fleet deadline and the game dissolves with it.
func TestSoloStartThenEviction(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.FleetSetupTime = 250
	addr := serve(t, cfg)

	c := connect(t, addr)
	id, err := c.Login("a")
	require.NoError(t, err)
	require.Equal(t, 0, id)

	gameID, err := c.CreateGame("g")
	require.NoError(t, err)
	require.Equal(t, 0, gameID)

	require.NoError(t, c.Ready())
	state, err := c.Expect(protocol.MsgGameStateUpdate)
	require.NoError(t, err)
	require.Len(t, state, 1)
	typ, _ := state.Value(0, "type")
	require.Equal(t, "game_info", typ)

	// No fleet is in, so the game waits instead of starting. The next
	// thing this socket sees is the eviction.
	require.NoError(t, c.StartGame())
	_, _, err = c.Recv()
	require.Error(t, err)

	// The dissolved game's id no longer resolves.
	d := connect(t, addr)
	_, err = d.Login("b")
	require.NoError(t, err)
	var p protocol.Payload
	p.AddInt("game_id", gameID)
	require.NoError(t, d.Send(protocol.MsgJoinGame, p))
	_, err = d.Expect(protocol.MsgErrorJoinGame)
	require.NoError(t, err)
}

func TestTwoPlayerHappyPath(t *testing.T) {
	addr := serve(t, config.DefaultServer())

	a, b, idA, idB, gameID := seatTwo(t, addr)
	require.Equal(t, 0, idA)
	require.Equal(t, 1, idB)
	require.Equal(t, 0, gameID)

	require.NoError(t, a.SetupFleet(client.CanonicalFleet()))
	require.NoError(t, b.SetupFleet(client.CanonicalFleet()))
	require.NoError(t, a.StartGame())

	for _, c := range []*client.Client{a, b} {
		started, err := c.Expect(protocol.MsgGameStarted)
		require.NoError(t, err)
		require.Len(t, started, 2)
		var order []int
		for rec := range started {
			seat, err := started.Int(rec, "player_id")
			require.NoError(t, err)
			order = append(order, seat)
		}
		require.ElementsMatch(t, []int{idA, idB}, order)
	}
}

func TestAttackMiss(t *testing.T) {
	addr := serve(t, config.DefaultServer())
	a, b, idA, idB, _ := seatTwo(t, addr)
	first, second, firstID, secondID := startTwo(t, a, b, idA, idB)

	require.NoError(t, first.Attack(secondID, 9, 9))
	for _, c := range []*client.Client{first, second} {
		upd, err := c.Expect(protocol.MsgAttackUpdate)
		require.NoError(t, err)
		attacker, _ := upd.Int(0, "attacker_id")
		require.Equal(t, firstID, attacker)
		result, _ := upd.Value(0, "result")
		require.Equal(t, "miss", result)
	}
	_, err := second.Expect(protocol.MsgYourTurn)
	require.NoError(t, err)
}

// Sinking the whole enemy fleet takes 17 strikes: 12 plain hits and one
// sunk per ship, the last of which ends the game.
func TestAttackSweepWinsGame(t *testing.T) {
	addr := serve(t, config.DefaultServer())
	a, b, idA, idB, _ := seatTwo(t, addr)
	first, second, firstID, secondID := startTwo(t, a, b, idA, idB)

	var cells [][2]int
	for _, s := range client.CanonicalFleet() {
		for i := range s.Dim {
			x, y := s.Cell(i)
			cells = append(cells, [2]int{x, y})
		}
	}
	require.Len(t, cells, game.FleetCellCount)

	hits, sunks := 0, 0
	for k, cell := range cells {
		require.NoError(t, first.Attack(secondID, cell[0], cell[1]))
		for i, c := range []*client.Client{first, second} {
			upd, err := c.Expect(protocol.MsgAttackUpdate)
			require.NoError(t, err)
			if i == 0 {
				switch result, _ := upd.Value(0, "result"); result {
				case "hit":
					hits++
				case "sunk":
					sunks++
				default:
					t.Fatalf("attack %d: unexpected result %q", k, result)
				}
			}
		}
		if k == len(cells)-1 {
			break
		}

		_, err := second.Expect(protocol.MsgYourTurn)
		require.NoError(t, err)
		_, err = first.Expect(protocol.MsgTurnOrderUpdate)
		require.NoError(t, err)

		mx, my := 9, k
		if k >= 10 {
			mx, my = 7, k-10
		}
		require.NoError(t, second.Attack(firstID, mx, my))
		_, err = first.Expect(protocol.MsgAttackUpdate)
		require.NoError(t, err)
		_, err = second.Expect(protocol.MsgAttackUpdate)
		require.NoError(t, err)
		_, err = first.Expect(protocol.MsgYourTurn)
		require.NoError(t, err)
		_, err = second.Expect(protocol.MsgTurnOrderUpdate)
		require.NoError(t, err)
	}
	require.Equal(t, 12, hits)
	require.Equal(t, 5, sunks)

	for _, c := range []*client.Client{first, second} {
		fin, err := c.Expect(protocol.MsgGameFinished)
		require.NoError(t, err)
		winner, err := fin.Int(0, "winner_id")
		require.NoError(t, err)
		require.Equal(t, firstID, winner)
	}

	// Exactly one GAME_FINISHED: the worker shuts the sockets right after.
	_, _, err := first.Recv()
	require.Error(t, err)
	_, _, err = second.Recv()
	require.Error(t, err)
}

// A peer that lies about its payload size only hurts itself: its stream
// dies and everyone else keeps playing.
func TestMalformedFrameOnlyDropsSender(t *testing.T) {
	addr := serve(t, config.DefaultServer())

	c := connect(t, addr)
	_, err := c.Login("a")
	require.NoError(t, err)
	_, err = c.CreateGame("g")
	require.NoError(t, err)
	require.NoError(t, c.Ready())
	_, err = c.Expect(protocol.MsgGameStateUpdate)
	require.NoError(t, err)

	// Truncated frame: header declares 10 payload bytes, 5 arrive.
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	header := make([]byte, protocol.HeaderSize)
	binary.LittleEndian.PutUint16(header[0:2], uint16(protocol.MsgLogin))
	binary.LittleEndian.PutUint32(header[2:], 10)
	_, err = raw.Write(header)
	require.NoError(t, err)
	_, err = raw.Write([]byte("abcde"))
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	// Oversized declaration: the server hangs up without reading further.
	raw2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer raw2.Close()
	binary.LittleEndian.PutUint32(header[2:], 2<<20)
	_, err = raw2.Write(header)
	require.NoError(t, err)
	require.NoError(t, raw2.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = raw2.Read(buf)
	require.Error(t, err)

	// The seated player never noticed.
	require.NoError(t, c.Ready())
	_, err = c.Expect(protocol.MsgGameStateUpdate)
	require.NoError(t, err)
}

func TestBadFleetCompositionRetry(t *testing.T) {
	addr := serve(t, config.DefaultServer())
	a, b, _, _, _ := seatTwo(t, addr)

	bad := client.CanonicalFleet()
	bad[1] = game.Ship{Dim: 5, Vertical: true, X: 5, Y: 0}
	require.NoError(t, a.SetupFleet(bad))
	_, err := a.Expect(protocol.MsgErrorPlayerAction)
	require.NoError(t, err)

	// The rejected fleet left an empty board behind; a valid retry works.
	require.NoError(t, a.SetupFleet(client.CanonicalFleet()))
	require.NoError(t, b.SetupFleet(client.CanonicalFleet()))
	require.NoError(t, a.StartGame())
	_, err = a.Expect(protocol.MsgGameStarted)
	require.NoError(t, err)
	_, err = b.Expect(protocol.MsgGameStarted)
	require.NoError(t, err)
}
