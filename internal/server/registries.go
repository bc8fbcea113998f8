package server

import (
	"github.com/valerioisufi/battleship-SO-project/internal/metrics"
	"github.com/valerioisufi/battleship-SO-project/internal/registry"
)

// Game is the registry record for one game. Plain fields are only
// touched under the owning slot's lock; the channels are copied out and
// used after the lock is dropped.
type Game struct {
	name    string
	ownerID uint32
	players []uint32
	started bool

	// admit hands sessions to the game worker. It is unbuffered, so a
	// completed send proves the worker took the session. done is closed
	// when the worker exits; a hand-off can therefore never strand a
	// session on a dead game.
	admit chan *Session
	done  chan struct{}
}

// Registries bundles the two shared id tables. Every accessor copies
// values out under the slot lock, so no caller ever holds a lock across
// a channel send or a socket write.
type Registries struct {
	users *registry.Registry[Session]
	games *registry.Registry[Game]
}

func NewRegistries() *Registries {
	return &Registries{
		users: registry.New[Session](),
		games: registry.New[Game](),
	}
}

func (r *Registries) addUser(s *Session) (uint32, error) {
	id, err := r.users.Add(s)
	if err != nil {
		return 0, err
	}
	metrics.SessionsActive.Inc()
	return id, nil
}

// releaseUser clears and frees a user slot. The id may be handed to a
// brand new connection immediately afterwards.
func (r *Registries) releaseUser(id uint32) {
	slot, err := r.users.Slot(id)
	if err != nil {
		return
	}
	slot.Lock()
	occupied := slot.Value() != nil
	slot.Set(nil)
	slot.Unlock()
	r.users.Release(id)
	if occupied {
		metrics.SessionsActive.Dec()
	}
}

// username returns the user's name, or "" when the user is unknown or
// has not logged in yet.
func (r *Registries) username(id uint32) string {
	slot, err := r.users.Slot(id)
	if err != nil {
		return ""
	}
	slot.Lock()
	defer slot.Unlock()
	if s := slot.Value(); s != nil {
		return s.username
	}
	return ""
}

func (r *Registries) setUsername(id uint32, name string) {
	slot, err := r.users.Slot(id)
	if err != nil {
		return
	}
	slot.Lock()
	defer slot.Unlock()
	if s := slot.Value(); s != nil {
		s.username = name
	}
}

func (r *Registries) setUserGame(id, gameID uint32) {
	slot, err := r.users.Slot(id)
	if err != nil {
		return
	}
	slot.Lock()
	defer slot.Unlock()
	if s := slot.Value(); s != nil {
		s.gameID = gameID
	}
}

// createGame registers a new game with the creator as the first roster
// entry and returns the record so the caller can start its worker.
func (r *Registries) createGame(name string, ownerID uint32) (uint32, *Game, error) {
	g := &Game{
		name:    name,
		ownerID: ownerID,
		players: []uint32{ownerID},
		admit:   make(chan *Session),
		done:    make(chan struct{}),
	}
	id, err := r.games.Add(g)
	if err != nil {
		return 0, nil, err
	}
	return id, g, nil
}

// joinGame adds the user to the roster if the game exists and has not
// started, and returns the hand-off channels copied under the slot lock.
func (r *Registries) joinGame(gameID, userID uint32) (name string, admit chan<- *Session, done <-chan struct{}, ok bool) {
	slot, err := r.games.Slot(gameID)
	if err != nil {
		return "", nil, nil, false
	}
	slot.Lock()
	defer slot.Unlock()
	g := slot.Value()
	if g == nil || g.started {
		return "", nil, nil, false
	}
	g.players = append(g.players, userID)
	return g.name, g.admit, g.done, true
}

func (r *Registries) gameOwner(id uint32) (uint32, bool) {
	slot, err := r.games.Slot(id)
	if err != nil {
		return 0, false
	}
	slot.Lock()
	defer slot.Unlock()
	if g := slot.Value(); g != nil {
		return g.ownerID, true
	}
	return 0, false
}

// setGameStarted flips the flag the lobby checks before admitting a
// joiner, closing the join window atomically with that check.
func (r *Registries) setGameStarted(id uint32) {
	slot, err := r.games.Slot(id)
	if err != nil {
		return
	}
	slot.Lock()
	defer slot.Unlock()
	if g := slot.Value(); g != nil {
		g.started = true
	}
}

func (r *Registries) removeGamePlayer(gameID, userID uint32) {
	slot, err := r.games.Slot(gameID)
	if err != nil {
		return
	}
	slot.Lock()
	defer slot.Unlock()
	g := slot.Value()
	if g == nil {
		return
	}
	for i, id := range g.players {
		if id == userID {
			g.players = append(g.players[:i], g.players[i+1:]...)
			return
		}
	}
}

// releaseGame clears and frees a game slot. Only the game's own worker
// calls this, once, on its way out.
func (r *Registries) releaseGame(id uint32) {
	slot, err := r.games.Slot(id)
	if err != nil {
		return
	}
	slot.Lock()
	slot.Set(nil)
	slot.Unlock()
	r.games.Release(id)
}
