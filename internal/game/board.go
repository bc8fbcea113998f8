// Package game implements the battleship rules as pure functions over a
// 10x10 board: ship placement, fleet validation, and attack resolution.
// Nothing here touches the network or knows about sessions; the per-game
// worker drives these functions and broadcasts the outcomes.
package game

import "errors"

// Board geometry and fleet composition.
const (
	BoardSize = 10 // cells per side

	FleetSize      = 5  // ships per fleet
	FleetCellCount = 17 // total ship cells (5+4+3+3+2)
)

// Cell markers. A ship cell carries the letter 'A'+dim-1, so the letter
// itself encodes the ship length.
const (
	CellEmpty = '.'
	CellHit   = 'X'
	CellMiss  = '*'
)

var (
	ErrOutOfBounds      = errors.New("coordinates out of bounds")
	ErrCellOccupied     = errors.New("cell already occupied")
	ErrCellStruck       = errors.New("cell already struck")
	ErrNoFleet          = errors.New("fleet not set")
	ErrFleetComposition = errors.New("fleet must have one ship of length 5, one of 4, two of 3 and one of 2")
)

// Board is a 10x10 grid indexed as grid[x][y].
type Board [BoardSize][BoardSize]byte

// NewBoard returns a board with every cell empty.
func NewBoard() Board {
	var b Board
	for x := range b {
		for y := range b[x] {
			b[x][y] = CellEmpty
		}
	}
	return b
}

// Ship is one placed ship. A vertical ship occupies (X, Y+i) for
// i in [0, Dim); a horizontal one occupies (X+i, Y).
type Ship struct {
	Dim      int
	Vertical bool
	X, Y     int
}

// Cell returns the i-th cell of the ship's footprint.
func (s Ship) Cell(i int) (x, y int) {
	if s.Vertical {
		return s.X, s.Y + i
	}
	return s.X + i, s.Y
}

// Covers reports whether (x, y) is part of the ship's footprint.
func (s Ship) Covers(x, y int) bool {
	if s.Vertical {
		return s.X == x && s.Y <= y && y < s.Y+s.Dim
	}
	return s.Y == y && s.X <= x && x < s.X+s.Dim
}

// Mark returns the cell letter for the ship, 'A'+Dim-1.
func (s Ship) Mark() byte {
	return byte('A' + s.Dim - 1)
}

// PlaceShip writes the ship onto the board. It fails without modifying
// the board if the ship extends past the grid or any target cell is not
// empty. Adjacent ships are allowed; overlapping ones are not.
func (b *Board) PlaceShip(s Ship) error {
	if s.Dim <= 0 || s.X < 0 || s.X >= BoardSize || s.Y < 0 || s.Y >= BoardSize {
		return ErrOutOfBounds
	}
	if s.Vertical {
		if s.Y+s.Dim > BoardSize {
			return ErrOutOfBounds
		}
	} else {
		if s.X+s.Dim > BoardSize {
			return ErrOutOfBounds
		}
	}
	for i := range s.Dim {
		x, y := s.Cell(i)
		if b[x][y] != CellEmpty {
			return ErrCellOccupied
		}
	}
	for i := range s.Dim {
		x, y := s.Cell(i)
		b[x][y] = s.Mark()
	}
	return nil
}

// SetupFleet validates a full fleet and places it on a fresh board.
// The fleet must match the fixed composition and every ship must fit
// without overlap. On any failure the returned board is unusable and
// the caller keeps its previous state.
func SetupFleet(ships []Ship) (Board, error) {
	if err := checkComposition(ships); err != nil {
		return Board{}, err
	}
	b := NewBoard()
	for _, s := range ships {
		if err := b.PlaceShip(s); err != nil {
			return Board{}, err
		}
	}
	return b, nil
}

// checkComposition verifies the multiset of ship lengths: one 5, one 4,
// two 3, one 2.
func checkComposition(ships []Ship) error {
	if len(ships) != FleetSize {
		return ErrFleetComposition
	}
	var counts [6]int
	for _, s := range ships {
		if s.Dim < 2 || s.Dim > 5 {
			return ErrFleetComposition
		}
		counts[s.Dim]++
	}
	if counts[5] != 1 || counts[4] != 1 || counts[3] != 2 || counts[2] != 1 {
		return ErrFleetComposition
	}
	return nil
}

// AttackResult is the outcome of a resolved attack.
type AttackResult int

const (
	Miss AttackResult = iota // no ship at the cell
	Hit                      // ship cell struck, ship still afloat
	Sunk                     // ship cell struck and every footprint cell is hit
)

// String returns the wire word used in attack broadcasts.
func (r AttackResult) String() string {
	switch r {
	case Hit:
		return "hit"
	case Sunk:
		return "sunk"
	default:
		return "miss"
	}
}

// Attack resolves a shot at (x, y) against the board and its fleet.
// A ship cell becomes CellHit and the result is Sunk when that strike
// completes the ship's footprint, Hit otherwise. An empty cell becomes
// CellMiss. Striking an already resolved cell is an error and leaves
// the board unchanged.
func Attack(b *Board, fleet []Ship, x, y int) (AttackResult, error) {
	if x < 0 || x >= BoardSize || y < 0 || y >= BoardSize {
		return Miss, ErrOutOfBounds
	}
	if len(fleet) == 0 {
		return Miss, ErrNoFleet
	}

	switch cell := b[x][y]; {
	case cell >= 'A' && cell <= 'E':
		b[x][y] = CellHit
		for _, s := range fleet {
			if !s.Covers(x, y) {
				continue
			}
			struck := 0
			for i := range s.Dim {
				cx, cy := s.Cell(i)
				if b[cx][cy] == CellHit {
					struck++
				}
			}
			if struck == s.Dim {
				return Sunk, nil
			}
			break
		}
		return Hit, nil
	case cell == CellEmpty:
		b[x][y] = CellMiss
		return Miss, nil
	default:
		return Miss, ErrCellStruck
	}
}
