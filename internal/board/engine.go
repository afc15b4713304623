package board

import (
	"errors"
	"fmt"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// ErrIllegalMove is returned when the rules engine rejects a move.
var ErrIllegalMove = errors.New("illegal move")

// Position is one game being replayed move by move.
type Position interface {
	// Apply plays a SAN move, returning the key of the resulting
	// position. Rejected moves wrap ErrIllegalMove.
	Apply(san string) (PositionKey, error)
	// FEN reports the current position.
	FEN() string
	// Key reports the canonical key of the current position.
	Key() (PositionKey, error)
}

// Engine is the rules collaborator. The repertoire core never decides
// chess legality itself.
type Engine interface {
	NewGame() Position
}

// NewEngine returns the pgn-library backed rules engine.
func NewEngine() Engine {
	return pgnEngine{}
}

type pgnEngine struct{}

func (pgnEngine) NewGame() Position {
	return &pgnPosition{state: pgn.NewStartingPosition()}
}

type pgnPosition struct {
	state *pgn.GameState
}

func (p *pgnPosition) Apply(san string) (PositionKey, error) {
	san = CleanSAN(san)
	if san == "" {
		return "", fmt.Errorf("%w: empty move", ErrIllegalMove)
	}
	mv, err := pgn.ParseSAN(p.state, san)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrIllegalMove, san, err)
	}
	if err := pgn.ApplyMove(p.state, mv); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrIllegalMove, san, err)
	}
	return p.Key()
}

func (p *pgnPosition) FEN() string {
	return p.state.Pack().ToFEN()
}

func (p *pgnPosition) Key() (PositionKey, error) {
	return Normalize(p.FEN())
}

// CleanSAN strips check, mate, and annotation suffixes from a SAN
// token ("Nf3+!?" -> "Nf3").
func CleanSAN(san string) string {
	san = strings.TrimSpace(san)
	san = strings.TrimRight(san, "+#!?")
	return san
}
