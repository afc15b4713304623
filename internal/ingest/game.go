// Package ingest turns parsed games into position tree updates,
// handling duplicate lines, re-ingested sources, and supersession of
// shorter stored lines.
package ingest

import (
	"errors"
	"fmt"

	"github.com/openingbook/repertoire/internal/stats"
)

// ErrMalformedGame marks input games that cannot be processed at all
// (no moves, no source id). Malformed games are skipped, never fatal
// for a batch.
var ErrMalformedGame = errors.New("malformed game")

// Game is one parsed game from a source collaborator. Moves are SAN
// from the starting position; Result is from the repertoire owner's
// perspective.
type Game struct {
	SourceID    string
	Moves       []string
	Result      stats.Outcome
	OwnerElo    int
	OpponentElo int
	HasRatings  bool
}

func (g Game) ratingDiff() (int, bool) {
	if !g.HasRatings {
		return 0, false
	}
	return g.OwnerElo - g.OpponentElo, true
}

// GameError records one skipped or partially-failed game in a batch.
type GameError struct {
	SourceID string
	Err      error
}

func (e GameError) Error() string {
	return fmt.Sprintf("game %s: %v", e.SourceID, e.Err)
}

func (e GameError) Unwrap() error { return e.Err }

// Report aggregates the outcome of a batch. Ingestion always reports
// counts, even when individual games failed.
type Report struct {
	Processed  int
	Skipped    int
	Duplicates int
	Superseded int
	Errors     []GameError
}
