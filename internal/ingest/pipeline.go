package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/stats"
	"github.com/openingbook/repertoire/internal/tree"
)

// ErrStorage wraps failures of the storage collaborator during
// supersession cleanup. The tree insertion has already succeeded when
// this is returned; the caller decides whether to retry the cleanup.
var ErrStorage = errors.New("storage collaborator error")

// SourceRemover is the slice of the storage collaborator the pipeline
// needs: dropping a superseded game source.
type SourceRemover interface {
	RemoveSource(ctx context.Context, sourceID string) error
}

// Config configures a Pipeline. Tree and Engine are required; Remover
// may be nil when no storage cleanup is wanted (tests, dry runs).
type Config struct {
	Tree    *tree.Tree
	Engine  board.Engine
	Remover SourceRemover
	Logger  zerolog.Logger
}

// Pipeline applies parsed games to the shared tree.
type Pipeline struct {
	tree    *tree.Tree
	eng     board.Engine
	remover SourceRemover
	log     zerolog.Logger
}

// New creates a pipeline over the shared tree.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		tree:    cfg.Tree,
		eng:     cfg.Engine,
		remover: cfg.Remover,
		log:     cfg.Logger,
	}
}

type ply struct {
	san string
	key board.PositionKey
}

// Add ingests one game. A source id seen before is a complete no-op
// (duplicate=true, nothing recorded). A move sequence whose full path
// already exists contributes statistics only (duplicate=true). Illegal
// moves and malformed input abort the game before any tree mutation.
// A game without a decisive or drawn result is malformed too: recording
// it would grow the games counter with no win/draw/loss bucket.
func (p *Pipeline) Add(ctx context.Context, g Game) (duplicate bool, superseded int, err error) {
	if g.SourceID == "" {
		return false, 0, fmt.Errorf("%w: missing source id", ErrMalformedGame)
	}
	if len(g.Moves) == 0 {
		return false, 0, fmt.Errorf("%w: %s has no moves", ErrMalformedGame, g.SourceID)
	}
	if g.Result == stats.Unknown {
		return false, 0, fmt.Errorf("%w: %s has no result", ErrMalformedGame, g.SourceID)
	}
	if p.tree.HasSource(g.SourceID) {
		p.log.Debug().Str("source", g.SourceID).Msg("source already ingested, skipping")
		return true, 0, nil
	}

	// Replay the whole game before touching the tree, so a bad move
	// aborts the game without leaving a partial line behind.
	plies, err := p.replay(g)
	if err != nil {
		return false, 0, err
	}

	duplicate = p.pathExists(plies)

	diff, hasDiff := g.ratingDiff()
	parentID := p.tree.RootID()
	path := make([]tree.NodeID, 0, len(plies))
	for _, pl := range plies {
		node, _, err := p.tree.InsertMove(parentID, pl.san, pl.key)
		if err != nil {
			// ErrConsistency here means an edge resolved to two
			// different positions: fail fast, never silently ignore.
			return false, 0, err
		}
		if err := p.tree.RecordOutcome(node.ID, g.Result, diff, hasDiff); err != nil {
			return false, 0, err
		}
		if err := p.tree.AddSource(node.ID, g.SourceID); err != nil {
			return false, 0, err
		}
		path = append(path, node.ID)
		parentID = node.ID
	}
	p.tree.SetTerminal(g.SourceID, path[len(path)-1])

	superseded, err = p.cleanupSuperseded(ctx, g.SourceID, path)
	return duplicate, superseded, err
}

// AddAll ingests a batch, isolating per-game failures. One bad game
// never blocks the rest.
func (p *Pipeline) AddAll(ctx context.Context, games []Game) Report {
	var rep Report
	for _, g := range games {
		if err := ctx.Err(); err != nil {
			rep.Errors = append(rep.Errors, GameError{SourceID: g.SourceID, Err: err})
			return rep
		}
		dup, superseded, err := p.Add(ctx, g)
		rep.Superseded += superseded
		switch {
		case err == nil:
			if dup {
				rep.Duplicates++
			} else {
				rep.Processed++
			}
		case errors.Is(err, ErrStorage):
			// The line is in the tree; only the cleanup failed.
			rep.Processed++
			rep.Errors = append(rep.Errors, GameError{SourceID: g.SourceID, Err: err})
			p.log.Error().Err(err).Str("source", g.SourceID).Msg("supersession cleanup failed")
		default:
			rep.Skipped++
			rep.Errors = append(rep.Errors, GameError{SourceID: g.SourceID, Err: err})
			p.log.Warn().Err(err).Str("source", g.SourceID).Msg("game skipped")
		}
	}
	p.log.Info().
		Int("processed", rep.Processed).
		Int("duplicates", rep.Duplicates).
		Int("skipped", rep.Skipped).
		Int("superseded", rep.Superseded).
		Msg("batch complete")
	return rep
}

// replay runs the game through the rules engine, producing the SAN and
// canonical key of every ply.
func (p *Pipeline) replay(g Game) ([]ply, error) {
	pos := p.eng.NewGame()
	plies := make([]ply, 0, len(g.Moves))
	for i, raw := range g.Moves {
		san := board.CleanSAN(raw)
		key, err := pos.Apply(san)
		if err != nil {
			return nil, fmt.Errorf("move %d: %w", i+1, err)
		}
		plies = append(plies, ply{san: san, key: key})
	}
	return plies, nil
}

// pathExists reports whether every edge of the move sequence is
// already present in the tree.
func (p *Pipeline) pathExists(plies []ply) bool {
	parentID := p.tree.RootID()
	for _, pl := range plies {
		child, err := p.tree.ChildFor(parentID, pl.san)
		if err != nil {
			return false
		}
		parentID = child.ID
	}
	return true
}

// cleanupSuperseded finds sources whose stored line ends at an interior
// node of the new path. Node identity equals move-path identity, so any
// such source is a strict prefix of the new line: its backing file is
// redundant and the storage collaborator is told to drop it. The tree
// keeps the union of all continuations either way.
func (p *Pipeline) cleanupSuperseded(ctx context.Context, newSource string, path []tree.NodeID) (int, error) {
	if len(path) < 2 {
		return 0, nil
	}
	interior := make(map[tree.NodeID]struct{}, len(path)-1)
	for _, id := range path[:len(path)-1] {
		interior[id] = struct{}{}
	}

	var stale []string
	for src, terminal := range p.tree.Terminals() {
		if src == newSource {
			continue
		}
		if _, ok := interior[terminal]; ok {
			stale = append(stale, src)
		}
	}

	removed := 0
	for _, src := range stale {
		if p.remover != nil {
			if err := p.remover.RemoveSource(ctx, src); err != nil {
				return removed, fmt.Errorf("%w: remove %s: %v", ErrStorage, src, err)
			}
		}
		p.tree.ForgetSource(src)
		removed++
		p.log.Info().Str("superseded", src).Str("by", newSource).Msg("removed superseded source")
	}
	return removed, nil
}
