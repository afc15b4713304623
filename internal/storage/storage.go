// Package storage persists the position tree. The core talks to the
// Repository interface only; this package ships a SQLite
// implementation.
package storage

import (
	"context"
	"errors"

	"github.com/openingbook/repertoire/internal/tree"
)

// ErrStorage wraps downstream I/O failures. Callers decide whether to
// retry; nothing here retries internally.
var ErrStorage = errors.New("storage error")

// Repository persists and restores the tree, and drops superseded
// game sources.
type Repository interface {
	// Save writes the whole tree atomically.
	Save(ctx context.Context, t *tree.Tree) error
	// Load restores the persisted tree, or returns (nil, nil) when
	// nothing has been saved yet.
	Load(ctx context.Context) (*tree.Tree, error)
	// RemoveSource drops all bookkeeping for a superseded source.
	RemoveSource(ctx context.Context, sourceID string) error
	Close() error
}
