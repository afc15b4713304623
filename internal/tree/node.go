// Package tree implements the deduplicated opening position tree: one
// node per move path, keyed children, per-edge statistics, and a
// transposition index over canonical position keys.
package tree

import (
	"github.com/google/uuid"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/stats"
)

// NodeID is a stable opaque identifier, assigned once at node creation
// and never reused.
type NodeID string

func newNodeID() NodeID {
	return NodeID(uuid.NewString())
}

// Node is one reachable position. Its Line holds the statistics of the
// edge leading to it from Parent ("this move from the parent"); the
// root carries no edge and its Line stays empty.
type Node struct {
	ID     NodeID
	Key    board.PositionKey
	Parent NodeID // empty for the root
	Move   string // SAN of the edge from Parent; empty for the root
	Line   stats.Line

	// Children maps SAN to child id. At most one child per move.
	Children map[string]NodeID

	// Sources are the game-source ids that contributed to this node,
	// kept for supersession bookkeeping.
	Sources map[string]struct{}
}

// IsRoot reports whether the node is the tree root.
func (n *Node) IsRoot() bool { return n.Parent == "" }

// HasSource reports whether the given source contributed to this node.
func (n *Node) HasSource(sourceID string) bool {
	_, ok := n.Sources[sourceID]
	return ok
}

// clone returns a detached copy safe to hand out past the tree lock.
func (n *Node) clone() Node {
	c := *n
	c.Children = make(map[string]NodeID, len(n.Children))
	for san, id := range n.Children {
		c.Children[san] = id
	}
	c.Sources = make(map[string]struct{}, len(n.Sources))
	for s := range n.Sources {
		c.Sources[s] = struct{}{}
	}
	return c
}

// Edge pairs a move with the child node it leads to.
type Edge struct {
	SAN  string
	Node Node
}
