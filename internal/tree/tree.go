package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/stats"
)

// ErrNotFound is returned for unknown node ids or position keys.
var ErrNotFound = errors.New("not found")

// ErrNoSuchMove is returned when a node has no child for a move.
var ErrNoSuchMove = errors.New("no such move")

// ErrConsistency marks programming errors (deleting the root, an edge
// resolving to two different positions). Callers must not swallow it.
var ErrConsistency = errors.New("consistency violation")

// Tree is the shared position tree. One RWMutex guards all state:
// writers (ingestion, deletion) are exclusive, readers proceed
// concurrently. Every accessor hands out detached copies, never
// internal pointers.
type Tree struct {
	mu     sync.RWMutex
	nodes  map[NodeID]*Node
	byKey  map[board.PositionKey][]NodeID
	rootID NodeID

	// terminals maps a source id to the deepest node of the line that
	// source contributed, for supersession detection.
	terminals map[string]NodeID
}

// New creates a tree holding only the root (initial position) node.
func New() *Tree {
	t := &Tree{
		nodes:     make(map[NodeID]*Node),
		byKey:     make(map[board.PositionKey][]NodeID),
		terminals: make(map[string]NodeID),
	}
	root := &Node{
		ID:       newNodeID(),
		Key:      board.StartingKey(),
		Children: make(map[string]NodeID),
		Sources:  make(map[string]struct{}),
	}
	t.nodes[root.ID] = root
	t.byKey[root.Key] = []NodeID{root.ID}
	t.rootID = root.ID
	return t
}

// Root returns the singleton root node.
func (t *Tree) Root() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[t.rootID].clone()
}

// RootID returns the root node id.
func (t *Tree) RootID() NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Find returns the earliest-created node for a position key.
func (t *Tree) Find(key board.PositionKey) (Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byKey[key]
	if len(ids) == 0 {
		return Node{}, fmt.Errorf("%w: position %s", ErrNotFound, key)
	}
	return t.nodes[ids[0]].clone(), nil
}

// FindByID returns the node with the given id.
func (t *Tree) FindByID(id NodeID) (Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	return n.clone(), nil
}

// Transpositions returns the ids of every node holding the given
// position, in creation order. Distinct move orders reaching the same
// position produce distinct nodes that all appear here.
func (t *Tree) Transpositions(key board.PositionKey) []NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byKey[key]
	out := make([]NodeID, len(ids))
	copy(out, ids)
	return out
}

// ChildFor resolves the child of parentID reached by san.
func (t *Tree) ChildFor(parentID NodeID, san string) (Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return Node{}, fmt.Errorf("%w: node %s", ErrNotFound, parentID)
	}
	childID, ok := parent.Children[san]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s from node %s", ErrNoSuchMove, san, parentID)
	}
	return t.nodes[childID].clone(), nil
}

// ChildrenOf returns the outgoing edges of a node, most-played first.
func (t *Tree) ChildrenOf(id NodeID) ([]Edge, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	edges := make([]Edge, 0, len(n.Children))
	for san, childID := range n.Children {
		edges = append(edges, Edge{SAN: san, Node: t.nodes[childID].clone()})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Node.Line.Games != edges[j].Node.Line.Games {
			return edges[i].Node.Line.Games > edges[j].Node.Line.Games
		}
		return edges[i].SAN < edges[j].SAN
	})
	return edges, nil
}

// PathTo returns the SAN move sequence from the root to id.
func (t *Tree) PathTo(id NodeID) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	var rev []string
	for !n.IsRoot() {
		rev = append(rev, n.Move)
		n = t.nodes[n.Parent]
	}
	path := make([]string, len(rev))
	for i, san := range rev {
		path[len(rev)-1-i] = san
	}
	return path, nil
}

// InsertMove is the single mutation primitive: it links a child node
// for san under parentID, or returns the existing one. created reports
// whether a new node was made.
func (t *Tree) InsertMove(parentID NodeID, san string, key board.PositionKey) (node Node, created bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	parent, ok := t.nodes[parentID]
	if !ok {
		return Node{}, false, fmt.Errorf("%w: node %s", ErrNotFound, parentID)
	}
	if childID, ok := parent.Children[san]; ok {
		child := t.nodes[childID]
		if child.Key != key {
			return Node{}, false, fmt.Errorf("%w: move %s from %s resolves to %s, tree has %s",
				ErrConsistency, san, parent.Key, key, child.Key)
		}
		return child.clone(), false, nil
	}
	child := &Node{
		ID:       newNodeID(),
		Key:      key,
		Parent:   parentID,
		Move:     san,
		Children: make(map[string]NodeID),
		Sources:  make(map[string]struct{}),
	}
	t.nodes[child.ID] = child
	t.byKey[key] = append(t.byKey[key], child.ID)
	parent.Children[san] = child.ID
	return child.clone(), true, nil
}

// RecordOutcome adds one game outcome to the edge leading into id.
func (t *Tree) RecordOutcome(id NodeID, o stats.Outcome, ratingDiff int, hasDiff bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	n.Line.Record(o, ratingDiff, hasDiff)
	return nil
}

// AddSource records that sourceID contributed to node id.
func (t *Tree) AddSource(id NodeID, sourceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	n.Sources[sourceID] = struct{}{}
	return nil
}

// HasSource reports whether sourceID has been ingested before.
func (t *Tree) HasSource(sourceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.terminals[sourceID]
	return ok
}

// SetTerminal records the deepest node of sourceID's line.
func (t *Tree) SetTerminal(sourceID string, id NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminals[sourceID] = id
}

// Terminal returns the deepest node of sourceID's line, if known.
func (t *Tree) Terminal(sourceID string) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.terminals[sourceID]
	return id, ok
}

// Terminals returns a copy of the source bookkeeping.
func (t *Tree) Terminals() map[string]NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]NodeID, len(t.terminals))
	for s, id := range t.terminals {
		out[s] = id
	}
	return out
}

// ForgetSource drops a superseded source from the bookkeeping: its
// terminal entry and its membership in node source sets. Tree shape
// and statistics are untouched.
func (t *Tree) ForgetSource(sourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.terminals, sourceID)
	for _, n := range t.nodes {
		delete(n.Sources, sourceID)
	}
}

// DeleteSubtree removes the node and all descendants, detaching the
// edge from its parent, then prunes ancestors left with no children,
// no games, and no sources. Deleting the root is a consistency
// violation. The context is checked between node deletions so a huge
// cascade stays interruptible.
func (t *Tree) DeleteSubtree(ctx context.Context, id NodeID) (removed int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return 0, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	if n.ID == t.rootID {
		return 0, fmt.Errorf("%w: cannot delete the root", ErrConsistency)
	}

	// Gather first, checking the context between nodes, so a cancelled
	// cascade aborts before any mutation and the tree never holds a
	// half-removed subtree.
	var doomed []*Node
	pending := []NodeID{id}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		node := t.nodes[cur]
		for _, childID := range node.Children {
			pending = append(pending, childID)
		}
		doomed = append(doomed, node)
	}

	parentID := n.Parent
	delete(t.nodes[parentID].Children, n.Move)
	for _, node := range doomed {
		t.unlink(node)
	}
	t.pruneUpward(parentID)
	return len(doomed), nil
}

// unlink removes a node from the primary map, the transposition index,
// and the source terminal bookkeeping.
func (t *Tree) unlink(n *Node) {
	delete(t.nodes, n.ID)
	ids := t.byKey[n.Key]
	for i, nid := range ids {
		if nid == n.ID {
			t.byKey[n.Key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(t.byKey[n.Key]) == 0 {
		delete(t.byKey, n.Key)
	}
	for src, terminal := range t.terminals {
		if terminal == n.ID {
			delete(t.terminals, src)
		}
	}
}

// pruneUpward removes ancestors that only existed to reach a deleted
// line: no children left, no games recorded, no sources. Stops at the
// root or at the first node still carrying weight.
func (t *Tree) pruneUpward(id NodeID) {
	for id != "" && id != t.rootID {
		n, ok := t.nodes[id]
		if !ok {
			return
		}
		if len(n.Children) > 0 || n.Line.Games > 0 || len(n.Sources) > 0 {
			return
		}
		parentID := n.Parent
		delete(t.nodes[parentID].Children, n.Move)
		t.unlink(n)
		id = parentID
	}
}

// Nodes returns a detached copy of every node, for persistence.
func (t *Tree) Nodes() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n.clone())
	}
	return out
}

// Restore rebuilds a tree from persisted nodes and source terminals.
// Exactly one node must be parentless; indexes are rebuilt from the
// node list.
func Restore(nodes []Node, terminals map[string]NodeID) (*Tree, error) {
	t := &Tree{
		nodes:     make(map[NodeID]*Node, len(nodes)),
		byKey:     make(map[board.PositionKey][]NodeID),
		terminals: make(map[string]NodeID, len(terminals)),
	}
	for i := range nodes {
		n := nodes[i].clone()
		if n.Children == nil {
			n.Children = make(map[string]NodeID)
		}
		if n.Sources == nil {
			n.Sources = make(map[string]struct{})
		}
		if n.IsRoot() {
			if t.rootID != "" {
				return nil, fmt.Errorf("%w: multiple roots (%s, %s)", ErrConsistency, t.rootID, n.ID)
			}
			t.rootID = n.ID
		}
		t.nodes[n.ID] = &n
	}
	if t.rootID == "" {
		return nil, fmt.Errorf("%w: no root node", ErrConsistency)
	}
	// Creation order is lost across persistence; index parents before
	// children so path prefixes keep winning Find lookups.
	ordered := t.orderedFromRoot()
	for _, id := range ordered {
		n := t.nodes[id]
		t.byKey[n.Key] = append(t.byKey[n.Key], n.ID)
	}
	if len(ordered) != len(t.nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable from root",
			ErrConsistency, len(t.nodes)-len(ordered), len(t.nodes))
	}
	for src, id := range terminals {
		if _, ok := t.nodes[id]; !ok {
			continue
		}
		t.terminals[src] = id
	}
	return t, nil
}

func (t *Tree) orderedFromRoot() []NodeID {
	order := make([]NodeID, 0, len(t.nodes))
	queue := []NodeID{t.rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n, ok := t.nodes[id]
		if !ok {
			continue
		}
		order = append(order, id)
		sans := make([]string, 0, len(n.Children))
		for san := range n.Children {
			sans = append(sans, san)
		}
		sort.Strings(sans)
		for _, san := range sans {
			queue = append(queue, n.Children[san])
		}
	}
	return order
}
