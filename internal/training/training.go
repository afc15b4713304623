// Package training layers per-session learning state over the shared
// position tree. Sessions read the tree but never mutate shared
// statistics, and every operation tolerates the tree changing
// underneath it: a node deleted mid-session is simply "no longer in
// the repertoire".
package training

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openingbook/repertoire/internal/tree"
)

// ErrNoSession is returned for unknown session ids.
var ErrNoSession = errors.New("session not found")

type session struct {
	studied  map[tree.NodeID]struct{}
	learned  map[tree.NodeID]struct{}
	mistakes int
}

// Store owns all live training sessions for one tree. Sessions are
// independent; there is no cross-session state and no implicit expiry
// (lifetime is the caller's concern).
type Store struct {
	mu       sync.RWMutex
	tree     *tree.Tree
	sessions map[string]*session
}

// NewStore creates an empty session store over the shared tree.
func NewStore(t *tree.Tree) *Store {
	return &Store{tree: t, sessions: make(map[string]*session)}
}

// Start creates a new session and returns its id.
func (s *Store) Start() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{
		studied: make(map[tree.NodeID]struct{}),
		learned: make(map[tree.NodeID]struct{}),
	}
	s.mu.Unlock()
	return id
}

// Drop discards a session. Dropping an unknown session is a no-op.
func (s *Store) Drop(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

func (s *Store) get(sessionID string) (*session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, sessionID)
	}
	return sess, nil
}

// MarkStudied marks a node as the studied end of a line. Idempotent.
// The node id is not checked against the tree: a mark for a node that
// later disappears is harmless.
func (s *Store) MarkStudied(sessionID string, id tree.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}
	sess.studied[id] = struct{}{}
	return nil
}

// MarkDirectlyLearned records a correct unhinted answer at a node.
// newlyLearned is false when the node was already credited, so callers
// can gate their learned counters against double counting.
func (s *Store) MarkDirectlyLearned(sessionID string, id tree.NodeID) (newlyLearned bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(sessionID)
	if err != nil {
		return false, err
	}
	if _, ok := sess.learned[id]; ok {
		return false, nil
	}
	sess.learned[id] = struct{}{}
	return true, nil
}

// UnmarkDirectlyLearned revokes direct-learned credit at a node after
// a mistake there. Ancestors keep their credit.
func (s *Store) UnmarkDirectlyLearned(sessionID string, id tree.NodeID) (wasLearned bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(sessionID)
	if err != nil {
		return false, err
	}
	if _, ok := sess.learned[id]; !ok {
		return false, nil
	}
	delete(sess.learned, id)
	return true, nil
}

// RecordMistake increments the session's mistake counter and returns
// the new count. The counter only resets with a new session.
func (s *Store) RecordMistake(sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.get(sessionID)
	if err != nil {
		return 0, err
	}
	sess.mistakes++
	return sess.mistakes, nil
}

// MistakeCount returns the session's mistake counter.
func (s *Store) MistakeCount(sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, err := s.get(sessionID)
	if err != nil {
		return 0, err
	}
	return sess.mistakes, nil
}

// LearnedNodeIDs returns the nodes credited as directly learned.
func (s *Store) LearnedNodeIDs(sessionID string) ([]tree.NodeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]tree.NodeID, 0, len(sess.learned))
	for id := range sess.learned {
		out = append(out, id)
	}
	return out, nil
}

// UnstudiedMoves returns the repertoire-owned child edges of nodeID
// (games > 0) whose child is not yet studied in this session. A node
// no longer in the tree yields an empty slice, not an error.
func (s *Store) UnstudiedMoves(sessionID string, nodeID tree.NodeID) ([]tree.Edge, error) {
	s.mu.RLock()
	sess, err := s.get(sessionID)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	studied := make(map[tree.NodeID]struct{}, len(sess.studied))
	for id := range sess.studied {
		studied[id] = struct{}{}
	}
	s.mu.RUnlock()

	edges, err := s.tree.ChildrenOf(nodeID)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	out := edges[:0]
	for _, e := range edges {
		if e.Node.Line.Games == 0 {
			continue
		}
		if _, ok := studied[e.Node.ID]; ok {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// AllStudied reports whether the whole repertoire is studied: every
// owned child of the root must be fully studied. A node is fully
// studied when it is marked studied, or when it has owned children and
// all of them are fully studied. An empty repertoire is trivially
// studied.
func (s *Store) AllStudied(sessionID string) (bool, error) {
	s.mu.RLock()
	sess, err := s.get(sessionID)
	if err != nil {
		s.mu.RUnlock()
		return false, err
	}
	studied := make(map[tree.NodeID]struct{}, len(sess.studied))
	for id := range sess.studied {
		studied[id] = struct{}{}
	}
	s.mu.RUnlock()

	rootEdges, err := s.tree.ChildrenOf(s.tree.RootID())
	if err != nil {
		return false, err
	}
	for _, e := range rootEdges {
		if e.Node.Line.Games == 0 {
			continue
		}
		if !s.fullyStudied(e.Node.ID, studied) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Store) fullyStudied(id tree.NodeID, studied map[tree.NodeID]struct{}) bool {
	if _, ok := studied[id]; ok {
		return true
	}
	edges, err := s.tree.ChildrenOf(id)
	if err != nil {
		// Deleted mid-session: nothing left to study below it.
		return true
	}
	owned := 0
	for _, e := range edges {
		if e.Node.Line.Games == 0 {
			continue
		}
		owned++
		if !s.fullyStudied(e.Node.ID, studied) {
			return false
		}
	}
	// A leaf that was never explicitly marked is unstudied.
	return owned > 0
}

// Progress summarizes a session against the current tree.
type Progress struct {
	StudiedNodes    int
	TotalNodes      int
	DirectlyLearned int
	Mistakes        int
}

// Progress counts studied nodes against the owned nodes currently in
// the tree. Studied marks for deleted nodes are not counted.
func (s *Store) Progress(sessionID string) (Progress, error) {
	s.mu.RLock()
	sess, err := s.get(sessionID)
	if err != nil {
		s.mu.RUnlock()
		return Progress{}, err
	}
	studied := make(map[tree.NodeID]struct{}, len(sess.studied))
	for id := range sess.studied {
		studied[id] = struct{}{}
	}
	p := Progress{DirectlyLearned: len(sess.learned), Mistakes: sess.mistakes}
	s.mu.RUnlock()

	for _, n := range s.tree.Nodes() {
		if n.IsRoot() || n.Line.Games == 0 {
			continue
		}
		p.TotalNodes++
		if _, ok := studied[n.ID]; ok {
			p.StudiedNodes++
		}
	}
	return p, nil
}
