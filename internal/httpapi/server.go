// Package httpapi exposes the serving and training-session API as
// JSON over HTTP. It is a thin adapter: all semantics live in the
// tree, ingest, and training packages.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/openingbook/repertoire/internal/board"
	"github.com/openingbook/repertoire/internal/tree"
	"github.com/openingbook/repertoire/internal/training"
)

// Server wires the HTTP handlers over the shared tree and session
// store.
type Server struct {
	tree     *tree.Tree
	sessions *training.Store
	eng      board.Engine
	log      zerolog.Logger
}

// NewServer creates the API server.
func NewServer(t *tree.Tree, sessions *training.Store, eng board.Engine, log zerolog.Logger) *Server {
	return &Server{tree: t, sessions: sessions, eng: eng, log: log}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/position", s.handleFindPosition)
	mux.HandleFunc("GET /api/position/{id}/moves", s.handleMoves)
	mux.HandleFunc("POST /api/position/{id}/moves", s.handleInsertMove)
	mux.HandleFunc("DELETE /api/position/{id}", s.handleDelete)

	mux.HandleFunc("POST /api/training/sessions", s.handleStartSession)
	mux.HandleFunc("POST /api/training/sessions/{sid}/studied", s.handleMarkStudied)
	mux.HandleFunc("POST /api/training/sessions/{sid}/learned", s.handleMarkLearned)
	mux.HandleFunc("POST /api/training/sessions/{sid}/unlearned", s.handleUnmarkLearned)
	mux.HandleFunc("POST /api/training/sessions/{sid}/mistakes", s.handleRecordMistake)
	mux.HandleFunc("GET /api/training/sessions/{sid}/unstudied", s.handleUnstudied)
	mux.HandleFunc("GET /api/training/sessions/{sid}/progress", s.handleProgress)

	return RequestID(AccessLog(s.log, mux))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tree.ErrNotFound),
		errors.Is(err, tree.ErrNoSuchMove),
		errors.Is(err, training.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, board.ErrInvalidPosition),
		errors.Is(err, board.ErrIllegalMove):
		status = http.StatusBadRequest
	case errors.Is(err, tree.ErrConsistency):
		status = http.StatusConflict
	}
	s.writeJSON(w, status, errResponse{Error: err.Error()})
}

// handleFindPosition resolves a node by FEN (?fen=) or id (?id=).
func (s *Server) handleFindPosition(w http.ResponseWriter, r *http.Request) {
	var (
		node tree.Node
		err  error
	)
	switch {
	case r.URL.Query().Get("id") != "":
		node, err = s.tree.FindByID(tree.NodeID(r.URL.Query().Get("id")))
	case r.URL.Query().Get("fen") != "":
		var key board.PositionKey
		key, err = board.Normalize(r.URL.Query().Get("fen"))
		if err == nil {
			node, err = s.tree.Find(key)
		}
	default:
		node = s.tree.Root()
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	edges, err := s.tree.ChildrenOf(node.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toNodeResponse(node, edges))
}

func (s *Server) handleMoves(w http.ResponseWriter, r *http.Request) {
	id := tree.NodeID(r.PathValue("id"))
	node, err := s.tree.FindByID(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	edges, err := s.tree.ChildrenOf(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toNodeResponse(node, edges))
}

type insertMoveRequest struct {
	SAN string `json:"san"`
}

// handleInsertMove extends the repertoire by one move from an existing
// node. The resulting position comes from replaying the node's path
// through the rules engine; no statistics are recorded.
func (s *Server) handleInsertMove(w http.ResponseWriter, r *http.Request) {
	id := tree.NodeID(r.PathValue("id"))
	var req insertMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SAN == "" {
		s.writeJSON(w, http.StatusBadRequest, errResponse{Error: "san required"})
		return
	}

	path, err := s.tree.PathTo(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	pos := s.eng.NewGame()
	for _, san := range path {
		if _, err := pos.Apply(san); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	key, err := pos.Apply(req.SAN)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	node, created, err := s.tree.InsertMove(id, board.CleanSAN(req.SAN), key)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, toNodeResponse(node, nil))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := tree.NodeID(r.PathValue("id"))
	removed, err := s.tree.DeleteSubtree(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleStartSession(w http.ResponseWriter, _ *http.Request) {
	id := s.sessions.Start()
	s.writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

type nodeRequest struct {
	NodeID string `json:"node_id"`
}

func (s *Server) decodeNode(w http.ResponseWriter, r *http.Request) (tree.NodeID, bool) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		s.writeJSON(w, http.StatusBadRequest, errResponse{Error: "node_id required"})
		return "", false
	}
	return tree.NodeID(req.NodeID), true
}

func (s *Server) handleMarkStudied(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeNode(w, r)
	if !ok {
		return
	}
	if err := s.sessions.MarkStudied(r.PathValue("sid"), id); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMarkLearned(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeNode(w, r)
	if !ok {
		return
	}
	newly, err := s.sessions.MarkDirectlyLearned(r.PathValue("sid"), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"newly_learned": newly})
}

func (s *Server) handleUnmarkLearned(w http.ResponseWriter, r *http.Request) {
	id, ok := s.decodeNode(w, r)
	if !ok {
		return
	}
	was, err := s.sessions.UnmarkDirectlyLearned(r.PathValue("sid"), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"was_learned": was})
}

func (s *Server) handleRecordMistake(w http.ResponseWriter, r *http.Request) {
	count, err := s.sessions.RecordMistake(r.PathValue("sid"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"mistake_count": count})
}

func (s *Server) handleUnstudied(w http.ResponseWriter, r *http.Request) {
	nodeID := tree.NodeID(r.URL.Query().Get("node_id"))
	if nodeID == "" {
		nodeID = s.tree.RootID()
	}
	edges, err := s.sessions.UnstudiedMoves(r.PathValue("sid"), nodeID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	moves := make([]MoveResponse, 0, len(edges))
	for _, e := range edges {
		moves = append(moves, toMoveResponse(e))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"moves": moves})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	progress, err := s.sessions.Progress(sid)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	all, err := s.sessions.AllStudied(sid)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"studied_nodes":    progress.StudiedNodes,
		"total_nodes":      progress.TotalNodes,
		"directly_learned": progress.DirectlyLearned,
		"mistake_count":    progress.Mistakes,
		"all_studied":      all,
	})
}
