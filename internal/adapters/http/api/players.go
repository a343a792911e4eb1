package api

import (
	"fmt"
	"net/http"
	"strings"
)

type playerRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type adjustmentRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
	Key    string `json:"key"`
}

type adjustmentResponse struct {
	PlayerID string `json:"player_id"`
	Points   int    `json:"points"`
}

func (s *Server) handleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req playerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	p, err := s.deps.RegisterPlayer(r.Context(), req.ID, req.DisplayName)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// handleGetPlayer returns a player's points together with their rank.
func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		badRequest(w, fmt.Errorf("%w: missing player id", ErrBadRequest))
		return
	}
	entry, err := s.deps.Rank(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleAdjustPoints applies a host correction. The key defaults to the
// Idempotency-Key header so a retried request is applied once.
func (s *Server) handleAdjustPoints(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	var req adjustmentRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}
	if key == "" {
		badRequest(w, fmt.Errorf("%w: adjustment needs a key", ErrBadRequest))
		return
	}
	total, err := s.deps.AdjustPoints(r.Context(), id, req.Delta, req.Reason, key)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustmentResponse{PlayerID: id, Points: total})
}
