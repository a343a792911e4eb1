package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/rumble/internal/domain/model"
)

type ownerRequest struct {
	PlayerID string `json:"player_id"`
}

type entryRequest struct {
	Number        int    `json:"number"`
	Wrestler      string `json:"wrestler"`
	OwnerPlayerID string `json:"owner_player_id"`
	At            string `json:"at"`
}

type eliminationRequest struct {
	Number       int    `json:"number"`
	EliminatedBy int    `json:"eliminated_by"`
	At           string `json:"at"`
}

type winnerRequest struct {
	Number int `json:"number"`
}

func division(r *http.Request) (model.Division, error) {
	div, err := model.ParseDivision(r.PathValue("division"))
	if err != nil {
		return "", errors.Join(ErrBadRequest, err)
	}
	return div, nil
}

func (s *Server) handleAssignOwner(w http.ResponseWriter, r *http.Request) {
	div, err := division(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil {
		badRequest(w, fmt.Errorf("%w: slot number must be an integer", ErrBadRequest))
		return
	}
	var req ownerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	slot, err := s.deps.AssignOwner(r.Context(), div, number, req.PlayerID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (s *Server) handleRecordEntry(w http.ResponseWriter, r *http.Request) {
	div, err := division(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req entryRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	at, err := parseTime(req.At)
	if err != nil {
		badRequest(w, err)
		return
	}
	slot, err := s.deps.RecordEntry(r.Context(), div, req.Number, req.Wrestler, req.OwnerPlayerID, at)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (s *Server) handleRecordElimination(w http.ResponseWriter, r *http.Request) {
	div, err := division(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req eliminationRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	at, err := parseTime(req.At)
	if err != nil {
		badRequest(w, err)
		return
	}
	slot, err := s.deps.RecordElimination(r.Context(), div, req.Number, req.EliminatedBy, at)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (s *Server) handleDeclareWinner(w http.ResponseWriter, r *http.Request) {
	div, err := division(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	var req winnerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	rec, err := s.deps.DeclareWinner(r.Context(), div, req.Number)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	div, err := division(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.deps.Reconcile(r.Context(), div); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ackResponse{Status: "reconciled"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	div, err := division(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	view, err := s.deps.Snapshot(r.Context(), div)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
