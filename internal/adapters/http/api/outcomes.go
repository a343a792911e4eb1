package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/rumble/internal/domain/model"
)

type outcomeRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// predictionRequest names the outcome by kind. Division-scoped kinds need a
// division; the simple kind needs the outcome name in subject.
type predictionRequest struct {
	PlayerID string `json:"player_id"`
	Division string `json:"division"`
	Kind     string `json:"kind"`
	Subject  string `json:"subject"`
	Value    string `json:"value"`
}

func (p predictionRequest) key() (model.OutcomeKey, error) {
	kind := model.OutcomeKind(strings.ToLower(strings.TrimSpace(p.Kind)))
	if kind == model.KindSimple {
		return model.SimpleKey(p.Subject), nil
	}
	div, err := model.ParseDivision(p.Division)
	if err != nil {
		return model.OutcomeKey{}, errors.Join(ErrBadRequest, err)
	}
	return model.DivisionKey(div, kind), nil
}

func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	rec, err := s.deps.RecordSimpleOutcome(r.Context(), req.Key, req.Value)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePlacePrediction(w http.ResponseWriter, r *http.Request) {
	var req predictionRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	key, err := req.key()
	if err != nil {
		badRequest(w, err)
		return
	}
	pred, err := s.deps.PlacePrediction(r.Context(), req.PlayerID, key, req.Value)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pred)
}
