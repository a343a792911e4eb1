// Package api exposes the match engine's commands and read models over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/okian/rumble/internal/domain/dedupe"
	"github.com/okian/rumble/internal/domain/match"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/types"
	"github.com/okian/rumble/pkg/logger"
)

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Dependencies required by HTTP handlers.
type Dependencies interface {
	dedupe.Deduper
	DivisionCommands
	PlayerCommands
	OutcomeCommands
	LeaderboardDependencies
	StatsProvider
}

// DivisionCommands drive one division's slots.
type DivisionCommands interface {
	AssignOwner(ctx context.Context, div model.Division, number int, playerID string) (model.Slot, error)
	RecordEntry(ctx context.Context, div model.Division, number int, wrestler, owner string, at time.Time) (model.Slot, error)
	RecordElimination(ctx context.Context, div model.Division, number, by int, at time.Time) (model.Slot, error)
	DeclareWinner(ctx context.Context, div model.Division, number int) (model.AwardRecord, error)
	Reconcile(ctx context.Context, div model.Division) error
	Snapshot(ctx context.Context, div model.Division) (match.View, error)
}

// PlayerCommands manage players and their points.
type PlayerCommands interface {
	RegisterPlayer(ctx context.Context, id, displayName string) (model.Player, error)
	Rank(ctx context.Context, playerID string) (Entry, error)
	AdjustPoints(ctx context.Context, playerID string, delta int, reason, key string) (int, error)
}

// OutcomeCommands record simple outcomes and predictions.
type OutcomeCommands interface {
	RecordSimpleOutcome(ctx context.Context, name, value string) (model.AwardRecord, error)
	PlacePrediction(ctx context.Context, playerID string, key model.OutcomeKey, value string) (model.Prediction, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps     Dependencies
	maxLimit int
	logger   logger.Logger

	inflight sync.Map // idempotency keys of running commands
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxLeaderboardLimit caps GET /leaderboard?limit.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithLogger sets a custom logger for the server.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

const defaultMaxLeaderboardLimit = 100

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{deps: deps, maxLimit: defaultMaxLeaderboardLimit}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	cmd := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(s.idempotent(h), endpoint))
	}
	read := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, MetricsMiddleware(h, endpoint))
	}

	read("GET /healthz", "healthz", HandleHealth)
	read("GET /metrics", "metrics", HandleMetrics)
	read("GET /stats", "stats", s.handleStats)

	cmd("POST /divisions/{division}/slots/{number}/owner", "assign_owner", s.handleAssignOwner)
	cmd("POST /divisions/{division}/entries", "record_entry", s.handleRecordEntry)
	cmd("POST /divisions/{division}/eliminations", "record_elimination", s.handleRecordElimination)
	cmd("POST /divisions/{division}/winner", "declare_winner", s.handleDeclareWinner)
	cmd("POST /divisions/{division}/reconcile", "reconcile", s.handleReconcile)
	read("GET /divisions/{division}", "snapshot", s.handleSnapshot)

	cmd("POST /outcomes", "record_outcome", s.handleRecordOutcome)
	cmd("POST /predictions", "place_prediction", s.handlePlacePrediction)

	cmd("POST /players", "register_player", s.handleRegisterPlayer)
	read("GET /players/{id}", "player", s.handleGetPlayer)
	cmd("POST /players/{id}/adjustments", "adjust_points", s.handleAdjustPoints)
	read("GET /leaderboard", "leaderboard", s.handleLeaderboard)
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   msg,
		Retryable: model.Retryable(err),
	})
}

// writeFailure reports an engine error with its mapped status.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

func badRequest(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "bad_request", err)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.Join(ErrBadRequest, errors.New("missing body"))
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

// parseTime accepts an empty string (meaning now) or RFC3339.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Join(ErrBadRequest, errors.New("invalid time; must be RFC3339"))
	}
	return t, nil
}
