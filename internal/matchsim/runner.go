package matchsim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/rumble/internal/domain/match"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/pkg/logger"
)

// command is one HTTP call of the script.
type command struct {
	name   string
	method string
	path   string
	key    string
	body   any
	want   int
}

// Run plays a full match against the server described by cfg and verifies
// the outcome against an in-process replay.
func Run(ctx context.Context, cfg *Config) error {
	log := logger.Get().Named("matchsim")
	stats := &Stats{StartTime: time.Now()}

	div, err := model.ParseDivision(cfg.Division)
	if err != nil {
		return err
	}
	script := NewScript(cfg.Seed, div, cfg.Players, time.Now())
	stats.Players = len(script.Players)
	stats.Eliminated = script.Eliminations()

	log.Info(ctx, "starting simulated match",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("division", string(div)),
		logger.String("run", script.Run),
		logger.Int("players", stats.Players),
		logger.Int("winner", script.Winner),
		logger.Float64("redeliver", cfg.Redeliver))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)
	if err := checkServiceHealth(ctx, client); err != nil {
		return err
	}
	before, err := fetchView(ctx, client, div)
	if err != nil {
		return err
	}
	if before.State != model.StateNotStarted {
		return fmt.Errorf("%w: %s is %s", ErrDivisionStarted, div, before.State)
	}

	// Seeded separately from the script so redelivery never changes the match.
	r := rand.New(rand.NewPCG(cfg.Seed+1, cfg.Seed+2)) //nolint:gosec // simulation only
	commands := buildCommands(script)
	var winner model.AwardRecord
	for _, cmd := range commands {
		rep, err := send(ctx, client, cmd, stats)
		if err != nil {
			return err
		}
		if cfg.Verbose {
			log.Debug(ctx, "command sent", logger.String("command", cmd.name), logger.Int("status", rep.Status))
		}
		if cmd.name == "winner" {
			if err := rep.decode(&winner); err != nil {
				return err
			}
		}
		if r.Float64() < cfg.Redeliver {
			if err := redeliver(ctx, client, cmd, stats); err != nil {
				return err
			}
		}
	}

	expected, err := replay(ctx, script, winner.RecordedAt, cfg.Jobber)
	if err != nil {
		return err
	}
	if err := verify(ctx, client, script, expected); err != nil {
		return err
	}

	// Everything again: every key is a duplicate and no points move.
	for _, cmd := range commands {
		if err := redeliver(ctx, client, cmd, stats); err != nil {
			return err
		}
	}
	if _, err := send(ctx, client, command{
		name: "redeclare", method: http.MethodPost, want: http.StatusOK,
		path: "/divisions/" + string(div) + "/winner",
		body: map[string]int{"number": script.Winner},
	}, stats); err != nil {
		return err
	}
	if _, err := send(ctx, client, command{
		name: "reconcile", method: http.MethodPost, want: http.StatusOK,
		path: "/divisions/" + string(div) + "/reconcile",
	}, stats); err != nil {
		return err
	}
	if err := verify(ctx, client, script, expected); err != nil {
		return fmt.Errorf("after redelivery: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats, expected)
	return nil
}

// buildCommands lays the script out as HTTP calls, each with its own key.
func buildCommands(s *Script) []command {
	var cmds []command
	add := func(name, method, path string, body any, want int) {
		cmds = append(cmds, command{
			name: name, method: method, path: path, body: body, want: want,
			key: s.Run + "-" + strconv.Itoa(len(cmds)),
		})
	}
	divPath := "/divisions/" + string(s.Division)

	for _, p := range s.Players {
		add("player", http.MethodPost, "/players", map[string]string{"id": p.ID, "display_name": p.Name}, http.StatusCreated)
	}
	for _, pick := range s.Picks {
		add("prediction", http.MethodPost, "/predictions", map[string]string{
			"player_id": pick.PlayerID,
			"division":  string(s.Division),
			"kind":      string(pick.Kind),
			"subject":   pick.Subject,
			"value":     pick.Value,
		}, http.StatusCreated)
	}
	for i, owner := range s.Owners {
		add("owner", http.MethodPost, divPath+"/slots/"+strconv.Itoa(i+1)+"/owner",
			map[string]string{"player_id": owner}, http.StatusOK)
	}
	for _, m := range s.Moves {
		switch m.Action {
		case ActionEntry:
			add("entry", http.MethodPost, divPath+"/entries", map[string]any{
				"number": m.Slot, "wrestler": m.Wrestler, "at": m.At.Format(time.RFC3339Nano),
			}, http.StatusCreated)
		case ActionElimination:
			add("elimination", http.MethodPost, divPath+"/eliminations", map[string]any{
				"number": m.Slot, "eliminated_by": m.By, "at": m.At.Format(time.RFC3339Nano),
			}, http.StatusCreated)
		case ActionWinner:
			add("winner", http.MethodPost, divPath+"/winner", map[string]int{"number": m.Slot}, http.StatusOK)
		}
	}
	add("outcome", http.MethodPost, "/outcomes", map[string]string{"key": s.Prop, "value": s.Outcome}, http.StatusOK)
	return cmds
}

func send(ctx context.Context, c *httpClient, cmd command, stats *Stats) (reply, error) {
	stats.Commands++
	rep, err := c.do(ctx, cmd.method, cmd.path, cmd.key, cmd.body)
	if err != nil {
		stats.Failed++
		return reply{}, fmt.Errorf("%s: %w", cmd.name, err)
	}
	if rep.Status != cmd.want {
		stats.Failed++
		return reply{}, fmt.Errorf("%w: %s %s returned %d: %s", ErrUnexpected, cmd.method, cmd.path, rep.Status, rep.Body)
	}
	return rep, nil
}

// redeliver repeats cmd with its key and expects a duplicate acknowledgement.
func redeliver(ctx context.Context, c *httpClient, cmd command, stats *Stats) error {
	stats.Commands++
	rep, err := c.do(ctx, cmd.method, cmd.path, cmd.key, cmd.body)
	if err != nil {
		stats.Failed++
		return fmt.Errorf("redeliver %s: %w", cmd.name, err)
	}
	if !rep.duplicate() {
		stats.Failed++
		return fmt.Errorf("%w: redelivered %s %s returned %d: %s", ErrUnexpected, cmd.method, cmd.path, rep.Status, rep.Body)
	}
	stats.Duplicates++
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, c *httpClient) error {
	rep, err := c.do(ctx, http.MethodGet, "/healthz", "", nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if rep.Status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, rep.Status)
	}
	return nil
}

func fetchView(ctx context.Context, c *httpClient, div model.Division) (match.View, error) {
	var v match.View
	rep, err := c.do(ctx, http.MethodGet, "/divisions/"+string(div), "", nil)
	if err != nil {
		return v, err
	}
	if rep.Status != http.StatusOK {
		return v, fmt.Errorf("%w: snapshot returned %d", ErrUnexpected, rep.Status)
	}
	return v, rep.decode(&v)
}

func fetchPlayer(ctx context.Context, c *httpClient, id string) (Entry, error) {
	var e Entry
	rep, err := c.do(ctx, http.MethodGet, "/players/"+url.PathEscape(id), "", nil)
	if err != nil {
		return e, err
	}
	if rep.Status != http.StatusOK {
		return e, fmt.Errorf("%w: player %s returned %d", ErrUnexpected, id, rep.Status)
	}
	return e, rep.decode(&e)
}

// displayFinalStats logs the run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats, r *Replay) {
	log.Info(ctx, "simulated match verified",
		logger.Int("commands", stats.Commands),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed),
		logger.Int("players", stats.Players),
		logger.Int("eliminations", stats.Eliminated),
		logger.Int("winner", r.winnerSlot()),
		logger.Int("pointsAwarded", r.expectedTotal()),
		logger.String("duration", stats.Duration.String()))
}
