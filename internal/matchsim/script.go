// Package matchsim plays a randomised 30-entrant match against a running
// server over HTTP and checks the awards it produced against an in-process
// replay of the same script.
package matchsim

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rumble/internal/domain/model"
)

// Script generation constants.
const (
	entryInterval     = 90 * time.Second
	maxEliminationGap = 80
	eliminationChance = 0.45
	creditChance      = 0.8
	truthChance       = 0.3
	simpleOutcome     = "opening_match"
)

var simpleValues = []string{"red", "blue"} //nolint:gochecknoglobals // fixed prop values

// Action is one kind of slot command.
type Action string

// Slot actions.
const (
	ActionEntry       Action = "entry"
	ActionElimination Action = "elimination"
	ActionWinner      Action = "winner"
)

// Move is one host command on the division.
type Move struct {
	Action   Action
	Slot     int
	By       int
	Wrestler string
	At       time.Time

	offset time.Duration
}

// Pick is one prediction.
type Pick struct {
	PlayerID string
	Kind     model.OutcomeKind
	Subject  string
	Value    string
}

// Player is a simulated participant.
type Player struct {
	ID   string
	Name string
}

// Script is a complete, valid match: every slot enters, eliminations only
// hit active slots and exactly one survivor is declared winner.
type Script struct {
	Run      string
	Division model.Division
	Players  []Player
	Owners   [model.SlotCount]string
	Picks    []Pick
	Moves    []Move
	Winner   int
	Prop     string
	Outcome  string
}

// NewScript builds a script from seed. Times end shortly before now.
func NewScript(seed uint64, div model.Division, players int, now time.Time) *Script {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // simulation only
	if players < 1 {
		players = 1
	}

	s := &Script{
		Run:      uuid.NewString()[:8],
		Division: div,
		Outcome:  simpleValues[r.IntN(len(simpleValues))],
	}
	s.Prop = simpleOutcome + "-" + s.Run
	for i := range players {
		s.Players = append(s.Players, Player{
			ID:   fmt.Sprintf("sim-%s-%02d", s.Run, i+1),
			Name: fmt.Sprintf("Player %d", i+1),
		})
	}
	for i := range s.Owners {
		s.Owners[i] = s.Players[r.IntN(players)].ID
	}

	names := make([]string, model.SlotCount)
	for i, p := range r.Perm(model.SlotCount) {
		names[i] = fmt.Sprintf("Wrestler %02d", p+1)
	}

	// Offsets are relative to the first entry and shifted at the end.
	var (
		moves  []Move
		active []int
		clock  time.Duration
	)
	eliminate := func() {
		i := r.IntN(len(active))
		slot := active[i]
		active = append(active[:i], active[i+1:]...)
		by := 0
		if r.Float64() < creditChance {
			by = active[r.IntN(len(active))]
		}
		clock += time.Duration(r.IntN(maxEliminationGap)+1) * time.Second
		moves = append(moves, Move{Action: ActionElimination, Slot: slot, By: by, offset: clock})
	}
	for n := 1; n <= model.SlotCount; n++ {
		at := time.Duration(n-1) * entryInterval
		if at <= clock {
			at = clock + time.Second
		}
		clock = at
		moves = append(moves, Move{Action: ActionEntry, Slot: n, Wrestler: names[n-1], offset: clock})
		active = append(active, n)
		// Keep five or more active so the field passes through four.
		for len(active) > 4 && r.Float64() < eliminationChance {
			eliminate()
		}
	}
	for len(active) > 1 {
		eliminate()
	}
	s.Winner = active[0]
	moves = append(moves, Move{Action: ActionWinner, Slot: s.Winner})

	base := now.UTC().Truncate(time.Second).Add(-clock - time.Minute)
	for i := range moves {
		if moves[i].Action != ActionWinner {
			moves[i].At = base.Add(moves[i].offset)
		}
	}
	s.Moves = moves

	kinds := []model.OutcomeKind{
		model.KindEntrantOne, model.KindFirstElimination, model.KindMostEliminations,
		model.KindLongestDuration, model.KindDivisionWinner,
	}
	for _, p := range s.Players {
		for _, kind := range kinds {
			value := names[r.IntN(len(names))]
			if kind == model.KindDivisionWinner && r.Float64() < truthChance {
				value = names[s.Winner-1]
			}
			if r.IntN(4) == 0 {
				// Slot numbers are accepted in place of names.
				value = strconv.Itoa(r.IntN(model.SlotCount) + 1)
			}
			s.Picks = append(s.Picks, Pick{PlayerID: p.ID, Kind: kind, Value: value})
		}
		s.Picks = append(s.Picks, Pick{
			PlayerID: p.ID,
			Kind:     model.KindSimple,
			Subject:  s.Prop,
			Value:    simpleValues[r.IntN(len(simpleValues))],
		})
	}
	return s
}

// Key returns the outcome key of a pick.
func (p Pick) Key(div model.Division) model.OutcomeKey {
	if p.Kind == model.KindSimple {
		return model.SimpleKey(p.Subject)
	}
	return model.DivisionKey(div, p.Kind)
}

// Eliminations counts the elimination moves.
func (s *Script) Eliminations() int {
	n := 0
	for _, m := range s.Moves {
		if m.Action == ActionElimination {
			n++
		}
	}
	return n
}
