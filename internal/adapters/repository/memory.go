package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/types"
	"github.com/okian/rumble/pkg/metrics"
)

var _ Store = (*MemoryStore)(nil)

// partyState is everything stored for one party. Guarded by MemoryStore.mu.
type partyState struct {
	slots       map[model.Division]*[model.SlotCount]model.Slot
	versions    map[model.Division]int64
	awards      map[string]model.AwardRecord
	markers     map[string]struct{}
	players     map[string]*model.Player
	predictions map[string]map[string]model.Prediction // outcome key -> player id
	standings   *Standings
}

func newPartyState() *partyState {
	return &partyState{
		slots:       make(map[model.Division]*[model.SlotCount]model.Slot),
		versions:    make(map[model.Division]int64),
		awards:      make(map[string]model.AwardRecord),
		markers:     make(map[string]struct{}),
		players:     make(map[string]*model.Player),
		predictions: make(map[string]map[string]model.Prediction),
		standings:   NewStandings(),
	}
}

// MemoryStore keeps all state in process. A single mutex makes every
// conditional write atomic; standings are maintained on each point change.
type MemoryStore struct {
	mu      sync.Mutex
	parties map[string]*partyState

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	closeOnce             sync.Once
}

// NewMemoryStore constructs an in-memory store. The background metrics
// updater stops when ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		parties:               make(map[string]*partyState),
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// party returns the state for id, creating it. Must be called with s.mu held.
func (s *MemoryStore) party(id string) *partyState {
	p, ok := s.parties[id]
	if !ok {
		p = newPartyState()
		s.parties[id] = p
	}
	return p
}

func (p *partyState) division(div model.Division) *[model.SlotCount]model.Slot {
	slots, ok := p.slots[div]
	if !ok {
		snap := model.EmptySnapshot(div)
		slots = &snap.Slots
		p.slots[div] = slots
	}
	return slots
}

// player returns the player, creating it with its id as display name.
func (p *partyState) player(id string) *model.Player {
	pl, ok := p.players[id]
	if !ok {
		pl = &model.Player{ID: id, DisplayName: id}
		p.players[id] = pl
		p.standings.Set(id, pl.DisplayName, 0)
	}
	return pl
}

func (p *partyState) addPoints(id string, delta int) int {
	pl := p.player(id)
	pl.Points += delta
	p.standings.Set(id, pl.DisplayName, pl.Points)
	return pl.Points
}

func (s *MemoryStore) Slots(ctx context.Context, party string, div model.Division) ([model.SlotCount]model.Slot, int64, error) {
	if err := ctx.Err(); err != nil {
		return [model.SlotCount]model.Slot{}, 0, err
	}
	defer observeQuery(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.party(party)
	return *p.division(div), p.versions[div], nil
}

// writeSlot applies fn to slot number when div is still at version and fn
// accepts the current slot. Must be called with s.mu held.
func (p *partyState) writeSlot(div model.Division, version int64, number int, fn func(cur *model.Slot) bool) bool {
	if p.versions[div] != version {
		return false
	}
	slots := p.division(div)
	cur := slots[number-1]
	if !fn(&cur) {
		return false
	}
	slots[number-1] = cur
	p.versions[div]++
	return true
}

func (s *MemoryStore) SetOwner(ctx context.Context, party string, div model.Division, version int64, number int, playerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.party(party).writeSlot(div, version, number, func(cur *model.Slot) bool {
		if cur.Entered() {
			return false
		}
		cur.OwnerPlayerID = playerID
		return true
	}), nil
}

func (s *MemoryStore) SaveEntry(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.party(party).writeSlot(div, version, slot.Number, func(cur *model.Slot) bool {
		if cur.Entered() {
			return false
		}
		cur.WrestlerName = slot.WrestlerName
		cur.OwnerPlayerID = slot.OwnerPlayerID
		cur.EntryTime = slot.EntryTime
		return true
	}), nil
}

func (s *MemoryStore) SaveElimination(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.party(party).writeSlot(div, version, slot.Number, func(cur *model.Slot) bool {
		if !cur.Active() {
			return false
		}
		cur.EliminationTime = slot.EliminationTime
		cur.EliminatedBy = slot.EliminatedBy
		return true
	}), nil
}

func (s *MemoryStore) InsertAward(ctx context.Context, party string, rec model.AwardRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.party(party)
	key := rec.Key.String()
	if _, ok := p.awards[key]; ok {
		return false, nil
	}
	p.awards[key] = rec
	return true, nil
}

func (s *MemoryStore) Award(ctx context.Context, party string, key model.OutcomeKey) (model.AwardRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.AwardRecord{}, err
	}
	defer observeQuery(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.party(party).awards[key.String()]
	if !ok {
		return model.AwardRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) IncrementPoints(ctx context.Context, party, playerID string, delta int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.party(party).addPoints(playerID, delta), nil
}

func (s *MemoryStore) GrantOnce(ctx context.Context, party string, pay model.Payout) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.party(party)
	marker := pay.MarkerKey()
	if _, ok := p.markers[marker]; ok {
		return false, p.player(pay.PlayerID).Points, nil
	}
	p.markers[marker] = struct{}{}
	return true, p.addPoints(pay.PlayerID, pay.Delta), nil
}

func (s *MemoryStore) UpsertPlayer(ctx context.Context, party string, in model.Player) (model.Player, error) {
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.party(party)
	pl := p.player(in.ID)
	if in.DisplayName != "" {
		pl.DisplayName = in.DisplayName
	}
	p.standings.Set(pl.ID, pl.DisplayName, pl.Points)
	return *pl, nil
}

func (s *MemoryStore) Player(ctx context.Context, party, id string) (model.Player, error) {
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}
	defer observeQuery(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	pl, ok := s.party(party).players[id]
	if !ok {
		return model.Player{}, ErrNotFound
	}
	return *pl, nil
}

func (s *MemoryStore) Leaderboard(ctx context.Context, party string, limit int) ([]types.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer observeQuery(time.Now())
	s.mu.Lock()
	st := s.party(party).standings
	s.mu.Unlock()
	return st.Top(limit)
}

func (s *MemoryStore) Rank(ctx context.Context, party, id string) (types.Entry, error) {
	if err := ctx.Err(); err != nil {
		return types.Entry{}, err
	}
	defer observeQuery(time.Now())
	s.mu.Lock()
	st := s.party(party).standings
	s.mu.Unlock()
	return st.Rank(id)
}

func (s *MemoryStore) PlayerCount(ctx context.Context, party string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.party(party).players), nil
}

func (s *MemoryStore) SavePrediction(ctx context.Context, party string, pred model.Prediction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer observeUpdate(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.party(party)
	key := pred.Key.String()
	byPlayer, ok := p.predictions[key]
	if !ok {
		byPlayer = make(map[string]model.Prediction)
		p.predictions[key] = byPlayer
	}
	byPlayer[pred.PlayerID] = pred
	return nil
}

func (s *MemoryStore) Predictions(ctx context.Context, party string, key model.OutcomeKey) ([]model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer observeQuery(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	byPlayer := s.party(party).predictions[key.String()]
	out := make([]model.Prediction, 0, len(byPlayer))
	for _, pred := range byPlayer {
		out = append(out, pred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

// Close stops the background metrics updater.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.updateMetrics()
			}
		}
	}()
}

func (s *MemoryStore) updateMetrics() {
	s.mu.Lock()
	total := 0
	for _, p := range s.parties {
		total += len(p.players)
	}
	s.mu.Unlock()
	metrics.UpdatePlayersTotal(total)
}

func observeUpdate(start time.Time) {
	metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Milliseconds()))
}

func observeQuery(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
}
