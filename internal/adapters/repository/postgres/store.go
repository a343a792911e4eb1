// Package postgres is the repository.Store for parties shared by several
// rumble instances. Every guard is a unique key or a conditional UPDATE, so
// instances need no coordination beyond the database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/okian/rumble/internal/adapters/repository"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/types"
)

var _ repository.Store = (*Store)(nil)

// Store stores party state in PostgreSQL.
type Store struct {
	db *sql.DB
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS rumble_slots (
	party VARCHAR(200) NOT NULL,
	division VARCHAR(50) NOT NULL,
	number INTEGER NOT NULL,
	wrestler VARCHAR(200) NOT NULL DEFAULT '',
	owner VARCHAR(200) NOT NULL DEFAULT '',
	entry_time TIMESTAMPTZ,
	elimination_time TIMESTAMPTZ,
	eliminated_by INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (party, division, number)
);

CREATE TABLE IF NOT EXISTS rumble_divisions (
	party VARCHAR(200) NOT NULL,
	division VARCHAR(50) NOT NULL,
	version BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (party, division)
);

CREATE TABLE IF NOT EXISTS rumble_awards (
	party VARCHAR(200) NOT NULL,
	outcome_key VARCHAR(500) NOT NULL,
	value VARCHAR(500) NOT NULL,
	slot INTEGER NOT NULL DEFAULT 0,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (party, outcome_key)
);

CREATE TABLE IF NOT EXISTS rumble_payouts (
	party VARCHAR(200) NOT NULL,
	marker VARCHAR(800) NOT NULL,
	player_id VARCHAR(200) NOT NULL,
	delta INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (party, marker)
);

CREATE TABLE IF NOT EXISTS rumble_players (
	party VARCHAR(200) NOT NULL,
	id VARCHAR(200) NOT NULL,
	display_name VARCHAR(200) NOT NULL,
	points INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (party, id)
);

CREATE INDEX IF NOT EXISTS idx_rumble_players_points ON rumble_players (party, points DESC, id);

CREATE TABLE IF NOT EXISTS rumble_predictions (
	party VARCHAR(200) NOT NULL,
	outcome_key VARCHAR(500) NOT NULL,
	player_id VARCHAR(200) NOT NULL,
	value VARCHAR(500) NOT NULL,
	placed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (party, outcome_key, player_id)
);
`

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Truncate removes every row of a party.
func (s *Store) Truncate(ctx context.Context, party string) error {
	for _, table := range []string{"rumble_slots", "rumble_divisions", "rumble_awards", "rumble_payouts", "rumble_players", "rumble_predictions"} {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE party = $1`, party); err != nil {
			return storageErr("truncate "+table, err)
		}
	}
	return nil
}

func (s *Store) Slots(ctx context.Context, party string, div model.Division) ([model.SlotCount]model.Slot, int64, error) {
	snap := model.EmptySnapshot(div)
	// Version first: a write committed between the two reads can only leave
	// the version stale, which the next conditional write detects.
	var version int64
	err := s.db.QueryRowContext(ctx, `
	SELECT version FROM rumble_divisions WHERE party = $1 AND division = $2`, party, string(div)).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snap.Slots, 0, storageErr("load division version", err)
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT number, wrestler, owner, entry_time, elimination_time, eliminated_by
	FROM rumble_slots
	WHERE party = $1 AND division = $2`, party, string(div))
	if err != nil {
		return snap.Slots, 0, storageErr("load slots", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			slot        model.Slot
			entry, elim sql.NullTime
		)
		if err := rows.Scan(&slot.Number, &slot.WrestlerName, &slot.OwnerPlayerID, &entry, &elim, &slot.EliminatedBy); err != nil {
			return snap.Slots, 0, storageErr("scan slot", err)
		}
		if !model.ValidSlotNumber(slot.Number) {
			continue
		}
		if entry.Valid {
			slot.EntryTime = entry.Time.UTC()
		}
		if elim.Valid {
			slot.EliminationTime = elim.Time.UTC()
		}
		snap.Slots[slot.Number-1] = slot
	}
	if err := rows.Err(); err != nil {
		return snap.Slots, 0, storageErr("iterate slots", err)
	}
	return snap.Slots, version, nil
}

// writeSlot bumps the division version from version and runs stmt in the
// same transaction. A concurrent writer holding the version row makes this
// UPDATE wait, re-check and miss.
func (s *Store) writeSlot(ctx context.Context, op, party string, div model.Division, version int64, stmt string, args ...any) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("begin "+op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO rumble_divisions (party, division, version) VALUES ($1, $2, 0)
	ON CONFLICT (party, division) DO NOTHING`, party, string(div)); err != nil {
		return false, storageErr(op, err)
	}
	res, err := tx.ExecContext(ctx, `
	UPDATE rumble_divisions SET version = version + 1
	WHERE party = $1 AND division = $2 AND version = $3`, party, string(div), version)
	if err != nil {
		return false, storageErr(op, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}
	res, err = tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, storageErr(op, err)
	}
	if ok, err := affected(res); err != nil || !ok {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, storageErr("commit "+op, err)
	}
	return true, nil
}

func (s *Store) SetOwner(ctx context.Context, party string, div model.Division, version int64, number int, playerID string) (bool, error) {
	return s.writeSlot(ctx, "set owner", party, div, version, `
	INSERT INTO rumble_slots (party, division, number, owner) VALUES ($1, $2, $3, $4)
	ON CONFLICT (party, division, number) DO UPDATE SET owner = EXCLUDED.owner
	WHERE rumble_slots.entry_time IS NULL`, party, string(div), number, playerID)
}

func (s *Store) SaveEntry(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error) {
	return s.writeSlot(ctx, "save entry", party, div, version, `
	INSERT INTO rumble_slots (party, division, number, wrestler, owner, entry_time) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (party, division, number) DO UPDATE SET
		wrestler = EXCLUDED.wrestler,
		owner = EXCLUDED.owner,
		entry_time = EXCLUDED.entry_time
	WHERE rumble_slots.entry_time IS NULL`,
		party, string(div), slot.Number, slot.WrestlerName, slot.OwnerPlayerID, nullTime(slot.EntryTime))
}

func (s *Store) SaveElimination(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error) {
	return s.writeSlot(ctx, "save elimination", party, div, version, `
	UPDATE rumble_slots SET elimination_time = $1, eliminated_by = $2
	WHERE party = $3 AND division = $4 AND number = $5
		AND entry_time IS NOT NULL AND elimination_time IS NULL`,
		nullTime(slot.EliminationTime), slot.EliminatedBy, party, string(div), slot.Number)
}

// InsertAward relies on RETURNING: no row back means the key already existed.
func (s *Store) InsertAward(ctx context.Context, party string, rec model.AwardRecord) (bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
	INSERT INTO rumble_awards (party, outcome_key, value, slot, recorded_at) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (party, outcome_key) DO NOTHING
	RETURNING outcome_key`,
		party, rec.Key.String(), rec.Value, rec.Slot, rec.RecordedAt.UTC()).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("insert award", err)
	}
	return true, nil
}

func (s *Store) Award(ctx context.Context, party string, key model.OutcomeKey) (model.AwardRecord, error) {
	rec := model.AwardRecord{Key: key}
	err := s.db.QueryRowContext(ctx, `
	SELECT value, slot, recorded_at FROM rumble_awards WHERE party = $1 AND outcome_key = $2`,
		party, key.String()).Scan(&rec.Value, &rec.Slot, &rec.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AwardRecord{}, repository.ErrNotFound
	}
	if err != nil {
		return model.AwardRecord{}, storageErr("load award", err)
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}

func (s *Store) IncrementPoints(ctx context.Context, party, playerID string, delta int) (int, error) {
	total, err := increment(ctx, s.db, party, playerID, delta)
	if err != nil {
		return 0, storageErr("increment points", err)
	}
	return total, nil
}

func (s *Store) GrantOnce(ctx context.Context, party string, p model.Payout) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, storageErr("begin grant", err)
	}
	defer func() { _ = tx.Rollback() }()

	var marker string
	err = tx.QueryRowContext(ctx, `
	INSERT INTO rumble_payouts (party, marker, player_id, delta) VALUES ($1, $2, $3, $4)
	ON CONFLICT (party, marker) DO NOTHING
	RETURNING marker`, party, p.MarkerKey(), p.PlayerID, p.Delta).Scan(&marker)
	inserted := true
	if errors.Is(err, sql.ErrNoRows) {
		inserted = false
	} else if err != nil {
		return false, 0, storageErr("insert payout", err)
	}

	var total int
	if inserted {
		total, err = increment(ctx, tx, party, p.PlayerID, p.Delta)
	} else {
		total, err = points(ctx, tx, party, p.PlayerID)
	}
	if err != nil {
		return false, 0, storageErr("grant points", err)
	}
	if err := tx.Commit(); err != nil {
		return false, 0, storageErr("commit grant", err)
	}
	return inserted, total, nil
}

func (s *Store) UpsertPlayer(ctx context.Context, party string, p model.Player) (model.Player, error) {
	name := p.DisplayName
	if name == "" {
		name = p.ID
	}
	out := model.Player{ID: p.ID}
	err := s.db.QueryRowContext(ctx, `
	INSERT INTO rumble_players (party, id, display_name, points) VALUES ($1, $2, $3, 0)
	ON CONFLICT (party, id) DO UPDATE SET display_name = EXCLUDED.display_name
	RETURNING display_name, points`, party, p.ID, name).Scan(&out.DisplayName, &out.Points)
	if err != nil {
		return model.Player{}, storageErr("upsert player", err)
	}
	return out, nil
}

func (s *Store) Player(ctx context.Context, party, id string) (model.Player, error) {
	out := model.Player{ID: id}
	err := s.db.QueryRowContext(ctx, `
	SELECT display_name, points FROM rumble_players WHERE party = $1 AND id = $2`, party, id).Scan(&out.DisplayName, &out.Points)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Player{}, repository.ErrNotFound
	}
	if err != nil {
		return model.Player{}, storageErr("load player", err)
	}
	return out, nil
}

func (s *Store) Leaderboard(ctx context.Context, party string, limit int) ([]types.Entry, error) {
	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, display_name, points FROM rumble_players
	WHERE party = $1
	ORDER BY points DESC, id ASC
	LIMIT $2`, party, limit)
	if err != nil {
		return nil, storageErr("leaderboard", err)
	}
	defer rows.Close()
	out := make([]types.Entry, 0, limit)
	for rows.Next() {
		var e types.Entry
		if err := rows.Scan(&e.PlayerID, &e.DisplayName, &e.Points); err != nil {
			return nil, storageErr("scan leaderboard", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate leaderboard", err)
	}
	repository.AssignRanks(out)
	return out, nil
}

func (s *Store) Rank(ctx context.Context, party, id string) (types.Entry, error) {
	var e types.Entry
	err := s.db.QueryRowContext(ctx, `
	SELECT p.id, p.display_name, p.points,
		(SELECT COUNT(*) FROM rumble_players o WHERE o.party = p.party AND o.points > p.points) + 1
	FROM rumble_players p
	WHERE p.party = $1 AND p.id = $2`, party, id).Scan(&e.PlayerID, &e.DisplayName, &e.Points, &e.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Entry{}, repository.ErrNotFound
	}
	if err != nil {
		return types.Entry{}, storageErr("rank", err)
	}
	return e, nil
}

func (s *Store) PlayerCount(ctx context.Context, party string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rumble_players WHERE party = $1`, party).Scan(&n); err != nil {
		return 0, storageErr("count players", err)
	}
	return n, nil
}

func (s *Store) SavePrediction(ctx context.Context, party string, p model.Prediction) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO rumble_predictions (party, outcome_key, player_id, value, placed_at) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (party, outcome_key, player_id) DO UPDATE SET
		value = EXCLUDED.value,
		placed_at = EXCLUDED.placed_at`,
		party, p.Key.String(), p.PlayerID, p.Value, p.PlacedAt.UTC())
	if err != nil {
		return storageErr("save prediction", err)
	}
	return nil
}

func (s *Store) Predictions(ctx context.Context, party string, key model.OutcomeKey) ([]model.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT player_id, value, placed_at FROM rumble_predictions
	WHERE party = $1 AND outcome_key = $2
	ORDER BY player_id`, party, key.String())
	if err != nil {
		return nil, storageErr("load predictions", err)
	}
	defer rows.Close()
	var out []model.Prediction
	for rows.Next() {
		p := model.Prediction{Key: key}
		if err := rows.Scan(&p.PlayerID, &p.Value, &p.PlacedAt); err != nil {
			return nil, storageErr("scan prediction", err)
		}
		p.PlacedAt = p.PlacedAt.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate predictions", err)
	}
	return out, nil
}

func increment(ctx context.Context, q querier, party, playerID string, delta int) (int, error) {
	var total int
	err := q.QueryRowContext(ctx, `
	INSERT INTO rumble_players (party, id, display_name, points) VALUES ($1, $2, $2, $3)
	ON CONFLICT (party, id) DO UPDATE SET points = rumble_players.points + EXCLUDED.points
	RETURNING points`, party, playerID, delta).Scan(&total)
	return total, err
}

func points(ctx context.Context, q querier, party, playerID string) (int, error) {
	var total int
	err := q.QueryRowContext(ctx, `SELECT points FROM rumble_players WHERE party = $1 AND id = $2`, party, playerID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("rows affected", err)
	}
	return n > 0, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

// storageErr marks a database failure as retryable and names the
// PostgreSQL condition when there is one.
func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%w: postgres %s (%s): %w", model.ErrStorageUnavailable, op, pqErr.Code.Name(), err)
	}
	return fmt.Errorf("%w: postgres %s: %w", model.ErrStorageUnavailable, op, err)
}
