// Package sqlite is a single-file repository.Store for parties that want
// their state to survive a restart without running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/rumble/internal/adapters/repository"
	"github.com/okian/rumble/internal/domain/model"
	"github.com/okian/rumble/internal/domain/types"
	_ "modernc.org/sqlite"
)

var _ repository.Store = (*Store)(nil)

// Store provides SQLite-backed party persistence.
type Store struct {
	db *sql.DB
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; conditional writes stay atomic without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Slots(ctx context.Context, party string, div model.Division) ([model.SlotCount]model.Slot, int64, error) {
	snap := model.EmptySnapshot(div)
	// The version is read before the slots: a write landing in between makes
	// the caller's next conditional write miss instead of hiding it.
	var version int64
	err := s.db.QueryRowContext(ctx, `
SELECT version FROM divisions WHERE party = ? AND division = ?`, party, string(div)).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snap.Slots, 0, storageErr("load division version", err)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT number, wrestler, owner, entry_time, elimination_time, eliminated_by
FROM slots
WHERE party = ? AND division = ?`, party, string(div))
	if err != nil {
		return snap.Slots, 0, storageErr("load slots", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			slot        model.Slot
			entry, elim sql.NullInt64
		)
		if err := rows.Scan(&slot.Number, &slot.WrestlerName, &slot.OwnerPlayerID, &entry, &elim, &slot.EliminatedBy); err != nil {
			return snap.Slots, 0, storageErr("scan slot", err)
		}
		if !model.ValidSlotNumber(slot.Number) {
			continue
		}
		slot.EntryTime = fromNull(entry)
		slot.EliminationTime = fromNull(elim)
		snap.Slots[slot.Number-1] = slot
	}
	if err := rows.Err(); err != nil {
		return snap.Slots, 0, storageErr("iterate slots", err)
	}
	return snap.Slots, version, nil
}

// writeSlot moves the division from version to version+1 and runs stmt in
// the same transaction. Nothing is written unless both steps hit a row.
func (s *Store) writeSlot(ctx context.Context, op, party string, div model.Division, version int64, stmt string, args ...any) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr("begin "+op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO divisions (party, division, version) VALUES (?, ?, 0)
ON CONFLICT (party, division) DO NOTHING`, party, string(div)); err != nil {
		return false, storageErr(op, err)
	}
	res, err := tx.ExecContext(ctx, `
UPDATE divisions SET version = version + 1
WHERE party = ? AND division = ? AND version = ?`, party, string(div), version)
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
INSERT INTO slots (party, division, number, owner) VALUES (?, ?, ?, ?)
ON CONFLICT (party, division, number) DO UPDATE SET owner = excluded.owner
WHERE slots.entry_time IS NULL`, party, string(div), number, playerID)
}

func (s *Store) SaveEntry(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error) {
	return s.writeSlot(ctx, "save entry", party, div, version, `
INSERT INTO slots (party, division, number, wrestler, owner, entry_time) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (party, division, number) DO UPDATE SET
	wrestler = excluded.wrestler,
	owner = excluded.owner,
	entry_time = excluded.entry_time
WHERE slots.entry_time IS NULL`,
		party, string(div), slot.Number, slot.WrestlerName, slot.OwnerPlayerID, toNull(slot.EntryTime))
}

func (s *Store) SaveElimination(ctx context.Context, party string, div model.Division, version int64, slot model.Slot) (bool, error) {
	return s.writeSlot(ctx, "save elimination", party, div, version, `
UPDATE slots SET elimination_time = ?, eliminated_by = ?
WHERE party = ? AND division = ? AND number = ?
	AND entry_time IS NOT NULL AND elimination_time IS NULL`,
		toNull(slot.EliminationTime), slot.EliminatedBy, party, string(div), slot.Number)
}

func (s *Store) InsertAward(ctx context.Context, party string, rec model.AwardRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO awards (party, outcome_key, value, slot, recorded_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (party, outcome_key) DO NOTHING`,
		party, rec.Key.String(), rec.Value, rec.Slot, rec.RecordedAt.UTC().UnixNano())
	if err != nil {
		return false, storageErr("insert award", err)
	}
	return affected(res)
}

func (s *Store) Award(ctx context.Context, party string, key model.OutcomeKey) (model.AwardRecord, error) {
	rec := model.AwardRecord{Key: key}
	var at int64
	err := s.db.QueryRowContext(ctx, `
SELECT value, slot, recorded_at FROM awards WHERE party = ? AND outcome_key = ?`,
		party, key.String()).Scan(&rec.Value, &rec.Slot, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AwardRecord{}, repository.ErrNotFound
	}
	if err != nil {
		return model.AwardRecord{}, storageErr("load award", err)
	}
	rec.RecordedAt = time.Unix(0, at).UTC()
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

	res, err := tx.ExecContext(ctx, `
INSERT INTO payouts (party, marker, player_id, delta) VALUES (?, ?, ?, ?)
ON CONFLICT (party, marker) DO NOTHING`, party, p.MarkerKey(), p.PlayerID, p.Delta)
	if err != nil {
		return false, 0, storageErr("insert payout", err)
	}
	inserted, err := affected(res)
	if err != nil {
		return false, 0, err
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
INSERT INTO players (party, id, display_name, points) VALUES (?, ?, ?, 0)
ON CONFLICT (party, id) DO UPDATE SET display_name = excluded.display_name
RETURNING display_name, points`, party, p.ID, name).Scan(&out.DisplayName, &out.Points)
	if err != nil {
		return model.Player{}, storageErr("upsert player", err)
	}
	return out, nil
}

func (s *Store) Player(ctx context.Context, party, id string) (model.Player, error) {
	out := model.Player{ID: id}
	err := s.db.QueryRowContext(ctx, `
SELECT display_name, points FROM players WHERE party = ? AND id = ?`, party, id).Scan(&out.DisplayName, &out.Points)
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
SELECT id, display_name, points FROM players
WHERE party = ?
ORDER BY points DESC, id ASC
LIMIT ?`, party, limit)
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
	p, err := s.Player(ctx, party, id)
	if err != nil {
		return types.Entry{}, err
	}
	var above int
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM players WHERE party = ? AND points > ?`, party, p.Points).Scan(&above); err != nil {
		return types.Entry{}, storageErr("rank", err)
	}
	return types.Entry{Rank: above + 1, PlayerID: p.ID, DisplayName: p.DisplayName, Points: p.Points}, nil
}

func (s *Store) PlayerCount(ctx context.Context, party string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players WHERE party = ?`, party).Scan(&n); err != nil {
		return 0, storageErr("count players", err)
	}
	return n, nil
}

func (s *Store) SavePrediction(ctx context.Context, party string, p model.Prediction) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO predictions (party, outcome_key, player_id, value, placed_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (party, outcome_key, player_id) DO UPDATE SET
	value = excluded.value,
	placed_at = excluded.placed_at`,
		party, p.Key.String(), p.PlayerID, p.Value, p.PlacedAt.UTC().UnixNano())
	if err != nil {
		return storageErr("save prediction", err)
	}
	return nil
}

func (s *Store) Predictions(ctx context.Context, party string, key model.OutcomeKey) ([]model.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT player_id, value, placed_at FROM predictions
WHERE party = ? AND outcome_key = ?
ORDER BY player_id`, party, key.String())
	if err != nil {
		return nil, storageErr("load predictions", err)
	}
	defer rows.Close()
	var out []model.Prediction
	for rows.Next() {
		p := model.Prediction{Key: key}
		var at int64
		if err := rows.Scan(&p.PlayerID, &p.Value, &at); err != nil {
			return nil, storageErr("scan prediction", err)
		}
		p.PlacedAt = time.Unix(0, at).UTC()
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
INSERT INTO players (party, id, display_name, points) VALUES (?, ?, ?, ?)
ON CONFLICT (party, id) DO UPDATE SET points = players.points + excluded.points
RETURNING points`, party, playerID, playerID, delta).Scan(&total)
	return total, err
}

func points(ctx context.Context, q querier, party, playerID string) (int, error) {
	var total int
	err := q.QueryRowContext(ctx, `SELECT points FROM players WHERE party = ? AND id = ?`, party, playerID).Scan(&total)
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

func toNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixNano(), Valid: true}
}

func fromNull(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64).UTC()
}

func storageErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: sqlite %s: %w", model.ErrStorageUnavailable, op, err)
}
