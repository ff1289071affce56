// Package sqlite is the embedded SQLite implementation of storage.Store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/storage"
	"taixiu-backend/internal/storage/sqlite/migrations"
)

const (
	tablePlayers  = "players"
	tableOutcomes = "outcomes"
	tableWagers   = "wagers"
)

var playerColumns = []string{"user_id", "username", "balance", "created_at", "updated_at"}

var outcomeColumns = []string{"id", "seed", "pre_image", "hash", "dice", "total", "side", "created_at"}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides SQLite-backed persistence for players, outcomes and wagers.
type Store struct {
	sqlDB    *sql.DB
	balances storage.Balances
	now      func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open opens a SQLite store at the provided path and applies migrations.
func Open(path string, balances storage.Balances) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := balances.Validate(); err != nil {
		return nil, err
	}

	cleanPath := path
	if path != ":memory:" {
		cleanPath = strings.TrimPrefix(path, "file:")
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// SQLite has a single writer; callers queue on the pool instead of on SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	store := &Store{
		sqlDB:    sqlDB,
		balances: balances,
		now:      time.Now,
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) GetOrCreatePlayer(ctx context.Context, id, name string) (models.Player, error) {
	if err := ctx.Err(); err != nil {
		return models.Player{}, err
	}
	if strings.TrimSpace(id) == "" {
		return models.Player{}, fmt.Errorf("player id is required")
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}

	now := toMillis(s.now())
	query := sq.Insert(tablePlayers).
		Columns(playerColumns...).
		Values(id, name, s.balances.Default, now, now).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET username = excluded.username, updated_at = excluded.updated_at " +
			"RETURNING " + strings.Join(playerColumns, ", "))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return models.Player{}, err
	}
	player, err := scanPlayer(s.sqlDB.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		return models.Player{}, fmt.Errorf("upsert player: %w", err)
	}
	return player, nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (models.Player, error) {
	if err := ctx.Err(); err != nil {
		return models.Player{}, err
	}
	sqlStr, args, err := sq.Select(playerColumns...).
		From(tablePlayers).
		Where(sq.Eq{"user_id": id}).
		ToSql()
	if err != nil {
		return models.Player{}, err
	}
	player, err := scanPlayer(s.sqlDB.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Player{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Player{}, fmt.Errorf("get player: %w", err)
	}
	return player, nil
}

func (s *Store) ListPlayers(ctx context.Context) ([]models.Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sqlStr, args, err := sq.Select(playerColumns...).
		From(tablePlayers).
		OrderBy("balance DESC", "user_id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]models.Player, 0)
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, player)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}
	return players, nil
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	balance, err := s.adjustBalance(ctx, s.sqlDB, id, delta)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// adjustBalance applies delta and the floor reset in a single statement.
func (s *Store) adjustBalance(ctx context.Context, q queryer, id string, delta int64) (int64, error) {
	sqlStr, args, err := sq.Update(tablePlayers).
		Set("balance", sq.Expr("CASE WHEN balance + ? <= 0 THEN ? ELSE balance + ? END", delta, s.balances.Reset, delta)).
		Set("updated_at", toMillis(s.now())).
		Where(sq.Eq{"user_id": id}).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return 0, err
	}

	var balance int64
	err = q.QueryRowContext(ctx, sqlStr, args...).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return balance, nil
}

func (s *Store) RecordOutcome(ctx context.Context, outcome models.Outcome) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dice, err := json.Marshal(outcome.Dice)
	if err != nil {
		return 0, fmt.Errorf("encode dice: %w", err)
	}
	rolledAt := outcome.RolledAt
	if rolledAt.IsZero() {
		rolledAt = s.now()
	}

	sqlStr, args, err := sq.Insert(tableOutcomes).
		Columns(outcomeColumns[1:]...).
		Values(outcome.Seed, outcome.PreImage, outcome.Hash, string(dice), outcome.Total, string(outcome.Side), toMillis(rolledAt)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := s.sqlDB.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("record outcome: %w", err)
	}
	return id, nil
}

func (s *Store) RecordWager(ctx context.Context, wager models.WagerRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.insertWager(ctx, s.sqlDB, wager)
}

func (s *Store) insertWager(ctx context.Context, q queryer, wager models.WagerRecord) (int64, error) {
	createdAt := wager.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	sqlStr, args, err := sq.Insert(tableWagers).
		Columns("user_id", "outcome_id", "amount", "side", "won", "payout", "created_at").
		Values(wager.PlayerID, wager.OutcomeID, wager.Amount, string(wager.Side), wager.Won, wager.Payout, toMillis(createdAt)).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("record wager: %w", err)
	}
	return id, nil
}

func (s *Store) SettleWager(ctx context.Context, wager models.WagerRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin settlement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	balance, err := s.adjustBalance(ctx, tx, wager.PlayerID, wager.Payout)
	if err != nil {
		return 0, err
	}
	if _, err := s.insertWager(ctx, tx, wager); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit settlement: %w", err)
	}
	return balance, nil
}

func (s *Store) GetOutcome(ctx context.Context, id int64) (models.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return models.Outcome{}, err
	}
	sqlStr, args, err := sq.Select(outcomeColumns...).
		From(tableOutcomes).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.Outcome{}, err
	}
	outcome, err := scanOutcome(s.sqlDB.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Outcome{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Outcome{}, fmt.Errorf("get outcome: %w", err)
	}
	return outcome, nil
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]models.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []models.Outcome{}, nil
	}
	sqlStr, args, err := sq.Select(outcomeColumns...).
		From(tableOutcomes).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]models.Outcome, 0, limit)
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

// PlayerWagers returns up to limit wagers for a player, newest first.
func (s *Store) PlayerWagers(ctx context.Context, playerID string, limit int) ([]models.WagerHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []models.WagerHistory{}, nil
	}
	sqlStr, args, err := sq.Select(
		"w.id", "w.user_id", "w.outcome_id", "w.amount", "w.side", "w.won", "w.payout", "w.created_at",
		"o.dice", "o.total", "o.side",
	).
		From(tableWagers + " w").
		Join(tableOutcomes + " o ON o.id = w.outcome_id").
		Where(sq.Eq{"w.user_id": playerID}).
		OrderBy("w.id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list player wagers: %w", err)
	}
	defer rows.Close()

	history := make([]models.WagerHistory, 0)
	for rows.Next() {
		var (
			h           models.WagerHistory
			side, oSide string
			dice        string
			createdAt   int64
		)
		if err := rows.Scan(
			&h.ID, &h.PlayerID, &h.OutcomeID, &h.Amount, &side, &h.Won, &h.Payout, &createdAt,
			&dice, &h.Total, &oSide,
		); err != nil {
			return nil, fmt.Errorf("scan wager: %w", err)
		}
		if err := json.Unmarshal([]byte(dice), &h.Dice); err != nil {
			return nil, fmt.Errorf("decode dice: %w", err)
		}
		h.Side = models.Side(side)
		h.OutcomeSide = models.Side(oSide)
		h.CreatedAt = fromMillis(createdAt)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wagers: %w", err)
	}
	return history, nil
}

func (s *Store) OutcomeStats(ctx context.Context) (models.OutcomeStats, error) {
	if err := ctx.Err(); err != nil {
		return models.OutcomeStats{}, err
	}
	stats := models.OutcomeStats{
		BySide:    make(map[models.Side]int),
		ByTotal:   make(map[int]int),
		ByDieFace: make(map[int]int),
	}

	sqlStr, args, err := sq.Select("dice", "total", "side").From(tableOutcomes).ToSql()
	if err != nil {
		return models.OutcomeStats{}, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return models.OutcomeStats{}, fmt.Errorf("outcome stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			dice  string
			total int
			side  string
		)
		if err := rows.Scan(&dice, &total, &side); err != nil {
			return models.OutcomeStats{}, fmt.Errorf("scan outcome stats: %w", err)
		}
		var faces []int
		if err := json.Unmarshal([]byte(dice), &faces); err != nil {
			return models.OutcomeStats{}, fmt.Errorf("decode dice: %w", err)
		}
		stats.TotalGames++
		stats.BySide[models.Side(side)]++
		stats.ByTotal[total]++
		for _, face := range faces {
			stats.ByDieFace[face]++
		}
	}
	if err := rows.Err(); err != nil {
		return models.OutcomeStats{}, fmt.Errorf("iterate outcome stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (models.Player, error) {
	var (
		player               models.Player
		createdAt, updatedAt int64
	)
	if err := row.Scan(&player.ID, &player.Username, &player.Balance, &createdAt, &updatedAt); err != nil {
		return models.Player{}, err
	}
	player.CreatedAt = fromMillis(createdAt)
	player.UpdatedAt = fromMillis(updatedAt)
	return player, nil
}

func scanOutcome(row rowScanner) (models.Outcome, error) {
	var (
		outcome   models.Outcome
		dice      string
		side      string
		createdAt int64
	)
	if err := row.Scan(&outcome.ID, &outcome.Seed, &outcome.PreImage, &outcome.Hash, &dice, &outcome.Total, &side, &createdAt); err != nil {
		return models.Outcome{}, err
	}
	if err := json.Unmarshal([]byte(dice), &outcome.Dice); err != nil {
		return models.Outcome{}, fmt.Errorf("decode dice: %w", err)
	}
	outcome.Side = models.Side(side)
	outcome.RolledAt = fromMillis(createdAt)
	return outcome, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
