// Package postgres is the pgx-backed implementation of storage.Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/storage"
	"taixiu-backend/internal/storage/postgres/migrations"
)

const (
	tablePlayers  = "players"
	tableOutcomes = "outcomes"
	tableWagers   = "wagers"
)

var playerColumns = []string{"user_id", "username", "balance", "created_at", "updated_at"}

var outcomeColumns = []string{"id", "seed", "pre_image", "hash", "dice", "total", "side", "created_at"}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Store struct {
	pool      *pgxpool.Pool
	txManager trm.Manager
	balances  storage.Balances
	now       func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open connects to Postgres, applies the embedded schema and returns a store.
func Open(ctx context.Context, dsn string, balances storage.Balances) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if err := balances.Validate(); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	txManager, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create tx manager: %w", err)
	}

	if err := applySchema(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		pool:      pool,
		txManager: txManager,
		balances:  balances,
		now:       time.Now,
	}, nil
}

func applySchema(ctx context.Context, pool *pgxpool.Pool, schemaFS fs.FS) error {
	files, err := fs.Glob(schemaFS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := fs.ReadFile(schemaFS, file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("exec %s: %w", file, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// conn returns the transaction bound to ctx, or the pool.
func (s *Store) conn(ctx context.Context) trmpgx.Tr {
	return trmpgx.DefaultCtxGetter.DefaultTrOrDB(ctx, s.pool)
}

func (s *Store) GetOrCreatePlayer(ctx context.Context, id, name string) (models.Player, error) {
	if strings.TrimSpace(id) == "" {
		return models.Player{}, fmt.Errorf("player id is required")
	}
	if strings.TrimSpace(name) == "" {
		name = id
	}

	now := s.now().UTC().UnixMilli()
	sqlStr, args, err := psql.Insert(tablePlayers).
		Columns(playerColumns...).
		Values(id, name, s.balances.Default, now, now).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, updated_at = EXCLUDED.updated_at " +
			"RETURNING " + strings.Join(playerColumns, ", ")).
		ToSql()
	if err != nil {
		return models.Player{}, err
	}

	player, err := scanPlayer(s.conn(ctx).QueryRow(ctx, sqlStr, args...))
	if err != nil {
		return models.Player{}, fmt.Errorf("upsert player: %w", err)
	}
	return player, nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (models.Player, error) {
	sqlStr, args, err := psql.Select(playerColumns...).
		From(tablePlayers).
		Where(sq.Eq{"user_id": id}).
		ToSql()
	if err != nil {
		return models.Player{}, err
	}

	player, err := scanPlayer(s.conn(ctx).QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Player{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Player{}, fmt.Errorf("get player: %w", err)
	}
	return player, nil
}

func (s *Store) ListPlayers(ctx context.Context) ([]models.Player, error) {
	sqlStr, args, err := psql.Select(playerColumns...).
		From(tablePlayers).
		OrderBy("balance DESC", "user_id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).Query(ctx, sqlStr, args...)
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
	return players, rows.Err()
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta int64) (int64, error) {
	sqlStr, args, err := psql.Update(tablePlayers).
		Set("balance", sq.Expr("CASE WHEN balance + ? <= 0 THEN ? ELSE balance + ? END", delta, s.balances.Reset, delta)).
		Set("updated_at", s.now().UTC().UnixMilli()).
		Where(sq.Eq{"user_id": id}).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return 0, err
	}

	var balance int64
	err = s.conn(ctx).QueryRow(ctx, sqlStr, args...).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return balance, nil
}

func (s *Store) RecordOutcome(ctx context.Context, outcome models.Outcome) (int64, error) {
	dice, err := json.Marshal(outcome.Dice)
	if err != nil {
		return 0, fmt.Errorf("encode dice: %w", err)
	}
	rolledAt := outcome.RolledAt
	if rolledAt.IsZero() {
		rolledAt = s.now()
	}

	sqlStr, args, err := psql.Insert(tableOutcomes).
		Columns(outcomeColumns[1:]...).
		Values(outcome.Seed, outcome.PreImage, outcome.Hash, string(dice), outcome.Total, string(outcome.Side), rolledAt.UTC().UnixMilli()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := s.conn(ctx).QueryRow(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("record outcome: %w", err)
	}
	return id, nil
}

func (s *Store) RecordWager(ctx context.Context, wager models.WagerRecord) (int64, error) {
	createdAt := wager.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	sqlStr, args, err := psql.Insert(tableWagers).
		Columns("user_id", "outcome_id", "amount", "side", "won", "payout", "created_at").
		Values(wager.PlayerID, wager.OutcomeID, wager.Amount, string(wager.Side), wager.Won, wager.Payout, createdAt.UTC().UnixMilli()).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, err
	}

	var id int64
	if err := s.conn(ctx).QueryRow(ctx, sqlStr, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("record wager: %w", err)
	}
	return id, nil
}

func (s *Store) SettleWager(ctx context.Context, wager models.WagerRecord) (int64, error) {
	var balance int64
	err := s.txManager.Do(ctx, func(txCtx context.Context) error {
		var err error
		balance, err = s.AdjustBalance(txCtx, wager.PlayerID, wager.Payout)
		if err != nil {
			return err
		}
		_, err = s.RecordWager(txCtx, wager)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) GetOutcome(ctx context.Context, id int64) (models.Outcome, error) {
	sqlStr, args, err := psql.Select(outcomeColumns...).
		From(tableOutcomes).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.Outcome{}, err
	}

	outcome, err := scanOutcome(s.conn(ctx).QueryRow(ctx, sqlStr, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Outcome{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Outcome{}, fmt.Errorf("get outcome: %w", err)
	}
	return outcome, nil
}

func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]models.Outcome, error) {
	if limit <= 0 {
		return []models.Outcome{}, nil
	}
	sqlStr, args, err := psql.Select(outcomeColumns...).
		From(tableOutcomes).
		OrderBy("id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.conn(ctx).Query(ctx, sqlStr, args...)
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
	return outcomes, rows.Err()
}

func (s *Store) PlayerWagers(ctx context.Context, playerID string, limit int) ([]models.WagerHistory, error) {
	if limit <= 0 {
		return []models.WagerHistory{}, nil
	}
	sqlStr, args, err := psql.Select(
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

	rows, err := s.conn(ctx).Query(ctx, sqlStr, args...)
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
		h.CreatedAt = time.UnixMilli(createdAt).UTC()
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Store) OutcomeStats(ctx context.Context) (models.OutcomeStats, error) {
	stats := models.OutcomeStats{
		BySide:    make(map[models.Side]int),
		ByTotal:   make(map[int]int),
		ByDieFace: make(map[int]int),
	}

	sqlStr, args, err := psql.Select("dice", "total", "side").From(tableOutcomes).ToSql()
	if err != nil {
		return models.OutcomeStats{}, err
	}
	rows, err := s.conn(ctx).Query(ctx, sqlStr, args...)
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
	return stats, rows.Err()
}

func scanPlayer(row pgx.Row) (models.Player, error) {
	var (
		player               models.Player
		createdAt, updatedAt int64
	)
	if err := row.Scan(&player.ID, &player.Username, &player.Balance, &createdAt, &updatedAt); err != nil {
		return models.Player{}, err
	}
	player.CreatedAt = time.UnixMilli(createdAt).UTC()
	player.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return player, nil
}

func scanOutcome(row pgx.Row) (models.Outcome, error) {
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
	outcome.RolledAt = time.UnixMilli(createdAt).UTC()
	return outcome, nil
}
