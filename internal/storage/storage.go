// Package storage defines the durable store for players, outcomes and wagers.
package storage

import (
	"context"
	"errors"

	"taixiu-backend/internal/models"
)

var ErrNotFound = errors.New("record not found")

// Store is safe for concurrent use. Each call checks a handle out of the
// driver's pool and returns it before the call completes.
type Store interface {
	// GetOrCreatePlayer is idempotent. It refreshes the stored username and
	// inserts the default balance only for new players.
	GetOrCreatePlayer(ctx context.Context, id, name string) (models.Player, error)
	GetPlayer(ctx context.Context, id string) (models.Player, error)
	ListPlayers(ctx context.Context) ([]models.Player, error)

	// AdjustBalance applies delta atomically. A result at or below zero is
	// replaced with the reset balance.
	AdjustBalance(ctx context.Context, id string, delta int64) (int64, error)

	RecordOutcome(ctx context.Context, outcome models.Outcome) (int64, error)
	RecordWager(ctx context.Context, wager models.WagerRecord) (int64, error)

	// SettleWager adjusts the balance by wager.Payout and appends the wager
	// record in one transaction. It returns the new balance.
	SettleWager(ctx context.Context, wager models.WagerRecord) (int64, error)

	GetOutcome(ctx context.Context, id int64) (models.Outcome, error)
	RecentOutcomes(ctx context.Context, limit int) ([]models.Outcome, error)
	PlayerWagers(ctx context.Context, playerID string, limit int) ([]models.WagerHistory, error)
	OutcomeStats(ctx context.Context) (models.OutcomeStats, error)

	Close() error
}

// Balances configures the balance policy shared by store implementations.
type Balances struct {
	Default int64
	Reset   int64
}

func (b Balances) Validate() error {
	if b.Default <= 0 || b.Reset <= 0 {
		return errors.New("default and reset balances must be positive")
	}
	return nil
}
