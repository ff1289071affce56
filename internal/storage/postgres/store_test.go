package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/storage"
)

var testBalances = storage.Balances{Default: 1_000_000, Reset: 1_000_000}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set, skipping postgres tests")
	}
	store, err := Open(context.Background(), dsn, testBalances)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), "", testBalances); err == nil {
		t.Fatal("expected empty dsn error")
	}
}

func TestSettleWagerRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	playerID := fmt.Sprintf("pg-test-%d", time.Now().UnixNano())

	if _, err := store.GetOrCreatePlayer(ctx, playerID, "Tester"); err != nil {
		t.Fatalf("create player: %v", err)
	}
	outcomeID, err := store.RecordOutcome(ctx, models.Outcome{
		Seed: "seed", PreImage: "seed_1", Hash: "abc", Dice: []int{1, 1, 1}, Total: 3, Side: models.SideLow,
	})
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	balance, err := store.SettleWager(ctx, models.WagerRecord{
		PlayerID: playerID, OutcomeID: outcomeID, Amount: 50_000, Side: models.SideHigh, Payout: -50_000,
	})
	if err != nil {
		t.Fatalf("settle wager: %v", err)
	}
	if balance != 950_000 {
		t.Fatalf("balance = %d, want %d", balance, 950_000)
	}

	history, err := store.PlayerWagers(ctx, playerID, 5)
	if err != nil {
		t.Fatalf("player wagers: %v", err)
	}
	if len(history) != 1 || history[0].Won || history[0].OutcomeSide != models.SideLow {
		t.Fatalf("unexpected history: %+v", history)
	}

	balance, err = store.AdjustBalance(ctx, playerID, -2_000_000)
	if err != nil {
		t.Fatalf("adjust balance: %v", err)
	}
	if balance != testBalances.Reset {
		t.Fatalf("balance = %d, want reset %d", balance, testBalances.Reset)
	}

	if _, err := store.GetPlayer(ctx, playerID+"-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing player error = %v, want %v", err, storage.ErrNotFound)
	}
}
