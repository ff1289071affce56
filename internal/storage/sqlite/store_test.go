package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/storage"
)

var testBalances = storage.Balances{Default: 1_000_000, Reset: 1_000_000}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open("", testBalances); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenRejectsInvalidBalances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "game.db")
	if _, err := Open(path, storage.Balances{}); err == nil {
		t.Fatal("expected invalid balances error")
	}
}

func TestReopenKeepsData(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "game.db")
	store, err := Open(path, testBalances)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.GetOrCreatePlayer(context.Background(), "u1", "Alice"); err != nil {
		t.Fatalf("create player: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(path, testBalances)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	player, err := reopened.GetPlayer(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get player after reopen: %v", err)
	}
	if player.Username != "Alice" {
		t.Fatalf("username = %q, want %q", player.Username, "Alice")
	}
}

func TestGetOrCreatePlayerIsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	created, err := store.GetOrCreatePlayer(ctx, "u1", "Alice")
	if err != nil {
		t.Fatalf("create player: %v", err)
	}
	if created.Balance != testBalances.Default {
		t.Fatalf("balance = %d, want %d", created.Balance, testBalances.Default)
	}

	if _, err := store.AdjustBalance(ctx, "u1", -100_000); err != nil {
		t.Fatalf("adjust balance: %v", err)
	}

	again, err := store.GetOrCreatePlayer(ctx, "u1", "Alice B.")
	if err != nil {
		t.Fatalf("get existing player: %v", err)
	}
	if again.Balance != 900_000 {
		t.Fatalf("balance = %d, want %d", again.Balance, 900_000)
	}
	if again.Username != "Alice B." {
		t.Fatalf("username = %q, want %q", again.Username, "Alice B.")
	}

	players, err := store.ListPlayers(ctx)
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	if len(players) != 1 {
		t.Fatalf("players = %d, want 1", len(players))
	}
}

func TestGetPlayerNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.GetPlayer(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing player error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestAdjustBalanceFloorReset(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreatePlayer(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("create player: %v", err)
	}

	balance, err := store.AdjustBalance(ctx, "u1", -1_000_000)
	if err != nil {
		t.Fatalf("adjust balance: %v", err)
	}
	if balance != testBalances.Reset {
		t.Fatalf("balance = %d, want reset %d", balance, testBalances.Reset)
	}

	balance, err = store.AdjustBalance(ctx, "u1", -999_999)
	if err != nil {
		t.Fatalf("adjust balance: %v", err)
	}
	if balance != 1 {
		t.Fatalf("balance = %d, want 1", balance)
	}

	if _, err := store.AdjustBalance(ctx, "missing", 10); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("adjust missing player error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestAdjustBalanceConcurrent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreatePlayer(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("create player: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AdjustBalance(ctx, "u1", 1_000); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent adjust: %v", err)
	}

	player, err := store.GetPlayer(ctx, "u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if want := testBalances.Default + workers*1_000; player.Balance != want {
		t.Fatalf("balance = %d, want %d", player.Balance, want)
	}
}

func TestSettleWagerAppliesPayoutAndRecord(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreatePlayer(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("create player: %v", err)
	}
	outcomeID := recordOutcome(t, store, []int{3, 4, 4}, models.SideHigh)

	balance, err := store.SettleWager(ctx, models.WagerRecord{
		PlayerID:  "u1",
		OutcomeID: outcomeID,
		Amount:    50_000,
		Side:      models.SideHigh,
		Won:       true,
		Payout:    100_000,
	})
	if err != nil {
		t.Fatalf("settle wager: %v", err)
	}
	if balance != 1_100_000 {
		t.Fatalf("balance = %d, want %d", balance, 1_100_000)
	}

	history, err := store.PlayerWagers(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("player wagers: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d, want 1", len(history))
	}
	got := history[0]
	if !got.Won || got.Payout != 100_000 || got.Amount != 50_000 {
		t.Fatalf("unexpected wager record: %+v", got)
	}
	if got.Total != 11 || got.OutcomeSide != models.SideHigh || len(got.Dice) != 3 {
		t.Fatalf("unexpected joined outcome: %+v", got)
	}
}

func TestSettleWagerRollsBackOnMissingOutcome(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if _, err := store.GetOrCreatePlayer(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("create player: %v", err)
	}

	_, err := store.SettleWager(ctx, models.WagerRecord{
		PlayerID:  "u1",
		OutcomeID: 9999,
		Amount:    50_000,
		Side:      models.SideLow,
		Payout:    -50_000,
	})
	if err == nil {
		t.Fatal("expected foreign key error")
	}

	player, err := store.GetPlayer(ctx, "u1")
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	if player.Balance != testBalances.Default {
		t.Fatalf("balance = %d, want %d after rollback", player.Balance, testBalances.Default)
	}
}

func TestRecentOutcomesNewestFirst(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	first := recordOutcome(t, store, []int{1, 1, 1}, models.SideLow)
	second := recordOutcome(t, store, []int{6, 6, 6}, models.SideHigh)
	third := recordOutcome(t, store, []int{2, 3, 4}, models.SideLow)

	outcomes, err := store.RecentOutcomes(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent outcomes: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].ID != third || outcomes[1].ID != second {
		t.Fatalf("ids = [%d %d], want [%d %d]", outcomes[0].ID, outcomes[1].ID, third, second)
	}
	if outcomes[1].Total != 18 || outcomes[1].Side != models.SideHigh {
		t.Fatalf("unexpected outcome: %+v", outcomes[1])
	}

	got, err := store.GetOutcome(context.Background(), first)
	if err != nil {
		t.Fatalf("get outcome: %v", err)
	}
	if got.PreImage != "seed_1" || got.Seed != "seed" {
		t.Fatalf("pre_image = %q, want %q", got.PreImage, "seed_1")
	}
	if _, err := store.GetOutcome(context.Background(), 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing outcome error = %v, want %v", err, storage.ErrNotFound)
	}

	empty, err := store.RecentOutcomes(context.Background(), 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("zero limit = %v, %v; want empty", empty, err)
	}
}

func TestOutcomeStats(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	recordOutcome(t, store, []int{1, 1, 1}, models.SideLow)
	recordOutcome(t, store, []int{6, 6, 6}, models.SideHigh)
	recordOutcome(t, store, []int{1, 2, 3}, models.SideLow)

	stats, err := store.OutcomeStats(context.Background())
	if err != nil {
		t.Fatalf("outcome stats: %v", err)
	}
	if stats.TotalGames != 3 {
		t.Fatalf("total games = %d, want 3", stats.TotalGames)
	}
	if stats.BySide[models.SideLow] != 2 || stats.BySide[models.SideHigh] != 1 {
		t.Fatalf("by side = %v", stats.BySide)
	}
	if stats.ByTotal[3] != 1 || stats.ByTotal[18] != 1 || stats.ByTotal[6] != 1 {
		t.Fatalf("by total = %v", stats.ByTotal)
	}
	if stats.ByDieFace[1] != 4 || stats.ByDieFace[6] != 3 {
		t.Fatalf("by die face = %v", stats.ByDieFace)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.GetOrCreatePlayer(ctx, "u1", "Alice"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want %v", err, context.Canceled)
	}
}

func recordOutcome(t *testing.T, store *Store, dice []int, side models.Side) int64 {
	t.Helper()

	total := 0
	for _, d := range dice {
		total += d
	}
	id, err := store.RecordOutcome(context.Background(), models.Outcome{
		Seed:     "seed",
		PreImage: "seed_1",
		Hash:     "abc123",
		Dice:     dice,
		Total:    total,
		Side:     side,
		RolledAt: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	return id
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "game.db")
	store, err := Open(path, testBalances)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
