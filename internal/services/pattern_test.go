package services_test

import (
	"testing"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/services"
)

const (
	H = models.SideHigh
	L = models.SideLow
)

func TestPayoutLaw(t *testing.T) {
	for _, amount := range []int64{1, 10000, 50000, 1000000} {
		if got := services.Payout(amount, H, H); got != 2*amount {
			t.Errorf("Payout(%d, win) = %d, want %d", amount, got, 2*amount)
		}
		if got := services.Payout(amount, L, H); got != -amount {
			t.Errorf("Payout(%d, loss) = %d, want %d", amount, got, -amount)
		}
	}

	record := services.SettleWager(
		models.Wager{ParticipantID: "u1", Amount: 20000, Side: L},
		models.Outcome{ID: 7, Side: L},
	)
	if !record.Won || record.Payout != 40000 || record.OutcomeID != 7 || record.PlayerID != "u1" {
		t.Errorf("unexpected settled record: %+v", record)
	}
}

func TestStreakPattern(t *testing.T) {
	analyzer := services.NewPatternAnalyzer(0)
	if n, side := analyzer.Streak(3); n != 0 || side != "" {
		t.Errorf("empty history streak = (%d, %q)", n, side)
	}

	analyzer.SetHistory([]models.Side{L, H, H, H})
	if n, side := analyzer.Streak(3); n != 3 || side != H {
		t.Errorf("streak = (%d, %s), want (3, high)", n, side)
	}
	if n, _ := analyzer.Streak(4); n != 0 {
		t.Errorf("streak below minimum should report 0, got %d", n)
	}

	analyzer.Append(L)
	if n, _ := analyzer.Streak(3); n != 0 {
		t.Errorf("broken streak should report 0, got %d", n)
	}
}

func TestAlternatingPattern(t *testing.T) {
	analyzer := services.NewPatternAnalyzer(0)
	analyzer.SetHistory([]models.Side{H, H, L, H, L})
	if got := analyzer.Alternating(4); got != 4 {
		t.Errorf("alternating = %d, want 4", got)
	}

	analyzer.SetHistory([]models.Side{H, L, H})
	if got := analyzer.Alternating(4); got != 0 {
		t.Errorf("short history alternating = %d, want 0", got)
	}

	analyzer.SetHistory([]models.Side{H, L, L, H})
	if got := analyzer.Alternating(4); got != 0 {
		t.Errorf("alternating = %d, want 0", got)
	}
}

func TestThreeTwoOnePattern(t *testing.T) {
	cases := []struct {
		name    string
		history []models.Side
		want    bool
	}{
		// C may equal A: this sequence matches.
		{"last equals first run", []models.Side{H, H, H, L, L, H}, true},
		{"prefixed history", []models.Side{L, L, H, H, H, L, L, H}, true},
		{"last continues second run", []models.Side{H, H, H, L, L, L}, false},
		{"first run too short", []models.Side{H, H, L, L, L, H}, false},
		{"second run same as first", []models.Side{H, H, H, H, H, L}, false},
		{"too short", []models.Side{H, H, H, L, L}, false},
	}
	for _, tc := range cases {
		analyzer := services.NewPatternAnalyzer(0)
		analyzer.SetHistory(tc.history)
		if got := analyzer.ThreeTwoOne(); got != tc.want {
			t.Errorf("%s: ThreeTwoOne(%v) = %v, want %v", tc.name, tc.history, got, tc.want)
		}
	}
}

func TestOneTwoThreePattern(t *testing.T) {
	analyzer := services.NewPatternAnalyzer(0)

	analyzer.SetHistory([]models.Side{L, H, H, L, L, L})
	if !analyzer.OneTwoThree() {
		t.Error("[L,H,H,L,L,L] should match")
	}

	analyzer.SetHistory([]models.Side{L, H, H, L, L, H})
	if analyzer.OneTwoThree() {
		t.Error("[L,H,H,L,L,H] should not match")
	}

	analyzer.SetHistory([]models.Side{L, H, H, L, L, L, H})
	if analyzer.OneTwoThree() {
		t.Error("only the trailing six entries count")
	}
}

func TestTiltedRhythmPattern(t *testing.T) {
	shape := []models.Side{H, H, L, H, L, L, H, H, L, L, L, H}
	analyzer := services.NewPatternAnalyzer(0)

	analyzer.SetHistory(shape)
	if !analyzer.TiltedRhythm() {
		t.Error("exact tilted shape should match")
	}

	mirrored := make([]models.Side, len(shape))
	for i, s := range shape {
		mirrored[i] = H
		if s == H {
			mirrored[i] = L
		}
	}
	analyzer.SetHistory(mirrored)
	if !analyzer.TiltedRhythm() {
		t.Error("mirrored tilted shape should match")
	}

	analyzer.SetHistory(shape[1:])
	if analyzer.TiltedRhythm() {
		t.Error("eleven entries should not match")
	}

	broken := append([]models.Side(nil), shape...)
	broken[11] = L
	analyzer.SetHistory(broken)
	if analyzer.TiltedRhythm() {
		t.Error("broken tilted shape should not match")
	}
}

func TestPatternAnalyzerLimitAndReport(t *testing.T) {
	analyzer := services.NewPatternAnalyzer(5)
	for _, side := range []models.Side{L, L, H, H, H, H, H} {
		analyzer.Append(side)
	}
	if analyzer.Len() != 5 {
		t.Fatalf("len = %d, want 5", analyzer.Len())
	}

	report := analyzer.Analyze()
	if report.StreakLength != 5 || report.StreakSide != H {
		t.Errorf("report streak = (%d, %s), want (5, high)", report.StreakLength, report.StreakSide)
	}
	if report.Alternating != 0 || report.ThreeTwoOne || report.OneTwoThree || report.TiltedRhythm {
		t.Errorf("unexpected motifs in %+v", report)
	}
	if len(report.Recent) != 5 {
		t.Errorf("recent = %v", report.Recent)
	}
}
