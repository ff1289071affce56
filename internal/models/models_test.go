package models_test

import (
	"strings"
	"testing"

	"taixiu-backend/internal/models"
)

func TestModels(t *testing.T) {
	id := models.GenerateSessionID()
	if !strings.HasPrefix(id, "session_") {
		t.Errorf("unexpected session id %q", id)
	}
	if id == models.GenerateSessionID() {
		t.Error("session ids should be unique")
	}

	rules := models.DefaultRules()
	if err := rules.Validate(); err != nil {
		t.Fatalf("default rules should be valid: %v", err)
	}

	if rules.SideFor(11) != models.SideHigh {
		t.Error("11 should be high")
	}
	if rules.SideFor(10) != models.SideLow {
		t.Error("10 should be low")
	}

	invalid := rules
	invalid.MaxBet = rules.MinBet - 1
	if err := invalid.Validate(); err == nil {
		t.Error("max bet below min bet should fail validation")
	}

	invalid = rules
	invalid.HighMin = 19
	if err := invalid.Validate(); err == nil {
		t.Error("unreachable high threshold should fail validation")
	}

	invalid = rules
	invalid.NumDice = 33
	if err := invalid.Validate(); err == nil {
		t.Error("more dice than digest slices should fail validation")
	}
}

func TestParseSide(t *testing.T) {
	cases := map[string]models.Side{
		"high": models.SideHigh,
		"Tài":  models.SideHigh,
		" TAI": models.SideHigh,
		"low":  models.SideLow,
		"Xỉu":  models.SideLow,
		"xiu ": models.SideLow,
	}
	for label, want := range cases {
		got, err := models.ParseSide(label)
		if err != nil {
			t.Errorf("ParseSide(%q): %v", label, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSide(%q) = %q, want %q", label, got, want)
		}
	}

	if _, err := models.ParseSide("even"); err == nil {
		t.Error("unknown side should fail")
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := map[int64]string{
		0:        "0đ",
		999:      "999đ",
		10000:    "10,000đ",
		1000000:  "1,000,000đ",
		-50000:   "-50,000đ",
		12345678: "12,345,678đ",
	}
	for amount, want := range cases {
		if got := models.FormatCurrency(amount); got != want {
			t.Errorf("FormatCurrency(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestSummarize(t *testing.T) {
	history := []models.WagerHistory{
		{WagerRecord: models.WagerRecord{Amount: 50000, Won: true, Payout: 100000}},
		{WagerRecord: models.WagerRecord{Amount: 20000, Won: false, Payout: -20000}},
		{WagerRecord: models.WagerRecord{Amount: 10000, Won: false, Payout: -10000}},
		{WagerRecord: models.WagerRecord{Amount: 10000, Won: true, Payout: 20000}},
	}

	s := models.Summarize(history)
	if s.TotalBets != 4 || s.Wins != 2 || s.Losses != 2 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.WinRate != 50 {
		t.Errorf("expected win rate 50, got %f", s.WinRate)
	}
	if s.TotalWon != 120000 || s.TotalLost != 30000 || s.Net != 90000 {
		t.Errorf("unexpected totals: %+v", s)
	}

	if empty := models.Summarize(nil); empty.WinRate != 0 || empty.TotalBets != 0 {
		t.Errorf("empty summary should be zero, got %+v", empty)
	}
}
