package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BettingWindow != 40*time.Second {
		t.Fatalf("betting window = %v, want %v", cfg.BettingWindow, 40*time.Second)
	}
	if cfg.NextRoundDelay != 5*time.Second {
		t.Fatalf("next round delay = %v, want %v", cfg.NextRoundDelay, 5*time.Second)
	}
	if cfg.Rules.MinBet != 10_000 || cfg.Rules.MaxBet != 1_000_000 {
		t.Fatalf("bet limits = [%d, %d], want [10000, 1000000]", cfg.Rules.MinBet, cfg.Rules.MaxBet)
	}
	if cfg.Rules.HighMin != 11 || cfg.Rules.NumDice != 3 {
		t.Fatalf("unexpected dice rules: %+v", cfg.Rules)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BETTING_WINDOW", "15s")
	t.Setenv("MIN_BET", "500")
	t.Setenv("AUTO_OPEN_SCOPES", "lobby, vip")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BettingWindow != 15*time.Second {
		t.Fatalf("betting window = %v, want 15s", cfg.BettingWindow)
	}
	if cfg.Rules.MinBet != 500 {
		t.Fatalf("min bet = %d, want 500", cfg.Rules.MinBet)
	}
	if len(cfg.AutoOpenScopes) != 2 || cfg.AutoOpenScopes[1] != "vip" {
		t.Fatalf("auto open scopes = %q", cfg.AutoOpenScopes)
	}
}

func TestLoadRulesFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := "max_bet: 2000000\nhigh_min: 12\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	t.Setenv("RULES_FILE", path)
	t.Setenv("HIGH_MIN", "11")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Rules.MaxBet != 2_000_000 {
		t.Fatalf("max bet = %d, want 2000000", cfg.Rules.MaxBet)
	}
	if cfg.Rules.HighMin != 11 {
		t.Fatalf("high min = %d, want env override 11", cfg.Rules.HighMin)
	}
	if cfg.Rules.MinBet != 10_000 {
		t.Fatalf("min bet = %d, want default 10000", cfg.Rules.MinBet)
	}
}

func TestLoadExplicitZeroOverride(t *testing.T) {
	t.Setenv("DIE_MIN", "0")
	t.Setenv("DIE_MAX", "5")
	t.Setenv("HIGH_MIN", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Rules.DieMin != 0 || cfg.Rules.DieMax != 5 || cfg.Rules.HighMin != 8 {
		t.Fatalf("die rules = [%d, %d] high %d, want [0, 5] high 8", cfg.Rules.DieMin, cfg.Rules.DieMax, cfg.Rules.HighMin)
	}
	if cfg.Rules.NumDice != 3 {
		t.Fatalf("num dice = %d, want default 3", cfg.Rules.NumDice)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":   {"STORAGE_DRIVER": "mongo"},
		"missing dsn":      {"STORAGE_DRIVER": "postgres", "PG_DSN": ""},
		"bad window":       {"BETTING_WINDOW": "0s"},
		"poll over window": {"BETTING_WINDOW": "2s", "POLL_INTERVAL": "3s"},
		"max below min":    {"MIN_BET": "5000", "MAX_BET": "1000"},
		"not a duration":   {"BETTING_WINDOW": "forty"},
		"zero min bet":     {"MIN_BET": "0"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadRulesFileMissing(t *testing.T) {
	t.Setenv("RULES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "read rules file") {
		t.Fatalf("expected read rules file error, got %v", err)
	}
}
