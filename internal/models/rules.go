package models

import "fmt"

// Rules are the fixed game constants. They are loaded once at startup.
type Rules struct {
	MinBet         int64 `yaml:"min_bet" json:"min_bet"`
	MaxBet         int64 `yaml:"max_bet" json:"max_bet"`
	DefaultBalance int64 `yaml:"default_balance" json:"default_balance"`
	ResetBalance   int64 `yaml:"reset_balance" json:"reset_balance"`
	NumDice        int   `yaml:"num_dice" json:"num_dice"`
	DieMin         int   `yaml:"die_min" json:"die_min"`
	DieMax         int   `yaml:"die_max" json:"die_max"`
	HighMin        int   `yaml:"high_min" json:"high_min"`
	HistorySize    int   `yaml:"history_size" json:"history_size"`
}

func DefaultRules() Rules {
	return Rules{
		MinBet:         10_000,
		MaxBet:         1_000_000,
		DefaultBalance: 1_000_000,
		ResetBalance:   1_000_000,
		NumDice:        3,
		DieMin:         1,
		DieMax:         6,
		HighMin:        11,
		HistorySize:    50,
	}
}

// maxDice is bounded by the 64 hex characters of a SHA-256 digest, two per die.
const maxDice = 32

func (r Rules) Validate() error {
	if r.MinBet <= 0 {
		return fmt.Errorf("min bet must be positive")
	}
	if r.MaxBet < r.MinBet {
		return fmt.Errorf("max bet %d is below min bet %d", r.MaxBet, r.MinBet)
	}
	if r.DefaultBalance <= 0 || r.ResetBalance <= 0 {
		return fmt.Errorf("default and reset balances must be positive")
	}
	if r.NumDice < 1 || r.NumDice > maxDice {
		return fmt.Errorf("num dice must be between 1 and %d", maxDice)
	}
	if r.DieMin < 0 || r.DieMax < r.DieMin || r.DieMax-r.DieMin+1 > 256 {
		return fmt.Errorf("invalid die range [%d, %d]", r.DieMin, r.DieMax)
	}
	lowest, highest := r.NumDice*r.DieMin, r.NumDice*r.DieMax
	if r.HighMin <= lowest || r.HighMin > highest {
		return fmt.Errorf("high threshold %d must fall inside (%d, %d]", r.HighMin, lowest, highest)
	}
	if r.HistorySize <= 0 {
		return fmt.Errorf("history size must be positive")
	}
	return nil
}

// SideFor classifies a dice total.
func (r Rules) SideFor(total int) Side {
	if total >= r.HighMin {
		return SideHigh
	}
	return SideLow
}
