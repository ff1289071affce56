package models

import "time"

// WagerRecord is one settled wager, appended once per participant per round.
type WagerRecord struct {
	ID        int64     `json:"id,omitempty"`
	PlayerID  string    `json:"player_id"`
	OutcomeID int64     `json:"outcome_id"`
	Amount    int64     `json:"amount"`
	Side      Side      `json:"side"`
	Won       bool      `json:"won"`
	Payout    int64     `json:"payout"`
	CreatedAt time.Time `json:"created_at"`
}

// WagerHistory is a wager record joined with the outcome it was settled on.
type WagerHistory struct {
	WagerRecord
	Dice        []int `json:"dice"`
	Total       int   `json:"total"`
	OutcomeSide Side  `json:"outcome_side"`
}

type PlayerSummary struct {
	TotalBets int     `json:"total_bets"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	WinRate   float64 `json:"win_rate"`
	TotalWon  int64   `json:"total_won"`
	TotalLost int64   `json:"total_lost"`
	Net       int64   `json:"net"`
}

// Summarize aggregates a page of wager history.
func Summarize(history []WagerHistory) PlayerSummary {
	var s PlayerSummary
	for _, h := range history {
		if h.Won {
			s.Wins++
			s.TotalWon += h.Payout
		} else {
			s.Losses++
			s.TotalLost += -h.Payout
		}
	}
	s.TotalBets = s.Wins + s.Losses
	if s.TotalBets > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalBets) * 100
	}
	s.Net = s.TotalWon - s.TotalLost
	return s
}

type OutcomeStats struct {
	TotalGames int          `json:"total_games"`
	BySide     map[Side]int `json:"by_side"`
	ByTotal    map[int]int  `json:"by_total"`
	ByDieFace  map[int]int  `json:"by_die_face"`
}
