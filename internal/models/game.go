package models

import "time"

// Outcome is the immutable result of one round.
type Outcome struct {
	ID       int64     `json:"id,omitempty"`
	Seed     string    `json:"seed"`
	PreImage string    `json:"pre_image"`
	Hash     string    `json:"hash"`
	Dice     []int     `json:"dice"`
	Total    int       `json:"total"`
	Side     Side      `json:"side"`
	RolledAt time.Time `json:"rolled_at"`
}

// ShortHash is the truncated digest shown next to a result.
func (o Outcome) ShortHash() string {
	if len(o.Hash) <= 10 {
		return o.Hash
	}
	return o.Hash[:10]
}

type Wager struct {
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	Amount        int64     `json:"amount"`
	Side          Side      `json:"side"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type SideTotal struct {
	Amount int64 `json:"amount"`
	Count  int   `json:"count"`
}

// SessionSnapshot is the renderable view of a running session.
type SessionSnapshot struct {
	SessionID     string             `json:"session_id"`
	Scope         string             `json:"scope"`
	Status        SessionStatus      `json:"status"`
	OpenedAt      time.Time          `json:"opened_at"`
	CloseAt       time.Time          `json:"close_at"`
	TimeRemaining time.Duration      `json:"time_remaining"`
	Totals        map[Side]SideTotal `json:"totals"`
	RecentWagers  []Wager            `json:"recent_wagers"`
	Warning       string             `json:"warning,omitempty"`
}

// SecondsRemaining rounds the remaining time down to whole seconds.
func (s SessionSnapshot) SecondsRemaining() int {
	if s.TimeRemaining <= 0 {
		return 0
	}
	return int(s.TimeRemaining / time.Second)
}

type Settlement struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Amount        int64  `json:"amount"`
	Side          Side   `json:"side"`
	Payout        int64  `json:"payout"`
	NewBalance    int64  `json:"new_balance"`
}

// SessionResult is the renderable view of a settled session.
type SessionResult struct {
	SessionID string       `json:"session_id"`
	Scope     string       `json:"scope"`
	Outcome   Outcome      `json:"outcome"`
	Winners   []Settlement `json:"winners"`
	Losers    []Settlement `json:"losers"`
	TotalWon  int64        `json:"total_won"`
	TotalLost int64        `json:"total_lost"`
	SettledAt time.Time    `json:"settled_at"`
}
