package services

import "time"

const (
	KeyRateLimit   = "ratelimit:%s:%s"
	KeyScopeEvents = "scope:%s:events"
	KeyLastResult  = "scope:%s:last_result"
	KeyRecentSides = "outcomes:recent_sides"

	TTLLastResult    = 24 * time.Hour
	RecentSidesLimit = 50

	ActionBet = "bet"
)
