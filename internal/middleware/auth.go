package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"taixiu-backend/internal/services"
)

const (
	HeaderParticipantID   = "X-Participant-ID"
	HeaderParticipantName = "X-Participant-Name"

	KeyParticipantID   = "participant_id"
	KeyParticipantName = "participant_name"
)

// IdentityMiddleware reads the caller identity set by the chat binding. The
// id is opaque and trusted as given.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		participantID := strings.TrimSpace(c.GetHeader(HeaderParticipantID))
		if participantID == "" {
			participantID = strings.TrimSpace(c.Query("participant_id"))
		}
		if participantID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Participant identity required"})
			c.Abort()
			return
		}

		name := strings.TrimSpace(c.GetHeader(HeaderParticipantName))
		if name == "" {
			name = participantID
		}

		c.Set(KeyParticipantID, participantID)
		c.Set(KeyParticipantName, name)

		c.Next()
	}
}

// RateLimitMiddleware limits wager placement per participant. A nil Redis
// service disables the limit.
func RateLimitMiddleware(redisService *services.RedisService, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisService == nil || limit <= 0 {
			c.Next()
			return
		}

		participantID := c.GetString(KeyParticipantID)
		if participantID == "" {
			c.Next()
			return
		}

		if c.Request.Method != http.MethodPost || !strings.HasSuffix(c.Request.URL.Path, "/bets") {
			c.Next()
			return
		}

		allowed, err := redisService.CheckRateLimit(c.Request.Context(), participantID, services.ActionBet, limit, window)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			c.Abort()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many bets. Please wait.",
				"retry_after": window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
