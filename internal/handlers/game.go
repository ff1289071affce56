package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"taixiu-backend/internal/middleware"
	"taixiu-backend/internal/models"
	"taixiu-backend/internal/services"
)

type GameHandler struct {
	engine       *services.Engine
	redisService *services.RedisService
	log          *zap.Logger
}

// NewGameHandler binds the engine commands to HTTP. redisService may be nil.
func NewGameHandler(engine *services.Engine, redisService *services.RedisService, log *zap.Logger) *GameHandler {
	return &GameHandler{
		engine:       engine,
		redisService: redisService,
		log:          log,
	}
}

type BetRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Side   string `json:"side" binding:"required"`
}

func (h *GameHandler) OpenSession(c *gin.Context) {
	snapshot, err := h.engine.OpenSession(c.Request.Context(), services.OpenRequest{Scope: c.Param("scope")})
	if err != nil {
		h.respondError(c, "Failed to open session", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"session": renderSnapshot(snapshot),
	})
}

func (h *GameHandler) PlaceBet(c *gin.Context) {
	var req BetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	participantID := c.GetString(middleware.KeyParticipantID)
	scope := c.Param("scope")

	snapshot, err := h.engine.PlaceWager(c.Request.Context(), services.WagerRequest{
		Scope:         scope,
		ParticipantID: participantID,
		DisplayName:   c.GetString(middleware.KeyParticipantName),
		Amount:        req.Amount,
		Side:          req.Side,
	})
	if err != nil {
		h.respondError(c, "Failed to place bet", err)
		return
	}

	wager, _ := h.engine.Wager(scope, participantID)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"wager":   wager,
		"session": renderSnapshot(snapshot),
	})
}

func (h *GameHandler) GetSession(c *gin.Context) {
	scope := c.Param("scope")
	snapshot, err := h.engine.Snapshot(scope)
	if err != nil {
		h.respondError(c, "No session", err)
		return
	}

	response := gin.H{"session": renderSnapshot(snapshot)}
	if participantID := c.GetString(middleware.KeyParticipantID); participantID != "" {
		if wager, ok := h.engine.Wager(scope, participantID); ok {
			response["wager"] = wager
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *GameHandler) GetResult(c *gin.Context) {
	scope := c.Param("scope")
	if result, ok := h.engine.LastResult(scope); ok {
		c.JSON(http.StatusOK, gin.H{"result": renderResult(result)})
		return
	}

	if h.redisService != nil {
		result, err := h.redisService.LastResult(c.Request.Context(), scope)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"result": renderResult(*result)})
			return
		}
		if !errors.Is(err, redis.Nil) {
			h.log.Warn("failed to read cached result", zap.String("scope", scope), zap.Error(err))
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "No settled session for this scope"})
}

func (h *GameHandler) GetBalance(c *gin.Context) {
	balance, err := h.engine.GetBalance(c.Request.Context(),
		c.GetString(middleware.KeyParticipantID), c.GetString(middleware.KeyParticipantName))
	if err != nil {
		h.respondError(c, "Failed to get balance", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":   balance,
		"formatted": models.FormatCurrency(balance),
	})
}

func (h *GameHandler) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	outcomes, err := h.engine.OutcomeHistory(c.Request.Context(), limit)
	if err != nil {
		if h.recentSidesFallback(c, limit, err) {
			return
		}
		h.respondError(c, "Failed to get history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcomes": outcomes,
		"patterns": h.engine.Patterns(),
	})
}

func (h *GameHandler) GetMyHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	history, err := h.engine.PlayerHistory(c.Request.Context(), c.GetString(middleware.KeyParticipantID), limit)
	if err != nil {
		h.respondError(c, "Failed to get history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"wagers":  history,
		"summary": models.Summarize(history),
	})
}

// recentSidesFallback answers a history request from the Redis side cache
// when the store cannot be read.
func (h *GameHandler) recentSidesFallback(c *gin.Context, limit int, storeErr error) bool {
	if h.redisService == nil {
		return false
	}
	sides, err := h.redisService.RecentSides(c.Request.Context(), int64(limit))
	if err != nil || len(sides) == 0 {
		return false
	}
	h.log.Warn("serving history from redis cache", zap.Error(storeErr))

	history := make([]models.Side, len(sides))
	for i, side := range sides {
		history[len(sides)-1-i] = side
	}
	c.JSON(http.StatusOK, gin.H{
		"outcomes":     []models.Outcome{},
		"recent_sides": sides,
		"patterns":     services.AnalyzeSides(history),
		"degraded":     true,
	})
	return true
}

// respondError maps engine errors to a status code. Declines are never
// internal failures.
func (h *GameHandler) respondError(c *gin.Context, message string, err error) {
	var declined *services.DeclineError
	switch {
	case errors.As(err, &declined):
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrNoActiveSession) || errors.Is(err, services.ErrBettingClosed) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error":   message,
			"code":    declined.Code(),
			"details": declined.Error(),
		})
	case errors.Is(err, services.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": message, "details": err.Error()})
	case errors.Is(err, services.ErrNoActiveSession):
		c.JSON(http.StatusNotFound, gin.H{"error": message, "details": err.Error()})
	case errors.Is(err, services.ErrBetweenRounds):
		c.JSON(http.StatusConflict, gin.H{"error": message, "details": err.Error()})
	case errors.Is(err, services.ErrEngineClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": message, "details": err.Error()})
	default:
		h.log.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   message,
			"details": err.Error(),
		})
	}
}

func renderSnapshot(s models.SessionSnapshot) gin.H {
	return gin.H{
		"id":                s.SessionID,
		"scope":             s.Scope,
		"status":            s.Status,
		"opened_at":         s.OpenedAt,
		"close_at":          s.CloseAt,
		"seconds_remaining": s.SecondsRemaining(),
		"totals":            s.Totals,
		"recent_wagers":     s.RecentWagers,
		"warning":           s.Warning,
	}
}

func renderResult(r models.SessionResult) gin.H {
	return gin.H{
		"session_id":   r.SessionID,
		"scope":        r.Scope,
		"dice":         r.Outcome.Dice,
		"total":        r.Outcome.Total,
		"side":         r.Outcome.Side,
		"side_name":    r.Outcome.Side.DisplayName(),
		"hash":         r.Outcome.ShortHash(),
		"outcome_id":   r.Outcome.ID,
		"winners":      r.Winners,
		"losers":       r.Losers,
		"winner_count": len(r.Winners),
		"loser_count":  len(r.Losers),
		"total_won":    r.TotalWon,
		"total_lost":   r.TotalLost,
		"settled_at":   r.SettledAt,
	}
}
