package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/services"
	"taixiu-backend/internal/storage"
)

const dashboardPatternWindow = 50

// DashboardHandler serves read-only views over the store.
type DashboardHandler struct {
	engine *services.Engine
	store  storage.Store
	log    *zap.Logger
}

func NewDashboardHandler(engine *services.Engine, store storage.Store, log *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		engine: engine,
		store:  store,
		log:    log,
	}
}

func (h *DashboardHandler) GetOutcomes(c *gin.Context) {
	limit := queryLimit(c, 50, 500)

	outcomes, err := h.store.RecentOutcomes(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "Failed to get outcomes", err)
		return
	}

	counts := map[models.Side]int{models.SideHigh: 0, models.SideLow: 0}
	for _, o := range outcomes {
		counts[o.Side]++
	}

	c.JSON(http.StatusOK, gin.H{
		"outcomes": outcomes,
		"count":    len(outcomes),
		"by_side":  counts,
		"percentages": gin.H{
			string(models.SideHigh): percent(counts[models.SideHigh], len(outcomes)),
			string(models.SideLow):  percent(counts[models.SideLow], len(outcomes)),
		},
	})
}

func (h *DashboardHandler) VerifyOutcome(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid outcome id"})
		return
	}

	stored, recomputed, ok, err := h.engine.VerifyOutcome(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Outcome not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to verify outcome", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      ok,
		"stored":     stored,
		"recomputed": recomputed,
	})
}

func (h *DashboardHandler) GetPlayers(c *gin.Context) {
	players, err := h.store.ListPlayers(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to get players", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"count":   len(players),
	})
}

func (h *DashboardHandler) GetPlayer(c *gin.Context) {
	ctx := c.Request.Context()
	player, err := h.store.GetPlayer(ctx, c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Player not found"})
		return
	}
	if err != nil {
		h.internalError(c, "Failed to get player", err)
		return
	}

	history, err := h.store.PlayerWagers(ctx, player.ID, queryLimit(c, 50, 500))
	if err != nil {
		h.internalError(c, "Failed to get player history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"player":  player,
		"wagers":  history,
		"summary": models.Summarize(history),
	})
}

func (h *DashboardHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.store.OutcomeStats(ctx)
	if err != nil {
		h.internalError(c, "Failed to get stats", err)
		return
	}

	report, err := h.storedPatterns(c)
	if err != nil {
		h.internalError(c, "Failed to analyze patterns", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_games": stats.TotalGames,
		"by_side":     stats.BySide,
		"by_total":    stats.ByTotal,
		"by_die_face": stats.ByDieFace,
		"patterns":    report,
	})
}

func (h *DashboardHandler) GetPatterns(c *gin.Context) {
	report, err := h.storedPatterns(c)
	if err != nil {
		h.internalError(c, "Failed to analyze patterns", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stored": report,
		"live":   h.engine.Patterns(),
	})
}

// storedPatterns analyzes the most recent persisted outcomes, oldest first.
func (h *DashboardHandler) storedPatterns(c *gin.Context) (services.PatternReport, error) {
	outcomes, err := h.store.RecentOutcomes(c.Request.Context(), dashboardPatternWindow)
	if err != nil {
		return services.PatternReport{}, err
	}
	sides := make([]models.Side, len(outcomes))
	for i, o := range outcomes {
		sides[len(outcomes)-1-i] = o.Side
	}
	return services.AnalyzeSides(sides), nil
}

func (h *DashboardHandler) internalError(c *gin.Context, message string, err error) {
	h.log.Error(message, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
