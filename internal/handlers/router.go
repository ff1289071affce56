package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taixiu-backend/internal/middleware"
	"taixiu-backend/internal/monitoring"
	"taixiu-backend/internal/services"
	"taixiu-backend/internal/storage"
)

type RouterConfig struct {
	Engine  *services.Engine
	Store   storage.Store
	Hub     *WebSocketHub
	Redis   *services.RedisService
	Log     *zap.Logger
	Metrics *monitoring.Metrics

	BetRateLimit int
	Production   bool
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(cfg.Log, cfg.Metrics))
	router.Use(middleware.CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"scopes": cfg.Engine.Scopes(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gameHandler := NewGameHandler(cfg.Engine, cfg.Redis, cfg.Log)
	dashboardHandler := NewDashboardHandler(cfg.Engine, cfg.Store, cfg.Log)
	wsHandler := NewWebSocketHandler(cfg.Engine, cfg.Hub, cfg.Log)

	api := router.Group("/api")
	api.Use(middleware.IdentityMiddleware())
	api.Use(middleware.RateLimitMiddleware(cfg.Redis, cfg.BetRateLimit, time.Minute))
	{
		api.GET("/ws", wsHandler.HandleWebSocket)
		api.GET("/balance", gameHandler.GetBalance)
		api.GET("/history", gameHandler.GetHistory)
		api.GET("/me/history", gameHandler.GetMyHistory)

		scopes := api.Group("/scopes/:scope")
		{
			scopes.GET("", gameHandler.GetSession)
			scopes.POST("/open", gameHandler.OpenSession)
			scopes.POST("/bets", gameHandler.PlaceBet)
			scopes.GET("/result", gameHandler.GetResult)
		}
	}

	dashboard := router.Group("/dashboard")
	{
		dashboard.GET("/outcomes", dashboardHandler.GetOutcomes)
		dashboard.GET("/outcomes/:id/verify", dashboardHandler.VerifyOutcome)
		dashboard.GET("/players", dashboardHandler.GetPlayers)
		dashboard.GET("/players/:id", dashboardHandler.GetPlayer)
		dashboard.GET("/stats", dashboardHandler.GetStats)
		dashboard.GET("/patterns", dashboardHandler.GetPatterns)
	}

	return router
}
