package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"taixiu-backend/internal/config"
	"taixiu-backend/internal/handlers"
	"taixiu-backend/internal/logger"
	"taixiu-backend/internal/monitoring"
	"taixiu-backend/internal/services"
	"taixiu-backend/internal/storage"
	"taixiu-backend/internal/storage/postgres"
	"taixiu-backend/internal/storage/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var redisService *services.RedisService
	if cfg.RedisEnabled {
		redisService, err = services.NewRedisService(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisService.Close()
		logg.Info("redis connected", zap.String("addr", cfg.RedisURL))
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := handlers.NewWebSocketHub(logg.Named("ws"))
	go hub.Run(hubCtx)

	broadcasters := services.MultiBroadcaster{hub}
	if redisService != nil {
		broadcasters = append(broadcasters, redisService)
	}

	engine := services.NewEngine(services.EngineConfig{
		Rules:          cfg.Rules,
		BettingWindow:  cfg.BettingWindow,
		PollInterval:   cfg.PollInterval,
		NextRoundDelay: cfg.NextRoundDelay,
	}, store, broadcasters, logg.Named("engine"), metrics)

	if err := engine.LoadHistory(ctx); err != nil {
		logg.Warn("failed to load outcome history", zap.Error(err))
	}

	for _, scope := range cfg.AutoOpenScopes {
		if _, err := engine.OpenSession(ctx, services.OpenRequest{Scope: scope}); err != nil {
			logg.Error("failed to open scope", zap.String("scope", scope), zap.Error(err))
		}
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Engine:       engine,
		Store:        store,
		Hub:          hub,
		Redis:        redisService,
		Log:          logg.Named("http"),
		Metrics:      metrics,
		BetRateLimit: cfg.BetRateLimit,
		Production:   cfg.IsProduction(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("storage", cfg.StorageDriver),
			zap.Bool("redis", redisService != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logg.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("http shutdown", zap.Error(err))
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logg.Error("engine shutdown", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	balances := storage.Balances{
		Default: cfg.Rules.DefaultBalance,
		Reset:   cfg.Rules.ResetBalance,
	}

	switch cfg.StorageDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.PostgresDSN, balances)
	default:
		return sqlite.Open(cfg.SQLitePath, balances)
	}
}
