package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taixiu-backend/internal/config"
	"taixiu-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisService backs the bet rate limiter and republishes session events on
// a per-scope channel for out-of-process listeners.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(ctx context.Context, cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisServiceWithClient(client), nil
}

func NewRedisServiceWithClient(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// rateLimitScript increments the counter and starts its window atomically.
var rateLimitScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// CheckRateLimit reports whether the participant is still under limit
// actions per window.
func (s *RedisService) CheckRateLimit(ctx context.Context, participantID, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, participantID, action)

	count, err := rateLimitScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	return count <= int64(limit), nil
}

func (s *RedisService) BroadcastSnapshot(ctx context.Context, snapshot models.SessionSnapshot) error {
	return s.publish(ctx, models.Event{Type: models.EventSnapshot, Scope: snapshot.Scope, Data: snapshot})
}

// BroadcastResult publishes the result and keeps a copy as the scope's last
// result.
func (s *RedisService) BroadcastResult(ctx context.Context, result models.SessionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyLastResult, result.Scope), data, TTLLastResult)
	pipe.LPush(ctx, KeyRecentSides, string(result.Outcome.Side))
	pipe.LTrim(ctx, KeyRecentSides, 0, RecentSidesLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache result: %w", err)
	}

	return s.publish(ctx, models.Event{Type: models.EventResult, Scope: result.Scope, Data: result})
}

// LastResult returns the cached result for a scope, or redis.Nil.
func (s *RedisService) LastResult(ctx context.Context, scope string) (*models.SessionResult, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyLastResult, scope)).Bytes()
	if err != nil {
		return nil, err
	}

	var result models.SessionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// RecentSides returns cached outcome sides, newest first.
func (s *RedisService) RecentSides(ctx context.Context, limit int64) ([]models.Side, error) {
	if limit <= 0 || limit > RecentSidesLimit {
		limit = RecentSidesLimit
	}
	raw, err := s.client.LRange(ctx, KeyRecentSides, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent sides: %w", err)
	}
	sides := make([]models.Side, len(raw))
	for i, r := range raw {
		sides[i] = models.Side(r)
	}
	return sides, nil
}

func (s *RedisService) publish(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, ScopeChannel(event.Scope), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

func ScopeChannel(scope string) string {
	return fmt.Sprintf(KeyScopeEvents, scope)
}
