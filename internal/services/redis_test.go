package services_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taixiu-backend/internal/models"
	"taixiu-backend/internal/services"
)

func setupTestRedis(t *testing.T) (*services.RedisService, *redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	redisService := services.NewRedisServiceWithClient(client)
	t.Cleanup(func() { _ = redisService.Close() })
	return redisService, client, mr
}

func TestRedisRateLimit(t *testing.T) {
	redisService, _, mr := setupTestRedis(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		allowed, err := redisService.CheckRateLimit(ctx, "u1", services.ActionBet, 3, time.Minute)
		if err != nil {
			t.Fatalf("Failed to check rate limit: %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}

	allowed, err := redisService.CheckRateLimit(ctx, "u1", services.ActionBet, 3, time.Minute)
	if err != nil {
		t.Fatalf("Failed to check rate limit: %v", err)
	}
	if allowed {
		t.Error("fourth attempt should be limited")
	}

	allowed, _ = redisService.CheckRateLimit(ctx, "u2", services.ActionBet, 3, time.Minute)
	if !allowed {
		t.Error("other participants should not share the limit")
	}

	mr.FastForward(time.Minute + time.Second)
	allowed, _ = redisService.CheckRateLimit(ctx, "u1", services.ActionBet, 3, time.Minute)
	if !allowed {
		t.Error("limit should reset after the window")
	}
}

func TestRedisBroadcast(t *testing.T) {
	redisService, client, _ := setupTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, services.ScopeChannel("lobby"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	snapshot := models.SessionSnapshot{SessionID: "s1", Scope: "lobby", Status: models.SessionStatusOpen}
	if err := redisService.BroadcastSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("Failed to broadcast snapshot: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("Failed to receive message: %v", err)
	}
	var event struct {
		Type  models.EventType       `json:"type"`
		Scope string                 `json:"scope"`
		Data  models.SessionSnapshot `json:"data"`
	}
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if event.Type != models.EventSnapshot || event.Data.SessionID != "s1" {
		t.Errorf("unexpected event: %+v", event)
	}

	result := models.SessionResult{
		SessionID: "s1",
		Scope:     "lobby",
		Outcome:   models.Outcome{Dice: []int{3, 4, 4}, Total: 11, Side: models.SideHigh},
	}
	if err := redisService.BroadcastResult(ctx, result); err != nil {
		t.Fatalf("Failed to broadcast result: %v", err)
	}
	if _, err := sub.ReceiveMessage(ctx); err != nil {
		t.Fatalf("Failed to receive result: %v", err)
	}

	cached, err := redisService.LastResult(ctx, "lobby")
	if err != nil {
		t.Fatalf("Failed to read cached result: %v", err)
	}
	if cached.SessionID != "s1" || cached.Outcome.Total != 11 {
		t.Errorf("unexpected cached result: %+v", cached)
	}

	sides, err := redisService.RecentSides(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to read recent sides: %v", err)
	}
	if len(sides) != 1 || sides[0] != models.SideHigh {
		t.Errorf("recent sides = %v", sides)
	}

	if _, err := redisService.LastResult(ctx, "empty"); err != redis.Nil {
		t.Errorf("missing result error = %v, want redis.Nil", err)
	}
}
