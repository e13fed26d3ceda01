package database

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key formats
const (
	keyRunLock   = "engine:%s:run_lock"   // symbol
	keyMarkPrice = "engine:%s:mark_price" // symbol
)

// MarkPriceTTL bounds how stale a cached mark price may be before cycles
// fall back to a REST price lookup.
const MarkPriceTTL = 30 * time.Second

// RedisState provides the Redis-backed coordination layer: the per-symbol
// run lock that keeps cycles single-flight, and the mark-price cache fed by
// the websocket stream. Degrades gracefully when Redis is unavailable.
type RedisState struct {
	client  *redis.Client
	enabled bool
}

// NewRedisState connects to Redis. When disabled or unreachable the service
// is returned in degraded mode: locks always acquire, prices always miss.
func NewRedisState(addr, password string, db int, enabled bool) *RedisState {
	rs := &RedisState{enabled: enabled}
	if !enabled {
		return rs
	}

	rs.client = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rs.client.Ping(ctx).Err(); err != nil {
		log.Printf("[REDIS] Initial connection failed, running degraded: %v", err)
		rs.enabled = false
		return rs
	}

	log.Printf("[REDIS] Connected successfully at %s", addr)
	return rs
}

// AcquireRunLock takes the per-symbol cycle lock with a TTL so a crashed
// run cannot wedge the engine. Returns false when another run holds it.
func (rs *RedisState) AcquireRunLock(ctx context.Context, symbol string, ttl time.Duration) (bool, error) {
	if !rs.enabled {
		return true, nil
	}
	ok, err := rs.client.SetNX(ctx, fmt.Sprintf(keyRunLock, symbol), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// ReleaseRunLock drops the cycle lock
func (rs *RedisState) ReleaseRunLock(ctx context.Context, symbol string) error {
	if !rs.enabled {
		return nil
	}
	if err := rs.client.Del(ctx, fmt.Sprintf(keyRunLock, symbol)).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// SetMarkPrice caches the latest mark price from the websocket stream
func (rs *RedisState) SetMarkPrice(ctx context.Context, symbol string, price float64) error {
	if !rs.enabled {
		return nil
	}
	val := strconv.FormatFloat(price, 'f', -1, 64)
	if err := rs.client.Set(ctx, fmt.Sprintf(keyMarkPrice, symbol), val, MarkPriceTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache mark price: %w", err)
	}
	return nil
}

// GetMarkPrice returns the cached mark price, or (0, false) on a miss
func (rs *RedisState) GetMarkPrice(ctx context.Context, symbol string) (float64, bool) {
	if !rs.enabled {
		return 0, false
	}
	val, err := rs.client.Get(ctx, fmt.Sprintf(keyMarkPrice, symbol)).Result()
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}

// Close shuts down the Redis client
func (rs *RedisState) Close() error {
	if rs.client == nil {
		return nil
	}
	return rs.client.Close()
}
