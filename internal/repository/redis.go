package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tribuna/internal/config"

	"github.com/redis/go-redis/v9"
)

type RedisSeatCache struct {
	client *redis.Client
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSeatCache(client *redis.Client) *RedisSeatCache {
	return &RedisSeatCache{client: client}
}

func seatsKey(matchID int64) string {
	return fmt.Sprintf("tribuna:seats:%d", matchID)
}

func (r *RedisSeatCache) GetBookedSeats(ctx context.Context, matchID int64) ([]string, bool, error) {
	if r.client == nil {
		return nil, false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, seatsKey(matchID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get seats from redis: %w", err)
	}

	var seats []string
	if err := json.Unmarshal([]byte(val), &seats); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal seats: %w", err)
	}
	return seats, true, nil
}

func (r *RedisSeatCache) SetBookedSeats(ctx context.Context, matchID int64, seats []string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if seats == nil {
		seats = []string{}
	}
	data, err := json.Marshal(seats)
	if err != nil {
		return fmt.Errorf("failed to marshal seats: %w", err)
	}
	if err := r.client.Set(ctx, seatsKey(matchID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set seats in redis: %w", err)
	}
	return nil
}

func (r *RedisSeatCache) InvalidateSeats(ctx context.Context, matchID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, seatsKey(matchID)).Err(); err != nil {
		return fmt.Errorf("failed to delete seats from redis: %w", err)
	}
	return nil
}

// CheckRateLimit is a fixed-window counter: the first hit in a window sets the expiry.
func (r *RedisSeatCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	redisKey := "tribuna:rate_limit:" + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count <= int64(limit), nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
