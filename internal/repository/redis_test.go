package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSeatCache(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	cache := NewRedisSeatCache(client)
	ctx := context.Background()

	t.Run("Miss", func(t *testing.T) {
		seats, ok, err := cache.GetBookedSeats(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, seats)
	})

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, cache.SetBookedSeats(ctx, 1, []string{"A1", "C7"}, 30*time.Second))

		seats, ok, err := cache.GetBookedSeats(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"A1", "C7"}, seats)
	})

	t.Run("EmptyListIsAHit", func(t *testing.T) {
		require.NoError(t, cache.SetBookedSeats(ctx, 2, nil, 30*time.Second))
		seats, ok, err := cache.GetBookedSeats(ctx, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, seats)
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, cache.SetBookedSeats(ctx, 3, []string{"B2"}, 30*time.Second))
		s.FastForward(31 * time.Second)
		_, ok, err := cache.GetBookedSeats(ctx, 3)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Invalidate", func(t *testing.T) {
		require.NoError(t, cache.SetBookedSeats(ctx, 4, []string{"J15"}, time.Minute))
		require.NoError(t, cache.InvalidateSeats(ctx, 4))
		_, ok, err := cache.GetBookedSeats(ctx, 4)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RateLimit", func(t *testing.T) {
		key := "booking:42"
		for i := 0; i < 3; i++ {
			allowed, err := cache.CheckRateLimit(ctx, key, 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
		}
		allowed, err := cache.CheckRateLimit(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)

		s.FastForward(61 * time.Second)
		allowed, err = cache.CheckRateLimit(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "a new window starts after expiry")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, Ping(ctx, client))
	})
}

func TestRedisSeatCache_ServerDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	cache := NewRedisSeatCache(client)
	_, _, err = cache.GetBookedSeats(context.Background(), 1)
	assert.Error(t, err)
}

func TestRedisSeatCache_NilClient(t *testing.T) {
	cache := NewRedisSeatCache(nil)
	ctx := context.Background()

	_, _, err := cache.GetBookedSeats(ctx, 1)
	assert.Error(t, err)
	assert.Error(t, cache.SetBookedSeats(ctx, 1, nil, time.Second))
	assert.Error(t, cache.InvalidateSeats(ctx, 1))
	_, err = cache.CheckRateLimit(ctx, "k", 1, time.Second)
	assert.Error(t, err)
	assert.NoError(t, Close(nil))
}
