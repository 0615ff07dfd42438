package repository

import (
	"context"
	"sync"
	"time"
)

// MemorySeatCache is the in-process stand-in used while redis is unavailable.
type MemorySeatCache struct {
	seats      sync.Map // matchID -> seatEntry
	rateLimits sync.Map // key -> *rateLimitEntry
	mu         sync.Mutex
	now        func() time.Time
}

type seatEntry struct {
	seats     []string
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemorySeatCache() *MemorySeatCache {
	return &MemorySeatCache{now: time.Now}
}

func (r *MemorySeatCache) GetBookedSeats(ctx context.Context, matchID int64) ([]string, bool, error) {
	val, ok := r.seats.Load(matchID)
	if !ok {
		return nil, false, nil
	}
	entry := val.(seatEntry)
	if !r.now().Before(entry.expiresAt) {
		r.seats.Delete(matchID)
		return nil, false, nil
	}
	return append([]string(nil), entry.seats...), true, nil
}

func (r *MemorySeatCache) SetBookedSeats(ctx context.Context, matchID int64, seats []string, ttl time.Duration) error {
	r.seats.Store(matchID, seatEntry{
		seats:     append([]string{}, seats...),
		expiresAt: r.now().Add(ttl),
	})
	return nil
}

func (r *MemorySeatCache) InvalidateSeats(ctx context.Context, matchID int64) error {
	r.seats.Delete(matchID)
	return nil
}

func (r *MemorySeatCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	val, ok := r.rateLimits.Load(key)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{count: 1, expiresAt: now.Add(window)}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}
	r.rateLimits.Store(key, entry)

	return entry.count <= limit, nil
}
