package repository

import (
	"context"
	"sync/atomic"
	"time"

	"tribuna/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverSeatCache serves from primary and switches to fallback after the first primary error.
// The primary is retried once recoveryInterval has passed.
type FailoverSeatCache struct {
	primary   domain.SeatCache
	fallback  domain.SeatCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos
	now       func() time.Time
}

func NewFailoverSeatCache(primary, fallback domain.SeatCache, logger *zerolog.Logger) *FailoverSeatCache {
	return &FailoverSeatCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary decides whether the next call goes to the primary.
func (r *FailoverSeatCache) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverSeatCache) observe(err error) {
	if err == nil {
		if r.isDown.CompareAndSwap(true, false) {
			r.logger.Info().Msg("Primary seat cache recovered")
		}
		return
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary seat cache failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverSeatCache) IsDown() bool {
	return r.isDown.Load()
}

func (r *FailoverSeatCache) GetBookedSeats(ctx context.Context, matchID int64) ([]string, bool, error) {
	if r.usePrimary() {
		seats, ok, err := r.primary.GetBookedSeats(ctx, matchID)
		r.observe(err)
		if err == nil {
			return seats, ok, nil
		}
	}
	return r.fallback.GetBookedSeats(ctx, matchID)
}

func (r *FailoverSeatCache) SetBookedSeats(ctx context.Context, matchID int64, seats []string, ttl time.Duration) error {
	if r.usePrimary() {
		err := r.primary.SetBookedSeats(ctx, matchID, seats, ttl)
		r.observe(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.SetBookedSeats(ctx, matchID, seats, ttl)
}

// InvalidateSeats always tries the primary too, so a recovered primary does not keep a stale list.
func (r *FailoverSeatCache) InvalidateSeats(ctx context.Context, matchID int64) error {
	if err := r.fallback.InvalidateSeats(ctx, matchID); err != nil {
		return err
	}
	err := r.primary.InvalidateSeats(ctx, matchID)
	r.observe(err)
	return err
}

func (r *FailoverSeatCache) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, key, limit, window)
		r.observe(err)
		if err == nil {
			return allowed, nil
		}
	}
	return r.fallback.CheckRateLimit(ctx, key, limit, window)
}
