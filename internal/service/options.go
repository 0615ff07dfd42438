package service

import (
	"context"
	"time"

	"tribuna/internal/config"
	"tribuna/internal/domain"
	"tribuna/internal/events"
	"tribuna/internal/metrics"
	"tribuna/internal/models"

	"github.com/rs/zerolog"
)

type Options struct {
	Location               *time.Location
	MaxSeatsPerBooking     int
	PendingTimeout         time.Duration
	CompletionGrace        time.Duration
	DefaultDurationMinutes int
	UserRateLimit          int
	UserRateWindow         time.Duration
	// Now is the clock; tests pin it.
	Now func() time.Time
}

func OptionsFromConfig(cfg config.BookingConfig, loc *time.Location) Options {
	return Options{
		Location:               loc,
		MaxSeatsPerBooking:     cfg.MaxSeatsPerBooking,
		PendingTimeout:         cfg.PendingTimeout(),
		CompletionGrace:        cfg.CompletionGrace(),
		DefaultDurationMinutes: cfg.DefaultDurationMinutes,
		UserRateLimit:          cfg.UserRateLimit,
		UserRateWindow:         time.Duration(cfg.UserRateWindowSeconds) * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.MaxSeatsPerBooking <= 0 {
		o.MaxSeatsPerBooking = models.DefaultMaxSeatsPerBooking
	}
	if o.DefaultDurationMinutes <= 0 {
		o.DefaultDurationMinutes = models.DefaultMatchDurationMinutes
	}
	if o.UserRateWindow <= 0 {
		o.UserRateWindow = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Deps are the collaborators shared by the booking and match services.
// Cache, Notifier and Events may be nil.
type Deps struct {
	Store    Store
	Cache    domain.SeatCache
	Notifier domain.Notifier
	Events   domain.EventPublisher
	Settings *SettingsService
	Logger   *zerolog.Logger
}

type base struct {
	Deps
	opts Options
}

func newBase(d Deps, opts Options) base {
	if d.Logger == nil {
		nop := zerolog.Nop()
		d.Logger = &nop
	}
	return base{Deps: d, opts: opts.withDefaults()}
}

func (b *base) now() time.Time {
	return b.opts.Now()
}

func (b *base) closureLead(ctx context.Context) int {
	if b.Settings == nil {
		return models.DefaultClosureLeadMinutes
	}
	return b.Settings.ClosureLeadMinutes(ctx)
}

func (b *base) invalidateSeats(ctx context.Context, matchID int64) {
	if b.Cache == nil {
		return
	}
	if err := b.Cache.InvalidateSeats(ctx, matchID); err != nil {
		b.Logger.Warn().Err(err).Int64("match_id", matchID).Msg("seat cache invalidation failed")
	}
}

// notify is best effort: a failed enqueue is logged and reported as false.
func (b *base) notify(ctx context.Context, n *models.Notification) bool {
	if b.Notifier == nil || n == nil {
		return false
	}
	if err := b.Notifier.Enqueue(ctx, n); err != nil {
		b.Logger.Error().Err(err).Str("kind", n.Kind).Int64("booking_id", n.BookingID).Msg("notification enqueue failed")
		return false
	}
	return true
}

func (b *base) publishBooking(eventType string, booking *models.Booking, action string, actorID int64, note string) {
	if b.Events == nil {
		return
	}
	payload := events.BookingEventPayload{
		BookingID:     booking.ID,
		UserID:        booking.UserID,
		MatchID:       booking.MatchID,
		Seats:         booking.Seats,
		Status:        booking.Status,
		PaymentStatus: booking.PaymentStatus,
		Action:        action,
		ActorID:       actorID,
		Note:          note,
	}
	if err := b.Events.PublishJSON(eventType, payload); err != nil {
		b.Logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}

func (b *base) publishMatch(eventType string, payload events.MatchEventPayload) {
	if b.Events == nil {
		return
	}
	if err := b.Events.PublishJSON(eventType, payload); err != nil {
		b.Logger.Error().Err(err).Str("event_type", eventType).Int64("match_id", payload.MatchID).Msg("publish event error")
	}
}

func (b *base) getMatch(ctx context.Context, id int64) (*models.Match, error) {
	m, err := b.Store.GetMatch(ctx, id)
	if err != nil {
		return nil, storeError(err, "match", id)
	}
	return m, nil
}

func countAttempt(err error) {
	if err == nil {
		metrics.IncBookingAttempt("ok")
		return
	}
	kind := string(domain.KindOf(err))
	if kind == "" {
		kind = "internal"
	}
	metrics.IncBookingAttempt(kind)
}
