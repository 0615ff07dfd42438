package service

import (
	"context"

	"tribuna/internal/database"
	"tribuna/internal/events"
	"tribuna/internal/lifecycle"
	"tribuna/internal/metrics"
	"tribuna/internal/models"
)

type SweepResult struct {
	Started           int `json:"started"`
	Completed         int `json:"completed"`
	BookingsCompleted int `json:"bookings_completed"`
	BookingsExpired   int `json:"bookings_expired"`
	Errors            int `json:"errors"`
}

// Sweeper moves matches along their time-driven statuses and expires unpaid bookings.
// It keeps no state between runs; every update is conditional on the stored status.
type Sweeper struct {
	matches  *MatchService
	bookings *BookingService
}

func NewSweeper(matches *MatchService, bookings *BookingService) *Sweeper {
	return &Sweeper{matches: matches, bookings: bookings}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	m := s.matches

	// upcoming раньше ongoing: давно прошедший матч проходит оба шага за один запуск
	for _, from := range []string{models.MatchUpcoming, models.MatchOngoing} {
		matches, err := m.Store.ListMatches(ctx, database.MatchFilter{Statuses: []string{from}})
		if err != nil {
			metrics.IncSweep("error")
			return res, storeError(err, "matches", from)
		}
		now := m.now()
		for _, match := range matches {
			to, due, err := lifecycle.NextMatchStatus(match, now, m.opts.Location, m.opts.CompletionGrace)
			if err != nil {
				res.Errors++
				m.Logger.Error().Err(err).Int64("match_id", match.ID).Msg("sweep: bad schedule")
				continue
			}
			if !due {
				continue
			}
			moved, err := m.Store.AdvanceMatchStatus(ctx, match.ID, from, to)
			if err != nil {
				res.Errors++
				m.Logger.Error().Err(err).Int64("match_id", match.ID).Msg("sweep: advance status")
				continue
			}
			if !moved {
				continue
			}
			m.Logger.Info().Int64("match_id", match.ID).Str("from", from).Str("to", to).Msg("match status advanced")
			m.publishMatch(events.EventMatchStatus, events.MatchEventPayload{MatchID: match.ID, Status: to})

			switch to {
			case models.MatchOngoing:
				res.Started++
			case models.MatchCompleted:
				res.Completed++
				done, failed := s.completeBookings(ctx, match.ID)
				res.BookingsCompleted += done
				res.Errors += failed
			}
		}
	}

	expired, err := s.bookings.ExpirePending(ctx)
	if err != nil {
		res.Errors++
		m.Logger.Error().Err(err).Msg("sweep: expire pending bookings")
	}
	res.BookingsExpired = expired

	if res.Errors > 0 {
		metrics.IncSweep("partial")
	} else {
		metrics.IncSweep("ok")
	}
	return res, nil
}

// completeBookings closes the paid active and rescheduled bookings of a finished match.
func (s *Sweeper) completeBookings(ctx context.Context, matchID int64) (int, int) {
	m := s.matches
	bookings, err := m.Store.ListBookings(ctx, database.BookingFilter{
		MatchID:       matchID,
		PaymentStatus: models.PaymentPaid,
		Statuses:      lifecycle.MatchComplete.FromStatuses,
	})
	if err != nil {
		m.Logger.Error().Err(err).Int64("match_id", matchID).Msg("sweep: list bookings")
		return 0, 1
	}
	done, failed := 0, 0
	for _, b := range bookings {
		if _, err := m.apply(ctx, b, lifecycle.MatchComplete, 0, transitionOpts{eventType: events.EventBookingCompleted}); err != nil {
			failed++
			m.Logger.Error().Err(err).Int64("booking_id", b.ID).Msg("sweep: complete booking")
			continue
		}
		done++
	}
	return done, failed
}
