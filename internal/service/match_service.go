package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"tribuna/internal/closure"
	"tribuna/internal/database"
	"tribuna/internal/domain"
	"tribuna/internal/events"
	"tribuna/internal/lifecycle"
	"tribuna/internal/metrics"
	"tribuna/internal/models"
	"tribuna/internal/notify"
	"tribuna/internal/seating"
)

type MatchService struct {
	base
}

func NewMatchService(deps Deps, opts Options) *MatchService {
	return &MatchService{base: newBase(deps, opts)}
}

// MatchView is a match annotated with its closure state and booked seats.
type MatchView struct {
	*models.Match
	BookedSeats         []string      `json:"booked_seats"`
	ClosureState        closure.State `json:"closure_state"`
	BookingClosed       bool          `json:"booking_closed"`
	MatchStarted        bool          `json:"match_started"`
	MinutesUntilClosure int           `json:"minutes_until_closure"`
	MinutesUntilStart   int           `json:"minutes_until_start"`
}

type SeatMap struct {
	MatchID   int64                `json:"match_id"`
	Seats     []seating.SeatStatus `json:"seats"`
	Occupancy seating.Occupancy    `json:"occupancy"`
}

// CascadeResult counts one batch of booking transitions.
type CascadeResult struct {
	Affected         int     `json:"affected"`
	Failed           int     `json:"failed"`
	Notified         int     `json:"notified"`
	FailedBookingIDs []int64 `json:"failed_booking_ids,omitempty"`
}

// MatchActionResult reports a match action. Resumed is set when the match was already
// in the target state and only the bookings left over by an earlier run were processed.
type MatchActionResult struct {
	Match     *models.Match `json:"match"`
	Successor *models.Match `json:"successor,omitempty"`
	Resumed   bool          `json:"resumed,omitempty"`
	CascadeResult
}

func (s *MatchService) ListMatches(ctx context.Context, stadiumID int64) ([]*MatchView, error) {
	matches, err := s.Store.ListMatches(ctx, database.MatchFilter{StadiumID: stadiumID})
	if err != nil {
		return nil, storeError(err, "matches", stadiumID)
	}
	lead := s.closureLead(ctx)
	views := make([]*MatchView, 0, len(matches))
	for _, m := range matches {
		v, err := s.view(ctx, m, lead)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *MatchService) GetMatch(ctx context.Context, id int64) (*MatchView, error) {
	m, err := s.getMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, m, s.closureLead(ctx))
}

func (s *MatchService) view(ctx context.Context, m *models.Match, lead int) (*MatchView, error) {
	res, err := closure.ForMatch(m, s.opts.Location, s.now(), lead)
	if err != nil {
		return nil, domain.Upstream(err, "match %d has an invalid schedule", m.ID)
	}
	booked, err := s.bookedSeats(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	v := &MatchView{
		Match:               m,
		BookedSeats:         booked,
		ClosureState:        res.State,
		BookingClosed:       res.BookingClosed(),
		MatchStarted:        res.Started(),
		MinutesUntilClosure: res.MinutesUntilClosure,
		MinutesUntilStart:   res.MinutesUntilStart,
	}
	// отмененный или завершенный матч закрыт для продаж независимо от времени
	if m.Status == models.MatchCancelled || m.Status == models.MatchCompleted {
		v.BookingClosed = true
		v.MinutesUntilClosure = 0
	}
	return v, nil
}

// SeatMap returns every grid seat with its price and booked flag.
func (s *MatchService) SeatMap(ctx context.Context, matchID int64) (*SeatMap, error) {
	m, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	booked, err := s.bookedSeats(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	set := seating.SetOf(booked)
	return &SeatMap{
		MatchID:   m.ID,
		Seats:     seating.Map(m, set),
		Occupancy: seating.OccupancyOf(set),
	}, nil
}

// bookedSeats reads through the seat cache. The cache is for display only; bookings are
// checked by the store.
func (s *MatchService) bookedSeats(ctx context.Context, matchID int64) ([]string, error) {
	if s.Cache != nil {
		seats, ok, err := s.Cache.GetBookedSeats(ctx, matchID)
		switch {
		case err != nil:
			metrics.IncSeatCache("error")
			s.Logger.Warn().Err(err).Int64("match_id", matchID).Msg("seat cache read failed")
		case ok:
			metrics.IncSeatCache("hit")
			return seats, nil
		default:
			metrics.IncSeatCache("miss")
		}
	}

	seats, err := s.Store.GetBookedSeats(ctx, matchID)
	if err != nil {
		return nil, storeError(err, "match", matchID)
	}
	seats = seating.Sorted(seating.SetOf(seats))

	if s.Cache != nil {
		if err := s.Cache.SetBookedSeats(ctx, matchID, seats, models.SeatCacheTTL*time.Second); err != nil {
			s.Logger.Warn().Err(err).Int64("match_id", matchID).Msg("seat cache write failed")
		}
	}
	return seats, nil
}

type CreateMatchInput struct {
	StadiumID         int64
	HomeTeam          string
	AwayTeam          string
	Description       string
	Date              string
	Time              string
	DurationMinutes   int
	VIPPriceCents     int64
	RegularPriceCents int64
	IsFinal           bool
}

func (s *MatchService) CreateMatch(ctx context.Context, actor domain.Actor, in CreateMatchInput) (*models.Match, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	home, away := strings.TrimSpace(in.HomeTeam), strings.TrimSpace(in.AwayTeam)
	if home == "" || away == "" {
		return nil, domain.Validation("both team names are required")
	}
	if strings.EqualFold(home, away) {
		return nil, domain.Validation("a team cannot play itself")
	}
	if in.VIPPriceCents <= 0 || in.RegularPriceCents <= 0 {
		return nil, domain.Validation("prices must be positive")
	}
	if in.DurationMinutes < 0 {
		return nil, domain.Validation("duration must not be negative")
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = s.opts.DefaultDurationMinutes
	}
	if _, err := s.Store.GetStadium(ctx, in.StadiumID); err != nil {
		return nil, storeError(err, "stadium", in.StadiumID)
	}

	m := &models.Match{
		StadiumID:         in.StadiumID,
		HomeTeam:          home,
		AwayTeam:          away,
		Description:       strings.TrimSpace(in.Description),
		Date:              in.Date,
		Time:              in.Time,
		DurationMinutes:   in.DurationMinutes,
		VIPPriceCents:     in.VIPPriceCents,
		RegularPriceCents: in.RegularPriceCents,
		IsFinal:           in.IsFinal,
		Status:            models.MatchUpcoming,
	}
	if err := s.checkFutureStart(m); err != nil {
		return nil, err
	}
	if err := s.Store.CreateMatch(ctx, m); err != nil {
		return nil, storeError(err, "match", 0)
	}

	s.Logger.Info().Int64("match_id", m.ID).Str("title", m.Title()).Str("date", m.Date).Str("time", m.Time).Msg("match created")
	s.publishMatch(events.EventMatchCreated, events.MatchEventPayload{MatchID: m.ID, Status: m.Status, ActorID: actor.UserID})
	return m, nil
}

func (s *MatchService) checkFutureStart(m *models.Match) error {
	start, err := m.StartsAt(s.opts.Location)
	if err != nil {
		return domain.Validation("date must be YYYY-MM-DD and time HH:MM")
	}
	if !start.After(s.now()) {
		return domain.Validation("match must start in the future")
	}
	return nil
}

// CancelMatch cancels the match and moves every paid active or rescheduled booking to cancelled.
// Payments stay paid until the match is rescheduled or refunded. Repeating it on a
// cancelled match retries the bookings an earlier cascade failed on.
func (s *MatchService) CancelMatch(ctx context.Context, actor domain.Actor, matchID int64, reason string) (*MatchActionResult, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validation("cancellation reason is required")
	}
	m, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	resumed := false
	if err := lifecycle.CheckCancel(m); err != nil {
		if !errors.Is(err, lifecycle.ErrMatchAlreadyCancelled) {
			return nil, domain.Conflict("%v", err)
		}
		resumed = true
		if m.CancellationReason != "" {
			reason = m.CancellationReason
		}
	}

	if !resumed {
		if err := s.Store.CancelMatch(ctx, m.ID, reason, s.now()); err != nil {
			return nil, storeError(err, "match", m.ID)
		}
	}

	// каскад не прерывается вместе с запросом: статус матча уже изменен
	cctx := context.WithoutCancel(ctx)
	cancelled, err := s.getMatch(cctx, m.ID)
	if err != nil {
		return nil, err
	}

	bookings, err := s.Store.ListBookings(cctx, database.BookingFilter{
		MatchID:       m.ID,
		PaymentStatus: models.PaymentPaid,
		Statuses:      lifecycle.MatchCancel.FromStatuses,
	})
	if err != nil {
		return nil, storeError(err, "match bookings", m.ID)
	}
	if resumed && len(bookings) == 0 {
		return nil, domain.AlreadyDone("match %d is already cancelled", m.ID)
	}

	result := s.cascade(cctx, "cancel", bookings, func(b *models.Booking) (*models.Booking, error) {
		return s.apply(cctx, b, lifecycle.MatchCancel, actor.UserID, transitionOpts{
			eventType: events.EventBookingCancelled,
			note:      reason,
		})
	}, func(b *models.Booking) *models.Notification {
		return notify.MatchCancelled(b, cancelled)
	})

	s.Logger.Info().
		Int64("match_id", m.ID).
		Str("reason", reason).
		Bool("resumed", resumed).
		Int("affected", result.Affected).
		Int("failed", result.Failed).
		Int("notified", result.Notified).
		Msg("match cancelled")
	if !resumed {
		s.publishMatch(events.EventMatchCancelled, events.MatchEventPayload{
			MatchID: m.ID, Status: cancelled.Status, Reason: reason, ActorID: actor.UserID,
			Affected: result.Affected, Failed: result.Failed, Notified: result.Notified,
		})
	}
	return &MatchActionResult{Match: cancelled, Resumed: resumed, CascadeResult: result}, nil
}

type RescheduleInput struct {
	Date string
	Time string
	// StadiumID is optional; zero keeps the original stadium.
	StadiumID int64
}

// RescheduleMatch creates the successor of a cancelled match and transfers its paid bookings there.
// Repeating it on a rescheduled match transfers the leftovers to the existing successor;
// the new date and stadium are ignored then.
func (s *MatchService) RescheduleMatch(ctx context.Context, actor domain.Actor, matchID int64, in RescheduleInput) (*MatchActionResult, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	old, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	checkErr := lifecycle.CheckReschedule(old)
	resumed := errors.Is(checkErr, lifecycle.ErrMatchHasSuccessor)
	if !resumed && checkErr != nil {
		return nil, successorError(old, checkErr, false)
	}

	var successor *models.Match
	if resumed {
		successor, err = s.getMatch(ctx, *old.RescheduledTo)
	} else {
		successor, err = s.createSuccessor(ctx, old, in)
	}
	if err != nil {
		return nil, err
	}

	cctx := context.WithoutCancel(ctx)
	updatedOld, err := s.getMatch(cctx, old.ID)
	if err != nil {
		return nil, err
	}
	s.invalidateSeats(cctx, successor.ID)

	bookings, err := s.Store.ListBookings(cctx, database.BookingFilter{
		MatchID:       old.ID,
		PaymentStatus: models.PaymentPaid,
		Statuses:      lifecycle.MatchReschedule.FromStatuses,
	})
	if err != nil {
		return nil, storeError(err, "match bookings", old.ID)
	}
	if resumed && len(bookings) == 0 {
		return nil, successorError(old, checkErr, false)
	}

	result := s.cascade(cctx, "reschedule", bookings, func(b *models.Booking) (*models.Booking, error) {
		return s.apply(cctx, b, lifecycle.MatchReschedule, actor.UserID, transitionOpts{
			eventType: events.EventBookingRescheduled,
			note:      "transferred to match " + strconv.FormatInt(successor.ID, 10),
			moveTo:    successor.ID,
		})
	}, func(b *models.Booking) *models.Notification {
		return notify.MatchRescheduled(b, updatedOld, successor)
	})

	s.Logger.Info().
		Int64("match_id", old.ID).
		Int64("successor_id", successor.ID).
		Str("date", successor.Date).
		Str("time", successor.Time).
		Bool("resumed", resumed).
		Int("transferred", result.Affected).
		Int("failed", result.Failed).
		Msg("match rescheduled")
	if !resumed {
		s.publishMatch(events.EventMatchRescheduled, events.MatchEventPayload{
			MatchID: old.ID, Status: updatedOld.Status, SuccessorID: successor.ID, ActorID: actor.UserID,
			Affected: result.Affected, Failed: result.Failed, Notified: result.Notified,
		})
	}
	return &MatchActionResult{Match: updatedOld, Successor: successor, Resumed: resumed, CascadeResult: result}, nil
}

// createSuccessor validates and stores the successor match, copying everything but the schedule.
func (s *MatchService) createSuccessor(ctx context.Context, old *models.Match, in RescheduleInput) (*models.Match, error) {
	successor := &models.Match{
		StadiumID:         old.StadiumID,
		HomeTeam:          old.HomeTeam,
		AwayTeam:          old.AwayTeam,
		Description:       old.Description,
		Date:              in.Date,
		Time:              in.Time,
		DurationMinutes:   old.DurationMinutes,
		VIPPriceCents:     old.VIPPriceCents,
		RegularPriceCents: old.RegularPriceCents,
		IsFinal:           old.IsFinal,
	}
	if in.StadiumID > 0 && in.StadiumID != old.StadiumID {
		if _, err := s.Store.GetStadium(ctx, in.StadiumID); err != nil {
			return nil, storeError(err, "stadium", in.StadiumID)
		}
		successor.StadiumID = in.StadiumID
	}
	if err := s.checkFutureStart(successor); err != nil {
		return nil, err
	}

	if err := s.Store.CreateSuccessorMatch(ctx, old.ID, successor); err != nil {
		return nil, storeError(err, "match", old.ID)
	}
	return successor, nil
}

// RefundMatch refunds every paid booking of a cancelled match without successor.
// Repeating it on a refunded match retries the bookings an earlier cascade failed on.
func (s *MatchService) RefundMatch(ctx context.Context, actor domain.Actor, matchID int64) (*MatchActionResult, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	m, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	checkErr := lifecycle.CheckRefund(m)
	resumed := errors.Is(checkErr, lifecycle.ErrMatchRefunded)
	if !resumed && checkErr != nil {
		return nil, successorError(m, checkErr, true)
	}

	if !resumed {
		if err := s.Store.MarkMatchRefunded(ctx, m.ID, s.now()); err != nil {
			return nil, storeError(err, "match", m.ID)
		}
	}

	cctx := context.WithoutCancel(ctx)
	refunded, err := s.getMatch(cctx, m.ID)
	if err != nil {
		return nil, err
	}
	bookings, err := s.Store.ListBookings(cctx, database.BookingFilter{
		MatchID:       m.ID,
		PaymentStatus: models.PaymentPaid,
		Statuses:      lifecycle.MatchRefund.FromStatuses,
	})
	if err != nil {
		return nil, storeError(err, "match bookings", m.ID)
	}
	if resumed && len(bookings) == 0 {
		return nil, successorError(m, checkErr, true)
	}

	reason := "match cancelled"
	if refunded.CancellationReason != "" {
		reason += ": " + refunded.CancellationReason
	}
	result := s.cascade(cctx, "refund", bookings, func(b *models.Booking) (*models.Booking, error) {
		return s.apply(cctx, b, lifecycle.MatchRefund, actor.UserID, transitionOpts{
			eventType:    events.EventBookingRefunded,
			note:         reason,
			refundReason: reason,
		})
	}, func(b *models.Booking) *models.Notification {
		return notify.MatchRefunded(b, refunded)
	})

	s.Logger.Info().
		Int64("match_id", m.ID).
		Bool("resumed", resumed).
		Int("refunded", result.Affected).
		Int("failed", result.Failed).
		Int("notified", result.Notified).
		Msg("match refunded")
	if !resumed {
		s.publishMatch(events.EventMatchRefunded, events.MatchEventPayload{
			MatchID: m.ID, Status: refunded.Status, Reason: reason, ActorID: actor.UserID,
			Affected: result.Affected, Failed: result.Failed, Notified: result.Notified,
		})
	}
	return &MatchActionResult{Match: refunded, Resumed: resumed, CascadeResult: result}, nil
}

// successorError maps the reschedule/refund precondition failures. Repeating the same
// decision is reported as already done.
func successorError(m *models.Match, err error, refund bool) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lifecycle.ErrMatchHasSuccessor):
		var e *domain.Error
		if refund {
			e = domain.Conflict("match %d was rescheduled to match %d and cannot be refunded", m.ID, *m.RescheduledTo)
		} else {
			e = domain.AlreadyDone("match %d was already rescheduled to match %d", m.ID, *m.RescheduledTo)
		}
		e.SuccessorMatchID = m.RescheduledTo
		return e
	case errors.Is(err, lifecycle.ErrMatchRefunded):
		if refund {
			return domain.AlreadyDone("match %d was already refunded", m.ID)
		}
		return domain.Conflict("match %d was refunded and cannot be rescheduled", m.ID)
	default:
		return domain.Conflict("%v", err)
	}
}

// cascade runs step for every booking in its own transaction. A failed step is logged
// and counted, and the batch goes on. Notifications are queued only for applied steps.
func (s *MatchService) cascade(ctx context.Context, op string, bookings []*models.Booking,
	step func(*models.Booking) (*models.Booking, error),
	message func(*models.Booking) *models.Notification,
) CascadeResult {
	var r CascadeResult
	for _, b := range bookings {
		updated, err := step(b)
		if err != nil {
			r.Failed++
			r.FailedBookingIDs = append(r.FailedBookingIDs, b.ID)
			metrics.IncCascadeStep(op, "failed")
			s.Logger.Error().Err(err).Str("operation", op).Int64("booking_id", b.ID).Msg("cascade step failed")
			continue
		}
		r.Affected++
		metrics.IncCascadeStep(op, "ok")
		if s.notify(ctx, message(updated)) {
			r.Notified++
		}
	}
	return r
}

// ManifestBookings lists the paid bookings admitted at the gate for the match.
func (s *MatchService) ManifestBookings(ctx context.Context, actor domain.Actor, matchID int64) (*models.Match, []*models.Booking, error) {
	if actor.UserID == 0 {
		return nil, nil, domain.Unauthorized("authentication required")
	}
	if !actor.Can(models.RoleGate) {
		return nil, nil, domain.Unauthorized("role %s required", models.RoleGate)
	}
	m, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}
	bookings, err := s.Store.ListBookings(ctx, database.BookingFilter{
		MatchID:       m.ID,
		PaymentStatus: models.PaymentPaid,
		Statuses:      lifecycle.VerifiableStatuses,
	})
	if err != nil {
		return nil, nil, storeError(err, "match bookings", m.ID)
	}
	return m, bookings, nil
}

func (s *MatchService) ListStadiums(ctx context.Context) ([]*models.Stadium, error) {
	stadiums, err := s.Store.ListStadiums(ctx)
	if err != nil {
		return nil, storeError(err, "stadiums", "")
	}
	return stadiums, nil
}
