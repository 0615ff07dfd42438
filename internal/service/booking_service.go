package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"tribuna/internal/closure"
	"tribuna/internal/database"
	"tribuna/internal/domain"
	"tribuna/internal/events"
	"tribuna/internal/lifecycle"
	"tribuna/internal/models"
	"tribuna/internal/notify"
	"tribuna/internal/seating"

	"github.com/google/uuid"
)

type BookingService struct {
	base
}

func NewBookingService(deps Deps, opts Options) *BookingService {
	return &BookingService{base: newBase(deps, opts)}
}

type CreateBookingInput struct {
	MatchID           int64
	Seats             []string
	ClaimedTotalCents int64
}

// CreateBooking reserves seats for the caller. The closure window is re-checked here,
// and seat uniqueness is decided by the store inside the insert transaction.
func (s *BookingService) CreateBooking(ctx context.Context, actor domain.Actor, in CreateBookingInput) (*models.Booking, error) {
	booking, err := s.createBooking(ctx, actor, in)
	countAttempt(err)
	if err != nil {
		s.Logger.Debug().Err(err).Int64("user_id", actor.UserID).Int64("match_id", in.MatchID).Msg("booking rejected")
	}
	return booking, err
}

func (s *BookingService) createBooking(ctx context.Context, actor domain.Actor, in CreateBookingInput) (*models.Booking, error) {
	if actor.UserID == 0 {
		return nil, domain.Unauthorized("authentication required")
	}
	if err := s.checkRateLimit(ctx, actor.UserID); err != nil {
		return nil, err
	}

	match, err := s.getMatch(ctx, in.MatchID)
	if err != nil {
		return nil, err
	}
	if err := bookable(match); err != nil {
		return nil, err
	}

	res, err := closure.ForMatch(match, s.opts.Location, s.now(), s.closureLead(ctx))
	if err != nil {
		return nil, domain.Upstream(err, "match %d has an invalid schedule", match.ID)
	}
	if res.BookingClosed() {
		if res.Started() {
			return nil, domain.BookingClosed(nil)
		}
		minutes := res.MinutesUntilStart
		return nil, domain.BookingClosed(&minutes)
	}

	if len(in.Seats) > s.opts.MaxSeatsPerBooking {
		return nil, domain.Validation("at most %d seats per booking", s.opts.MaxSeatsPerBooking)
	}
	seats, err := seating.Normalize(in.Seats)
	if err != nil {
		return nil, domain.Validation("%v", err)
	}
	total, err := seating.TotalFor(seats, match)
	if err != nil {
		return nil, domain.Validation("%v", err)
	}
	if in.ClaimedTotalCents != total {
		return nil, domain.Validation("claimed total %s does not match seat prices %s",
			notify.FormatCents(in.ClaimedTotalCents), notify.FormatCents(total))
	}

	booking := &models.Booking{
		UserID:           actor.UserID,
		MatchID:          match.ID,
		Seats:            seats,
		TotalAmountCents: total,
		PaymentStatus:    models.PaymentPending,
		Status:           models.BookingActive,
		TicketCode:       uuid.NewString(),
	}
	if err := s.Store.CreateBookingWithLock(ctx, booking); err != nil {
		return nil, storeError(err, "match", match.ID)
	}
	s.invalidateSeats(ctx, match.ID)

	s.Logger.Info().
		Int64("booking_id", booking.ID).
		Int64("user_id", booking.UserID).
		Int64("match_id", booking.MatchID).
		Strs("seats", booking.Seats).
		Msg("booking created")

	s.publishBooking(events.EventBookingCreated, booking, models.ActionCreated, actor.UserID, "")
	s.notify(ctx, notify.BookingCreated(booking, match))
	return booking, nil
}

// bookable rejects cancelled and finished matches before the closure check.
func bookable(m *models.Match) error {
	switch m.Status {
	case models.MatchCancelled:
		if m.HasSuccessor() {
			return domain.Rescheduled(*m.RescheduledTo)
		}
		return windowClosed("match %d is unavailable for booking", m.ID)
	case models.MatchOngoing, models.MatchCompleted:
		return domain.BookingClosed(nil)
	}
	return nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, userID int64) error {
	if s.Cache == nil || s.opts.UserRateLimit <= 0 {
		return nil
	}
	key := "booking:" + strconv.FormatInt(userID, 10)
	allowed, err := s.Cache.CheckRateLimit(ctx, key, s.opts.UserRateLimit, s.opts.UserRateWindow)
	if err != nil {
		// кэш недоступен, не блокируем бронирование
		s.Logger.Warn().Err(err).Int64("user_id", userID).Msg("rate limit check failed")
		return nil
	}
	if !allowed {
		return domain.Conflict("too many booking attempts, try again later")
	}
	return nil
}

// CancelBooking is the user's cancel. Only pending bookings may be cancelled this way.
func (s *BookingService) CancelBooking(ctx context.Context, actor domain.Actor, bookingID int64) (*models.Booking, error) {
	booking, err := s.ownedBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}

	switch {
	case booking.Status == models.BookingCancelled && booking.PaymentStatus == models.PaymentFailed:
		return nil, domain.AlreadyDone("booking %d is already cancelled", booking.ID)
	case booking.PaymentStatus == models.PaymentPaid:
		return nil, domain.Conflict("paid booking %d cannot be cancelled", booking.ID)
	case !lifecycle.UserCancel.Applies(booking):
		return nil, domain.Conflict("booking %d cannot be cancelled in status %s/%s", booking.ID, booking.Status, booking.PaymentStatus)
	}

	return s.apply(ctx, booking, lifecycle.UserCancel, actor.UserID, transitionOpts{eventType: events.EventBookingCancelled})
}

type PaymentInput struct {
	Method      string
	Reference   string
	AmountCents int64
}

// ConfirmPayment is the payment collaborator's success callback.
func (s *BookingService) ConfirmPayment(ctx context.Context, actor domain.Actor, bookingID int64, in PaymentInput) (*models.Booking, error) {
	if err := requireRole(actor, models.RolePayments); err != nil {
		return nil, err
	}
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus == models.PaymentPaid {
		return nil, domain.AlreadyDone("booking %d is already paid", booking.ID)
	}
	if !lifecycle.ConfirmPayment.Applies(booking) {
		return nil, windowClosed("booking %d is no longer awaiting payment", booking.ID)
	}
	if in.AmountCents != booking.TotalAmountCents {
		return nil, domain.Validation("payment amount %s does not match booking total %s",
			notify.FormatCents(in.AmountCents), notify.FormatCents(booking.TotalAmountCents))
	}

	match, err := s.getMatch(ctx, booking.MatchID)
	if err != nil {
		return nil, err
	}
	// оплата отмененного или завершенного матча не принимается, бронь потом снимет sweep
	if match.Status == models.MatchCancelled || match.Status == models.MatchCompleted {
		return nil, windowClosed("match %d is %s", match.ID, match.Status)
	}

	now := s.now()
	payment := &models.Payment{
		UserID:      booking.UserID,
		AmountCents: in.AmountCents,
		Method:      in.Method,
		Reference:   in.Reference,
		PaidAt:      &now,
	}
	updated, err := s.apply(ctx, booking, lifecycle.ConfirmPayment, actor.UserID, transitionOpts{
		eventType: events.EventBookingPaid,
		note:      in.Method + " " + in.Reference,
		payment:   payment,
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, notify.PaymentConfirmed(updated, match))
	return updated, nil
}

// FailPayment releases the seats of a booking whose payment was declined.
func (s *BookingService) FailPayment(ctx context.Context, actor domain.Actor, bookingID int64, reason string) (*models.Booking, error) {
	if err := requireRole(actor, models.RolePayments); err != nil {
		return nil, err
	}
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus == models.PaymentFailed {
		return nil, domain.AlreadyDone("payment of booking %d already failed", booking.ID)
	}
	if !lifecycle.FailPayment.Applies(booking) {
		return nil, windowClosed("booking %d is no longer awaiting payment", booking.ID)
	}
	return s.apply(ctx, booking, lifecycle.FailPayment, actor.UserID, transitionOpts{
		eventType: events.EventBookingPaymentFail,
		note:      reason,
	})
}

// VerifyTicket marks a ticket used at the gate. The second scan gets an already-done conflict.
func (s *BookingService) VerifyTicket(ctx context.Context, actor domain.Actor, code string) (*models.Booking, *models.Match, error) {
	if err := requireRole(actor, models.RoleGate); err != nil {
		return nil, nil, err
	}
	if code == "" {
		return nil, nil, domain.Validation("ticket code is required")
	}
	booking, err := s.Store.GetBookingByTicketCode(ctx, code)
	if err != nil {
		return nil, nil, storeError(err, "ticket", code)
	}
	if booking.IsTicketVerified {
		return nil, nil, domain.AlreadyDone("ticket already used at %s", verifiedAt(booking))
	}
	if !lifecycle.CanVerify(booking) {
		return nil, nil, domain.Conflict("ticket is not valid: booking %s, payment %s", booking.Status, booking.PaymentStatus)
	}

	updated, err := s.Store.MarkTicketVerified(ctx, booking.ID, lifecycle.VerifiableStatuses, s.now())
	if err != nil {
		if errors.Is(err, database.ErrAlreadyVerified) {
			return nil, nil, domain.AlreadyDone("ticket already used")
		}
		return nil, nil, storeError(err, "booking", booking.ID)
	}
	match, err := s.getMatch(ctx, updated.MatchID)
	if err != nil {
		return nil, nil, err
	}

	s.Logger.Info().Int64("booking_id", updated.ID).Int64("gate_user", actor.UserID).Msg("ticket verified")
	s.publishBooking(events.EventTicketVerified, updated, models.ActionTicketVerified, actor.UserID, "")
	return updated, match, nil
}

func verifiedAt(b *models.Booking) string {
	if b.VerifiedAt == nil {
		return "unknown time"
	}
	return b.VerifiedAt.UTC().Format(time.RFC3339)
}

// DeleteBooking removes a terminal booking. Admin only.
func (s *BookingService) DeleteBooking(ctx context.Context, actor domain.Actor, bookingID int64) error {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	booking, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if !booking.IsTerminal() {
		return domain.Conflict("booking %d is %s/%s and cannot be deleted", booking.ID, booking.Status, booking.PaymentStatus)
	}
	if err := s.Store.DeleteBooking(ctx, booking.ID); err != nil {
		return storeError(err, "booking", booking.ID)
	}
	s.Logger.Info().Int64("booking_id", booking.ID).Int64("admin_id", actor.UserID).Msg("booking deleted")
	s.publishBooking(events.EventBookingDeleted, booking, "deleted", actor.UserID, "")
	return nil
}

// GetBooking returns the booking with its history to its owner or an admin.
func (s *BookingService) GetBooking(ctx context.Context, actor domain.Actor, bookingID int64) (*models.Booking, error) {
	booking, err := s.ownedBooking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	history, err := s.Store.GetBookingHistory(ctx, booking.ID)
	if err != nil {
		return nil, storeError(err, "booking", booking.ID)
	}
	booking.History = history
	return booking, nil
}

func (s *BookingService) ListUserBookings(ctx context.Context, actor domain.Actor) ([]*models.Booking, error) {
	if actor.UserID == 0 {
		return nil, domain.Unauthorized("authentication required")
	}
	bookings, err := s.Store.GetUserBookings(ctx, actor.UserID)
	if err != nil {
		return nil, storeError(err, "user", actor.UserID)
	}
	return bookings, nil
}

// ExpirePending cancels pending bookings older than the configured timeout and releases their seats.
// It returns the number of expired bookings.
func (s *BookingService) ExpirePending(ctx context.Context) (int, error) {
	if s.opts.PendingTimeout <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.opts.PendingTimeout)
	stale, err := s.Store.ListBookings(ctx, database.BookingFilter{
		PaymentStatus: models.PaymentPending,
		Statuses:      []string{models.BookingActive},
		CreatedBefore: cutoff,
	})
	if err != nil {
		return 0, storeError(err, "pending bookings", "")
	}

	expired := 0
	for _, b := range stale {
		_, err := s.apply(ctx, b, lifecycle.ExpirePending, 0, transitionOpts{
			eventType: events.EventBookingExpired,
			note:      fmt.Sprintf("not paid within %s", s.opts.PendingTimeout),
		})
		if err != nil {
			// пользователь мог оплатить или отменить бронь между выборкой и обновлением
			s.Logger.Debug().Err(err).Int64("booking_id", b.ID).Msg("pending booking not expired")
			continue
		}
		expired++
	}
	if expired > 0 {
		s.Logger.Info().Int("count", expired).Msg("expired pending bookings")
	}
	return expired, nil
}

func (s *BookingService) getBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, storeError(err, "booking", id)
	}
	return b, nil
}

func (s *BookingService) ownedBooking(ctx context.Context, actor domain.Actor, id int64) (*models.Booking, error) {
	if actor.UserID == 0 {
		return nil, domain.Unauthorized("authentication required")
	}
	b, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, domain.Unauthorized("booking %d belongs to another user", id)
	}
	return b, nil
}

type transitionOpts struct {
	eventType    string
	note         string
	payment      *models.Payment
	moveTo       int64
	refundReason string
}

// apply runs one lifecycle rule as a compare-and-swap on the booking.
func (b *base) apply(ctx context.Context, booking *models.Booking, rule lifecycle.Rule, actorID int64, o transitionOpts) (*models.Booking, error) {
	updated, err := b.Store.TransitionBooking(ctx, database.BookingTransition{
		BookingID:     booking.ID,
		FromStatuses:  rule.FromStatuses,
		FromPayment:   rule.FromPayment,
		ToStatus:      rule.ToStatus,
		ToPayment:     rule.ToPayment,
		Action:        rule.Action,
		Note:          o.note,
		ReleaseSeats:  rule.ReleaseSeats,
		MoveToMatchID: o.moveTo,
		RefundReason:  o.refundReason,
		Payment:       o.payment,
	})
	if err != nil {
		return nil, storeError(err, "booking", booking.ID)
	}
	if rule.ReleaseSeats || o.moveTo > 0 {
		b.invalidateSeats(ctx, booking.MatchID)
	}
	if o.moveTo > 0 {
		b.invalidateSeats(ctx, o.moveTo)
	}
	if o.eventType != "" {
		b.publishBooking(o.eventType, updated, rule.Action, actorID, o.note)
	}
	return updated, nil
}

func windowClosed(format string, args ...any) *domain.Error {
	e := domain.Conflict(format, args...)
	e.Outcome = domain.OutcomeWindowClosed
	return e
}
