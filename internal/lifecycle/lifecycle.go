// Package lifecycle holds the allowed status transitions of bookings and matches.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"tribuna/internal/models"
)

var (
	ErrMatchAlreadyCancelled = errors.New("match is already cancelled")
	ErrMatchCompleted        = errors.New("match is already completed")
	ErrMatchNotCancelled     = errors.New("match is not cancelled")
	ErrMatchHasSuccessor     = errors.New("match was already rescheduled")
	ErrMatchRefunded         = errors.New("match was already refunded")
)

var bookingTransitions = map[string][]string{
	models.BookingActive:    {models.BookingCancelled, models.BookingRefunded, models.BookingCompleted},
	models.BookingCancelled: {models.BookingRescheduled, models.BookingRefunded},

	// перенесенная бронь живет на новом матче, как активная
	models.BookingRescheduled: {models.BookingCancelled, models.BookingRefunded, models.BookingCompleted},
}

var paymentTransitions = map[string][]string{
	models.PaymentPending: {models.PaymentPaid, models.PaymentFailed},
	models.PaymentPaid:    {models.PaymentRefunded},
}

var matchTransitions = map[string][]string{
	models.MatchUpcoming: {models.MatchOngoing, models.MatchCancelled},
	models.MatchOngoing:  {models.MatchCompleted, models.MatchCancelled},
}

func CanTransitionBooking(from, to string) bool {
	return from == to || contains(bookingTransitions[from], to)
}

func CanTransitionPayment(from, to string) bool {
	return from == to || contains(paymentTransitions[from], to)
}

func CanTransitionMatch(from, to string) bool {
	return contains(matchTransitions[from], to)
}

// Rule describes one booking transition: which bookings it applies to and where they end up.
type Rule struct {
	Action       string
	FromStatuses []string
	FromPayment  string
	ToStatus     string
	ToPayment    string
	ReleaseSeats bool
}

// Applies reports whether the booking is in a source state of the rule.
func (r Rule) Applies(b *models.Booking) bool {
	return b.PaymentStatus == r.FromPayment && contains(r.FromStatuses, b.Status)
}

var (
	ConfirmPayment = Rule{
		Action:       models.ActionPaymentCompleted,
		FromStatuses: []string{models.BookingActive},
		FromPayment:  models.PaymentPending,
		ToStatus:     models.BookingActive,
		ToPayment:    models.PaymentPaid,
	}
	FailPayment = Rule{
		Action:       models.ActionPaymentFailed,
		FromStatuses: []string{models.BookingActive},
		FromPayment:  models.PaymentPending,
		ToStatus:     models.BookingCancelled,
		ToPayment:    models.PaymentFailed,
		ReleaseSeats: true,
	}
	UserCancel = Rule{
		Action:       models.ActionUserCancelled,
		FromStatuses: []string{models.BookingActive},
		FromPayment:  models.PaymentPending,
		ToStatus:     models.BookingCancelled,
		ToPayment:    models.PaymentFailed,
		ReleaseSeats: true,
	}
	ExpirePending = Rule{
		Action:       models.ActionPendingExpired,
		FromStatuses: []string{models.BookingActive},
		FromPayment:  models.PaymentPending,
		ToStatus:     models.BookingCancelled,
		ToPayment:    models.PaymentFailed,
		ReleaseSeats: true,
	}
	MatchCancel = Rule{
		Action:       models.ActionMatchCancelled,
		FromStatuses: []string{models.BookingActive, models.BookingRescheduled},
		FromPayment:  models.PaymentPaid,
		ToStatus:     models.BookingCancelled,
		ToPayment:    models.PaymentPaid,
	}
	MatchReschedule = Rule{
		Action:       models.ActionMatchRescheduled,
		FromStatuses: []string{models.BookingCancelled},
		FromPayment:  models.PaymentPaid,
		ToStatus:     models.BookingRescheduled,
		ToPayment:    models.PaymentPaid,
	}
	MatchRefund = Rule{
		Action:       models.ActionMatchRefunded,
		FromStatuses: []string{models.BookingActive, models.BookingCancelled, models.BookingRescheduled},
		FromPayment:  models.PaymentPaid,
		ToStatus:     models.BookingRefunded,
		ToPayment:    models.PaymentRefunded,
		ReleaseSeats: true,
	}
	MatchComplete = Rule{
		Action:       models.ActionMatchCompleted,
		FromStatuses: []string{models.BookingActive, models.BookingRescheduled},
		FromPayment:  models.PaymentPaid,
		ToStatus:     models.BookingCompleted,
		ToPayment:    models.PaymentPaid,
	}
)

// Rules lists every booking rule, used to validate them against the transition tables.
func Rules() []Rule {
	return []Rule{ConfirmPayment, FailPayment, UserCancel, ExpirePending, MatchCancel, MatchReschedule, MatchRefund, MatchComplete}
}

// VerifiableStatuses are the booking statuses admitted at the gate.
var VerifiableStatuses = []string{models.BookingActive, models.BookingCompleted, models.BookingRescheduled}

func CanVerify(b *models.Booking) bool {
	return b.PaymentStatus == models.PaymentPaid && contains(VerifiableStatuses, b.Status)
}

func CheckCancel(m *models.Match) error {
	switch m.Status {
	case models.MatchCancelled:
		return ErrMatchAlreadyCancelled
	case models.MatchCompleted:
		return ErrMatchCompleted
	}
	if !CanTransitionMatch(m.Status, models.MatchCancelled) {
		return fmt.Errorf("match %d cannot be cancelled from status %q", m.ID, m.Status)
	}
	return nil
}

// CheckReschedule and CheckRefund guard the single successor-or-refund decision of a cancelled match.
func CheckReschedule(m *models.Match) error {
	if m.Status != models.MatchCancelled {
		return ErrMatchNotCancelled
	}
	if m.HasSuccessor() {
		return ErrMatchHasSuccessor
	}
	if m.IsRefunded {
		return ErrMatchRefunded
	}
	return nil
}

func CheckRefund(m *models.Match) error {
	return CheckReschedule(m)
}

// NextMatchStatus returns the time-driven status a match should move to, if any.
// Cancelled and completed matches never move.
func NextMatchStatus(m *models.Match, now time.Time, loc *time.Location, grace time.Duration) (string, bool, error) {
	switch m.Status {
	case models.MatchUpcoming:
		start, err := m.StartsAt(loc)
		if err != nil {
			return "", false, err
		}
		if !now.Before(start) {
			return models.MatchOngoing, true, nil
		}
	case models.MatchOngoing:
		end, err := m.EndsAt(loc, grace)
		if err != nil {
			return "", false, err
		}
		if !now.Before(end) {
			return models.MatchCompleted, true, nil
		}
	}
	return "", false, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
