package lifecycle

import (
	"testing"
	"time"

	"tribuna/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesFollowTransitionTables(t *testing.T) {
	for _, r := range Rules() {
		t.Run(r.Action, func(t *testing.T) {
			for _, from := range r.FromStatuses {
				assert.True(t, CanTransitionBooking(from, r.ToStatus), "%s -> %s", from, r.ToStatus)
			}
			assert.True(t, CanTransitionPayment(r.FromPayment, r.ToPayment), "%s -> %s", r.FromPayment, r.ToPayment)
			released := r.ToPayment == models.PaymentFailed || r.ToPayment == models.PaymentRefunded
			assert.Equal(t, released, r.ReleaseSeats)
		})
	}
}

func TestForbiddenTransitions(t *testing.T) {
	assert.False(t, CanTransitionPayment(models.PaymentPaid, models.PaymentPending))
	assert.False(t, CanTransitionPayment(models.PaymentFailed, models.PaymentPaid))
	assert.False(t, CanTransitionPayment(models.PaymentRefunded, models.PaymentPaid))
	assert.False(t, CanTransitionBooking(models.BookingRefunded, models.BookingActive))
	assert.False(t, CanTransitionBooking(models.BookingRescheduled, models.BookingActive))
	assert.False(t, CanTransitionBooking(models.BookingActive, models.BookingRescheduled))
	assert.False(t, CanTransitionMatch(models.MatchCancelled, models.MatchUpcoming))
	assert.False(t, CanTransitionMatch(models.MatchCompleted, models.MatchCancelled))
}

func TestPaidBookingCannotBeUserCancelled(t *testing.T) {
	paid := &models.Booking{Status: models.BookingActive, PaymentStatus: models.PaymentPaid}
	pending := &models.Booking{Status: models.BookingActive, PaymentStatus: models.PaymentPending}

	assert.False(t, UserCancel.Applies(paid))
	assert.True(t, UserCancel.Applies(pending))
	assert.True(t, MatchCancel.Applies(paid))
	assert.False(t, MatchCancel.Applies(pending))
}

func TestMatchRefundApplies(t *testing.T) {
	assert.True(t, MatchRefund.Applies(&models.Booking{Status: models.BookingActive, PaymentStatus: models.PaymentPaid}))
	assert.True(t, MatchRefund.Applies(&models.Booking{Status: models.BookingCancelled, PaymentStatus: models.PaymentPaid}))
	assert.False(t, MatchRefund.Applies(&models.Booking{Status: models.BookingCancelled, PaymentStatus: models.PaymentFailed}))
	assert.True(t, MatchRefund.Applies(&models.Booking{Status: models.BookingRescheduled, PaymentStatus: models.PaymentPaid}))
}

func TestRescheduledBookingFollowsSuccessor(t *testing.T) {
	moved := &models.Booking{Status: models.BookingRescheduled, PaymentStatus: models.PaymentPaid}

	assert.True(t, MatchCancel.Applies(moved))
	assert.True(t, MatchRefund.Applies(moved))
	assert.True(t, MatchComplete.Applies(moved))
	assert.False(t, MatchReschedule.Applies(moved))
	assert.False(t, UserCancel.Applies(moved))
}

func TestCanVerify(t *testing.T) {
	tests := []struct {
		status  string
		payment string
		want    bool
	}{
		{models.BookingActive, models.PaymentPaid, true},
		{models.BookingCompleted, models.PaymentPaid, true},
		{models.BookingRescheduled, models.PaymentPaid, true},
		{models.BookingActive, models.PaymentPending, false},
		{models.BookingCancelled, models.PaymentPaid, false},
		{models.BookingRefunded, models.PaymentRefunded, false},
	}
	for _, tt := range tests {
		b := &models.Booking{Status: tt.status, PaymentStatus: tt.payment}
		assert.Equal(t, tt.want, CanVerify(b), "%s/%s", tt.status, tt.payment)
	}
}

func TestMatchGuards(t *testing.T) {
	succ := int64(9)

	assert.NoError(t, CheckCancel(&models.Match{Status: models.MatchUpcoming}))
	assert.NoError(t, CheckCancel(&models.Match{Status: models.MatchOngoing}))
	assert.ErrorIs(t, CheckCancel(&models.Match{Status: models.MatchCancelled}), ErrMatchAlreadyCancelled)
	assert.ErrorIs(t, CheckCancel(&models.Match{Status: models.MatchCompleted}), ErrMatchCompleted)

	assert.NoError(t, CheckReschedule(&models.Match{Status: models.MatchCancelled}))
	assert.ErrorIs(t, CheckReschedule(&models.Match{Status: models.MatchUpcoming}), ErrMatchNotCancelled)
	assert.ErrorIs(t, CheckReschedule(&models.Match{Status: models.MatchCancelled, RescheduledTo: &succ}), ErrMatchHasSuccessor)
	assert.ErrorIs(t, CheckReschedule(&models.Match{Status: models.MatchCancelled, IsRefunded: true}), ErrMatchRefunded)

	assert.NoError(t, CheckRefund(&models.Match{Status: models.MatchCancelled}))
	assert.ErrorIs(t, CheckRefund(&models.Match{Status: models.MatchCancelled, RescheduledTo: &succ}), ErrMatchHasSuccessor)
	assert.ErrorIs(t, CheckRefund(&models.Match{Status: models.MatchCancelled, IsRefunded: true}), ErrMatchRefunded)
}

func TestNextMatchStatus(t *testing.T) {
	loc := time.UTC
	grace := 15 * time.Minute
	start := time.Date(2026, 4, 4, 16, 0, 0, 0, loc)
	m := func(status string) *models.Match {
		return &models.Match{ID: 1, Date: "2026-04-04", Time: "16:00", DurationMinutes: 90, Status: status}
	}

	tests := []struct {
		name   string
		status string
		now    time.Time
		want   string
		moved  bool
	}{
		{"UpcomingBeforeStart", models.MatchUpcoming, start.Add(-time.Second), "", false},
		{"UpcomingAtStart", models.MatchUpcoming, start, models.MatchOngoing, true},
		{"OngoingBeforeEnd", models.MatchOngoing, start.Add(104 * time.Minute), "", false},
		{"OngoingAtEnd", models.MatchOngoing, start.Add(105 * time.Minute), models.MatchCompleted, true},
		{"CancelledNeverMoves", models.MatchCancelled, start.Add(48 * time.Hour), "", false},
		{"CompletedNeverMoves", models.MatchCompleted, start.Add(48 * time.Hour), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, moved, err := NextMatchStatus(m(tt.status), tt.now, loc, grace)
			require.NoError(t, err)
			assert.Equal(t, tt.moved, moved)
			assert.Equal(t, tt.want, got)
		})
	}

	_, _, err := NextMatchStatus(&models.Match{Status: models.MatchUpcoming, Date: "x", Time: "y"}, start, loc, grace)
	assert.Error(t, err)
}
