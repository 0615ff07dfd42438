package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"tribuna/internal/domain"
	"tribuna/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCreateBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)

	b, err := env.bookings.CreateBooking(ctx, customer, CreateBookingInput{
		MatchID: m.ID, Seats: []string{"a1", "A2"}, ClaimedTotalCents: 4000,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A1", "A2"}, b.Seats)
	assert.Equal(t, int64(4000), b.TotalAmountCents)
	assert.Equal(t, models.PaymentPending, b.PaymentStatus)
	assert.Equal(t, models.BookingActive, b.Status)
	assert.NotEmpty(t, b.TicketCode)
	require.Len(t, b.History, 1)
	assert.Equal(t, models.ActionCreated, b.History[0].Action)

	created := env.notifier.sent(models.NotifyBookingCreated)
	require.Len(t, created, 1)
	assert.Equal(t, b.ID, created[0].BookingID)
}

func TestCreateBooking_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)

	tests := []struct {
		name  string
		actor domain.Actor
		in    CreateBookingInput
		kind  domain.Kind
	}{
		{"anonymous", domain.Actor{}, CreateBookingInput{MatchID: m.ID, Seats: []string{"C1"}, ClaimedTotalCents: 500}, domain.KindUnauthorized},
		{"unknown match", customer, CreateBookingInput{MatchID: 999, Seats: []string{"C1"}, ClaimedTotalCents: 500}, domain.KindNotFound},
		{"no seats", customer, CreateBookingInput{MatchID: m.ID}, domain.KindValidation},
		{"bad seat", customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"K1"}, ClaimedTotalCents: 500}, domain.KindValidation},
		{"duplicate seat", customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C1", "c1"}, ClaimedTotalCents: 1000}, domain.KindValidation},
		{"wrong total", customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"A1"}, ClaimedTotalCents: 500}, domain.KindValidation},
		{"too many seats", customer, CreateBookingInput{MatchID: m.ID, Seats: []string{
			"C1", "C2", "C3", "C4", "C5", "C6", "C7", "C8", "C9", "C10", "C11",
		}, ClaimedTotalCents: 5500}, domain.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.bookings.CreateBooking(ctx, tt.actor, tt.in)
			requireKind(t, err, tt.kind, domain.OutcomeRetryable)
		})
	}
}

func TestCreateBooking_SeatConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)

	env.book(t, customer, m, "A1", "A2")

	_, err := env.bookings.CreateBooking(ctx, other, CreateBookingInput{
		MatchID: m.ID, Seats: []string{"A1", "C1"}, ClaimedTotalCents: 2500,
	})
	requireKind(t, err, domain.KindConflict, domain.OutcomeRetryable)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, []string{"A1"}, de.Seats)

	// C1 остается свободным
	b := env.book(t, other, m, "C1")
	assert.Equal(t, []string{"C1"}, b.Seats)
}

func TestCreateBooking_ConcurrentSameSeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := env.bookings.CreateBooking(ctx, domain.Actor{UserID: userID, Role: models.RoleCustomer},
				CreateBookingInput{MatchID: m.ID, Seats: []string{"B7"}, ClaimedTotalCents: 2000})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.Equal(t, domain.KindConflict, domain.KindOf(err), "error: %v", err)
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	seats, err := env.db.GetBookedSeats(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"B7"}, seats)
}

func TestCreateBooking_ClosureWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 8*time.Minute)

	_, err := env.bookings.CreateBooking(ctx, customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C1"}, ClaimedTotalCents: 500})
	requireKind(t, err, domain.KindBookingClosed, domain.OutcomeWindowClosed)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.NotNil(t, de.MinutesUntilStart)
	assert.Equal(t, 8, *de.MinutesUntilStart)

	// настройка окна читается на каждом запросе
	require.NoError(t, env.settings.SetClosureLeadMinutes(ctx, admin, 5))
	_, err = env.bookings.CreateBooking(ctx, customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C1"}, ClaimedTotalCents: 500})
	require.NoError(t, err)

	env.advance(9 * time.Minute)
	_, err = env.bookings.CreateBooking(ctx, customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C2"}, ClaimedTotalCents: 500})
	requireKind(t, err, domain.KindBookingClosed, domain.OutcomeWindowClosed)
	require.ErrorAs(t, err, &de)
	assert.Nil(t, de.MinutesUntilStart, "match already started")
}

func TestCreateBooking_CancelledMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)

	_, err := env.matches.CancelMatch(ctx, admin, m.ID, "rain")
	require.NoError(t, err)

	// без нового матча повторять бесполезно
	_, err = env.bookings.CreateBooking(ctx, customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C1"}, ClaimedTotalCents: 500})
	requireKind(t, err, domain.KindConflict, domain.OutcomeWindowClosed)

	res, err := env.matches.RescheduleMatch(ctx, admin, m.ID, RescheduleInput{
		Date: env.clock.Add(48 * time.Hour).Format(models.DateLayout), Time: "18:00",
	})
	require.NoError(t, err)

	_, err = env.bookings.CreateBooking(ctx, customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C1"}, ClaimedTotalCents: 500})
	requireKind(t, err, domain.KindConflict, "")
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	require.NotNil(t, de.SuccessorMatchID)
	assert.Equal(t, res.Successor.ID, *de.SuccessorMatchID)
}

func TestCreateBooking_RateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	env.bookings.opts.UserRateLimit = 2

	env.book(t, customer, m, "C1")
	env.book(t, customer, m, "C2")
	_, err := env.bookings.CreateBooking(ctx, customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C3"}, ClaimedTotalCents: 500})
	requireKind(t, err, domain.KindConflict, domain.OutcomeRetryable)

	// лимит считается на пользователя
	env.book(t, other, m, "C3")
}

func TestCancelBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	b := env.book(t, customer, m, "C5")

	_, err := env.bookings.CancelBooking(ctx, other, b.ID)
	requireKind(t, err, domain.KindUnauthorized, "")

	cancelled, err := env.bookings.CancelBooking(ctx, customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentFailed, cancelled.PaymentStatus)

	_, err = env.bookings.CancelBooking(ctx, customer, b.ID)
	requireKind(t, err, domain.KindConflict, domain.OutcomeAlreadyDone)

	// место освобождено
	env.book(t, other, m, "C5")
}

func TestCancelBooking_PaidIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	b := env.bookPaid(t, customer, m, "D1")

	_, err := env.bookings.CancelBooking(ctx, customer, b.ID)
	requireKind(t, err, domain.KindConflict, domain.OutcomeRetryable)
	assert.Equal(t, models.PaymentPaid, env.reload(t, b.ID).PaymentStatus)

	_, err = env.bookings.CancelBooking(ctx, admin, b.ID)
	requireKind(t, err, domain.KindConflict, "")
}

func TestConfirmPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	b := env.book(t, customer, m, "A3", "C3")

	_, err := env.bookings.ConfirmPayment(ctx, customer, b.ID, PaymentInput{AmountCents: b.TotalAmountCents})
	requireKind(t, err, domain.KindUnauthorized, "")

	_, err = env.bookings.ConfirmPayment(ctx, cashier, b.ID, PaymentInput{AmountCents: 1})
	requireKind(t, err, domain.KindValidation, "")

	paid, err := env.bookings.ConfirmPayment(ctx, cashier, b.ID, PaymentInput{Method: "card", Reference: "tx-1", AmountCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, paid.PaymentStatus)
	assert.Equal(t, models.BookingActive, paid.Status)

	payment, err := env.db.GetPaymentByBookingID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), payment.AmountCents)
	assert.Equal(t, "tx-1", payment.Reference)

	_, err = env.bookings.ConfirmPayment(ctx, cashier, b.ID, PaymentInput{AmountCents: 2500})
	requireKind(t, err, domain.KindConflict, domain.OutcomeAlreadyDone)

	assert.Len(t, env.notifier.sent(models.NotifyPaymentConfirmed), 1)
}

func TestConfirmPayment_CancelledMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	b := env.book(t, customer, m, "C3")

	_, err := env.matches.CancelMatch(ctx, admin, m.ID, "security")
	require.NoError(t, err)

	_, err = env.bookings.ConfirmPayment(ctx, cashier, b.ID, PaymentInput{AmountCents: b.TotalAmountCents})
	requireKind(t, err, domain.KindConflict, domain.OutcomeWindowClosed)
	assert.Equal(t, models.PaymentPending, env.reload(t, b.ID).PaymentStatus)
}

func TestFailPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	b := env.book(t, customer, m, "E1")

	failed, err := env.bookings.FailPayment(ctx, cashier, b.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, failed.PaymentStatus)
	assert.Equal(t, models.BookingCancelled, failed.Status)

	_, err = env.bookings.FailPayment(ctx, cashier, b.ID, "again")
	requireKind(t, err, domain.KindConflict, domain.OutcomeAlreadyDone)

	_, err = env.bookings.ConfirmPayment(ctx, cashier, b.ID, PaymentInput{AmountCents: b.TotalAmountCents})
	requireKind(t, err, domain.KindConflict, domain.OutcomeWindowClosed)

	seats, err := env.db.GetBookedSeats(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestVerifyTicket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	pending := env.book(t, customer, m, "F1")
	paid := env.bookPaid(t, customer, m, "F2")

	_, _, err := env.bookings.VerifyTicket(ctx, customer, paid.TicketCode)
	requireKind(t, err, domain.KindUnauthorized, "")

	_, _, err = env.bookings.VerifyTicket(ctx, gate, "no-such-code")
	requireKind(t, err, domain.KindNotFound, "")

	_, _, err = env.bookings.VerifyTicket(ctx, gate, pending.TicketCode)
	requireKind(t, err, domain.KindConflict, domain.OutcomeRetryable)

	verified, match, err := env.bookings.VerifyTicket(ctx, gate, paid.TicketCode)
	require.NoError(t, err)
	assert.True(t, verified.IsTicketVerified)
	require.NotNil(t, verified.VerifiedAt)
	assert.Equal(t, m.ID, match.ID)
	firstAt := *verified.VerifiedAt

	env.advance(time.Minute)
	_, _, err = env.bookings.VerifyTicket(ctx, gate, paid.TicketCode)
	requireKind(t, err, domain.KindConflict, domain.OutcomeAlreadyDone)

	stored := env.reload(t, paid.ID)
	require.NotNil(t, stored.VerifiedAt)
	assert.True(t, firstAt.Equal(*stored.VerifiedAt), "second scan must not touch the timestamp")

	history, err := env.db.GetBookingHistory(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionTicketVerified, history[len(history)-1].Action)
}

func TestGetBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	b := env.bookPaid(t, customer, m, "G1")

	got, err := env.bookings.GetBooking(ctx, customer, b.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, models.ActionCreated, got.History[0].Action)
	assert.Equal(t, models.ActionPaymentCompleted, got.History[1].Action)

	_, err = env.bookings.GetBooking(ctx, other, b.ID)
	requireKind(t, err, domain.KindUnauthorized, "")

	_, err = env.bookings.GetBooking(ctx, admin, b.ID)
	require.NoError(t, err)

	_, err = env.bookings.GetBooking(ctx, customer, 12345)
	requireKind(t, err, domain.KindNotFound, "")

	mine, err := env.bookings.ListUserBookings(ctx, customer)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)
}

func TestDeleteBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	active := env.book(t, customer, m, "H1")
	done := env.book(t, customer, m, "H2")
	_, err := env.bookings.CancelBooking(ctx, customer, done.ID)
	require.NoError(t, err)

	requireKind(t, env.bookings.DeleteBooking(ctx, customer, done.ID), domain.KindUnauthorized, "")
	requireKind(t, env.bookings.DeleteBooking(ctx, admin, active.ID), domain.KindConflict, "")
	require.NoError(t, env.bookings.DeleteBooking(ctx, admin, done.ID))
	requireKind(t, env.bookings.DeleteBooking(ctx, admin, done.ID), domain.KindNotFound, "")
}

func TestDeleteBooking_PaidOnCancelledMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	paid := env.bookPaid(t, customer, m, "E3")

	_, err := env.matches.CancelMatch(ctx, admin, m.ID, "power cut")
	require.NoError(t, err)
	require.Equal(t, models.BookingCancelled, env.reload(t, paid.ID).Status)

	// оплата еще не возвращена, удалять нельзя
	requireKind(t, env.bookings.DeleteBooking(ctx, admin, paid.ID), domain.KindConflict, "")

	res, err := env.matches.RefundMatch(ctx, admin, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affected)
	require.NoError(t, env.bookings.DeleteBooking(ctx, admin, paid.ID))
}

func TestExpirePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)
	stale := env.book(t, customer, m, "J1")
	paid := env.bookPaid(t, other, m, "J2")

	n, err := env.bookings.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	env.advance(16 * time.Minute)
	n, err = env.bookings.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired := env.reload(t, stale.ID)
	assert.Equal(t, models.BookingCancelled, expired.Status)
	assert.Equal(t, models.PaymentFailed, expired.PaymentStatus)
	assert.Equal(t, models.PaymentPaid, env.reload(t, paid.ID).PaymentStatus)

	seats, err := env.db.GetBookedSeats(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"J2"}, seats)

	env.bookings.opts.PendingTimeout = 0
	n, err = env.bookings.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNotifierFailureDoesNotFailBooking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := env.createMatch(t, 3*time.Hour)

	env.notifier.ExpectedCalls = nil
	env.notifier.On("Enqueue", mock.Anything, mock.Anything).Return(assert.AnError)

	b, err := env.bookings.CreateBooking(ctx, customer, CreateBookingInput{MatchID: m.ID, Seats: []string{"C9"}, ClaimedTotalCents: 500})
	require.NoError(t, err)
	assert.NotZero(t, b.ID)
	env.notifier.AssertNumberOfCalls(t, "Enqueue", 1)
}
