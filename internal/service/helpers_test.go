package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tribuna/internal/database"
	"tribuna/internal/domain"
	"tribuna/internal/events"
	"tribuna/internal/models"
	"tribuna/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Enqueue(ctx context.Context, n *models.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockNotifier) sent(kind string) []*models.Notification {
	var out []*models.Notification
	for _, c := range m.Calls {
		if n, ok := c.Arguments.Get(1).(*models.Notification); ok && n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

var (
	customer = domain.Actor{UserID: 1, Role: models.RoleCustomer}
	other    = domain.Actor{UserID: 2, Role: models.RoleCustomer}
	admin    = domain.Actor{UserID: 90, Role: models.RoleAdmin}
	gate     = domain.Actor{UserID: 91, Role: models.RoleGate}
	cashier  = domain.Actor{UserID: 92, Role: models.RolePayments}
)

type testEnv struct {
	db       *database.DB
	cache    *repository.MemorySeatCache
	notifier *MockNotifier
	bus      *events.EventBus
	settings *SettingsService
	bookings *BookingService
	matches  *MatchService
	sweeper  *Sweeper
	stadium  *models.Stadium
	clock    time.Time
	deps     Deps
	opts     Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "tribuna.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stadium := &models.Stadium{Name: "Benjamin Mkapa", City: "Dar es Salaam", Capacity: 150}
	require.NoError(t, db.UpsertStadium(context.Background(), stadium))

	env := &testEnv{
		db:       db,
		cache:    repository.NewMemorySeatCache(),
		notifier: new(MockNotifier),
		bus:      events.NewEventBus(),
		stadium:  stadium,
		// часы совпадают с часами базы, чтобы created_at и таймаут брони были сравнимы
		clock: time.Now().UTC().Truncate(time.Minute),
	}
	env.notifier.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Maybe()

	env.settings = NewSettingsService(db, env.bus, models.DefaultClosureLeadMinutes, &logger)
	deps := Deps{
		Store:    db,
		Cache:    env.cache,
		Notifier: env.notifier,
		Events:   env.bus,
		Settings: env.settings,
		Logger:   &logger,
	}
	opts := Options{
		Location:        time.UTC,
		PendingTimeout:  15 * time.Minute,
		CompletionGrace: 15 * time.Minute,
		UserRateLimit:   100,
		UserRateWindow:  time.Minute,
		Now:             func() time.Time { return env.clock },
	}
	env.deps, env.opts = deps, opts
	env.bookings = NewBookingService(deps, opts)
	env.matches = NewMatchService(deps, opts)
	env.sweeper = NewSweeper(env.matches, env.bookings)
	return env
}

// flakyStore fails the transitions of one booking until failures runs out.
type flakyStore struct {
	Store
	bookingID int64
	failures  int
}

func (s *flakyStore) TransitionBooking(ctx context.Context, t database.BookingTransition) (*models.Booking, error) {
	if t.BookingID == s.bookingID && s.failures > 0 {
		s.failures--
		return nil, errors.New("database is locked")
	}
	return s.Store.TransitionBooking(ctx, t)
}

// matchesOver builds a match service on top of store, sharing the rest of the env.
func (e *testEnv) matchesOver(store Store) *MatchService {
	deps := e.deps
	deps.Store = store
	return NewMatchService(deps, e.opts)
}

func (e *testEnv) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
}

// createMatch schedules a match starting `in` from the test clock.
func (e *testEnv) createMatch(t *testing.T, in time.Duration) *models.Match {
	t.Helper()
	start := e.clock.Add(in)
	m := &models.Match{
		StadiumID:         e.stadium.ID,
		HomeTeam:          "Simba",
		AwayTeam:          "Yanga",
		Description:       "Kariakoo derby",
		Date:              start.Format(models.DateLayout),
		Time:              start.Format(models.TimeLayout),
		DurationMinutes:   90,
		VIPPriceCents:     2000,
		RegularPriceCents: 500,
	}
	require.NoError(t, e.db.CreateMatch(context.Background(), m))
	return m
}

func (e *testEnv) book(t *testing.T, actor domain.Actor, m *models.Match, seats ...string) *models.Booking {
	t.Helper()
	total := int64(0)
	for _, s := range seats {
		if s[0] == 'A' || s[0] == 'B' {
			total += m.VIPPriceCents
		} else {
			total += m.RegularPriceCents
		}
	}
	b, err := e.bookings.CreateBooking(context.Background(), actor, CreateBookingInput{
		MatchID: m.ID, Seats: seats, ClaimedTotalCents: total,
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) bookPaid(t *testing.T, actor domain.Actor, m *models.Match, seats ...string) *models.Booking {
	t.Helper()
	b := e.book(t, actor, m, seats...)
	paid, err := e.bookings.ConfirmPayment(context.Background(), cashier, b.ID, PaymentInput{
		Method: "mpesa", Reference: "REF-" + b.TicketCode[:8], AmountCents: b.TotalAmountCents,
	})
	require.NoError(t, err)
	return paid
}

func (e *testEnv) reload(t *testing.T, id int64) *models.Booking {
	t.Helper()
	b, err := e.db.GetBooking(context.Background(), id)
	require.NoError(t, err)
	return b
}

func requireKind(t *testing.T, err error, kind domain.Kind, outcome domain.Outcome) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, domain.KindOf(err), "error: %v", err)
	if outcome != "" {
		require.Equal(t, outcome, domain.OutcomeOf(err), "error: %v", err)
	}
}
