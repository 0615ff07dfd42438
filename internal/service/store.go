package service

import (
	"context"
	"time"

	"tribuna/internal/database"
	"tribuna/internal/models"
)

// Store is the persistence the services need; *database.DB implements it.
type Store interface {
	GetStadium(ctx context.Context, id int64) (*models.Stadium, error)
	ListStadiums(ctx context.Context) ([]*models.Stadium, error)

	TouchUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateUserContact(ctx context.Context, id int64, name, email string, telegramChatID int64) error
	GetActiveUsers(ctx context.Context, days int) ([]*models.User, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error

	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id int64) (*models.Match, error)
	ListMatches(ctx context.Context, f database.MatchFilter) ([]*models.Match, error)
	CancelMatch(ctx context.Context, id int64, reason string, at time.Time) error
	CreateSuccessorMatch(ctx context.Context, oldID int64, successor *models.Match) error
	MarkMatchRefunded(ctx context.Context, id int64, at time.Time) error
	AdvanceMatchStatus(ctx context.Context, id int64, from, to string) (bool, error)

	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	TransitionBooking(ctx context.Context, t database.BookingTransition) (*models.Booking, error)
	MarkTicketVerified(ctx context.Context, id int64, statuses []string, at time.Time) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByTicketCode(ctx context.Context, code string) (*models.Booking, error)
	ListBookings(ctx context.Context, f database.BookingFilter) ([]*models.Booking, error)
	GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
	GetBookedSeats(ctx context.Context, matchID int64) ([]string, error)
	GetBookingHistory(ctx context.Context, bookingID int64) ([]models.StatusHistoryEntry, error)
	DeleteBooking(ctx context.Context, id int64) error

	GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error)

	GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error)
}

var _ Store = (*database.DB)(nil)
