package domain

import (
	"context"
	"time"

	"tribuna/internal/models"
)

// SeatCache keeps the booked seats of a match for the seat-map view.
// A cached list is advisory; booking creation always checks the store.
type SeatCache interface {
	GetBookedSeats(ctx context.Context, matchID int64) ([]string, bool, error)
	SetBookedSeats(ctx context.Context, matchID int64, seats []string, ttl time.Duration) error
	InvalidateSeats(ctx context.Context, matchID int64) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Notifier accepts a notification for asynchronous delivery.
type Notifier interface {
	Enqueue(ctx context.Context, n *models.Notification) error
}

// NotificationSender delivers one notification over a concrete channel.
type NotificationSender interface {
	Name() string
	Send(ctx context.Context, n *models.Notification) error
}

type UserDirectory interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID int64
	Role   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

// Can reports whether the actor holds role or is an admin.
func (a Actor) Can(role string) bool {
	return a.Role == role || a.IsAdmin()
}
