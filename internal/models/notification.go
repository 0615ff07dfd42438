package models

import "time"

// Notification is a single user-facing message produced by a booking or match action.
type Notification struct {
	Kind      string `json:"kind"`
	UserID    int64  `json:"user_id"`
	BookingID int64  `json:"booking_id"`
	MatchID   int64  `json:"match_id"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
}

// NotificationTask represents a queued delivery of a Notification.
type NotificationTask struct {
	ID          int64      `json:"id"`
	Kind        string     `json:"kind"`
	UserID      int64      `json:"user_id"`
	BookingID   int64      `json:"booking_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	LastError   *string    `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	NextRetryAt *time.Time `json:"next_retry_at"`
}
