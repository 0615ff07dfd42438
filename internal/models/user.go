package models

import "time"

type User struct {
	ID             int64     `json:"id"`   // субъект JWT
	Name           string    `json:"name"` // отображаемое имя
	Email          string    `json:"email"`
	TelegramChatID int64     `json:"telegram_chat_id"` // куда слать уведомления
	Role           string    `json:"role"`
	LastActivity   time.Time `json:"last_activity"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Stadium struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	City      string    `json:"city" yaml:"city"`
	Capacity  int       `json:"capacity" yaml:"capacity"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

type Payment struct {
	ID           int64      `json:"id"`
	BookingID    int64      `json:"booking_id"`
	UserID       int64      `json:"user_id"`
	AmountCents  int64      `json:"amount_cents"`
	Method       string     `json:"method"`
	Reference    string     `json:"reference"`
	Status       string     `json:"status"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
	RefundReason string     `json:"refund_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
