package models

import "time"

type Booking struct {
	ID               int64                `json:"id"`
	UserID           int64                `json:"user_id"`
	MatchID          int64                `json:"match_id"`
	Seats            []string             `json:"seats"`
	TotalAmountCents int64                `json:"total_amount_cents"`
	PaymentStatus    string               `json:"payment_status"` // pending, paid, failed, refunded
	Status           string               `json:"status"`         // active, cancelled, rescheduled, refunded, completed
	TicketCode       string               `json:"ticket_code"`
	IsTicketVerified bool                 `json:"is_ticket_verified"`
	VerifiedAt       *time.Time           `json:"verified_at,omitempty"`
	OriginalMatchID  *int64               `json:"original_match_id,omitempty"`
	RescheduledTo    *int64               `json:"rescheduled_to,omitempty"`
	History          []StatusHistoryEntry `json:"history,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	Version          int64                `json:"version"`
}

// HoldsSeats reports whether the booking still reserves its seats.
func (b *Booking) HoldsSeats() bool {
	return b.PaymentStatus == PaymentPending || b.PaymentStatus == PaymentPaid
}

// IsTerminal reports whether an administrator may delete the booking.
// A cancelled booking that is still paid waits for a refund or a reschedule.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case BookingRefunded, BookingCompleted:
		return true
	}
	return b.PaymentStatus == PaymentFailed
}

type StatusHistoryEntry struct {
	ID            int64     `json:"id"`
	BookingID     int64     `json:"booking_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Action        string    `json:"action"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
