// Package notify renders user notifications and delivers them over log, Telegram or AMQP.
package notify

import (
	"fmt"
	"strings"

	"tribuna/internal/models"
)

func base(kind string, b *models.Booking, m *models.Match) *models.Notification {
	return &models.Notification{
		Kind:      kind,
		UserID:    b.UserID,
		BookingID: b.ID,
		MatchID:   m.ID,
	}
}

func when(m *models.Match) string {
	return m.Date + " " + m.Time
}

// FormatCents prints an amount in minor units as 1234.50.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func BookingCreated(b *models.Booking, m *models.Match) *models.Notification {
	n := base(models.NotifyBookingCreated, b, m)
	n.Subject = "Booking received: " + m.Title()
	n.Text = fmt.Sprintf("Your booking #%d for %s on %s is waiting for payment.\nSeats: %s\nTotal: %s",
		b.ID, m.Title(), when(m), strings.Join(b.Seats, ", "), FormatCents(b.TotalAmountCents))
	return n
}

func PaymentConfirmed(b *models.Booking, m *models.Match) *models.Notification {
	n := base(models.NotifyPaymentConfirmed, b, m)
	n.Subject = "Payment confirmed: " + m.Title()
	n.Text = fmt.Sprintf("Payment for booking #%d is confirmed.\n%s, %s\nSeats: %s\nTicket code: %s",
		b.ID, m.Title(), when(m), strings.Join(b.Seats, ", "), b.TicketCode)
	return n
}

func MatchCancelled(b *models.Booking, m *models.Match) *models.Notification {
	n := base(models.NotifyMatchCancelled, b, m)
	n.Subject = "Match cancelled: " + m.Title()
	text := fmt.Sprintf("%s on %s has been cancelled.", m.Title(), when(m))
	if m.CancellationReason != "" {
		text += "\nReason: " + m.CancellationReason
	}
	n.Text = text + fmt.Sprintf("\nYour booking #%d stays paid. We will let you know about a new date or a refund.", b.ID)
	return n
}

func MatchRescheduled(b *models.Booking, old, successor *models.Match) *models.Notification {
	n := base(models.NotifyMatchRescheduled, b, successor)
	n.Subject = "New date: " + successor.Title()
	n.Text = fmt.Sprintf("%s moved from %s to %s.\nYour booking #%d and seats %s are transferred.\nTicket code: %s",
		successor.Title(), when(old), when(successor), b.ID, strings.Join(b.Seats, ", "), b.TicketCode)
	return n
}

func MatchRefunded(b *models.Booking, m *models.Match) *models.Notification {
	n := base(models.NotifyMatchRefunded, b, m)
	n.Subject = "Refund issued: " + m.Title()
	n.Text = fmt.Sprintf("Booking #%d for the cancelled match %s (%s) has been refunded: %s.",
		b.ID, m.Title(), when(m), FormatCents(b.TotalAmountCents))
	return n
}
