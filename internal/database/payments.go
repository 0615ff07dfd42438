package database

import (
	"context"
	"database/sql"
	"fmt"

	"tribuna/internal/models"
)

const paymentColumns = `id, booking_id, user_id, amount_cents, method, reference, status,
                        paid_at, refunded_at, refund_reason, created_at, updated_at`

func (db *DB) GetPaymentByBookingID(ctx context.Context, bookingID int64) (*models.Payment, error) {
	var p models.Payment
	err := db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE booking_id = ?`, bookingID).Scan(
		&p.ID, &p.BookingID, &p.UserID, &p.AmountCents, &p.Method, &p.Reference, &p.Status,
		&p.PaidAt, &p.RefundedAt, &p.RefundReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "payment for booking", bookingID)
	}
	return &p, nil
}

func insertPaymentTx(ctx context.Context, tx *sql.Tx, p *models.Payment) error {
	ts := now()
	paidAt := ts
	if p.PaidAt != nil {
		paidAt = p.PaidAt.UTC()
	}
	result, err := tx.ExecContext(ctx, `INSERT INTO payments (
                booking_id, user_id, amount_cents, method, reference, status, paid_at, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.BookingID, p.UserID, p.AmountCents, p.Method, p.Reference, models.PaymentPaid, paidAt, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.Status = models.PaymentPaid
	p.PaidAt = &paidAt
	p.CreatedAt = ts
	p.UpdatedAt = ts
	return nil
}

// refundPaymentTx marks the payment record refunded. Bookings paid outside the callback have no record.
func refundPaymentTx(ctx context.Context, tx *sql.Tx, bookingID int64, reason string) error {
	ts := now()
	_, err := tx.ExecContext(ctx, `UPDATE payments SET status = ?, refunded_at = ?, refund_reason = ?, updated_at = ?
                                   WHERE booking_id = ? AND status = ?`,
		models.PaymentRefunded, ts, reason, ts, bookingID, models.PaymentPaid)
	if err != nil {
		return fmt.Errorf("failed to refund payment for booking %d: %w", bookingID, err)
	}
	return nil
}
