package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tribuna/internal/models"
)

const bookingColumns = `id, user_id, match_id, seats, total_amount_cents, payment_status, status,
                        ticket_code, is_ticket_verified, verified_at, original_match_id, rescheduled_to,
                        created_at, updated_at, version`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b     models.Booking
		seats string
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.MatchID, &seats, &b.TotalAmountCents, &b.PaymentStatus, &b.Status,
		&b.TicketCode, &b.IsTicketVerified, &b.VerifiedAt, &b.OriginalMatchID, &b.RescheduledTo,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(seats), &b.Seats); err != nil {
		return nil, fmt.Errorf("failed to decode seats of booking %d: %w", b.ID, err)
	}
	return &b, nil
}

// CreateBookingWithLock checks the match and the requested seats and inserts the booking,
// its seat rows and the first history entry in one transaction. The primary key on
// booking_seats rejects a seat claimed by a concurrent writer.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	if booking.PaymentStatus == "" {
		booking.PaymentStatus = models.PaymentPending
	}
	if booking.Status == "" {
		booking.Status = models.BookingActive
	}
	seatsJSON, err := json.Marshal(booking.Seats)
	if err != nil {
		return fmt.Errorf("failed to encode seats: %w", err)
	}

	return withTx(ctx, db.DB, func(tx *sql.Tx) error {
		// 1. Матч должен существовать и быть открыт для продаж
		var matchStatus string
		err := tx.QueryRowContext(ctx, `SELECT status FROM matches WHERE id = ?`, booking.MatchID).Scan(&matchStatus)
		if err != nil {
			return notFound(err, "match", booking.MatchID)
		}
		if matchStatus != models.MatchUpcoming {
			return ErrMatchNotBookable
		}

		// 2. Проверяем места внутри транзакции
		taken, err := takenSeatsTx(ctx, tx, booking.MatchID, booking.Seats)
		if err != nil {
			return err
		}
		if len(taken) > 0 {
			return &SeatConflictError{Seats: taken}
		}

		// 3. Создаем бронь
		ts := now()
		result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
                    user_id, match_id, seats, total_amount_cents, payment_status, status,
                    ticket_code, created_at, updated_at, version
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			booking.UserID,
			booking.MatchID,
			string(seatsJSON),
			booking.TotalAmountCents,
			booking.PaymentStatus,
			booking.Status,
			booking.TicketCode,
			ts,
			ts,
			1,
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking in tx: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id in tx: %w", err)
		}

		// 4. Занимаем места
		for _, seat := range booking.Seats {
			_, err := tx.ExecContext(ctx, `INSERT INTO booking_seats (match_id, seat_code, booking_id) VALUES (?, ?, ?)`,
				booking.MatchID, seat, id)
			if isUniqueViolation(err) {
				return &SeatConflictError{Seats: []string{seat}}
			}
			if err != nil {
				return fmt.Errorf("failed to claim seat %s: %w", seat, err)
			}
		}

		entry := models.StatusHistoryEntry{
			Status:        booking.Status,
			PaymentStatus: booking.PaymentStatus,
			Action:        models.ActionCreated,
			CreatedAt:     ts,
		}
		if err := insertHistoryTx(ctx, tx, id, &entry); err != nil {
			return err
		}

		booking.ID = id
		booking.CreatedAt = ts
		booking.UpdatedAt = ts
		booking.Version = 1
		booking.History = []models.StatusHistoryEntry{entry}
		return nil
	})
}

func takenSeatsTx(ctx context.Context, tx *sql.Tx, matchID int64, seats []string) ([]string, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(seats)+1)
	args = append(args, matchID)
	for _, s := range seats {
		args = append(args, s)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT seat_code FROM booking_seats WHERE match_id = ? AND seat_code IN (`+placeholders(len(seats))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to check seats in tx: %w", err)
	}
	defer rows.Close()

	var taken []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		taken = append(taken, code)
	}
	return taken, rows.Err()
}

func insertHistoryTx(ctx context.Context, tx *sql.Tx, bookingID int64, e *models.StatusHistoryEntry) error {
	result, err := tx.ExecContext(ctx, `INSERT INTO booking_history (booking_id, status, payment_status, action, note, created_at)
                VALUES (?, ?, ?, ?, ?, ?)`,
		bookingID, e.Status, e.PaymentStatus, e.Action, e.Note, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append booking history: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	e.BookingID = bookingID
	return nil
}

// BookingTransition is a compare-and-swap on the booking's current statuses.
type BookingTransition struct {
	BookingID    int64
	FromStatuses []string
	FromPayment  string
	ToStatus     string
	ToPayment    string
	Action       string
	Note         string
	ReleaseSeats bool
	// MoveToMatchID re-points the booking and its seats to a successor match.
	MoveToMatchID int64
	// RefundReason is stored on the payment record when ToPayment is refunded.
	RefundReason string
	// Payment is recorded in the same transaction when set.
	Payment *models.Payment
}

// TransitionBooking applies t in its own transaction and returns the updated booking.
// ErrConcurrentModification means the booking was no longer in a source state.
func (db *DB) TransitionBooking(ctx context.Context, t BookingTransition) (*models.Booking, error) {
	var updated *models.Booking
	err := withTx(ctx, db.DB, func(tx *sql.Tx) error {
		ts := now()
		set := []string{"status = ?", "payment_status = ?", "version = version + 1", "updated_at = ?"}
		args := []interface{}{t.ToStatus, t.ToPayment, ts}
		if t.MoveToMatchID > 0 {
			// SET видит старые значения строки, поэтому original_match_id берет прежний match_id
			set = append(set, "original_match_id = COALESCE(original_match_id, match_id)", "match_id = ?", "rescheduled_to = ?")
			args = append(args, t.MoveToMatchID, t.MoveToMatchID)
		}
		args = append(args, t.BookingID, t.FromPayment)
		for _, s := range t.FromStatuses {
			args = append(args, s)
		}
		query := `UPDATE bookings SET ` + strings.Join(set, ", ") +
			` WHERE id = ? AND payment_status = ? AND status IN (` + placeholders(len(t.FromStatuses)) + `)`

		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return missingOrModified(ctx, tx, t.BookingID)
		}

		if t.ReleaseSeats {
			if _, err := tx.ExecContext(ctx, `DELETE FROM booking_seats WHERE booking_id = ?`, t.BookingID); err != nil {
				return fmt.Errorf("failed to release seats: %w", err)
			}
		}
		if t.MoveToMatchID > 0 {
			_, err := tx.ExecContext(ctx, `UPDATE booking_seats SET match_id = ? WHERE booking_id = ?`, t.MoveToMatchID, t.BookingID)
			if isUniqueViolation(err) {
				return fmt.Errorf("failed to move seats of booking %d: %w", t.BookingID, ErrSeatTaken)
			}
			if err != nil {
				return fmt.Errorf("failed to move seats: %w", err)
			}
		}
		if t.ToPayment == models.PaymentRefunded {
			if err := refundPaymentTx(ctx, tx, t.BookingID, t.RefundReason); err != nil {
				return err
			}
		}
		if t.Payment != nil {
			t.Payment.BookingID = t.BookingID
			if err := insertPaymentTx(ctx, tx, t.Payment); err != nil {
				return err
			}
		}

		entry := models.StatusHistoryEntry{
			Status:        t.ToStatus,
			PaymentStatus: t.ToPayment,
			Action:        t.Action,
			Note:          t.Note,
			CreatedAt:     ts,
		}
		if err := insertHistoryTx(ctx, tx, t.BookingID, &entry); err != nil {
			return err
		}

		updated, err = scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, t.BookingID))
		if err != nil {
			return fmt.Errorf("failed to reload booking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func missingOrModified(ctx context.Context, tx *sql.Tx, id int64) error {
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check booking %d: %w", id, err)
	}
	return ErrConcurrentModification
}

// MarkTicketVerified sets the verification flag once. A second call returns ErrAlreadyVerified
// and leaves the stored timestamp untouched.
func (db *DB) MarkTicketVerified(ctx context.Context, id int64, statuses []string, at time.Time) (*models.Booking, error) {
	var updated *models.Booking
	err := withTx(ctx, db.DB, func(tx *sql.Tx) error {
		args := []interface{}{at.UTC(), now(), id, models.PaymentPaid}
		for _, s := range statuses {
			args = append(args, s)
		}
		result, err := tx.ExecContext(ctx, `UPDATE bookings SET is_ticket_verified = 1, verified_at = ?, updated_at = ?, version = version + 1
                WHERE id = ? AND is_ticket_verified = 0 AND payment_status = ? AND status IN (`+placeholders(len(statuses))+`)`,
			args...)
		if err != nil {
			return fmt.Errorf("failed to verify ticket: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			var verified bool
			err := tx.QueryRowContext(ctx, `SELECT is_ticket_verified FROM bookings WHERE id = ?`, id).Scan(&verified)
			if err != nil {
				return notFound(err, "booking", id)
			}
			if verified {
				return ErrAlreadyVerified
			}
			return ErrConcurrentModification
		}

		updated, err = scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
		if err != nil {
			return fmt.Errorf("failed to reload booking: %w", err)
		}
		entry := models.StatusHistoryEntry{
			Status:        updated.Status,
			PaymentStatus: updated.PaymentStatus,
			Action:        models.ActionTicketVerified,
			CreatedAt:     at,
		}
		return insertHistoryTx(ctx, tx, id, &entry)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return b, nil
}

func (db *DB) GetBookingByTicketCode(ctx context.Context, code string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE ticket_code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by ticket: %w", err)
	}
	return b, nil
}

type BookingFilter struct {
	MatchID       int64
	UserID        int64
	PaymentStatus string
	Statuses      []string
	CreatedBefore time.Time
}

func (db *DB) ListBookings(ctx context.Context, f BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.MatchID > 0 {
		where = append(where, "match_id = ?")
		args = append(args, f.MatchID)
	}
	if f.UserID > 0 {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.PaymentStatus != "" {
		where = append(where, "payment_status = ?")
		args = append(args, f.PaymentStatus)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, f.CreatedBefore.UTC())
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (db *DB) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	return db.ListBookings(ctx, BookingFilter{UserID: userID})
}

// GetBookedSeats returns the seats held by pending or paid bookings of the match.
func (db *DB) GetBookedSeats(ctx context.Context, matchID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT seat_code FROM booking_seats WHERE match_id = ?`, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booked seats: %w", err)
	}
	defer rows.Close()

	var seats []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, code)
	}
	return seats, rows.Err()
}

func (db *DB) GetBookingHistory(ctx context.Context, bookingID int64) ([]models.StatusHistoryEntry, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, booking_id, status, payment_status, action, note, created_at
                FROM booking_history WHERE booking_id = ? ORDER BY id ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking history: %w", err)
	}
	defer rows.Close()

	var history []models.StatusHistoryEntry
	for rows.Next() {
		var e models.StatusHistoryEntry
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Status, &e.PaymentStatus, &e.Action, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		history = append(history, e)
	}
	return history, rows.Err()
}

// DeleteBooking removes a terminal booking together with its seats, history and payment.
func (db *DB) DeleteBooking(ctx context.Context, id int64) error {
	return withTx(ctx, db.DB, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM bookings
                WHERE id = ? AND (status IN (?, ?) OR payment_status = ?)`,
			id, models.BookingRefunded, models.BookingCompleted, models.PaymentFailed)
		if err != nil {
			return fmt.Errorf("failed to delete booking: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return missingOrModified(ctx, tx, id)
		}
		return nil
	})
}
