package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"tribuna/internal/models"
)

const matchColumns = `id, stadium_id, home_team, away_team, description, match_date, match_time,
                      duration_minutes, vip_price_cents, regular_price_cents, is_final, status,
                      rescheduled_from, rescheduled_to, cancellation_reason, cancelled_at,
                      is_refunded, refunded_at, created_at, updated_at`

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	err := row.Scan(
		&m.ID, &m.StadiumID, &m.HomeTeam, &m.AwayTeam, &m.Description, &m.Date, &m.Time,
		&m.DurationMinutes, &m.VIPPriceCents, &m.RegularPriceCents, &m.IsFinal, &m.Status,
		&m.RescheduledFrom, &m.RescheduledTo, &m.CancellationReason, &m.CancelledAt,
		&m.IsRefunded, &m.RefundedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (db *DB) CreateMatch(ctx context.Context, m *models.Match) error {
	return withTx(ctx, db.DB, func(tx *sql.Tx) error {
		return insertMatchTx(ctx, tx, m)
	})
}

func insertMatchTx(ctx context.Context, tx *sql.Tx, m *models.Match) error {
	if m.Status == "" {
		m.Status = models.MatchUpcoming
	}
	if m.DurationMinutes <= 0 {
		m.DurationMinutes = models.DefaultMatchDurationMinutes
	}
	query := `INSERT INTO matches (
                stadium_id, home_team, away_team, description, match_date, match_time,
                duration_minutes, vip_price_cents, regular_price_cents, is_final, status,
                rescheduled_from, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	ts := now()
	result, err := tx.ExecContext(ctx, query,
		m.StadiumID,
		m.HomeTeam,
		m.AwayTeam,
		m.Description,
		m.Date,
		m.Time,
		m.DurationMinutes,
		m.VIPPriceCents,
		m.RegularPriceCents,
		m.IsFinal,
		m.Status,
		m.RescheduledFrom,
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	m.ID = id
	m.CreatedAt = ts
	m.UpdatedAt = ts
	return nil
}

func (db *DB) GetMatch(ctx context.Context, id int64) (*models.Match, error) {
	m, err := scanMatch(db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "match", id)
	}
	return m, nil
}

type MatchFilter struct {
	StadiumID int64
	Statuses  []string
}

func (db *DB) ListMatches(ctx context.Context, f MatchFilter) ([]*models.Match, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.StadiumID > 0 {
		where = append(where, "stadium_id = ?")
		args = append(args, f.StadiumID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, s)
		}
	}
	query := `SELECT ` + matchColumns + ` FROM matches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY match_date ASC, match_time ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	var matches []*models.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// CancelMatch sets the cancelled state if the match is still upcoming or ongoing.
func (db *DB) CancelMatch(ctx context.Context, id int64, reason string, at time.Time) error {
	query := `UPDATE matches SET status = ?, cancellation_reason = ?, cancelled_at = ?, updated_at = ?
              WHERE id = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query, models.MatchCancelled, reason, at.UTC(), now(), id,
		models.MatchUpcoming, models.MatchOngoing)
	if err != nil {
		return fmt.Errorf("failed to cancel match: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// CreateSuccessorMatch inserts the successor and links both matches in one transaction.
// The old match must still be cancelled, without successor and not refunded.
func (db *DB) CreateSuccessorMatch(ctx context.Context, oldID int64, successor *models.Match) error {
	return withTx(ctx, db.DB, func(tx *sql.Tx) error {
		successor.RescheduledFrom = &oldID
		successor.Status = models.MatchUpcoming
		if err := insertMatchTx(ctx, tx, successor); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `UPDATE matches SET rescheduled_to = ?, updated_at = ?
                WHERE id = ? AND status = ? AND rescheduled_to IS NULL AND is_refunded = 0`,
			successor.ID, now(), oldID, models.MatchCancelled)
		if err != nil {
			return fmt.Errorf("failed to link successor match: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return ErrConcurrentModification
		}

		// места переносимых броней резервируются на новом матче до того, как он откроется для продаж
		_, err = tx.ExecContext(ctx, `UPDATE booking_seats SET match_id = ?
                WHERE booking_id IN (
                    SELECT id FROM bookings WHERE match_id = ? AND payment_status = ? AND status = ?
                )`,
			successor.ID, oldID, models.PaymentPaid, models.BookingCancelled)
		if err != nil {
			return fmt.Errorf("failed to reserve seats on successor match: %w", err)
		}
		return nil
	})
}

// MarkMatchRefunded is the refund counterpart of CreateSuccessorMatch.
func (db *DB) MarkMatchRefunded(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE matches SET is_refunded = 1, refunded_at = ?, updated_at = ?
              WHERE id = ? AND status = ? AND rescheduled_to IS NULL AND is_refunded = 0`
	result, err := db.ExecContext(ctx, query, at.UTC(), now(), id, models.MatchCancelled)
	if err != nil {
		return fmt.Errorf("failed to mark match refunded: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// AdvanceMatchStatus moves a match from one status to another. False means it was no longer in from.
func (db *DB) AdvanceMatchStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	result, err := db.ExecContext(ctx, `UPDATE matches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to advance match %d to %s: %w", id, to, err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
