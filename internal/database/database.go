package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrSeatTaken              = errors.New("seat already taken")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrMatchNotBookable       = errors.New("match is not open for booking")
	ErrAlreadyVerified        = errors.New("ticket already verified")
)

// SeatConflictError names the seats another booking already holds.
type SeatConflictError struct {
	Seats []string
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats already taken: %v", e.Seats)
}

func (e *SeatConflictError) Unwrap() error {
	return ErrSeatTaken
}

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dsn, maxConns, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// одно соединение для :memory:, иначе каждое соединение видит свою пустую базу
	sqlDB.SetMaxOpenConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: sqlDB, logger: logger}, nil
}

func buildDSN(path string) (string, int, error) {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=1&_txlock=immediate", 1, nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create database directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_journal_mode=WAL&_txlock=immediate", path)
	return dsn, 8, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Стадионы
		`CREATE TABLE IF NOT EXISTS stadiums (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            city TEXT NOT NULL DEFAULT '',
            capacity INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		// Пользователи
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            telegram_chat_id INTEGER NOT NULL DEFAULT 0,
            role TEXT NOT NULL DEFAULT 'customer',
            last_activity DATETIME NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		// Матчи
		`CREATE TABLE IF NOT EXISTS matches (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            stadium_id INTEGER NOT NULL REFERENCES stadiums(id),
            home_team TEXT NOT NULL,
            away_team TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            match_date TEXT NOT NULL,
            match_time TEXT NOT NULL,
            duration_minutes INTEGER NOT NULL DEFAULT 120,
            vip_price_cents INTEGER NOT NULL,
            regular_price_cents INTEGER NOT NULL,
            is_final BOOLEAN NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'upcoming',
            rescheduled_from INTEGER REFERENCES matches(id),
            rescheduled_to INTEGER REFERENCES matches(id),
            cancellation_reason TEXT NOT NULL DEFAULT '',
            cancelled_at DATETIME,
            is_refunded BOOLEAN NOT NULL DEFAULT 0,
            refunded_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		// Бронирования
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            match_id INTEGER NOT NULL REFERENCES matches(id),
            seats TEXT NOT NULL,
            total_amount_cents INTEGER NOT NULL,
            payment_status TEXT NOT NULL DEFAULT 'pending',
            status TEXT NOT NULL DEFAULT 'active',
            ticket_code TEXT NOT NULL UNIQUE,
            is_ticket_verified BOOLEAN NOT NULL DEFAULT 0,
            verified_at DATETIME,
            original_match_id INTEGER,
            rescheduled_to INTEGER,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		// Занятые места: одна строка на место брони в статусе оплаты pending или paid
		`CREATE TABLE IF NOT EXISTS booking_seats (
            match_id INTEGER NOT NULL,
            seat_code TEXT NOT NULL,
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            PRIMARY KEY (match_id, seat_code)
        )`,
		// История статусов
		`CREATE TABLE IF NOT EXISTS booking_history (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            status TEXT NOT NULL,
            payment_status TEXT NOT NULL,
            action TEXT NOT NULL,
            note TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,
		// Платежи
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id) ON DELETE CASCADE,
            user_id INTEGER NOT NULL,
            amount_cents INTEGER NOT NULL,
            method TEXT NOT NULL DEFAULT '',
            reference TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            paid_at DATETIME,
            refunded_at DATETIME,
            refund_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS settings (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            user_id INTEGER NOT NULL,
            booking_id INTEGER NOT NULL DEFAULT 0,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_stadium ON matches(stadium_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_match ON bookings(match_id, payment_status, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_seats_booking ON booking_seats(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_history_booking ON booking_history(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// now is the store clock. Times are kept in UTC so text comparisons in SQL stay ordered.
func now() time.Time {
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %d: %w", what, id, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
