package database

import (
	"context"
	"fmt"
	"time"

	"tribuna/internal/models"
)

// TouchUser creates the user on first sight and refreshes role and activity afterwards.
func (db *DB) TouchUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (id, name, email, telegram_chat_id, role, last_activity, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                name = CASE WHEN excluded.name != '' THEN excluded.name ELSE users.name END,
                email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
                role = excluded.role,
                last_activity = excluded.last_activity,
                updated_at = excluded.updated_at`
	lastActivity := user.LastActivity
	if lastActivity.IsZero() {
		lastActivity = now()
	}
	role := user.Role
	if role == "" {
		role = models.RoleCustomer
	}
	ts := now()
	_, err := db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.TelegramChatID,
		role,
		lastActivity.UTC(),
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	query := `SELECT id, name, email, telegram_chat_id, role, last_activity, created_at, updated_at
              FROM users WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Name, &user.Email, &user.TelegramChatID, &user.Role,
		&user.LastActivity, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// UpdateUserContact sets the notification target of an existing user.
func (db *DB) UpdateUserContact(ctx context.Context, id int64, name, email string, telegramChatID int64) error {
	query := `UPDATE users SET
                name = CASE WHEN ? != '' THEN ? ELSE name END,
                email = CASE WHEN ? != '' THEN ? ELSE email END,
                telegram_chat_id = ?,
                updated_at = ?
              WHERE id = ?`
	result, err := db.ExecContext(ctx, query, name, name, email, email, telegramChatID, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update user contact: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetActiveUsers returns users seen within the last days.
func (db *DB) GetActiveUsers(ctx context.Context, days int) ([]*models.User, error) {
	query := `SELECT id, name, email, telegram_chat_id, role, last_activity, created_at, updated_at
              FROM users WHERE last_activity >= ? ORDER BY last_activity DESC`
	since := now().Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get active users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.TelegramChatID, &u.Role,
			&u.LastActivity, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
