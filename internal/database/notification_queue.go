package database

import (
	"context"
	"fmt"
	"time"

	"tribuna/internal/models"
)

const notificationColumns = `id, kind, user_id, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) CreateNotificationTask(ctx context.Context, task *models.NotificationTask) error {
	query := `INSERT INTO notification_queue (kind, user_id, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	ts := now()
	result, err := db.ExecContext(ctx, query,
		task.Kind,
		task.UserID,
		task.BookingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		ts,
		utcPtr(task.NextRetryAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = ts

	return nil
}

// GetPendingNotificationTasks returns due tasks, including processing tasks whose lease expired.
func (db *DB) GetPendingNotificationTasks(ctx context.Context, limit int) ([]models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + `
              FROM notification_queue
              WHERE (status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?))
                 OR (status = 'processing' AND next_retry_at <= ?)
              ORDER BY created_at ASC LIMIT ?`
	ts := now()
	return db.queryNotificationTasks(ctx, "pending", query, ts, ts, limit)
}

// ClaimNotificationTask moves a due task to processing for lease. False means another consumer owns it.
func (db *DB) ClaimNotificationTask(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	ts := now()
	query := `UPDATE notification_queue SET status = 'processing', next_retry_at = ?
              WHERE id = ? AND (
                (status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?))
                OR (status = 'processing' AND next_retry_at <= ?)
              )`
	result, err := db.ExecContext(ctx, query, ts.Add(lease), id, ts, ts)
	if err != nil {
		return false, fmt.Errorf("failed to claim notification task: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (db *DB) UpdateNotificationTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	ts := now()

	switch status {
	case models.TaskRetry:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, errMsg, utcPtr(nextRetryAt), id}
	case models.TaskCompleted, models.TaskFailed:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = NULL, processed_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, ts, id}
	default:
		query = `UPDATE notification_queue SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, errMsg, utcPtr(nextRetryAt), id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update notification task status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedNotificationTasks(ctx context.Context) ([]models.NotificationTask, error) {
	query := `SELECT ` + notificationColumns + ` FROM notification_queue WHERE status = 'failed' ORDER BY created_at DESC`
	return db.queryNotificationTasks(ctx, "failed", query)
}

func (db *DB) queryNotificationTasks(ctx context.Context, what, query string, args ...interface{}) ([]models.NotificationTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s notification tasks: %w", what, err)
	}
	defer rows.Close()

	var tasks []models.NotificationTask
	for rows.Next() {
		var t models.NotificationTask
		err := rows.Scan(
			&t.ID, &t.Kind, &t.UserID, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
