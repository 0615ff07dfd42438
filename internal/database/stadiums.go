package database

import (
	"context"
	"database/sql"
	"fmt"

	"tribuna/internal/models"
)

// UpsertStadium inserts a stadium or refreshes it by name and fills in its id.
func (db *DB) UpsertStadium(ctx context.Context, s *models.Stadium) error {
	query := `INSERT INTO stadiums (name, city, capacity, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?)
              ON CONFLICT(name) DO UPDATE SET
                city = excluded.city,
                capacity = excluded.capacity,
                updated_at = excluded.updated_at`
	ts := now()
	if _, err := db.ExecContext(ctx, query, s.Name, s.City, s.Capacity, ts, ts); err != nil {
		return fmt.Errorf("failed to upsert stadium %s: %w", s.Name, err)
	}

	err := db.QueryRowContext(ctx, `SELECT id, created_at, updated_at FROM stadiums WHERE name = ?`, s.Name).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to read stadium %s: %w", s.Name, err)
	}
	return nil
}

// SyncStadiums upserts the seed list in one transaction.
func (db *DB) SyncStadiums(ctx context.Context, stadiums []models.Stadium) error {
	return withTx(ctx, db.DB, func(tx *sql.Tx) error {
		for _, s := range stadiums {
			_, err := tx.ExecContext(ctx, `INSERT INTO stadiums (name, city, capacity, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?)
                ON CONFLICT(name) DO UPDATE SET city = excluded.city, capacity = excluded.capacity, updated_at = excluded.updated_at`,
				s.Name, s.City, s.Capacity, now(), now())
			if err != nil {
				return fmt.Errorf("failed to sync stadium %s: %w", s.Name, err)
			}
		}
		return nil
	})
}

func (db *DB) GetStadium(ctx context.Context, id int64) (*models.Stadium, error) {
	var s models.Stadium
	err := db.QueryRowContext(ctx, `SELECT id, name, city, capacity, created_at, updated_at FROM stadiums WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &s.City, &s.Capacity, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "stadium", id)
	}
	return &s, nil
}

func (db *DB) ListStadiums(ctx context.Context) ([]*models.Stadium, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, city, capacity, created_at, updated_at FROM stadiums ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stadiums: %w", err)
	}
	defer rows.Close()

	var out []*models.Stadium
	for rows.Next() {
		var s models.Stadium
		if err := rows.Scan(&s.ID, &s.Name, &s.City, &s.Capacity, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stadium: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
