package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tribuna/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedMatch(t *testing.T, db *DB) *models.Match {
	t.Helper()
	ctx := context.Background()
	stadium := &models.Stadium{Name: "National Stadium", City: "Dar es Salaam", Capacity: 150}
	require.NoError(t, db.UpsertStadium(ctx, stadium))

	m := &models.Match{
		StadiumID:         stadium.ID,
		HomeTeam:          "Simba",
		AwayTeam:          "Yanga",
		Date:              "2026-06-01",
		Time:              "16:00",
		VIPPriceCents:     2000,
		RegularPriceCents: 500,
	}
	require.NoError(t, db.CreateMatch(ctx, m))
	return m
}

func newBooking(matchID, userID int64, seats ...string) *models.Booking {
	return &models.Booking{
		UserID:           userID,
		MatchID:          matchID,
		Seats:            seats,
		TotalAmountCents: int64(len(seats)) * 500,
		TicketCode:       uuid.NewString(),
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()

	_, err = db.GetMatch(ctx, 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = db.CreateBookingWithLock(ctx, &models.Booking{Seats: []string{"A1"}})
	assert.Error(t, err)

	_, err = db.ListBookings(ctx, BookingFilter{})
	assert.Error(t, err)

	err = db.CreateNotificationTask(ctx, &models.NotificationTask{})
	assert.Error(t, err)
}

func TestSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, ok, err := db.GetSetting(ctx, models.SettingBookingClosureMinutes)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.SetSetting(ctx, models.SettingBookingClosureMinutes, "20"))
	require.NoError(t, db.SetSetting(ctx, models.SettingBookingClosureMinutes, "25"))

	v, ok, err := db.GetSetting(ctx, models.SettingBookingClosureMinutes)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "25", v)
}

func TestStadiums(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SyncStadiums(ctx, []models.Stadium{
		{Name: "Arena", City: "Arusha", Capacity: 150},
		{Name: "Bowl", City: "Mwanza", Capacity: 150},
	}))
	require.NoError(t, db.SyncStadiums(ctx, []models.Stadium{{Name: "Arena", City: "Moshi", Capacity: 150}}))

	list, err := db.ListStadiums(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Arena", list[0].Name)
	assert.Equal(t, "Moshi", list[0].City)

	got, err := db.GetStadium(ctx, list[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "Bowl", got.Name)

	_, err = db.GetStadium(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(dir, "source.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	seedMatch(t, db)

	backupDir := filepath.Join(dir, "backups")
	path, err := db.Backup(ctx, backupDir)
	require.NoError(t, err)
	assert.FileExists(t, path)

	copyDB, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer copyDB.Close()
	matches, err := copyDB.ListMatches(ctx, MatchFilter{})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	old := filepath.Join(backupDir, backupPrefix+"old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	past := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(old, past, past))

	removed, err := db.CleanupBackups(backupDir, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)

	removed, err = db.CleanupBackups(backupDir, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
