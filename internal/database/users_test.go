package database

import (
	"context"
	"testing"

	"tribuna/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.TouchUser(ctx, &models.User{ID: 42, Name: "Asha", Role: models.RoleCustomer}))

	u, err := db.GetUserByID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "Asha", u.Name)
	assert.Equal(t, models.RoleCustomer, u.Role)
	assert.Zero(t, u.TelegramChatID)

	t.Run("ContactUpdate", func(t *testing.T) {
		require.NoError(t, db.UpdateUserContact(ctx, 42, "", "asha@example.com", 555))
		u, err := db.GetUserByID(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, "Asha", u.Name, "empty name keeps the stored one")
		assert.Equal(t, "asha@example.com", u.Email)
		assert.Equal(t, int64(555), u.TelegramChatID)
	})

	t.Run("TouchKeepsContact", func(t *testing.T) {
		require.NoError(t, db.TouchUser(ctx, &models.User{ID: 42, Role: models.RoleAdmin}))
		u, err := db.GetUserByID(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, u.Role)
		assert.Equal(t, "Asha", u.Name)
		assert.Equal(t, int64(555), u.TelegramChatID)
	})

	t.Run("DefaultRole", func(t *testing.T) {
		require.NoError(t, db.TouchUser(ctx, &models.User{ID: 7}))
		u, err := db.GetUserByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, models.RoleCustomer, u.Role)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := db.GetUserByID(ctx, 1000)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, db.UpdateUserContact(ctx, 1000, "x", "", 1), ErrNotFound)
	})

	active, err := db.GetActiveUsers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
